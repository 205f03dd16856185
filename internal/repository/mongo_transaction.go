package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shulepay/shulepay/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoTransactionRepository implements domain.TransactionRepository
type MongoTransactionRepository struct {
	collection *mongo.Collection
}

// NewMongoTransactionRepository creates a new transaction repository
func NewMongoTransactionRepository(db *mongo.Database) *MongoTransactionRepository {
	return &MongoTransactionRepository{
		collection: db.Collection("transactions"),
	}
}

func (r *MongoTransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	now := time.Now().UTC()
	txn.CreatedAt = now
	txn.UpdatedAt = now

	objID := primitive.NewObjectID()
	txn.ID = objID.Hex()

	doc := bson.M{
		"_id":         objID,
		"owner_id":    txn.OwnerID,
		"school_id":   txn.SchoolID,
		"kind":        txn.Kind,
		"amount":      txn.Amount,
		"currency":    txn.Currency,
		"gateway_ref": txn.GatewayRef,
		"status":      txn.Status,
		"created_at":  txn.CreatedAt,
		"updated_at":  txn.UpdatedAt,
	}
	if txn.InvoiceID != "" {
		doc["invoice_id"] = txn.InvoiceID
	}
	if txn.PurchaseID != "" {
		doc["purchase_id"] = txn.PurchaseID
	}
	if txn.EventRegID != "" {
		doc["event_reg_id"] = txn.EventRegID
	}

	_, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("gateway reference collision for %s: %w", txn.GatewayRef, err)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *MongoTransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction id: %w", err)
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return mapBsonToTransaction(raw), nil
}

// GetByGatewayRef looks up the transaction by its webhook correlation key
func (r *MongoTransactionRepository) GetByGatewayRef(ctx context.Context, ref string) (*domain.Transaction, error) {
	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"gateway_ref": ref}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by gateway ref: %w", err)
	}
	return mapBsonToTransaction(raw), nil
}

func (r *MongoTransactionRepository) MarkProcessing(ctx context.Context, id string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid transaction id: %w", err)
	}

	update := bson.M{
		"$set": bson.M{
			"status":     domain.TransactionStatusProcessing,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": objID, "status": domain.TransactionStatusPending}, update)
	if err != nil {
		return fmt.Errorf("failed to mark transaction processing: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Complete atomically settles a transaction. The status filter makes the
// second delivery of the same webhook a no-op, reported as ok=false.
func (r *MongoTransactionRepository) Complete(ctx context.Context, id, providerRef string, completedAt time.Time) (bool, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, fmt.Errorf("invalid transaction id: %w", err)
	}

	update := bson.M{
		"$set": bson.M{
			"status":       domain.TransactionStatusCompleted,
			"provider_ref": providerRef,
			"completed_at": completedAt,
			"updated_at":   time.Now().UTC(),
		},
	}

	filter := bson.M{
		"_id":    objID,
		"status": bson.M{"$ne": domain.TransactionStatusCompleted},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to complete transaction: %w", err)
	}
	return result.MatchedCount == 1, nil
}

func (r *MongoTransactionRepository) Fail(ctx context.Context, id, reason string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid transaction id: %w", err)
	}

	update := bson.M{
		"$set": bson.M{
			"status":         domain.TransactionStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		},
	}

	// Completed transactions stay completed; a late failure callback for a
	// settled payment is ignored.
	filter := bson.M{
		"_id":    objID,
		"status": bson.M{"$ne": domain.TransactionStatusCompleted},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to mark transaction failed: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrInvalidState
	}
	return nil
}

func mapBsonToTransaction(raw bson.M) *domain.Transaction {
	txn := &domain.Transaction{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		txn.ID = oid.Hex()
	}
	if ownerID, ok := raw["owner_id"].(string); ok {
		txn.OwnerID = ownerID
	}
	if schoolID, ok := raw["school_id"].(string); ok {
		txn.SchoolID = schoolID
	}
	if kind, ok := raw["kind"].(string); ok {
		txn.Kind = kind
	}
	txn.Amount = bsonInt64(raw["amount"])
	if currency, ok := raw["currency"].(string); ok {
		txn.Currency = currency
	}
	if ref, ok := raw["gateway_ref"].(string); ok {
		txn.GatewayRef = ref
	}
	if providerRef, ok := raw["provider_ref"].(string); ok {
		txn.ProviderRef = providerRef
	}
	if status, ok := raw["status"].(string); ok {
		txn.Status = status
	}
	if completed, ok := raw["completed_at"].(primitive.DateTime); ok {
		t := completed.Time()
		txn.CompletedAt = &t
	}
	if reason, ok := raw["failure_reason"].(string); ok {
		txn.FailureReason = reason
	}
	if invoiceID, ok := raw["invoice_id"].(string); ok {
		txn.InvoiceID = invoiceID
	}
	if purchaseID, ok := raw["purchase_id"].(string); ok {
		txn.PurchaseID = purchaseID
	}
	if eventRegID, ok := raw["event_reg_id"].(string); ok {
		txn.EventRegID = eventRegID
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		txn.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		txn.UpdatedAt = updated.Time()
	}

	return txn
}
