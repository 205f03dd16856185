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

// openStatuses are the invoice states that still count as billable
var openStatuses = bson.A{domain.InvoiceStatusPending, domain.InvoiceStatusVerification}

// MongoInvoiceRepository implements domain.InvoiceRepository
type MongoInvoiceRepository struct {
	collection *mongo.Collection
}

// NewMongoInvoiceRepository creates a new invoice repository.
// Unique indexes are created separately by EnsureIndexes at bootstrap.
func NewMongoInvoiceRepository(db *mongo.Database) *MongoInvoiceRepository {
	return &MongoInvoiceRepository{
		collection: db.Collection("invoices"),
	}
}

func (r *MongoInvoiceRepository) Create(ctx context.Context, invoice *domain.Invoice) error {
	now := time.Now().UTC()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	objID := primitive.NewObjectID()
	invoice.ID = objID.Hex()

	doc := bson.M{
		"_id":            objID,
		"owner_id":       invoice.OwnerID,
		"school_id":      invoice.SchoolID,
		"invoice_number": invoice.InvoiceNumber,
		"category":       invoice.Category,
		"description":    invoice.Description,
		"amount":         invoice.Amount,
		"currency":       invoice.Currency,
		"status":         invoice.Status,
		"due_date":       invoice.DueDate,
		"academic_year":  invoice.AcademicYear,
		"billing_period": invoice.BillingPeriod,
		"created_at":     invoice.CreatedAt,
		"updated_at":     invoice.UpdatedAt,
	}

	_, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		// The partial unique index on owner+category+billing_period turns a
		// concurrent double-create into a duplicate key error.
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateInvoice
		}
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

func (r *MongoInvoiceRepository) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice id: %w", err)
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return mapBsonToInvoice(raw), nil
}

func (r *MongoInvoiceRepository) GetByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"invoice_number": number}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invoice by number: %w", err)
	}
	return mapBsonToInvoice(raw), nil
}

func (r *MongoInvoiceRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Invoice, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices by owner: %w", err)
	}
	defer cursor.Close(ctx)

	var invoices []*domain.Invoice
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		invoices = append(invoices, mapBsonToInvoice(raw))
	}
	return invoices, nil
}

// GetOpenByOwnerCategoryPeriod finds the pending/verification invoice backing
// the duplicate-billing guard
func (r *MongoInvoiceRepository) GetOpenByOwnerCategoryPeriod(ctx context.Context, ownerID, category, period string) (*domain.Invoice, error) {
	filter := bson.M{
		"owner_id":       ownerID,
		"category":       category,
		"billing_period": period,
		"status":         bson.M{"$in": openStatuses},
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, filter).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get open invoice: %w", err)
	}
	return mapBsonToInvoice(raw), nil
}

// AttachProof sets the embedded proof on a pending invoice and moves it to
// verification. The status filter is the compare-and-swap that serializes
// racing webhook and proof paths.
func (r *MongoInvoiceRepository) AttachProof(ctx context.Context, id string, proof *domain.PaymentProof) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid invoice id: %w", err)
	}

	update := bson.M{
		"$set": bson.M{
			"status":     domain.InvoiceStatusVerification,
			"proof":      proofToBson(proof),
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": objID, "status": domain.InvoiceStatusPending}, update)
	if err != nil {
		return fmt.Errorf("failed to attach proof: %w", err)
	}
	if result.MatchedCount == 0 {
		return r.classifyStateConflict(ctx, objID)
	}
	return nil
}

// MarkPaid settles an open invoice. Used by the gateway callback path.
func (r *MongoInvoiceRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid invoice id: %w", err)
	}

	update := bson.M{
		"$set": bson.M{
			"status":     domain.InvoiceStatusPaid,
			"paid_date":  paidAt,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": objID, "status": bson.M{"$in": openStatuses}}, update)
	if err != nil {
		return fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	if result.MatchedCount == 0 {
		return r.classifyStateConflict(ctx, objID)
	}
	return nil
}

// ResolveProof finalizes a review decision on an invoice in verification
func (r *MongoInvoiceRepository) ResolveProof(ctx context.Context, id string, approved bool, reviewerID, reason string, reviewedAt time.Time) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid invoice id: %w", err)
	}

	set := bson.M{
		"proof.reviewer_id": reviewerID,
		"proof.reviewed_at": reviewedAt,
		"updated_at":        time.Now().UTC(),
	}
	if approved {
		set["status"] = domain.InvoiceStatusPaid
		set["paid_date"] = reviewedAt
		set["proof.status"] = domain.ProofStatusVerified
	} else {
		set["status"] = domain.InvoiceStatusPending
		set["proof.status"] = domain.ProofStatusRejected
		set["proof.rejection_reason"] = reason
	}

	filter := bson.M{
		"_id":    objID,
		"status": domain.InvoiceStatusVerification,
		"proof":  bson.M{"$ne": nil},
	}

	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to resolve proof: %w", err)
	}
	if result.MatchedCount == 0 {
		return r.classifyStateConflict(ctx, objID)
	}
	return nil
}

func (r *MongoInvoiceRepository) Cancel(ctx context.Context, id string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid invoice id: %w", err)
	}

	update := bson.M{
		"$set": bson.M{
			"status":     domain.InvoiceStatusCancelled,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": objID, "status": domain.InvoiceStatusPending}, update)
	if err != nil {
		return fmt.Errorf("failed to cancel invoice: %w", err)
	}
	if result.MatchedCount == 0 {
		return r.classifyStateConflict(ctx, objID)
	}
	return nil
}

// classifyStateConflict reads the invoice back to tell the caller why a
// conditional update matched nothing
func (r *MongoInvoiceRepository) classifyStateConflict(ctx context.Context, objID primitive.ObjectID) error {
	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return domain.ErrNotFound
		}
		return fmt.Errorf("failed to inspect invoice state: %w", err)
	}
	if status, ok := raw["status"].(string); ok && status == domain.InvoiceStatusPaid {
		return domain.ErrAlreadyPaid
	}
	if _, hasProof := raw["proof"]; !hasProof {
		if status, ok := raw["status"].(string); ok && status == domain.InvoiceStatusVerification {
			return domain.ErrMissingProof
		}
	}
	return domain.ErrInvalidState
}

func proofToBson(p *domain.PaymentProof) bson.M {
	doc := bson.M{
		"file_url":        p.FileURL,
		"transaction_ref": p.TransactionRef,
		"notes":           p.Notes,
		"status":          p.Status,
		"uploaded_at":     p.UploadedAt,
	}
	if p.ReviewerID != "" {
		doc["reviewer_id"] = p.ReviewerID
	}
	if p.ReviewedAt != nil {
		doc["reviewed_at"] = *p.ReviewedAt
	}
	if p.RejectionReason != "" {
		doc["rejection_reason"] = p.RejectionReason
	}
	return doc
}

func mapBsonToInvoice(raw bson.M) *domain.Invoice {
	invoice := &domain.Invoice{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		invoice.ID = oid.Hex()
	}
	if ownerID, ok := raw["owner_id"].(string); ok {
		invoice.OwnerID = ownerID
	}
	if schoolID, ok := raw["school_id"].(string); ok {
		invoice.SchoolID = schoolID
	}
	if number, ok := raw["invoice_number"].(string); ok {
		invoice.InvoiceNumber = number
	}
	if category, ok := raw["category"].(string); ok {
		invoice.Category = category
	}
	if description, ok := raw["description"].(string); ok {
		invoice.Description = description
	}
	invoice.Amount = bsonInt64(raw["amount"])
	if currency, ok := raw["currency"].(string); ok {
		invoice.Currency = currency
	}
	if status, ok := raw["status"].(string); ok {
		invoice.Status = status
	}
	if due, ok := raw["due_date"].(primitive.DateTime); ok {
		invoice.DueDate = due.Time()
	}
	if paid, ok := raw["paid_date"].(primitive.DateTime); ok {
		t := paid.Time()
		invoice.PaidDate = &t
	}
	if year, ok := raw["academic_year"].(string); ok {
		invoice.AcademicYear = year
	}
	if period, ok := raw["billing_period"].(string); ok {
		invoice.BillingPeriod = period
	}
	if proofRaw, ok := raw["proof"].(bson.M); ok {
		invoice.Proof = mapBsonToProof(proofRaw)
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		invoice.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		invoice.UpdatedAt = updated.Time()
	}

	return invoice
}

func mapBsonToProof(raw bson.M) *domain.PaymentProof {
	proof := &domain.PaymentProof{}

	if fileURL, ok := raw["file_url"].(string); ok {
		proof.FileURL = fileURL
	}
	if ref, ok := raw["transaction_ref"].(string); ok {
		proof.TransactionRef = ref
	}
	if notes, ok := raw["notes"].(string); ok {
		proof.Notes = notes
	}
	if status, ok := raw["status"].(string); ok {
		proof.Status = status
	}
	if uploaded, ok := raw["uploaded_at"].(primitive.DateTime); ok {
		proof.UploadedAt = uploaded.Time()
	}
	if reviewer, ok := raw["reviewer_id"].(string); ok {
		proof.ReviewerID = reviewer
	}
	if reviewed, ok := raw["reviewed_at"].(primitive.DateTime); ok {
		t := reviewed.Time()
		proof.ReviewedAt = &t
	}
	if reason, ok := raw["rejection_reason"].(string); ok {
		proof.RejectionReason = reason
	}

	return proof
}

// bsonInt64 normalizes the int32/int64 split Mongo applies to small numbers
func bsonInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
