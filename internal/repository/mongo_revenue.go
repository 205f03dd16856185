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

// MongoRevenueRepository implements domain.RevenueRepository
type MongoRevenueRepository struct {
	collection *mongo.Collection
}

// NewMongoRevenueRepository creates a new revenue repository
func NewMongoRevenueRepository(db *mongo.Database) *MongoRevenueRepository {
	return &MongoRevenueRepository{
		collection: db.Collection("revenues"),
	}
}

// Create appends one revenue row. The unique index on transaction_id turns a
// double booking into ErrDuplicateRevenue regardless of interleaving.
func (r *MongoRevenueRepository) Create(ctx context.Context, revenue *domain.Revenue) error {
	revenue.CreatedAt = time.Now().UTC()

	objID := primitive.NewObjectID()
	revenue.ID = objID.Hex()

	doc := bson.M{
		"_id":            objID,
		"transaction_id": revenue.TransactionID,
		"amount":         revenue.Amount,
		"commission":     revenue.Commission,
		"net_amount":     revenue.NetAmount,
		"category":       revenue.Category,
		"period": bson.M{
			"month":   revenue.Period.Month,
			"year":    revenue.Period.Year,
			"quarter": revenue.Period.Quarter,
		},
		"created_at": revenue.CreatedAt,
	}

	_, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateRevenue
		}
		return fmt.Errorf("failed to create revenue row: %w", err)
	}
	return nil
}

func (r *MongoRevenueRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Revenue, error) {
	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"transaction_id": transactionID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get revenue row: %w", err)
	}
	return mapBsonToRevenue(raw), nil
}

func mapBsonToRevenue(raw bson.M) *domain.Revenue {
	revenue := &domain.Revenue{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		revenue.ID = oid.Hex()
	}
	if txnID, ok := raw["transaction_id"].(string); ok {
		revenue.TransactionID = txnID
	}
	revenue.Amount = bsonInt64(raw["amount"])
	revenue.Commission = bsonInt64(raw["commission"])
	revenue.NetAmount = bsonInt64(raw["net_amount"])
	if category, ok := raw["category"].(string); ok {
		revenue.Category = category
	}
	if period, ok := raw["period"].(bson.M); ok {
		revenue.Period = domain.RevenuePeriod{
			Month:   int(bsonInt64(period["month"])),
			Year:    int(bsonInt64(period["year"])),
			Quarter: int(bsonInt64(period["quarter"])),
		}
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		revenue.CreatedAt = created.Time()
	}

	return revenue
}
