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

// MongoPurchaseRepository implements domain.PurchaseRepository over the
// book_purchases and event_registrations collections
type MongoPurchaseRepository struct {
	books  *mongo.Collection
	events *mongo.Collection
}

// NewMongoPurchaseRepository creates a new purchase repository
func NewMongoPurchaseRepository(db *mongo.Database) *MongoPurchaseRepository {
	return &MongoPurchaseRepository{
		books:  db.Collection("book_purchases"),
		events: db.Collection("event_registrations"),
	}
}

func (r *MongoPurchaseRepository) CreateBookPurchase(ctx context.Context, p *domain.BookPurchase) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	objID := primitive.NewObjectID()
	p.ID = objID.Hex()

	doc := bson.M{
		"_id":        objID,
		"owner_id":   p.OwnerID,
		"school_id":  p.SchoolID,
		"book_id":    p.BookID,
		"amount":     p.Amount,
		"status":     p.Status,
		"created_at": p.CreatedAt,
		"updated_at": p.UpdatedAt,
	}

	if _, err := r.books.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create book purchase: %w", err)
	}
	return nil
}

func (r *MongoPurchaseRepository) MarkBookPurchaseCompleted(ctx context.Context, id string) error {
	return markStatus(ctx, r.books, id, domain.PurchaseStatusCompleted, "book purchase")
}

func (r *MongoPurchaseRepository) CreateEventRegistration(ctx context.Context, reg *domain.EventRegistration) error {
	now := time.Now().UTC()
	reg.CreatedAt = now
	reg.UpdatedAt = now

	objID := primitive.NewObjectID()
	reg.ID = objID.Hex()

	doc := bson.M{
		"_id":        objID,
		"owner_id":   reg.OwnerID,
		"school_id":  reg.SchoolID,
		"event_id":   reg.EventID,
		"amount":     reg.Amount,
		"status":     reg.Status,
		"created_at": reg.CreatedAt,
		"updated_at": reg.UpdatedAt,
	}

	if _, err := r.events.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create event registration: %w", err)
	}
	return nil
}

func (r *MongoPurchaseRepository) MarkEventRegistrationPaid(ctx context.Context, id string) error {
	return markStatus(ctx, r.events, id, domain.EventRegStatusPaid, "event registration")
}

func markStatus(ctx context.Context, coll *mongo.Collection, id, status, label string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid %s id: %w", label, err)
	}

	update := bson.M{
		"$set": bson.M{
			"status":     status,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := coll.UpdateOne(ctx, bson.M{"_id": objID}, update)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", label, err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
