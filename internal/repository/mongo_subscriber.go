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

// MongoSubscriberRepository implements domain.SubscriberRepository
type MongoSubscriberRepository struct {
	collection *mongo.Collection
}

// NewMongoSubscriberRepository creates a new subscriber repository
func NewMongoSubscriberRepository(db *mongo.Database) *MongoSubscriberRepository {
	return &MongoSubscriberRepository{
		collection: db.Collection("subscribers"),
	}
}

func (r *MongoSubscriberRepository) Create(ctx context.Context, sub *domain.Subscriber) error {
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	objID := primitive.NewObjectID()
	sub.ID = objID.Hex()

	doc := bson.M{
		"_id":           objID,
		"name":          sub.Name,
		"contact":       sub.Contact,
		"school_id":     sub.SchoolID,
		"tier":          string(sub.Tier),
		"active":        sub.Active,
		"recurring":     sub.Recurring,
		"academic_year": sub.AcademicYear,
		"created_at":    sub.CreatedAt,
		"updated_at":    sub.UpdatedAt,
	}
	if sub.NextBillingDate != nil {
		doc["next_billing_date"] = *sub.NextBillingDate
	}

	_, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create subscriber: %w", err)
	}
	return nil
}

func (r *MongoSubscriberRepository) GetByID(ctx context.Context, id string) (*domain.Subscriber, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid subscriber id: %w", err)
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscriber: %w", err)
	}
	return mapBsonToSubscriber(raw), nil
}

// ListDue returns the scheduler's work list for one run
func (r *MongoSubscriberRepository) ListDue(ctx context.Context, now time.Time) ([]*domain.Subscriber, error) {
	filter := bson.M{
		"active":            true,
		"recurring":         true,
		"next_billing_date": bson.M{"$lte": now.UTC()},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscribers: %w", err)
	}
	defer cursor.Close(ctx)

	var subs []*domain.Subscriber
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		subs = append(subs, mapBsonToSubscriber(raw))
	}
	return subs, nil
}

// AdvanceBillingDate moves next_billing_date forward from its expected value.
// The filter keeps the date monotonic: if another run advanced it already the
// update matches nothing, which the scheduler treats as a benign skip.
func (r *MongoSubscriberRepository) AdvanceBillingDate(ctx context.Context, id string, expected, next time.Time) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid subscriber id: %w", err)
	}

	filter := bson.M{
		"_id":               objID,
		"next_billing_date": bson.M{"$lte": expected.UTC()},
	}
	update := bson.M{
		"$set": bson.M{
			"next_billing_date": next.UTC(),
			"updated_at":        time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to advance billing date: %w", err)
	}
	if result.MatchedCount == 0 {
		// Either the subscriber vanished or the date already moved forward.
		var raw bson.M
		if err := r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
			if err == mongo.ErrNoDocuments {
				return domain.ErrNotFound
			}
			return fmt.Errorf("failed to inspect subscriber: %w", err)
		}
	}
	return nil
}

func mapBsonToSubscriber(raw bson.M) *domain.Subscriber {
	sub := &domain.Subscriber{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		sub.ID = oid.Hex()
	}
	if name, ok := raw["name"].(string); ok {
		sub.Name = name
	}
	if contact, ok := raw["contact"].(string); ok {
		sub.Contact = contact
	}
	if schoolID, ok := raw["school_id"].(string); ok {
		sub.SchoolID = schoolID
	}
	if tier, ok := raw["tier"].(string); ok {
		sub.Tier = domain.RegistrationTier(tier)
	}
	if active, ok := raw["active"].(bool); ok {
		sub.Active = active
	}
	if recurring, ok := raw["recurring"].(bool); ok {
		sub.Recurring = recurring
	}
	if next, ok := raw["next_billing_date"].(primitive.DateTime); ok {
		t := next.Time()
		sub.NextBillingDate = &t
	}
	if year, ok := raw["academic_year"].(string); ok {
		sub.AcademicYear = year
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		sub.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		sub.UpdatedAt = updated.Time()
	}

	return sub
}
