package repository

import (
	"context"
	"fmt"

	"github.com/shulepay/shulepay/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the unique indexes the ledgers rely on. The billing
// pipeline's idempotency guards are enforced here, in the datastore, rather
// than by check-then-act timing in application code:
//
//   - invoices.invoice_number         — globally unique, immutable
//   - invoices (owner, category, billing_period) — unique while the invoice
//     is open (partial index), the double-billing guard
//   - transactions.gateway_ref        — webhook correlation key
//   - revenues.transaction_id         — at-most-once revenue booking
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	invoiceIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "invoice_number", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "category", Value: 1},
				{Key: "billing_period", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"status": bson.M{"$in": bson.A{
						domain.InvoiceStatusPending,
						domain.InvoiceStatusVerification,
					}},
				}),
		},
		{
			Keys: bson.D{{Key: "owner_id", Value: 1}},
		},
	}
	if _, err := db.Collection("invoices").Indexes().CreateMany(ctx, invoiceIndexes); err != nil {
		return fmt.Errorf("failed to create invoice indexes: %w", err)
	}

	txnIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "gateway_ref", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := db.Collection("transactions").Indexes().CreateMany(ctx, txnIndexes); err != nil {
		return fmt.Errorf("failed to create transaction indexes: %w", err)
	}

	revenueIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := db.Collection("revenues").Indexes().CreateMany(ctx, revenueIndexes); err != nil {
		return fmt.Errorf("failed to create revenue indexes: %w", err)
	}

	subscriberIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "active", Value: 1},
				{Key: "recurring", Value: 1},
				{Key: "next_billing_date", Value: 1},
			},
		},
	}
	if _, err := db.Collection("subscribers").Indexes().CreateMany(ctx, subscriberIndexes); err != nil {
		return fmt.Errorf("failed to create subscriber indexes: %w", err)
	}

	return nil
}
