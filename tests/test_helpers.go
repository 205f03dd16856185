package tests

import (
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shulepay/shulepay/internal/domain"
	"github.com/shulepay/shulepay/internal/service"
)

// SetupTestDB spins up a fresh MongoDB container and returns the database
// connection along with a cleanup function.
func SetupTestDB(t *testing.T) (*mongo.Database, func()) {
	ctx := context.Background()

	mongodbContainer, err := mongodb.Run(ctx, "mongo:latest")
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}

	endpoint, err := mongodbContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	if err != nil {
		t.Fatalf("failed to connect to mongo: %v", err)
	}

	return mongoClient.Database("test_db"), func() {
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Printf("failed to disconnect mongo: %v", err)
		}
		if err := mongodbContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate container: %v", err)
		}
	}
}

// MintToken signs a platform JWT for the given identity, matching what the
// identity service would issue.
func MintToken(t *testing.T, secret, userID, schoolID string, roles ...string) string {
	t.Helper()
	claims := &domain.ShulePayClaims{
		UserID:   userID,
		Roles:    roles,
		SchoolID: schoolID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

// StubCheckoutProvider is an in-test payment provider that always opens a
// checkout and accepts every webhook signature.
type StubCheckoutProvider struct {
	mu    sync.Mutex
	Calls int
}

func (p *StubCheckoutProvider) CreateCheckout(_ context.Context, referenceID string, _ int64, _, _, _, _, _, _ string) (*service.CheckoutResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls++
	return &service.CheckoutResponse{
		ProviderRef: "stub-" + referenceID,
		SessionID:   "sess-" + referenceID,
		PaymentURL:  "https://checkout.test/" + referenceID,
		ExpiresAt:   time.Now().UTC().Add(24 * time.Hour),
	}, nil
}

func (p *StubCheckoutProvider) VerifyWebhookSignature(_, _, _ string) bool { return true }

// MemFileRepo keeps uploaded proof artifacts in memory so the e2e flow does
// not need an S3 endpoint.
type MemFileRepo struct {
	mu    sync.Mutex
	Files map[string][]byte
}

func NewMemFileRepo() *MemFileRepo {
	return &MemFileRepo{Files: make(map[string][]byte)}
}

func (r *MemFileRepo) Upload(_ context.Context, file []byte, filename, _ string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Files[filename] = file
	return "https://files.test/" + filename, nil
}

func (r *MemFileRepo) Delete(_ context.Context, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Files, filename)
	return nil
}
