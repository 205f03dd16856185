package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/shulepay/shulepay/internal/config"
	"github.com/shulepay/shulepay/internal/repository"
	"github.com/shulepay/shulepay/internal/server"
)

const testJWTSecret = "test-secret-key-123"

func TestBillingGoldenPath(t *testing.T) {
	// 1. Setup Infrastructure
	db, cleanupDB := SetupTestDB(t)
	defer cleanupDB()

	require.NoError(t, repository.EnsureIndexes(context.Background(), db))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{}
	cfg.JWT.Secret = testJWTSecret
	cfg.Billing.RunHour = 9
	cfg.Billing.MaxConcurrency = 4

	provider := &StubCheckoutProvider{}
	files := NewMemFileRepo()

	// 2. Initialize App
	app, err := server.NewApp(server.AppDependencies{
		Config:      cfg,
		MongoDB:     db,
		RedisClient: redisClient,
		Provider:    provider,
		FileRepo:    files,
	})
	require.NoError(t, err)

	request := func(method, path, token string, body interface{}) *http.Response {
		var bodyReader io.Reader
		if body != nil {
			jsonBytes, _ := json.Marshal(body)
			bodyReader = bytes.NewReader(jsonBytes)
		}
		req, _ := http.NewRequest(method, path, bodyReader)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := app.Fiber.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	decode := func(resp *http.Response) map[string]interface{} {
		var out map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	adminToken := MintToken(t, testJWTSecret, "adm-1", "school-1", "admin")

	// ==========================================
	// STEP 1: Pricing table is public
	// ==========================================
	resp := request("GET", "/v1/billing/tiers", "", nil)
	require.Equal(t, 200, resp.StatusCode)
	tiers := decode(resp)["data"].([]interface{})
	assert.Len(t, tiers, 4)
	fmt.Println("✓ Pricing table served")

	// ==========================================
	// STEP 2: Admin registers a premier subscriber
	// ==========================================
	resp = request("POST", "/v1/admin/subscribers", adminToken, map[string]string{
		"name":          "Asha N.",
		"contact":       "256700000001",
		"tier":          "premier",
		"academic_year": "2026",
	})
	require.Equal(t, 201, resp.StatusCode)
	regData := decode(resp)["data"].(map[string]interface{})
	sub := regData["subscriber"].(map[string]interface{})
	inv := regData["invoice"].(map[string]interface{})
	subID := sub["id"].(string)
	invoiceID := inv["id"].(string)
	require.NotEmpty(t, subID)
	require.NotEmpty(t, invoiceID)
	assert.Equal(t, float64(70000), inv["amount"])
	assert.Equal(t, "pending", inv["status"])
	fmt.Println("✓ Subscriber registered, invoice:", inv["invoice_number"])

	studentToken := MintToken(t, testJWTSecret, subID, "school-1", "student")

	// ==========================================
	// STEP 3: Student sees their invoice
	// ==========================================
	resp = request("GET", "/v1/me/invoices/", studentToken, nil)
	require.Equal(t, 200, resp.StatusCode)
	list := decode(resp)["data"].([]interface{})
	require.Len(t, list, 1)

	// Another student cannot read it
	strangerToken := MintToken(t, testJWTSecret, "stu-other", "school-1", "student")
	resp = request("GET", "/v1/me/invoices/"+invoiceID, strangerToken, nil)
	assert.Equal(t, 403, resp.StatusCode)

	// ==========================================
	// STEP 4: Student pays via the gateway
	// ==========================================
	resp = request("POST", "/v1/me/payments/", studentToken, map[string]interface{}{
		"kind":       "membership_fee",
		"channel":    "MTN",
		"invoice_id": invoiceID,
	})
	require.Equal(t, 201, resp.StatusCode)
	payData := decode(resp)["data"].(map[string]interface{})
	gatewayRef := payData["gateway_ref"].(string)
	require.NotEmpty(t, gatewayRef)
	require.NotEmpty(t, payData["payment_url"])
	assert.Equal(t, 1, provider.Calls)
	fmt.Println("✓ Checkout opened:", gatewayRef)

	// ==========================================
	// STEP 5: Gateway webhook settles everything
	// ==========================================
	webhook := map[string]interface{}{
		"reference_id": gatewayRef,
		"provider_ref": "TPAY-001",
		"status":       "success",
		"amount":       70000,
	}
	resp = request("POST", "/v1/payments/webhook/tumapay", "", webhook)
	require.Equal(t, 200, resp.StatusCode)

	resp = request("GET", "/v1/me/invoices/"+invoiceID, studentToken, nil)
	require.Equal(t, 200, resp.StatusCode)
	paidInv := decode(resp)["data"].(map[string]interface{})
	assert.Equal(t, "paid", paidInv["status"])
	assert.NotNil(t, paidInv["paid_date"])
	fmt.Println("✓ Invoice settled by webhook")

	// ==========================================
	// STEP 6: Duplicate webhook is a no-op
	// ==========================================
	resp = request("POST", "/v1/payments/webhook/tumapay", "", webhook)
	require.Equal(t, 200, resp.StatusCode)

	count, err := db.Collection("revenues").CountDocuments(context.Background(), bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var revenueRow bson.M
	require.NoError(t, db.Collection("revenues").FindOne(context.Background(), bson.M{}).Decode(&revenueRow))
	assert.Equal(t, int64(3500), revenueRow["commission"])
	assert.Equal(t, int64(66500), revenueRow["net_amount"])
	fmt.Println("✓ Exactly one revenue row after duplicate webhook")
}

func TestProofReviewFlow(t *testing.T) {
	db, cleanupDB := SetupTestDB(t)
	defer cleanupDB()
	require.NoError(t, repository.EnsureIndexes(context.Background(), db))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := &config.Config{}
	cfg.JWT.Secret = testJWTSecret
	cfg.Billing.RunHour = 9
	cfg.Billing.MaxConcurrency = 4

	files := NewMemFileRepo()
	app, err := server.NewApp(server.AppDependencies{
		Config:      cfg,
		MongoDB:     db,
		RedisClient: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Provider:    &StubCheckoutProvider{},
		FileRepo:    files,
	})
	require.NoError(t, err)

	adminToken := MintToken(t, testJWTSecret, "adm-1", "school-1", "admin")

	// Register a subscriber to get an invoice
	body, _ := json.Marshal(map[string]string{
		"name": "Brian O.", "contact": "256700000002", "tier": "silver", "academic_year": "2026",
	})
	req, _ := http.NewRequest("POST", "/v1/admin/subscribers", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := app.Fiber.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 201, resp.StatusCode)

	var regOut map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&regOut))
	data := regOut["data"].(map[string]interface{})
	subID := data["subscriber"].(map[string]interface{})["id"].(string)
	invoiceID := data["invoice"].(map[string]interface{})["id"].(string)

	studentToken := MintToken(t, testJWTSecret, subID, "school-1", "student")

	submitProof := func(token, ref string) *http.Response {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		fw, err := w.CreateFormFile("file", "receipt.png")
		require.NoError(t, err)
		_, err = fw.Write([]byte("fake-png-bytes"))
		require.NoError(t, err)
		require.NoError(t, w.WriteField("transaction_ref", ref))
		require.NoError(t, w.WriteField("notes", "paid at agent kiosk"))
		require.NoError(t, w.Close())

		req, _ := http.NewRequest("POST", "/v1/me/invoices/"+invoiceID+"/proof", &buf)
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Fiber.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	// Student submits a proof, invoice enters verification
	resp = submitProof(studentToken, "MM-20260901-777")
	require.Equal(t, 201, resp.StatusCode)
	var proofOut map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&proofOut))
	proofInv := proofOut["data"].(map[string]interface{})
	assert.Equal(t, "verification", proofInv["status"])
	assert.Len(t, files.Files, 1)

	review := func(approved bool, reason string) *http.Response {
		body, _ := json.Marshal(map[string]interface{}{"approved": approved, "reason": reason})
		req, _ := http.NewRequest("POST", "/v1/admin/invoices/"+invoiceID+"/review", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+adminToken)
		resp, err := app.Fiber.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	// Rejection without a reason is a validation error
	resp = review(false, "")
	assert.Equal(t, 400, resp.StatusCode)

	// Rejection with a reason reopens the invoice
	resp = review(false, "amount does not match")
	require.Equal(t, 200, resp.StatusCode)
	var rejOut map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rejOut))
	rejInv := rejOut["data"].(map[string]interface{})
	assert.Equal(t, "pending", rejInv["status"])

	// Student resubmits, admin approves, invoice is paid
	resp = submitProof(studentToken, "MM-20260901-778")
	require.Equal(t, 201, resp.StatusCode)

	resp = review(true, "")
	require.Equal(t, 200, resp.StatusCode)
	var appOut map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&appOut))
	appInv := appOut["data"].(map[string]interface{})
	assert.Equal(t, "paid", appInv["status"])

	// A second review of a settled invoice conflicts
	resp = review(true, "")
	assert.Equal(t, 409, resp.StatusCode)
}
