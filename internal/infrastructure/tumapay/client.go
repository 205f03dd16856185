package tumapay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shulepay/shulepay/internal/domain"
)

// Channel represents supported mobile money channels.
type Channel string

const (
	ChannelMTN    Channel = "mtn"
	ChannelAirtel Channel = "airtel"
	ChannelCard   Channel = "card"
)

// Config holds TumaPay API configuration.
type Config struct {
	MerchantCode string // Merchant code assigned by TumaPay
	APIKey       string // API key used for request signing
	BaseURL      string // Base URL (sandbox or production)
	NotifyURL    string // Webhook URL for payment notifications
}

// Client is the TumaPay API client.
type Client struct {
	config     Config
	httpClient *http.Client
}

// CheckoutRequest is the request body for initiating a checkout.
type CheckoutRequest struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	NotifyURL   string `json:"notifyUrl"`
	Expired     int    `json:"expired"` // Expiry in hours
	Comments    string `json:"comments"`
	ReferenceID string `json:"referenceId"`
	Channel     string `json:"channel"`
}

// checkoutAPIResponse mirrors the TumaPay API response envelope.
type checkoutAPIResponse struct {
	Status  int    `json:"Status"`
	Message string `json:"Message"`
	Data    struct {
		SessionID   string `json:"SessionId"`
		ProviderRef string `json:"ProviderRef"`
		ReferenceID string `json:"ReferenceId"`
		Channel     string `json:"Channel"`
		PaymentURL  string `json:"PaymentUrl"`
		Total       int64  `json:"Total"`
		Fee         int64  `json:"Fee"`
		Expired     string `json:"Expired"` // ISO date string
	} `json:"Data"`
}

// CheckoutResponse is the parsed result of a successful checkout initiation.
type CheckoutResponse struct {
	ProviderRef string
	SessionID   string
	PaymentURL  string
	ExpiresAt   time.Time
}

// NewClient creates a new TumaPay client.
func NewClient(cfg Config) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// generateSignature creates the HMAC-SHA256 signature for TumaPay API calls.
// Step 1: bodyHash = lowercase(sha256(jsonBody))
// Step 2: stringToSign = METHOD + ":" + merchantCode + ":" + bodyHash + ":" + apiKey
// Step 3: signature = lowercase(hmacSha256(apiKey, stringToSign))
func (c *Client) generateSignature(jsonBody []byte, method string) string {
	bodyHashBytes := sha256.Sum256(jsonBody)
	bodyHash := strings.ToLower(hex.EncodeToString(bodyHashBytes[:]))

	stringToSign := fmt.Sprintf("%s:%s:%s:%s", method, c.config.MerchantCode, bodyHash, c.config.APIKey)

	h := hmac.New(sha256.New, []byte(c.config.APIKey))
	h.Write([]byte(stringToSign))
	return strings.ToLower(hex.EncodeToString(h.Sum(nil)))
}

// CreateCheckout initiates a hosted checkout session for the given reference.
// The reference is the gateway ref generated on our side; TumaPay echoes it
// back in the webhook so the callback can find the transaction.
func (c *Client) CreateCheckout(ctx context.Context, referenceID string, amount int64, currency string, channel Channel, payerName, payerEmail, payerPhone, comments string) (*CheckoutResponse, error) {
	endpoint := "/api/v1/checkout"
	url := c.config.BaseURL + endpoint

	reqBody := CheckoutRequest{
		Name:        payerName,
		Phone:       payerPhone,
		Email:       payerEmail,
		Amount:      amount,
		Currency:    currency,
		NotifyURL:   c.config.NotifyURL,
		Expired:     24,
		Comments:    comments,
		ReferenceID: referenceID,
		Channel:     string(channel),
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	signature := c.generateSignature(jsonBody, "POST")

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("merchant", c.config.MerchantCode)
	req.Header.Set("signature", signature)
	req.Header.Set("timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	log.Printf("[TumaPay] Calling %s with channel: %s, amount: %d %s", url, channel, amount, currency)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[TumaPay] Response status: %d, body: %s", resp.StatusCode, string(respBody))

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.GatewayError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       string(respBody),
		}
	}

	var apiResp checkoutAPIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if apiResp.Status != 200 {
		return nil, &domain.GatewayError{
			StatusCode: resp.StatusCode,
			Status:     apiResp.Message,
			Body:       string(respBody),
		}
	}

	expiresAt, _ := time.Parse(time.RFC3339, apiResp.Data.Expired)
	if expiresAt.IsZero() {
		expiresAt = time.Now().UTC().Add(24 * time.Hour)
	}

	return &CheckoutResponse{
		ProviderRef: apiResp.Data.ProviderRef,
		SessionID:   apiResp.Data.SessionID,
		PaymentURL:  apiResp.Data.PaymentURL,
		ExpiresAt:   expiresAt,
	}, nil
}

// VerifyWebhookSignature checks the signature TumaPay attaches to webhook
// callbacks. The signed string is referenceID + "." + status, keyed with the
// merchant API key. Verification is skipped when no API key is configured,
// which keeps local development and tests simple.
func (c *Client) VerifyWebhookSignature(referenceID, status, signature string) bool {
	if c.config.APIKey == "" {
		return true
	}
	h := hmac.New(sha256.New, []byte(c.config.APIKey))
	h.Write([]byte(referenceID + "." + status))
	expected := strings.ToLower(hex.EncodeToString(h.Sum(nil)))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// MapChannel converts a client-supplied channel name to a TumaPay channel.
func MapChannel(channel string) Channel {
	switch strings.ToUpper(channel) {
	case "MTN":
		return ChannelMTN
	case "AIRTEL":
		return ChannelAirtel
	case "CARD":
		return ChannelCard
	default:
		return ChannelMTN
	}
}
