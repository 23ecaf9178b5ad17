/**
 * @description
 * Client for the YooKassa payments API (v3). It creates redirect-confirmation
 * payments carrying the correlation metadata the webhook needs, and reads a
 * payment back so an incoming notification can be confirmed against the API.
 *
 * @notes
 * - Authentication is HTTP Basic with shop id and secret key.
 * - The Idempotence-Key header is the order id, so a retried checkout never
 *   creates a second payment.
 */
package yookassa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.yookassa.ru/v3"

// Client is a client for the YooKassa API.
type Client struct {
	baseURL    string
	shopID     string
	secretKey  string
	httpClient *http.Client
}

// NewClient creates a new YooKassa client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL, shopID, secretKey string) *Client {
	normalizedURL := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if normalizedURL == "" {
		normalizedURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    normalizedURL,
		shopID:     shopID,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Amount is a monetary value as YooKassa encodes it.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// NewAmount formats minor units (kopecks) as a decimal string.
func NewAmount(minor int64, currency string) Amount {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return Amount{Value: fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100), Currency: currency}
}

// CreatePaymentRequest describes a checkout to open.
type CreatePaymentRequest struct {
	AmountMinor    int64
	Currency       string
	Description    string
	IdempotenceKey string
	UserID         int64
	Days           int
	OrderID        string
	ReturnURL      string
	ReceiptEmail   string
}

// Payment is the subset of the payment resource the service uses.
type Payment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       Amount            `json:"amount"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata"`
	Confirmation struct {
		Type            string `json:"type"`
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

type confirmation struct {
	Type      string `json:"type"`
	ReturnURL string `json:"return_url"`
}

type receiptItem struct {
	Description    string `json:"description"`
	Quantity       string `json:"quantity"`
	Amount         Amount `json:"amount"`
	VatCode        int    `json:"vat_code"`
	PaymentMode    string `json:"payment_mode"`
	PaymentSubject string `json:"payment_subject"`
}

type receipt struct {
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
	Items []receiptItem `json:"items"`
}

type paymentRequest struct {
	Amount       Amount            `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation confirmation      `json:"confirmation"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata"`
	Receipt      *receipt          `json:"receipt,omitempty"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("yookassa api error %d: %s %s", e.StatusCode, e.Code, e.Description)
}

// CreatePayment opens a payment with redirect confirmation.
func (c *Client) CreatePayment(ctx context.Context, in CreatePaymentRequest) (*Payment, error) {
	if in.IdempotenceKey == "" {
		return nil, fmt.Errorf("idempotence key is required")
	}
	currency := in.Currency
	if currency == "" {
		currency = "RUB"
	}
	amount := NewAmount(in.AmountMinor, currency)

	payload := paymentRequest{
		Amount:       amount,
		Capture:      true,
		Confirmation: confirmation{Type: "redirect", ReturnURL: in.ReturnURL},
		Description:  in.Description,
		Metadata: map[string]string{
			"user_id":  strconv.FormatInt(in.UserID, 10),
			"days":     strconv.Itoa(in.Days),
			"order_id": in.OrderID,
		},
	}
	if in.ReceiptEmail != "" {
		r := &receipt{Items: []receiptItem{{
			Description:    in.Description,
			Quantity:       "1.00",
			Amount:         amount,
			VatCode:        1,
			PaymentMode:    "full_payment",
			PaymentSubject: "service",
		}}}
		r.Customer.Email = in.ReceiptEmail
		payload.Receipt = r
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", in.IdempotenceKey)

	var payment Payment
	if err := c.do(req, &payment); err != nil {
		return nil, err
	}
	if payment.Confirmation.ConfirmationURL == "" {
		return nil, fmt.Errorf("yookassa payment %s has no confirmation url", payment.ID)
	}
	return &payment, nil
}

// GetPayment reads a payment by id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var payment Payment
	if err := c.do(req, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to yookassa: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read yookassa response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode yookassa response: %w", err)
	}
	return nil
}
