// Package platform is the HTTP client for the third-party booking/payments
// platform the salons run on. The pipeline only ever creates gift cards and
// reads customers/bookings; every create call carries an idempotency key so
// a retried request resolves to the object the first attempt made.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Config holds platform API connection configuration
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// Client calls the platform's REST API.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a new platform API client
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// Customer is the platform's view of a salon customer.
type Customer struct {
	ID        string `json:"id"`
	Phone     string `json:"phone_number,omitempty"`
	Email     string `json:"email_address,omitempty"`
	GivenName string `json:"given_name,omitempty"`
}

// Booking is the platform's view of an appointment.
type Booking struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	LocationID string `json:"location_id,omitempty"`
	Status     string `json:"status,omitempty"`
}

// GiftCard is the platform object a reward issuance creates.
type GiftCard struct {
	ID           string `json:"id"`
	State        string `json:"state,omitempty"`
	BalanceCents int64  `json:"balance_cents"`
	Currency     string `json:"currency,omitempty"`
}

// CreateGiftCardRequest issues a gift card to a customer.
type CreateGiftCardRequest struct {
	CustomerID     string `json:"customer_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

// RetrieveCustomer fetches a customer by platform id.
func (c *Client) RetrieveCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var out struct {
		Customer Customer `json:"customer"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/customers/"+customerID, "", nil, &out); err != nil {
		return nil, err
	}
	return &out.Customer, nil
}

// SearchCustomer finds a customer by phone or email. Returns NotFound when
// the platform has no match.
func (c *Client) SearchCustomer(ctx context.Context, phone, email string) (*Customer, error) {
	body := map[string]string{}
	if phone != "" {
		body["phone_number"] = phone
	}
	if email != "" {
		body["email_address"] = email
	}

	var out struct {
		Customers []Customer `json:"customers"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/customers/search", "", body, &out); err != nil {
		return nil, err
	}
	if len(out.Customers) == 0 {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "no customer matched"}
	}
	return &out.Customers[0], nil
}

// RetrieveBooking fetches a booking by platform id.
func (c *Client) RetrieveBooking(ctx context.Context, bookingID string) (*Booking, error) {
	var out struct {
		Booking Booking `json:"booking"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/bookings/"+bookingID, "", nil, &out); err != nil {
		return nil, err
	}
	return &out.Booking, nil
}

// CreateGiftCard issues a gift card. The idempotency key makes the call safe
// to repeat: the platform returns the card the original attempt created.
func (c *Client) CreateGiftCard(ctx context.Context, req CreateGiftCardRequest) (*GiftCard, error) {
	var out struct {
		GiftCard GiftCard `json:"gift_card"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/gift-cards", req.IdempotencyKey, req, &out); err != nil {
		return nil, err
	}

	c.logger.Info("Gift card created",
		slog.String("gift_card_id", out.GiftCard.ID),
		slog.String("customer_id", req.CustomerID),
		slog.Int64("amount_cents", req.AmountCents),
	)

	return &out.GiftCard, nil
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A timed-out call may still have succeeded server-side; callers must
		// retry with the same idempotency key, never assume success.
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Err: err}
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		c.logger.Warn("Platform API error",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("message", apiErr.Message),
		)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
