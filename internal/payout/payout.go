// Package payout performs the external value transfer for treasury
// withdrawals. The ledger engine only sees the Transfer result: nil means
// the funds left, any error triggers the engine's compensating rollback.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Client POSTs withdrawal instructions to a payout endpoint. When no URL
// is configured the client logs the transfer and reports success, which
// keeps local development working without a payment backend.
type Client struct {
	URL  string
	HTTP *http.Client
}

// New returns a Client for the given payout URL ("" = log-only mode).
func New(url string) *Client {
	return &Client{
		URL:  url,
		HTTP: &http.Client{Timeout: 10 * time.Second},
	}
}

type transferRequest struct {
	To          string `json:"to"`
	AmountCents uint64 `json:"amount_cents"`
}

// Transfer sends the instruction and treats any transport error or
// non-2xx response as failure.
func (c *Client) Transfer(ctx context.Context, to string, amountCents uint64) error {
	if c.URL == "" {
		log.Printf("payout: no PAYOUT_URL configured; recording transfer of %d cents to %s", amountCents, to)
		return nil
	}
	body, err := json.Marshal(transferRequest{To: to, AmountCents: amountCents})
	if err != nil {
		return fmt.Errorf("marshal transfer: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("payout request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("payout endpoint returned %s", resp.Status)
	}
	return nil
}
