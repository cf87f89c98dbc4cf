// Package expo talks to the Expo-compatible push gateway: bulk send and bulk
// receipt fetch.
package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

const DefaultBaseURL = "https://exp.host/--/api/v2"

// Gateway request ceilings. Send requests cap at 100 messages, receipt
// requests at 300 ticket ids.
const (
	SendChunkLimit    = 100
	ReceiptChunkLimit = 300
)

// Config holds the gateway endpoint and optional access token.
type Config struct {
	BaseURL     string
	AccessToken string
}

type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:     baseURL,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{},
		logger:      logger.With("component", "ExpoClient"),
	}
}

// SendMessages submits one chunk of messages and returns one ticket per
// message, in message order.
func (c *Client) SendMessages(ctx context.Context, msgs []notify.PushMessage) ([]notify.PushTicket, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	var parsed struct {
		Data []notify.PushTicket `json:"data"`
	}
	if err := c.post(ctx, "/push/send", msgs, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) != len(msgs) {
		return nil, fmt.Errorf("gateway returned %d tickets for %d messages", len(parsed.Data), len(msgs))
	}
	return parsed.Data, nil
}

// GetReceipts exchanges ticket ids for receipts. Unsettled tickets are
// simply absent from the map.
func (c *Client) GetReceipts(ctx context.Context, ticketIDs []string) (map[string]notify.PushReceipt, error) {
	if len(ticketIDs) == 0 {
		return map[string]notify.PushReceipt{}, nil
	}
	body := map[string][]string{"ids": ticketIDs}
	var parsed struct {
		Data map[string]notify.PushReceipt `json:"data"`
	}
	if err := c.post(ctx, "/push/getReceipts", body, &parsed); err != nil {
		return nil, err
	}
	return parsed.Data, nil
}

func (c *Client) post(ctx context.Context, path string, payload, dest interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway rejected %s: status %d: %s", path, resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
