// Package investloader provides a Go SDK for the investloader service API.
package investloader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// SyncOutcome mirrors the service's per-run accounting result. The counts
// always satisfy totalRequested == newItemsSaved + existingItemsSkipped +
// invalidItemsFiltered + missingFromApi.
type SyncOutcome struct {
	Success              bool        `json:"success"`
	Message              string      `json:"message"`
	TaskID               string      `json:"taskId"`
	TotalRequested       int64       `json:"totalRequested"`
	NewItemsSaved        int64       `json:"newItemsSaved"`
	ExistingItemsSkipped int64       `json:"existingItemsSkipped"`
	InvalidItemsFiltered int64       `json:"invalidItemsFiltered"`
	MissingFromAPI       int64       `json:"missingFromApi"`
	SavedItems           []SavedItem `json:"savedItems"`
}

// SavedItem is one fact persisted during a run.
type SavedItem struct {
	FIGI        string          `json:"figi"`
	TradingDate time.Time       `json:"tradingDate"`
	ClosePrice  decimal.Decimal `json:"closePrice"`
}

// Instrument is one catalog entry as returned by the instruments endpoint.
type Instrument struct {
	FIGI     string `json:"figi"`
	Ticker   string `json:"ticker"`
	Type     string `json:"type"`
	Currency string `json:"currency"`
	Exchange string `json:"exchange"`
}

// ClosePricesRequest selects instruments for a close-price sync. Empty
// fields mean the service defaults (all RUB shares and futures).
type ClosePricesRequest struct {
	Instruments []string `json:"instruments,omitempty"`
	Types       []string `json:"types,omitempty"`
}

// CandlesRequest selects instruments and dates for a candle sync.
type CandlesRequest struct {
	Date        string   `json:"date"`
	To          string   `json:"to,omitempty"`
	Interval    string   `json:"interval,omitempty"`
	Types       []string `json:"types,omitempty"`
	Instruments []string `json:"instruments,omitempty"`
}

// Client provides a Go SDK for interacting with the investloader-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new investloader API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// SyncClosePrices triggers a close-price sync run and returns its outcome.
func (c *Client) SyncClosePrices(ctx context.Context, req ClosePricesRequest) (SyncOutcome, error) {
	var out SyncOutcome
	err := c.do(ctx, http.MethodPost, "/api/v1/sync/close-prices", req, &out)
	return out, err
}

// SyncEveningSession triggers an evening-session derivation for one date.
func (c *Client) SyncEveningSession(ctx context.Context, date time.Time) (SyncOutcome, error) {
	var out SyncOutcome
	path := "/api/v1/sync/evening-session/" + date.Format("2006-01-02")
	err := c.do(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

// SyncMorningSession triggers a morning-session derivation for one date.
func (c *Client) SyncMorningSession(ctx context.Context, date time.Time) (SyncOutcome, error) {
	var out SyncOutcome
	path := "/api/v1/sync/morning-session/" + date.Format("2006-01-02")
	err := c.do(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

// SyncCandles triggers a candle sync run.
func (c *Client) SyncCandles(ctx context.Context, req CandlesRequest) (SyncOutcome, error) {
	var out SyncOutcome
	err := c.do(ctx, http.MethodPost, "/api/v1/sync/candles", req, &out)
	return out, err
}

// SyncInstruments refreshes the instrument catalog.
func (c *Client) SyncInstruments(ctx context.Context, types []string) (SyncOutcome, error) {
	var out SyncOutcome
	body := map[string][]string{"types": types}
	err := c.do(ctx, http.MethodPost, "/api/v1/sync/instruments", body, &out)
	return out, err
}

// Instruments lists the cached instrument universe for one type.
func (c *Client) Instruments(ctx context.Context, instrumentType string) ([]Instrument, error) {
	var out struct {
		Instruments []Instrument `json:"instruments"`
	}
	path := "/api/v1/instruments?type=" + url.QueryEscape(instrumentType)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Instruments, nil
}

// Prices lists the persisted session prices for one session ("morning",
// "evening", or "close") on one date.
func (c *Client) Prices(ctx context.Context, session string, date time.Time) ([]SavedItem, error) {
	var out struct {
		Items []SavedItem `json:"items"`
	}
	path := fmt.Sprintf("/api/v1/prices/%s/%s", url.PathEscape(session), date.Format("2006-01-02"))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Healthy reports whether the service answers its health check.
func (c *Client) Healthy(ctx context.Context) bool {
	var out map[string]string
	return c.do(ctx, http.MethodGet, "/healthz", nil, &out) == nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
