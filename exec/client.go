package exec

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BROKER REST CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Handles order placement and management against the venue's REST API.
// HMAC-SHA256 request signing; dry-run mode fabricates tickets for paper
// operation.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ClientConfig holds venue connection settings
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	DryRun    bool
	Timeout   time.Duration
	MinLot    decimal.Decimal
}

// Client talks to the execution venue over HTTP
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	dryRun     bool
	minLot     decimal.Decimal
	httpClient *http.Client
}

// NewClient creates a broker client
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	minLot := cfg.MinLot
	if minLot.IsZero() {
		minLot = decimal.NewFromFloat(0.01)
	}

	client := &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		dryRun:     cfg.DryRun,
		minLot:     minLot,
		httpClient: &http.Client{Timeout: timeout},
	}

	mode := "LIVE"
	if cfg.DryRun {
		mode = "DRY RUN"
	}
	log.Info().
		Str("mode", mode).
		Str("base_url", cfg.BaseURL).
		Str("min_lot", minLot.String()).
		Msg("🚀 Broker client initialized")

	return client
}

// MinLot returns the venue's minimum tradable lot
func (c *Client) MinLot() decimal.Decimal {
	return c.minLot
}

// PlaceOrder places an order at the venue
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if c.dryRun {
		ticket := fmt.Sprintf("DRY_%d", time.Now().UnixNano())
		log.Info().
			Str("ticket", ticket).
			Str("symbol", req.Symbol).
			Str("type", string(req.Type)).
			Str("direction", string(req.Direction)).
			Str("price", req.Price.String()).
			Str("volume", req.Volume.String()).
			Msg("📝 DRY RUN: Order would be placed")
		return &OrderResult{Ticket: ticket, Code: CodeOK, FillPrice: req.Price}, nil
	}

	payload := map[string]any{
		"type":        req.Type,
		"symbol":      req.Symbol,
		"direction":   req.Direction,
		"price":       req.Price.String(),
		"stop_loss":   req.StopLoss.String(),
		"take_profit": req.TakeProfit.String(),
		"volume":      req.Volume.String(),
		"deviation":   req.Deviation.String(),
	}

	body, err := c.post(ctx, "/orders", payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		Ticket    string `json:"ticket"`
		Code      string `json:"code"`
		FillPrice string `json:"fill_price"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	fill, _ := decimal.NewFromString(result.FillPrice)
	res := &OrderResult{
		Ticket:    result.Ticket,
		Code:      ResultCode(result.Code),
		FillPrice: fill,
		Message:   result.Message,
	}

	log.Info().
		Str("ticket", res.Ticket).
		Str("code", string(res.Code)).
		Str("symbol", req.Symbol).
		Msg("Order response")

	return res, nil
}

// ModifyStop moves the stop loss on an open position
func (c *Client) ModifyStop(ctx context.Context, ticket string, newSL decimal.Decimal) error {
	if c.dryRun {
		log.Info().Str("ticket", ticket).Str("sl", newSL.String()).Msg("📝 DRY RUN: Stop would be modified")
		return nil
	}

	_, err := c.post(ctx, "/positions/"+ticket+"/stop", map[string]any{
		"stop_loss": newSL.String(),
	})
	return err
}

// ClosePosition closes a fraction (0,1] of an open position
func (c *Client) ClosePosition(ctx context.Context, ticket string, fraction decimal.Decimal) error {
	if c.dryRun {
		log.Info().Str("ticket", ticket).Str("fraction", fraction.String()).Msg("📝 DRY RUN: Position would be closed")
		return nil
	}

	_, err := c.post(ctx, "/positions/"+ticket+"/close", map[string]any{
		"fraction": fraction.String(),
	})
	return err
}

// CancelOrder cancels a resting order
func (c *Client) CancelOrder(ctx context.Context, ticket string) error {
	if c.dryRun {
		log.Info().Str("ticket", ticket).Msg("📝 DRY RUN: Order would be cancelled")
		return nil
	}

	return c.delete(ctx, "/orders/"+ticket)
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	jsonBody, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req, jsonBody)
	return c.doRequest(req)
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req, nil)
	_, err = c.doRequest(req)
	return err
}

func (c *Client) addHeaders(req *http.Request, body []byte) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("X-TIMESTAMP", timestamp)

	if c.apiSecret != "" {
		message := timestamp + req.Method + req.URL.Path + string(body)
		req.Header.Set("X-SIGNATURE", c.hmacSign(message))
	}
}

func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func (c *Client) hmacSign(message string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
