package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL    string
	AdminToken string
	HTTP       *http.Client
}

func NewClient(baseURL, adminToken string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AdminToken: adminToken,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) MarketSummary(ctx context.Context, universe string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market/"+universe, nil, &out, "")
	return out, err
}

func (c *Client) MarketDetail(ctx context.Context, universe, name string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market/"+universe+"/"+url.PathEscape(name), nil, &out, "")
	return out, err
}

func (c *Client) ProductDemand(ctx context.Context, product, sector string) (map[string]any, error) {
	var out map[string]any
	path := "/v1/products/" + url.PathEscape(product) + "/demand?sector=" + url.QueryEscape(sector)
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out, err
}

func (c *Client) CreateCorporation(ctx context.Context, name string, capital float64, totalShares, publicShares int64, dividendBps int32, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/corporations", map[string]any{
		"name":            name,
		"initial_capital": capital,
		"total_shares":    totalShares,
		"public_shares":   publicShares,
		"dividend_bps":    dividendBps,
	}, &out, idem)
	return out, err
}

func (c *Client) Valuation(ctx context.Context, corporationID int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/corporations/%d/valuation", corporationID), nil, &out, "")
	return out, err
}

func (c *Client) BalanceSheet(ctx context.Context, corporationID int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/corporations/%d/balance-sheet", corporationID), nil, &out, "")
	return out, err
}

func (c *Client) Financials(ctx context.Context, corporationID int64, hours float64) (map[string]any, error) {
	var out map[string]any
	path := fmt.Sprintf("/v1/corporations/%d/financials?hours=%g", corporationID, hours)
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out, err
}

func (c *Client) EnterMarket(ctx context.Context, corporationID int64, stateCode, sectorName, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/corporations/%d/entries", corporationID), map[string]any{
		"state_code":  stateCode,
		"sector_name": sectorName,
	}, &out, idem)
	return out, err
}

func (c *Client) BuildUnits(ctx context.Context, entryID int64, unitType string, count int64, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/entries/%d/units/build", entryID), map[string]any{
		"unit_type": unitType,
		"count":     count,
	}, &out, idem)
	return out, err
}

func (c *Client) AbandonUnits(ctx context.Context, entryID int64, unitType string, count int64, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/entries/%d/units/abandon", entryID), map[string]any{
		"unit_type": unitType,
		"count":     count,
	}, &out, idem)
	return out, err
}

func (c *Client) AbandonEntry(ctx context.Context, entryID int64, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodDelete, fmt.Sprintf("/v1/entries/%d", entryID), nil, &out, idem)
	return out, err
}

func (c *Client) TradeShares(ctx context.Context, corporationID int64, side string, quantity int64, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/corporations/%d/shares/trade", corporationID), map[string]any{
		"side":     side,
		"quantity": quantity,
	}, &out, idem)
	return out, err
}

func (c *Client) InvalidateMarket(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/market/invalidate", nil, &out, "")
	return out, err
}

func (c *Client) RunAudit(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/audit/run", nil, &out, "")
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AdminToken != "" {
		req.Header.Set("X-Admin-Token", c.AdminToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
