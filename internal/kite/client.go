// Package kite implements the broker HTTP API client: batched quotes, the
// instrument catalog dump, and order placement.
package kite

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/vtqube/tbqwatch/internal/config"
	"github.com/vtqube/tbqwatch/internal/models"
)

// Client is a broker API client. All requests carry the
// "token api_key:access_token" authorization header.
type Client struct {
	http        *resty.Client
	apiKey      string
	accessToken string
}

// NewClient creates a broker client from configuration.
func NewClient(cfg config.KiteConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.APIURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryDelayBase).
		SetHeader("X-Kite-Version", "3")

	return &Client{
		http:        httpClient,
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
	}
}

// SetAccessToken replaces the session token, e.g. after a fresh login.
func (c *Client) SetAccessToken(token string) {
	c.accessToken = token
}

// CurrentToken returns the session token, empty when no session exists.
func (c *Client) CurrentToken() string {
	return c.accessToken
}

func (c *Client) authHeader() string {
	return fmt.Sprintf("token %s:%s", c.apiKey, c.accessToken)
}

type quoteOHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type quoteData struct {
	InstrumentToken int64     `json:"instrument_token"`
	LastPrice       float64   `json:"last_price"`
	BuyQuantity     int64     `json:"buy_quantity"`
	SellQuantity    int64     `json:"sell_quantity"`
	OHLC            quoteOHLC `json:"ohlc"`
}

type quoteResponse struct {
	Status    string               `json:"status"`
	Message   string               `json:"message"`
	ErrorType string               `json:"error_type"`
	Data      map[string]quoteData `json:"data"`
}

// QuoteBatch fetches live quotes for up to one batch of instruments in a
// single request. The result is keyed by "EXCHANGE:SYMBOL". Authentication
// rejections report models.ErrAuth.
func (c *Client) QuoteBatch(ctx context.Context, refs []models.InstrumentRef) (map[string]models.QuoteSnapshot, error) {
	if len(refs) == 0 {
		return map[string]models.QuoteSnapshot{}, nil
	}

	params := url.Values{}
	for _, ref := range refs {
		params.Add("i", ref.QuoteKey())
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", c.authHeader()).
		SetQueryParamsFromValues(params).
		Get("/quote")
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}

	var parsed quoteResponse
	if err := sonic.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode quote response: %w", err)
	}

	if parsed.Status != "success" {
		if isAuthFailure(resp.StatusCode(), parsed.ErrorType) {
			return nil, fmt.Errorf("quote request rejected (%s): %w", parsed.Message, models.ErrAuth)
		}
		return nil, fmt.Errorf("quote request failed: %s (%s)", parsed.Message, parsed.ErrorType)
	}

	quotes := make(map[string]models.QuoteSnapshot, len(parsed.Data))
	for key, d := range parsed.Data {
		quotes[key] = models.QuoteSnapshot{
			Token:     d.InstrumentToken,
			LastPrice: d.LastPrice,
			BuyQty:    d.BuyQuantity,
			SellQty:   d.SellQuantity,
			Open:      d.OHLC.Open,
			High:      d.OHLC.High,
			Low:       d.OHLC.Low,
			Close:     d.OHLC.Close,
		}
	}
	return quotes, nil
}

func isAuthFailure(statusCode int, errorType string) bool {
	if statusCode == http.StatusForbidden || statusCode == http.StatusUnauthorized {
		return true
	}
	return errorType == "TokenException"
}

// OrderParams describe one order placement request.
type OrderParams struct {
	Symbol          string
	Exchange        string
	TransactionType string // "BUY" or "SELL"
	Quantity        int64
	Price           float64
	OrderType       string // "MARKET", "LIMIT"
	Product         string // "MIS", "CNC", "NRML"
}

type orderResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
	Data      struct {
		OrderID string `json:"order_id"`
	} `json:"data"`
}

// PlaceOrder submits a regular order and returns the broker order id.
func (c *Client) PlaceOrder(ctx context.Context, params OrderParams) (string, error) {
	form := map[string]string{
		"tradingsymbol":    params.Symbol,
		"exchange":         params.Exchange,
		"transaction_type": params.TransactionType,
		"quantity":         strconv.FormatInt(params.Quantity, 10),
		"order_type":       params.OrderType,
		"product":          params.Product,
		"validity":         "DAY",
	}
	if params.OrderType == "LIMIT" {
		form["price"] = strconv.FormatFloat(params.Price, 'f', 2, 64)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", c.authHeader()).
		SetFormData(form).
		Post("/orders/regular")
	if err != nil {
		return "", fmt.Errorf("order request failed: %w", err)
	}

	var parsed orderResponse
	if err := sonic.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", fmt.Errorf("failed to decode order response: %w", err)
	}
	if parsed.Status != "success" {
		if isAuthFailure(resp.StatusCode(), parsed.ErrorType) {
			return "", fmt.Errorf("order rejected (%s): %w", parsed.Message, models.ErrAuth)
		}
		return "", fmt.Errorf("order rejected: %s (%s)", parsed.Message, parsed.ErrorType)
	}
	return parsed.Data.OrderID, nil
}

// FetchInstruments downloads the broker's full instrument dump and returns
// the tradable subset: NSE equities and NFO futures and options.
func (c *Client) FetchInstruments(ctx context.Context) ([]models.InstrumentRef, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", c.authHeader()).
		Get("/instruments")
	if err != nil {
		return nil, fmt.Errorf("instrument dump request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		if isAuthFailure(resp.StatusCode(), "") {
			return nil, fmt.Errorf("instrument dump rejected: %w", models.ErrAuth)
		}
		return nil, fmt.Errorf("instrument dump failed: HTTP %d", resp.StatusCode())
	}

	instruments, err := parseInstrumentsCSV(strings.NewReader(string(resp.Body())))
	if err != nil {
		return nil, fmt.Errorf("failed to parse instrument dump: %w", err)
	}
	return instruments, nil
}
