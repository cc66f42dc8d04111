package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/propdesk/internal/book"
	"github.com/alanyoungcy/propdesk/internal/crypto"
	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/money"
)

// Client is the REST client for the market data vendor. It fetches latest
// prices and order books; all monetary fields arrive as decimal strings and
// are parsed through the money guards.
type Client struct {
	baseURL    string
	httpClient *http.Client
	hmacAuth   *crypto.HMACAuth
}

// NewClient creates a vendor REST client. hmac may be nil for unauthenticated
// endpoints (e.g. local stubs in development).
func NewClient(baseURL string, hmac *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		hmacAuth: hmac,
	}
}

// apiPrice is the vendor wire format for a single price.
type apiPrice struct {
	MarketID string `json:"market_id"`
	Price    string `json:"price"`
	Stale    bool   `json:"stale"`
	Ts       int64  `json:"ts"` // unix milliseconds
}

// apiBook is the vendor wire format for an order book.
type apiBook struct {
	MarketID string       `json:"market_id"`
	Bids     [][2]string  `json:"bids"` // [price, size] decimal strings
	Asks     [][2]string  `json:"asks"`
	Ts       int64        `json:"ts"`
}

// GetLatestPrice fetches the latest price for a single market.
func (c *Client) GetLatestPrice(ctx context.Context, marketID string) (domain.PricePoint, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/prices/"+marketID, nil)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("marketdata: latest price %s: %w", marketID, err)
	}

	var raw apiPrice
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.PricePoint{}, fmt.Errorf("marketdata: decode price %s: %w", marketID, err)
	}
	return raw.toDomain()
}

// GetBatchOrderBookPrices fetches order books for all given markets in a
// single round trip and derives a mid price per market from the scanned best
// levels. Markets whose books are unusable are absent from the result.
func (c *Client) GetBatchOrderBookPrices(ctx context.Context, marketIDs []string) (map[string]domain.PricePoint, []domain.OrderBook, error) {
	if len(marketIDs) == 0 {
		return map[string]domain.PricePoint{}, nil, nil
	}

	payload := map[string]any{"market_ids": marketIDs}
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/books/batch", payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marketdata: batch books: %w", err)
	}

	var raw struct {
		Books []apiBook `json:"books"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, fmt.Errorf("marketdata: decode batch books: %w", err)
	}

	prices := make(map[string]domain.PricePoint, len(raw.Books))
	books := make([]domain.OrderBook, 0, len(raw.Books))
	for _, rb := range raw.Books {
		ob, err := rb.toDomain()
		if err != nil {
			// One corrupt book must not sink the whole batch.
			continue
		}
		books = append(books, ob)
		if mid, ok := midPrice(ob); ok {
			prices[ob.MarketID] = domain.PricePoint{
				MarketID: ob.MarketID,
				Price:    mid,
				Time:     ob.Timestamp,
			}
		}
	}
	return prices, books, nil
}

// Health probes the vendor health endpoint. Used by the outage watcher.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/v1/health", nil)
	if err != nil {
		return fmt.Errorf("marketdata: health: %w", err)
	}
	return nil
}

func (p apiPrice) toDomain() (domain.PricePoint, error) {
	price, err := money.Parse(p.Price)
	if err != nil {
		return domain.PricePoint{}, err
	}
	return domain.PricePoint{
		MarketID: p.MarketID,
		Price:    price,
		Stale:    p.Stale,
		Time:     time.UnixMilli(p.Ts),
	}, nil
}

func (b apiBook) toDomain() (domain.OrderBook, error) {
	ob := domain.OrderBook{
		MarketID:  b.MarketID,
		Timestamp: time.UnixMilli(b.Ts),
	}
	var err error
	if ob.Bids, err = parseLevels(b.Bids); err != nil {
		return domain.OrderBook{}, fmt.Errorf("marketdata: book %s bids: %w", b.MarketID, err)
	}
	if ob.Asks, err = parseLevels(b.Asks); err != nil {
		return domain.OrderBook{}, fmt.Errorf("marketdata: book %s asks: %w", b.MarketID, err)
	}
	return ob, nil
}

func parseLevels(raw [][2]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := money.Parse(pair[0])
		if err != nil {
			return nil, err
		}
		size, err := money.Parse(pair[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, domain.PriceLevel{Price: price, Size: size})
	}
	return levels, nil
}

// midPrice derives a mid from scanned best levels; false when either side is
// empty. No one-sided or empty book ever produces a fabricated 0.5.
func midPrice(ob domain.OrderBook) (float64, bool) {
	bestBid, okB := book.BestBid(ob)
	bestAsk, okA := book.BestAsk(ob)
	if !okB || !okA {
		return 0, false
	}
	return (bestBid + bestAsk) / 2, true
}

// doRequest performs an HTTP request with HMAC headers and returns the raw
// response body. Non-2xx statuses are surfaced with a body excerpt.
func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyStr string
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		bodyStr = string(data)
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.hmacAuth != nil {
		for k, v := range c.hmacAuth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := respBody
		if len(excerpt) > 512 {
			excerpt = excerpt[:512]
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(excerpt))
	}
	return respBody, nil
}
