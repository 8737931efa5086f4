package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/domwhitecode/polymarket-copy-trading-bot/cache"
	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
	"github.com/domwhitecode/polymarket-copy-trading-bot/utils"
)

const defaultDataAPIBase = "https://data-api.polymarket.com"

// DataClient talks to the public Polymarket Data API. Responses for hot
// endpoints are cached briefly so repeated engine passes do not hammer the
// API, and all requests share one rate limiter.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	positionsCache *cache.Cache[[]models.Position]
	positionsTTL   time.Duration
}

// NewDataClient creates a Data API client. positionsTTL controls how long a
// user's positions snapshot is served from cache.
func NewDataClient(baseURL string, positionsTTL time.Duration) *DataClient {
	if baseURL == "" {
		baseURL = defaultDataAPIBase
	}
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter:        rate.NewLimiter(rate.Limit(10), 20),
		positionsCache: cache.New[[]models.Position](),
		positionsTTL:   positionsTTL,
	}
}

// GetPositions fetches all open positions for a wallet, served from cache
// when fresh.
func (c *DataClient) GetPositions(ctx context.Context, user string) ([]models.Position, error) {
	user = utils.NormalizeAddress(user)
	return c.positionsCache.GetOrFetch("positions:"+user, c.positionsTTL, func() ([]models.Position, error) {
		return c.fetchPositions(ctx, user)
	})
}

// InvalidatePositions drops the cached snapshot for a wallet. Called after a
// sell or redemption so the next read reflects the new holdings.
func (c *DataClient) InvalidatePositions(user string) {
	c.positionsCache.Invalidate("positions:" + utils.NormalizeAddress(user))
}

func (c *DataClient) fetchPositions(ctx context.Context, user string) ([]models.Position, error) {
	values := url.Values{}
	values.Set("user", user)
	values.Set("sizeThreshold", "0")
	values.Set("limit", "500")

	var positions []models.Position
	if err := c.get(ctx, "/positions?"+values.Encode(), &positions); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	return positions, nil
}

// activityEntry is the Data API /activity wire format.
type activityEntry struct {
	TransactionHash string  `json:"transactionHash"`
	ProxyWallet     string  `json:"proxyWallet"`
	Asset           string  `json:"asset"`
	Side            string  `json:"side"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	UsdcSize        float64 `json:"usdcSize"`
	Timestamp       int64   `json:"timestamp"`
	Title           string  `json:"title"`
	Outcome         string  `json:"outcome"`
	Slug            string  `json:"slug"`
	Type            string  `json:"type"`
}

// GetActivity fetches the most recent trade activity for a wallet, newest
// first.
func (c *DataClient) GetActivity(ctx context.Context, user string, limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	values := url.Values{}
	values.Set("user", utils.NormalizeAddress(user))
	values.Set("type", "TRADE")
	values.Set("limit", strconv.Itoa(limit))

	var entries []activityEntry
	if err := c.get(ctx, "/activity?"+values.Encode(), &entries); err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}

	trades := make([]models.Trade, 0, len(entries))
	for _, e := range entries {
		trades = append(trades, models.Trade{
			TransactionHash: e.TransactionHash,
			Wallet:          utils.NormalizeAddress(e.ProxyWallet),
			Asset:           e.Asset,
			Side:            e.Side,
			Size:            e.Size,
			Price:           e.Price,
			UsdcSize:        e.UsdcSize,
			Timestamp:       e.Timestamp,
			Title:           e.Title,
			Outcome:         e.Outcome,
			Slug:            e.Slug,
		})
	}
	return trades, nil
}

func (c *DataClient) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("data API error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
