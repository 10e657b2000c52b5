package hyperliquid

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/zono819/hyperliquid-dryrun/internal/adapter/gateway"
	"github.com/zono819/hyperliquid-dryrun/internal/domain/entity"
)

// Ensure Client can back the dry-run engine's market data
var _ gateway.MarketDataSource = (*Client)(nil)

const (
	mainnetURL = "https://api.hyperliquid.xyz"
	testnetURL = "https://api.hyperliquid-testnet.xyz"
)

// ClientConfig holds configuration for the Hyperliquid API client
type ClientConfig struct {
	BaseURL    string
	Testnet    bool
	Timeout    time.Duration
	RetryCount int
}

// Client is a read-only Hyperliquid info API client
type Client struct {
	config ClientConfig
	http   *resty.Client
}

// NewClient creates a new Hyperliquid API client
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		if config.Testnet {
			config.BaseURL = testnetURL
		} else {
			config.BaseURL = mainnetURL
		}
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	hc := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(config.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})

	return &Client{config: config, http: hc}
}

// BaseURL returns the resolved API endpoint
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// InfoRequest represents an info API request
type InfoRequest struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
}

// info posts to /info and decodes the response into out
func (c *Client) info(ctx context.Context, req InfoRequest, out interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/info")
	if err != nil {
		return errors.Wrapf(err, "info %s", req.Type)
	}
	if resp.IsError() {
		return errors.Errorf("info %s: status=%d, body=%s", req.Type, resp.StatusCode(), resp.String())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(err, "unmarshal %s response", req.Type)
	}
	return nil
}

// GetAllMids retrieves mid prices for all assets
func (c *Client) GetAllMids(ctx context.Context) (map[string]decimal.Decimal, error) {
	var raw map[string]string
	if err := c.info(ctx, InfoRequest{Type: "allMids"}, &raw); err != nil {
		return nil, err
	}
	return parseMids(raw), nil
}

// GetTicker builds a ticker from the top of the L2 book
func (c *Client) GetTicker(ctx context.Context, symbol string) (*entity.Ticker, error) {
	ob, err := c.GetOrderBook(ctx, symbol, 1)
	if err != nil {
		return nil, err
	}
	bid, _ := ob.BestBid()
	ask, _ := ob.BestAsk()
	if bid.IsZero() || ask.IsZero() {
		return nil, errors.Errorf("empty book for %s", symbol)
	}

	t := &entity.Ticker{
		Symbol:    symbol,
		BidPrice:  bid,
		AskPrice:  ask,
		Timestamp: ob.Timestamp,
	}
	t.LastPrice = t.MidPrice()
	return t, nil
}

// GetOrderBook retrieves the L2 book truncated to depth levels per side
func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (*entity.OrderBook, error) {
	var raw l2Book
	if err := c.info(ctx, InfoRequest{Type: "l2Book", Coin: symbol}, &raw); err != nil {
		return nil, err
	}
	ob, err := raw.toEntity(depth)
	if err != nil {
		return nil, errors.Wrapf(err, "l2Book %s", symbol)
	}
	if ob.Symbol == "" {
		ob.Symbol = symbol
	}
	return ob, nil
}

type l2Level struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type l2Book struct {
	Coin   string      `json:"coin"`
	Levels [][]l2Level `json:"levels"`
	Time   int64       `json:"time"`
}

func (b l2Book) toEntity(depth int) (*entity.OrderBook, error) {
	ob := &entity.OrderBook{
		Symbol:    b.Coin,
		Timestamp: time.UnixMilli(b.Time),
		Bids:      make([]entity.OrderBookLevel, 0),
		Asks:      make([]entity.OrderBookLevel, 0),
	}
	if len(b.Levels) < 2 {
		return ob, nil
	}

	var err error
	if ob.Bids, err = parseLevels(b.Levels[0], depth); err != nil {
		return nil, err
	}
	if ob.Asks, err = parseLevels(b.Levels[1], depth); err != nil {
		return nil, err
	}
	return ob, nil
}

func parseLevels(levels []l2Level, depth int) ([]entity.OrderBookLevel, error) {
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	out := make([]entity.OrderBookLevel, 0, len(levels))
	for _, lvl := range levels {
		px, err := decimal.NewFromString(lvl.Px)
		if err != nil {
			return nil, errors.Wrapf(err, "parse px %q", lvl.Px)
		}
		sz, err := decimal.NewFromString(lvl.Sz)
		if err != nil {
			return nil, errors.Wrapf(err, "parse sz %q", lvl.Sz)
		}
		out = append(out, entity.OrderBookLevel{Price: px, Size: sz})
	}
	return out, nil
}

// parseMids drops entries whose price does not parse
func parseMids(raw map[string]string) map[string]decimal.Decimal {
	mids := make(map[string]decimal.Decimal, len(raw))
	for coin, s := range raw {
		px, err := decimal.NewFromString(s)
		if err != nil {
			continue
		}
		mids[coin] = px
	}
	return mids
}
