// Package exchange implements the event-exchange trade API client.
//
// The REST client (Client) covers the semantic surface the trading core
// consumes:
//   - ListMarkets:    GET  /markets                      — contracts in a series
//   - GetOrderbook:   GET  /markets/{ticker}/orderbook   — L2 quotes
//   - PlaceOrder:     POST /portfolio/orders             — limit orders only
//   - CancelOrder:    DELETE /portfolio/orders/{id}
//   - ListOpenOrders: GET  /portfolio/orders?status=resting
//   - ListPositions:  GET  /portfolio/positions
//   - ListFills:      GET  /portfolio/fills?min_ts=...
//   - GetBalance:     GET  /portfolio/balance
//
// Every request is rate-limited through per-category TokenBuckets, guarded
// by a circuit breaker, retried on 5xx only (never 4xx), and signed with
// RSA-PSS auth headers.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"kalshi-weather-trader/pkg/types"
)

const apiPrefix = "/trade-api/v2"

// Client is the exchange REST API client. It wraps a resty HTTP client with
// rate limiting, retry, circuit breaking, and request signing.
type Client struct {
	http     *resty.Client
	auth     *Auth // nil in read-only (shadow) operation
	rl       *RateLimiter
	breaker  *gobreaker.CircuitBreaker
	readOnly bool // when true, mutating methods return synthetic acks without HTTP calls
	logger   *slog.Logger
}

// NewClient creates a REST client against the given base URL. A nil auth is
// allowed only together with readOnly; any authenticated call then fails.
func NewClient(baseURL string, auth *Auth, ratePerSec float64, timeout time.Duration, readOnly bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(4 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exchange",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("exchange breaker state change", "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		http:     httpClient,
		auth:     auth,
		rl:       NewRateLimiter(ratePerSec),
		breaker:  breaker,
		readOnly: readOnly,
		logger:   logger.With("component", "exchange"),
	}
}

// do runs one signed request through the breaker and classifies failures.
// path is the endpoint path without the API prefix or query string.
func (c *Client) do(ctx context.Context, bucket *TokenBucket, method, path string, configure func(*resty.Request) *resty.Request) error {
	// Limiter waits end on context expiry; that is backpressure, not a
	// process-fatal condition, so it gets the transient kind.
	if err := bucket.Wait(ctx); err != nil {
		return types.E(types.KindTransientNetwork, err)
	}

	_, err := c.breaker.Execute(func() (any, error) {
		req := c.http.R().SetContext(ctx)
		if configure != nil {
			req = configure(req)
		}

		if c.auth != nil {
			headers, err := c.auth.Headers(method, apiPrefix+path)
			if err != nil {
				return nil, err
			}
			req.SetHeaders(headers)
		}

		resp, err := req.Execute(method, apiPrefix+path)
		if err != nil {
			return nil, types.E(types.KindTransientNetwork, fmt.Errorf("%s %s: %w", method, path, err))
		}

		switch {
		case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
			return nil, types.Ef(types.KindAuth, "%s %s: status %d: %s", method, path, resp.StatusCode(), resp.String())
		case resp.StatusCode() >= 500:
			return nil, types.Ef(types.KindTransientNetwork, "%s %s: status %d", method, path, resp.StatusCode())
		case resp.StatusCode() >= 400:
			return nil, types.Ef(types.KindPermanentAPI, "%s %s: status %d: %s", method, path, resp.StatusCode(), resp.String())
		}
		return nil, nil
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return types.E(types.KindTransientNetwork, err)
	}
	return err
}

// ListMarkets returns all markets in a series with the given status,
// following pagination cursors.
func (c *Client) ListMarkets(ctx context.Context, seriesTicker, status string) ([]WireMarket, error) {
	var all []WireMarket
	cursor := ""
	for {
		var result marketsResponse
		err := c.do(ctx, c.rl.Read, http.MethodGet, "/markets", func(r *resty.Request) *resty.Request {
			r = r.SetQueryParam("series_ticker", seriesTicker).
				SetQueryParam("status", status).
				SetQueryParam("limit", "200").
				SetResult(&result)
			if cursor != "" {
				r = r.SetQueryParam("cursor", cursor)
			}
			return r
		})
		if err != nil {
			return nil, err
		}
		all = append(all, result.Markets...)
		if result.Cursor == "" {
			break
		}
		cursor = result.Cursor
	}
	return all, nil
}

// GetOrderbook fetches the L2 orderbook for a single market.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (*WireOrderbook, error) {
	var result WireOrderbook
	err := c.do(ctx, c.rl.Read, http.MethodGet, "/markets/"+ticker+"/orderbook", func(r *resty.Request) *resty.Request {
		return r.SetResult(&result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// PlaceOrder submits a limit order. In read-only operation it returns a
// synthetic resting ack so the caller's bookkeeping path stays identical.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*WireOrder, error) {
	if c.readOnly {
		c.logger.Info("read-only: would place order",
			"ticker", req.Ticker, "side", req.Side, "count", req.Count)
		return &WireOrder{
			OrderID:        "sim-" + uuid.NewString(),
			ClientOrderID:  req.ClientOrderID,
			Ticker:         req.Ticker,
			Side:           req.Side,
			Action:         req.Action,
			Status:         "resting",
			Count:          req.Count,
			RemainingCount: req.Count,
			YesPrice:       req.YesPrice,
			NoPrice:        req.NoPrice,
		}, nil
	}

	var result orderResponse
	err := c.do(ctx, c.rl.Trade, http.MethodPost, "/portfolio/orders", func(r *resty.Request) *resty.Request {
		return r.SetBody(req).SetResult(&result)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("order placed",
		"ticker", req.Ticker,
		"side", req.Side,
		"count", req.Count,
		"order_id", result.Order.OrderID,
	)
	return &result.Order, nil
}

// CancelOrder cancels a resting order by its exchange id.
func (c *Client) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	if c.readOnly {
		c.logger.Info("read-only: would cancel order", "order_id", exchangeOrderID)
		return nil
	}
	return c.do(ctx, c.rl.Trade, http.MethodDelete, "/portfolio/orders/"+exchangeOrderID, nil)
}

// ListOpenOrders returns all resting orders.
func (c *Client) ListOpenOrders(ctx context.Context) ([]WireOrder, error) {
	var result ordersResponse
	err := c.do(ctx, c.rl.Read, http.MethodGet, "/portfolio/orders", func(r *resty.Request) *resty.Request {
		return r.SetQueryParam("status", "resting").SetResult(&result)
	})
	if err != nil {
		return nil, err
	}
	return result.Orders, nil
}

// ListPositions returns all market positions.
func (c *Client) ListPositions(ctx context.Context) ([]WirePosition, error) {
	var result positionsResponse
	err := c.do(ctx, c.rl.Read, http.MethodGet, "/portfolio/positions", func(r *resty.Request) *resty.Request {
		return r.SetResult(&result)
	})
	if err != nil {
		return nil, err
	}
	return result.MarketPositions, nil
}

// ListFills returns fills at or after since, following pagination cursors.
func (c *Client) ListFills(ctx context.Context, since time.Time) ([]WireFill, error) {
	var all []WireFill
	cursor := ""
	for {
		var result fillsResponse
		err := c.do(ctx, c.rl.Read, http.MethodGet, "/portfolio/fills", func(r *resty.Request) *resty.Request {
			r = r.SetQueryParam("min_ts", strconv.FormatInt(since.Unix(), 10)).
				SetQueryParam("limit", "200").
				SetResult(&result)
			if cursor != "" {
				r = r.SetQueryParam("cursor", cursor)
			}
			return r
		})
		if err != nil {
			return nil, err
		}
		all = append(all, result.Fills...)
		if result.Cursor == "" {
			break
		}
		cursor = result.Cursor
	}
	return all, nil
}

// GetBalance returns the account balance in dollars.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var result WireBalance
	err := c.do(ctx, c.rl.Read, http.MethodGet, "/portfolio/balance", func(r *resty.Request) *resty.Request {
		return r.SetResult(&result)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(result.BalanceCents).Div(decimal.NewFromInt(100)), nil
}
