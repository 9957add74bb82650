// Package weather fetches forecasts and observations from the national
// weather service API and serves them through a TTL cache with staleness
// tracking.
//
// The client keeps the service's published etiquette: a descriptive
// User-Agent, at most one request per second (token bucket with FIFO
// waiting), and one retry layer only — resty retries transient 5xx,
// nothing above it retries again.
package weather

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"kalshi-weather-trader/pkg/types"
)

// forecastResponse is the gridpoint forecast payload, reduced to the fields
// the strategy consumes.
type forecastResponse struct {
	Properties struct {
		UpdateTime string `json:"updateTime"`
		Periods    []struct {
			Name        string `json:"name"`
			StartTime   string `json:"startTime"`
			IsDaytime   bool   `json:"isDaytime"`
			Temperature float64 `json:"temperature"`
		} `json:"periods"`
	} `json:"properties"`
}

// observationResponse is the latest-observation payload. Temperature is
// reported in Celsius.
type observationResponse struct {
	Properties struct {
		Timestamp   string `json:"timestamp"`
		Temperature struct {
			Value *float64 `json:"value"`
		} `json:"temperature"`
	} `json:"properties"`
}

// Forecast is the parsed daily-high forecast for one gridpoint.
type Forecast struct {
	HighF     float64
	UpdatedAt time.Time
}

// Observation is the parsed latest station observation.
type Observation struct {
	TempF     float64
	Timestamp time.Time
}

// Client talks to the weather API.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient creates a weather API client. ratePerSec should stay at the
// service's recommended 1 req/s.
func NewClient(baseURL, userAgent string, ratePerSec float64, timeout time.Duration, logger *slog.Logger) *Client {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if userAgent == "" {
		userAgent = "kalshi-weather-trader/1.0"
	}

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
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/geo+json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "weather",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("weather breaker state change", "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		breaker: breaker,
		logger:  logger.With("component", "weather"),
	}
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return types.E(types.KindTransientNetwork, err)
	}

	_, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.http.R().SetContext(ctx).SetResult(result).Get(path)
		if err != nil {
			return nil, types.E(types.KindTransientNetwork, fmt.Errorf("GET %s: %w", path, err))
		}
		if resp.StatusCode() != http.StatusOK {
			kind := types.KindPermanentAPI
			if resp.StatusCode() >= 500 {
				kind = types.KindTransientNetwork
			}
			return nil, types.Ef(kind, "GET %s: status %d", path, resp.StatusCode())
		}
		return nil, nil
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return types.E(types.KindTransientNetwork, err)
	}
	return err
}

// GetForecast fetches the gridpoint forecast and extracts the next daytime
// period's high temperature.
func (c *Client) GetForecast(ctx context.Context, grid types.ForecastGrid) (*Forecast, error) {
	path := fmt.Sprintf("/gridpoints/%s/%d,%d/forecast", grid.Office, grid.X, grid.Y)

	var resp forecastResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	updated, _ := time.Parse(time.RFC3339, resp.Properties.UpdateTime)

	// The daily high lives in the first daytime period. Overnight fetches
	// see "Tonight" first, so scan the first two periods.
	for i, p := range resp.Properties.Periods {
		if i > 1 {
			break
		}
		if p.IsDaytime {
			return &Forecast{HighF: p.Temperature, UpdatedAt: updated}, nil
		}
	}
	return nil, types.Ef(types.KindDataValidation, "forecast for %s/%d,%d has no daytime period", grid.Office, grid.X, grid.Y)
}

// GetLatestObservation fetches the most recent observation for a station
// and converts it to Fahrenheit.
func (c *Client) GetLatestObservation(ctx context.Context, station string) (*Observation, error) {
	path := fmt.Sprintf("/stations/%s/observations/latest", station)

	var resp observationResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	if resp.Properties.Temperature.Value == nil {
		return nil, types.Ef(types.KindDataValidation, "observation for %s has no temperature", station)
	}

	ts, err := time.Parse(time.RFC3339, resp.Properties.Timestamp)
	if err != nil {
		return nil, types.E(types.KindDataValidation, fmt.Errorf("observation timestamp: %w", err))
	}

	tempF := *resp.Properties.Temperature.Value*9/5 + 32
	return &Observation{TempF: tempF, Timestamp: ts}, nil
}
