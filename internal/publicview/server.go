// Package publicview serves the delayed, redacted read model over HTTP.
//
// It exposes exactly two endpoints:
//
//	GET /public/trades — fills older than the configured delay, redacted
//	GET /health        — latest per-component health rows
//
// Nothing here can mutate trading state, and nothing it returns contains
// order identifiers, intent keys, or credentials.
package publicview

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"kalshi-weather-trader/internal/repo"
	"kalshi-weather-trader/pkg/types"
)

const maxTradesPerPage = 500

// Server hosts the public read model.
type Server struct {
	store  *repo.Store
	delay  time.Duration
	http   *http.Server
	logger *slog.Logger
	now    func() time.Time
}

func NewServer(store *repo.Store, listenAddr string, delay time.Duration, logger *slog.Logger) *Server {
	s := &Server{
		store:  store,
		delay:  delay,
		logger: logger.With("component", "publicview"),
		now:    time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /public/trades", s.handleTrades)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.http = &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("public view listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type tradeJSON struct {
	Ticker     string `json:"ticker"`
	CityCode   string `json:"city_code"`
	Side       string `json:"side"`
	Quantity   int    `json:"quantity"`
	PriceCents int    `json:"price_cents"`
	FilledAt   string `json:"filled_at"`
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxTradesPerPage {
		limit = maxTradesPerPage
	}

	trades, err := s.store.PublicTrades(s.now(), s.delay, limit)
	if err != nil {
		s.logger.Error("public trades query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]tradeJSON, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeJSON{
			Ticker:     t.Ticker,
			CityCode:   t.CityCode,
			Side:       string(t.Side),
			Quantity:   t.Quantity,
			PriceCents: t.PriceCents,
			FilledAt:   t.FilledAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

type healthJSON struct {
	Component string `json:"component"`
	State     string `json:"state"`
	LastOK    string `json:"last_ok"`
	Message   string `json:"message,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.HealthStatuses()
	if err != nil {
		s.logger.Error("health query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	overall := types.HealthOK
	out := make([]healthJSON, 0, len(statuses))
	for _, h := range statuses {
		if h.State == types.HealthDown {
			overall = types.HealthDown
		} else if h.State == types.HealthDegraded && overall == types.HealthOK {
			overall = types.HealthDegraded
		}
		out = append(out, healthJSON{
			Component: h.Component,
			State:     string(h.State),
			LastOK:    h.LastOK.UTC().Format(time.RFC3339),
			Message:   h.Message,
		})
	}

	code := http.StatusOK
	if overall == types.HealthDown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": string(overall), "components": out})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
