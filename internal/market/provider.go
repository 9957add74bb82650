// Package market turns exchange wire data into MarketSnapshots the strategy
// can score. It owns the translation of strike fields into a threshold and
// direction, and marks one-sided books as unquoted rather than guessing.
package market

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"kalshi-weather-trader/internal/exchange"
	"kalshi-weather-trader/pkg/types"
)

// Provider fetches and normalizes the daily-high markets for each city.
type Provider struct {
	client *exchange.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewProvider(client *exchange.Client, logger *slog.Logger) *Provider {
	return &Provider{
		client: client,
		logger: logger.With("component", "market"),
		now:    time.Now,
	}
}

// ListActive returns the tradable contracts in a city's series that settle on
// eventDate (local date, YYYY-MM-DD) and have not yet closed. Markets with a
// missing quote side come back with HasQuotes=false and are never traded,
// but they are still persisted for analytics.
func (p *Provider) ListActive(ctx context.Context, city types.CityConfig, eventDate string) ([]types.MarketSnapshot, error) {
	wires, err := p.client.ListMarkets(ctx, city.SeriesTicker, "open")
	if err != nil {
		return nil, err
	}

	var out []types.MarketSnapshot
	for _, w := range wires {
		snap, ok := p.normalize(w, city)
		if !ok {
			continue
		}
		if snap.EventDate != eventDate {
			continue
		}
		if !snap.CloseTime.IsZero() && !snap.CloseTime.After(p.now()) {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Quote refreshes the best bid/ask for a single contract from its orderbook.
// Used by the OMS when deciding whether a resting order needs repricing.
func (p *Provider) Quote(ctx context.Context, snap types.MarketSnapshot) (types.MarketSnapshot, error) {
	book, err := p.client.GetOrderbook(ctx, snap.Ticker)
	if err != nil {
		return snap, err
	}

	// Levels arrive best-last. YES asks are implied by NO bids: a resting
	// NO bid at q is an offer to sell YES at 100-q.
	yesBid, yesOK := bestPrice(book.Orderbook.Yes)
	noBid, noOK := bestPrice(book.Orderbook.No)

	snap.CapturedAt = p.now()
	snap.HasQuotes = yesOK && noOK
	if !snap.HasQuotes {
		snap.YesBid, snap.YesAsk, snap.NoBid, snap.NoAsk = 0, 0, 0, 0
		return snap, nil
	}

	snap.YesBid = yesBid
	snap.NoBid = noBid
	snap.YesAsk = 100 - noBid
	snap.NoAsk = 100 - yesBid
	return snap, nil
}

func bestPrice(levels [][2]int) (int, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	return levels[len(levels)-1][0], true
}

// normalize maps a wire market onto a snapshot. Strike fields decide the
// contract shape: floor-only settles YES above the strike, cap-only below.
// Range contracts (both strikes set) are out of scope and skipped.
func (p *Provider) normalize(w exchange.WireMarket, city types.CityConfig) (types.MarketSnapshot, bool) {
	var (
		threshold float64
		direction types.Direction
	)
	switch {
	case w.FloorStrike > 0 && w.CapStrike > 0:
		return types.MarketSnapshot{}, false
	case w.FloorStrike > 0:
		threshold = w.FloorStrike
		direction = types.DirAbove
	case w.CapStrike > 0:
		threshold = w.CapStrike
		direction = types.DirBelow
	default:
		p.logger.Warn("market has no strike, skipping", "ticker", w.Ticker)
		return types.MarketSnapshot{}, false
	}

	closeTime, err := time.Parse(time.RFC3339, w.CloseTime)
	if err != nil {
		p.logger.Warn("unparseable close time, skipping", "ticker", w.Ticker, "close_time", w.CloseTime)
		return types.MarketSnapshot{}, false
	}

	eventDate, ok := eventDateOf(w.EventTicker, closeTime, city.Timezone)
	if !ok {
		return types.MarketSnapshot{}, false
	}

	snap := types.MarketSnapshot{
		Ticker:       w.Ticker,
		CityCode:     city.Code,
		ThresholdF:   threshold,
		Direction:    direction,
		EventDate:    eventDate,
		Volume:       w.Volume,
		OpenInterest: w.OpenInterest,
		CloseTime:    closeTime,
		CapturedAt:   p.now(),
	}

	// A zero on either side means the book is one-sided this instant.
	if w.YesBid > 0 && w.YesAsk > 0 && w.NoBid > 0 && w.NoAsk > 0 {
		snap.HasQuotes = true
		snap.YesBid, snap.YesAsk = w.YesBid, w.YesAsk
		snap.NoBid, snap.NoAsk = w.NoBid, w.NoAsk
	}
	return snap, true
}

// eventDateOf derives the local settlement date. Event tickers embed the date
// as a -YYMMMDD segment (e.g. KXHIGHNY-25AUG24); fall back to the close time
// rendered in the city's timezone when the segment is absent.
func eventDateOf(eventTicker string, closeTime time.Time, tz string) (string, bool) {
	if i := strings.LastIndexByte(eventTicker, '-'); i >= 0 {
		seg := strings.ToUpper(eventTicker[i+1:])
		if len(seg) == 7 {
			norm := seg[:3] + strings.ToLower(seg[3:5]) + seg[5:]
			if t, err := time.Parse("06Jan02", norm); err == nil {
				return t.Format("2006-01-02"), true
			}
		}
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", false
	}
	return closeTime.In(loc).Format("2006-01-02"), true
}
