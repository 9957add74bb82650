package exchange

// Wire types for the exchange trade API. These map 1:1 to the JSON the REST
// endpoints return; translation into pkg/types records happens in the
// market provider and OMS, never here.

// WireMarket is one market row from GET /markets.
type WireMarket struct {
	Ticker       string  `json:"ticker"`
	EventTicker  string  `json:"event_ticker"`
	Status       string  `json:"status"`
	FloorStrike  float64 `json:"floor_strike"`
	CapStrike    float64 `json:"cap_strike"`
	Subtitle     string  `json:"subtitle"`
	YesBid       int     `json:"yes_bid"`
	YesAsk       int     `json:"yes_ask"`
	NoBid        int     `json:"no_bid"`
	NoAsk        int     `json:"no_ask"`
	Volume       int64   `json:"volume"`
	OpenInterest int64   `json:"open_interest"`
	CloseTime    string  `json:"close_time"` // RFC 3339
}

type marketsResponse struct {
	Markets []WireMarket `json:"markets"`
	Cursor  string       `json:"cursor"`
}

// WireOrderbook is GET /markets/{ticker}/orderbook. Levels are
// [price_cents, quantity] pairs, best last.
type WireOrderbook struct {
	Orderbook struct {
		Yes [][2]int `json:"yes"`
		No  [][2]int `json:"no"`
	} `json:"orderbook"`
}

// OrderRequest is the body for POST /portfolio/orders. Only limit orders
// are ever submitted; exactly one of YesPrice/NoPrice is set.
type OrderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`   // "yes" | "no"
	Action        string `json:"action"` // always "buy"
	Count         int    `json:"count"`
	Type          string `json:"type"` // always "limit"
	YesPrice      int    `json:"yes_price,omitempty"`
	NoPrice       int    `json:"no_price,omitempty"`
}

// WireOrder is an order as the exchange reports it.
type WireOrder struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Side           string `json:"side"`
	Action         string `json:"action"`
	Status         string `json:"status"` // "resting", "executed", "canceled", "pending"
	YesPrice       int    `json:"yes_price"`
	NoPrice        int    `json:"no_price"`
	Count          int    `json:"count"`
	RemainingCount int    `json:"remaining_count"`
	CreatedTime    string `json:"created_time"`
}

type orderResponse struct {
	Order WireOrder `json:"order"`
}

type ordersResponse struct {
	Orders []WireOrder `json:"orders"`
	Cursor string      `json:"cursor"`
}

// WireFill is one fill from GET /portfolio/fills.
type WireFill struct {
	TradeID     string `json:"trade_id"`
	OrderID     string `json:"order_id"`
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`
	Count       int    `json:"count"`
	YesPrice    int    `json:"yes_price"`
	NoPrice     int    `json:"no_price"`
	IsTaker     bool   `json:"is_taker"`
	CreatedTime string `json:"created_time"`
}

type fillsResponse struct {
	Fills  []WireFill `json:"fills"`
	Cursor string     `json:"cursor"`
}

// WirePosition is one market position from GET /portfolio/positions.
type WirePosition struct {
	Ticker           string `json:"ticker"`
	Position         int    `json:"position"` // signed: + YES contracts, - NO
	MarketExposure   int    `json:"market_exposure"`
	RealizedPnl      int    `json:"realized_pnl"`
	TotalTradedCents int    `json:"total_traded"`
}

type positionsResponse struct {
	MarketPositions []WirePosition `json:"market_positions"`
	Cursor          string         `json:"cursor"`
}

// WireBalance is GET /portfolio/balance.
type WireBalance struct {
	BalanceCents int64 `json:"balance"`
}
