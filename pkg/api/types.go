package api

import (
	"github.com/uhyunpark/tickex/pkg/app/core/ledger"
	"github.com/uhyunpark/tickex/pkg/app/core/market"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// SubscriberRequest names the subscriber a command is issued for
type SubscriberRequest struct {
	Subscriber uint64 `json:"subscriber"`
}

// SubmitOrderRequest is the payload for POST /api/v1/backtests/{id}/orders.
// Shares and price travel as strings so they stay exact.
type SubmitOrderRequest struct {
	Subscriber uint64 `json:"subscriber"`
	Type       string `json:"type"` // "MarketBuy", "LimitSell", "StopBuy", ...
	Symbol     string `json:"symbol"`
	Shares     string `json:"shares"`
	Price      string `json:"price,omitempty"` // limit price or stop trigger
}

// PlayRequest is the payload for POST /api/v1/backtests/{id}/play
type PlayRequest struct {
	Subscriber uint64 `json:"subscriber"`
	IntervalMs int64  `json:"intervalMs"` // 0 means the default pace
	Stop       bool   `json:"stop"`
}

// ==============================
// REST Response Types
// ==============================

type CreateBacktestResponse struct {
	BacktestID string `json:"backtestId"`
}

type SubmitOrderResponse struct {
	OrderID uint64 `json:"orderId"`
}

type TradesResponse struct {
	From   uint64         `json:"from"`
	Next   uint64         `json:"next"` // pass as from to continue
	Trades []ledger.Trade `json:"trades"`
}

type QuotesResponse struct {
	Quotes []market.Quote `json:"quotes"`
}

type StateHashResponse struct {
	Tick      uint64 `json:"tick"`
	StateHash string `json:"stateHash"`
}

type PlayResponse struct {
	Playing bool `json:"playing"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades:<backtestId>", "quotes:<backtestId>"]
}

// TradeUpdate is broadcast on trades:<backtestId> for every tick that produced trades
type TradeUpdate struct {
	Type       string         `json:"type"` // "trades"
	BacktestID string         `json:"backtestId"`
	Tick       uint64         `json:"tick"`
	Trades     []ledger.Trade `json:"trades"`
}

// QuoteUpdate is broadcast on quotes:<backtestId> for every applied tick
type QuoteUpdate struct {
	Type       string         `json:"type"` // "quotes"
	BacktestID string         `json:"backtestId"`
	Tick       uint64         `json:"tick"`
	HasNext    bool           `json:"hasNext"`
	Quotes     []market.Quote `json:"quotes"`
}

// ClosedUpdate is broadcast on both channels when a backtest closes
type ClosedUpdate struct {
	Type       string `json:"type"` // "closed"
	BacktestID string `json:"backtestId"`
	Tick       uint64 `json:"tick"`
}
