// Package exchange drives a backtest: one order book per symbol, a clock over a
// quote source, and the trade ledger. Exchange is the capability set shared by
// the sequential Engine and its concurrent wrappers.
package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickex/pkg/app/core/ledger"
	"github.com/uhyunpark/tickex/pkg/app/core/market"
	"github.com/uhyunpark/tickex/pkg/app/core/orderbook"
)

type Exchange interface {
	// Init fixes the time origin and frequency. It must be called exactly once.
	Init(ctx context.Context) (InitMessage, error)
	// InsertOrder assigns the order an id and hands it to its symbol's book.
	InsertOrder(o orderbook.Order) (uint64, error)
	DeleteOrder(id uint64) error
	// Tick applies the next quote batch. Once the source is exhausted it
	// keeps returning HasNext=false with no trades.
	Tick(ctx context.Context) (TickResult, error)

	FetchQuotes() []market.Quote
	FetchTrades(from uint64) []ledger.Trade

	OrderStatus(id uint64) (OrderState, error)
	Book(symbol string) (BookView, error)
	Resting() []orderbook.Order
	Clock() ClockState
	Symbols() []string
	StateHash() common.Hash

	Close() error
}

// InitMessage tells clients how ticks map to wall time.
type InitMessage struct {
	Start     time.Time `json:"start"`
	Frequency string    `json:"frequency"`
	Symbols   []string  `json:"symbols"`
	Ticks     int       `json:"ticks"`
}

// TickResult is the outcome of one Tick. Advanced is false on the exhausted tail.
type TickResult struct {
	Tick     uint64         `json:"tick"`
	Advanced bool           `json:"advanced"`
	HasNext  bool           `json:"hasNext"`
	Trades   []ledger.Trade `json:"trades"`
	Quotes   []market.Quote `json:"quotes"`
}

// OrderState is the lifecycle view of one order. Fill fields are set once Filled.
type OrderState struct {
	Order     orderbook.Order  `json:"order"`
	Status    orderbook.Status `json:"status"`
	TradeID   *uint64          `json:"tradeId,omitempty"`
	FillPrice *decimal.Decimal `json:"fillPrice,omitempty"`
	FillTick  *uint64          `json:"fillTick,omitempty"`
}

// BookView is a depth snapshot of one symbol.
type BookView struct {
	Symbol    string                 `json:"symbol"`
	Bids      []orderbook.PriceLevel `json:"bids"`
	Asks      []orderbook.PriceLevel `json:"asks"`
	LastQuote *market.Quote          `json:"lastQuote,omitempty"`
	Live      int                    `json:"live"`
}

type Options struct {
	Mode   orderbook.NumericMode
	Policy orderbook.MarketPolicy
	Logger *zap.SugaredLogger
}

func (o Options) logger() *zap.SugaredLogger {
	if o.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return o.Logger
}

// Kind selects an Exchange implementation.
type Kind string

const (
	KindEngine Kind = "engine" // sequential, caller serializes
	KindSynced Kind = "synced" // single-writer lock
	KindActor  Kind = "actor"  // one goroutine draining a request queue
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindEngine, KindSynced, KindActor:
		return k, nil
	case "":
		return KindSynced, nil
	default:
		return "", fmt.Errorf("unknown exchange kind %q", s)
	}
}

// New builds an exchange of the given kind over src.
func New(kind Kind, src market.Source, opts Options) (Exchange, error) {
	if src == nil {
		return nil, fmt.Errorf("nil quote source")
	}
	e := NewEngine(src, opts)
	switch kind {
	case KindEngine:
		return e, nil
	case KindSynced, "":
		return NewSynced(e), nil
	case KindActor:
		return NewActor(e), nil
	default:
		return nil, fmt.Errorf("unknown exchange kind %q", kind)
	}
}
