// Package ledger keeps the append-only record of a backtest: every trade in
// emission order and the latest quote per symbol.
package ledger

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tickex/pkg/app/core/market"
	"github.com/uhyunpark/tickex/pkg/app/core/orderbook"
)

// Trade is immutable once appended. TradeID equals its offset in the ledger.
type Trade struct {
	TradeID   uint64              `json:"tradeId"`
	OrderID   uint64              `json:"orderId"`
	Symbol    string              `json:"symbol"`
	OrderType orderbook.OrderType `json:"orderType"`
	Price     decimal.Decimal     `json:"price"`
	Shares    decimal.Decimal     `json:"shares"`
	TickIndex uint64              `json:"tick"`
	Timestamp int64               `json:"timestamp"`
}

// Ledger is safe for one writer and any number of concurrent readers.
// Each Append is atomic: readers see all of a tick's trades and quotes or none.
type Ledger struct {
	mu     sync.RWMutex
	trades []Trade
	quotes map[string]market.Quote
}

func New() *Ledger {
	return &Ledger{
		trades: make([]Trade, 0, 1024),
		quotes: make(map[string]market.Quote),
	}
}

// Append assigns trade ids to fills, stamps them with tick and timestamp, and
// records quotes as the latest per symbol. The stamped trades are returned.
func (l *Ledger) Append(tick uint64, timestamp int64, fills []orderbook.Fill, quotes []market.Quote) []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := uint64(len(l.trades))
	out := make([]Trade, len(fills))
	for i, f := range fills {
		out[i] = Trade{
			TradeID:   next + uint64(i),
			OrderID:   f.OrderID,
			Symbol:    f.Symbol,
			OrderType: f.Type,
			Price:     f.Price,
			Shares:    f.Shares,
			TickIndex: tick,
			Timestamp: timestamp,
		}
	}
	l.trades = append(l.trades, out...)
	for _, q := range quotes {
		l.quotes[q.Symbol] = q
	}
	return out
}

// Trades returns every trade with offset >= from, oldest first.
// from past the end yields an empty slice.
func (l *Ledger) Trades(from uint64) []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if from >= uint64(len(l.trades)) {
		return []Trade{}
	}
	out := make([]Trade, uint64(len(l.trades))-from)
	copy(out, l.trades[from:])
	return out
}

// Limit truncates trades to at most limit entries. limit <= 0 means no limit.
func Limit(trades []Trade, limit int) []Trade {
	if limit > 0 && len(trades) > limit {
		return trades[:limit]
	}
	return trades
}

// Quotes returns the latest quote per symbol, sorted by symbol.
func (l *Ledger) Quotes() []market.Quote {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]market.Quote, 0, len(l.quotes))
	for _, q := range l.quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len is the number of trades, which is also the next trade id.
func (l *Ledger) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.trades))
}
