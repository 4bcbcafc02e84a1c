package market

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var ErrBadQuote = errors.New("bad quote")

// Quote is the best bid/ask for a symbol at one tick.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	TickIndex uint64          `json:"tick"`
	Timestamp int64           `json:"timestamp"` // unix seconds of the tick
}

func (q Quote) Validate() error {
	if q.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrBadQuote)
	}
	if !q.Bid.IsPositive() || !q.Ask.IsPositive() {
		return fmt.Errorf("%w: %s bid=%s ask=%s must be positive", ErrBadQuote, q.Symbol, q.Bid, q.Ask)
	}
	if q.Bid.GreaterThan(q.Ask) {
		return fmt.Errorf("%w: %s crossed, bid=%s above ask=%s", ErrBadQuote, q.Symbol, q.Bid, q.Ask)
	}
	return nil
}

// SortBySymbol orders a batch lexicographically by symbol, in place.
func SortBySymbol(qs []Quote) {
	sort.Slice(qs, func(i, j int) bool { return qs[i].Symbol < qs[j].Symbol })
}

// CheckBatch verifies a tick batch: every quote valid, stamped with tick,
// one quote per symbol, and only symbols from known.
func CheckBatch(tick uint64, batch []Quote, known map[string]struct{}) error {
	seen := make(map[string]struct{}, len(batch))
	for _, q := range batch {
		if err := q.Validate(); err != nil {
			return err
		}
		if q.TickIndex != tick {
			return fmt.Errorf("%w: %s quoted for tick %d in batch %d", ErrBadQuote, q.Symbol, q.TickIndex, tick)
		}
		if _, dup := seen[q.Symbol]; dup {
			return fmt.Errorf("%w: %s quoted twice at tick %d", ErrBadQuote, q.Symbol, tick)
		}
		if known != nil {
			if _, ok := known[q.Symbol]; !ok {
				return fmt.Errorf("%w: unknown symbol %s", ErrBadQuote, q.Symbol)
			}
		}
		seen[q.Symbol] = struct{}{}
	}
	return nil
}
