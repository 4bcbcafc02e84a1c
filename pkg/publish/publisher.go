// Package publish fans backtest events out to external consumers.
package publish

import (
	"context"
	"errors"

	"github.com/uhyunpark/tickex/pkg/app/core/ledger"
	"github.com/uhyunpark/tickex/pkg/app/core/market"
)

// Event kinds
const (
	KindTick   = "tick"
	KindFill   = "fill" // market order filled at insert against the last quote
	KindClosed = "closed"
)

// Event is emitted once per applied tick, once per insert that traded
// immediately, and once when a backtest closes.
type Event struct {
	BacktestID string         `json:"backtestId"`
	Kind       string         `json:"kind"`
	Tick       uint64         `json:"tick"`
	HasNext    bool           `json:"hasNext"`
	Trades     []ledger.Trade `json:"trades,omitempty"`
	Quotes     []market.Quote `json:"quotes,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi publishes to every member and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
