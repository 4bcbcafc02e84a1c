package exchange

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tickex/pkg/app/core/ledger"
	"github.com/uhyunpark/tickex/pkg/app/core/market"
	"github.com/uhyunpark/tickex/pkg/app/core/orderbook"
)

// Synced serializes writers on one Engine with a lock. Book reads share the
// lock; ledger reads skip it since the ledger guards itself.
type Synced struct {
	mu sync.RWMutex
	e  *Engine
}

func NewSynced(e *Engine) *Synced { return &Synced{e: e} }

func (s *Synced) Init(ctx context.Context) (InitMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.Init(ctx)
}

func (s *Synced) InsertOrder(o orderbook.Order) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.InsertOrder(o)
}

func (s *Synced) DeleteOrder(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.DeleteOrder(id)
}

func (s *Synced) Tick(ctx context.Context) (TickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.Tick(ctx)
}

func (s *Synced) FetchQuotes() []market.Quote { return s.e.FetchQuotes() }

func (s *Synced) FetchTrades(from uint64) []ledger.Trade { return s.e.FetchTrades(from) }

func (s *Synced) OrderStatus(id uint64) (OrderState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.e.OrderStatus(id)
}

func (s *Synced) Book(symbol string) (BookView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.e.Book(symbol)
}

func (s *Synced) Resting() []orderbook.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.e.Resting()
}

func (s *Synced) Clock() ClockState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.e.Clock()
}

func (s *Synced) Symbols() []string { return s.e.Symbols() }

func (s *Synced) StateHash() common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.e.StateHash()
}

func (s *Synced) Close() error { return nil }

var _ Exchange = (*Synced)(nil)
