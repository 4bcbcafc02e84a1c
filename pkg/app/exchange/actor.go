package exchange

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tickex/pkg/app/core/ledger"
	"github.com/uhyunpark/tickex/pkg/app/core/market"
	"github.com/uhyunpark/tickex/pkg/app/core/orderbook"
)

// Actor owns an Engine on a single goroutine. Every call except the ledger
// reads is sent as a request and runs to completion in arrival order.
type Actor struct {
	e        *Engine
	requests chan request
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once
}

type request struct {
	fn   func(e *Engine)
	done chan struct{}
}

// NewActor starts the request loop. Close stops it.
func NewActor(e *Engine) *Actor {
	a := &Actor{
		e:        e,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Actor) run() {
	defer close(a.done)
	for {
		select {
		case req := <-a.requests:
			req.fn(a.e)
			close(req.done)
		case <-a.quit:
			return
		}
	}
}

// do queues fn and waits for it. ctx only bounds the wait to be queued;
// a request that has been accepted always runs to completion.
func (a *Actor) do(ctx context.Context, fn func(e *Engine)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case a.requests <- req:
	case <-a.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-a.done:
		// loop exited; the request may have been dropped
		select {
		case <-req.done:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (a *Actor) Init(ctx context.Context) (msg InitMessage, err error) {
	if qerr := a.do(ctx, func(e *Engine) { msg, err = e.Init(ctx) }); qerr != nil {
		return InitMessage{}, qerr
	}
	return msg, err
}

func (a *Actor) InsertOrder(o orderbook.Order) (id uint64, err error) {
	if qerr := a.do(context.Background(), func(e *Engine) { id, err = e.InsertOrder(o) }); qerr != nil {
		return 0, qerr
	}
	return id, err
}

func (a *Actor) DeleteOrder(id uint64) (err error) {
	if qerr := a.do(context.Background(), func(e *Engine) { err = e.DeleteOrder(id) }); qerr != nil {
		return qerr
	}
	return err
}

func (a *Actor) Tick(ctx context.Context) (res TickResult, err error) {
	if qerr := a.do(ctx, func(e *Engine) { res, err = e.Tick(ctx) }); qerr != nil {
		return TickResult{}, qerr
	}
	return res, err
}

func (a *Actor) FetchQuotes() []market.Quote { return a.e.FetchQuotes() }

func (a *Actor) FetchTrades(from uint64) []ledger.Trade { return a.e.FetchTrades(from) }

func (a *Actor) OrderStatus(id uint64) (st OrderState, err error) {
	if qerr := a.do(context.Background(), func(e *Engine) { st, err = e.OrderStatus(id) }); qerr != nil {
		return OrderState{}, qerr
	}
	return st, err
}

func (a *Actor) Book(symbol string) (v BookView, err error) {
	if qerr := a.do(context.Background(), func(e *Engine) { v, err = e.Book(symbol) }); qerr != nil {
		return BookView{}, qerr
	}
	return v, err
}

func (a *Actor) Resting() (out []orderbook.Order) {
	_ = a.do(context.Background(), func(e *Engine) { out = e.Resting() })
	return out
}

func (a *Actor) Clock() (st ClockState) {
	_ = a.do(context.Background(), func(e *Engine) { st = e.Clock() })
	return st
}

func (a *Actor) Symbols() []string { return a.e.Symbols() }

func (a *Actor) StateHash() (h common.Hash) {
	_ = a.do(context.Background(), func(e *Engine) { h = e.StateHash() })
	return h
}

// Close stops the loop after the request in flight, if any. Later calls fail with ErrClosed.
func (a *Actor) Close() error {
	a.once.Do(func() { close(a.quit) })
	<-a.done
	return nil
}

var _ Exchange = (*Actor)(nil)
