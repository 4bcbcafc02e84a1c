// Package backtest hosts independent simulation runs. A Session is one
// exchange plus its subscribers; the Manager owns every live session.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickex/pkg/app/core/ledger"
	"github.com/uhyunpark/tickex/pkg/app/core/market"
	"github.com/uhyunpark/tickex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tickex/pkg/app/core/subscriber"
	"github.com/uhyunpark/tickex/pkg/app/exchange"
	"github.com/uhyunpark/tickex/pkg/publish"
	"github.com/uhyunpark/tickex/pkg/storage"
	"github.com/uhyunpark/tickex/pkg/util"
)

var (
	ErrBacktestNotFound = errors.New("backtest not found")
	ErrSessionClosed    = errors.New("backtest closed")
	ErrAlreadyPlaying   = errors.New("backtest already playing")
)

// Config selects how a session's exchange is built.
type Config struct {
	Kind   exchange.Kind
	Mode   orderbook.NumericMode
	Policy orderbook.MarketPolicy

	PlayInterval time.Duration // autoplay pace when a caller gives none
}

// Deps are the collaborators a session publishes and journals to.
type Deps struct {
	Publisher publish.Publisher
	Journal   storage.Journal
	Clock     util.Clock
	Logger    *zap.SugaredLogger
}

func (d Deps) withDefaults() Deps {
	if d.Publisher == nil {
		d.Publisher = publish.Nop{}
	}
	if d.Journal == nil {
		d.Journal = storage.NewNopJournal()
	}
	if d.Clock == nil {
		d.Clock = util.RealClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return d
}

// Info summarizes a session for listings.
type Info struct {
	ID           string              `json:"backtestId"`
	Source       string              `json:"source"`
	Kind         exchange.Kind       `json:"kind"`
	NumericMode  string              `json:"numericMode"`
	MarketPolicy string              `json:"marketPolicy"`
	Symbols      []string            `json:"symbols"`
	CreatedAt    time.Time           `json:"createdAt"`
	Initialized  bool                `json:"initialized"`
	Clock        exchange.ClockState `json:"clock"`
	Subscribers  int                 `json:"subscribers"`
	Playing      bool                `json:"playing"`
}

// Session is one backtest. Commands are serialized so the journal and the
// published events follow exchange order; ledger reads bypass the lock.
type Session struct {
	id         string
	sourceName string
	cfg        Config
	createdAt  time.Time

	ex   exchange.Exchange
	subs *subscriber.Registry
	deps Deps
	log  *zap.SugaredLogger

	mu          sync.RWMutex
	initialized bool
	closed      bool
	published   uint64 // ledger offset up to which trades have been published

	pollMu sync.Mutex // one Poll at a time keeps cursors duplicate-free

	playMu  sync.Mutex
	play    *player
	playing atomic.Bool
}

// NewSession builds the exchange over src. The caller owns src.
func NewSession(id, sourceName string, src market.Source, cfg Config, deps Deps) (*Session, error) {
	deps = deps.withDefaults()
	log := deps.Logger.With("backtest", id)
	ex, err := exchange.New(cfg.Kind, src, exchange.Options{
		Mode:   cfg.Mode,
		Policy: cfg.Policy,
		Logger: log,
	})
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:         id,
		sourceName: sourceName,
		cfg:        cfg,
		createdAt:  deps.Clock.Now().UTC(),
		ex:         ex,
		subs:       subscriber.NewRegistry(),
		deps:       deps,
		log:        log,
	}
	s.journal(storage.Entry{Op: storage.OpCreate})
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) journal(e storage.Entry) {
	e.At = s.deps.Clock.Now().UTC()
	e.BacktestID = s.id
	if err := s.deps.Journal.Append(e); err != nil {
		s.log.Warnw("journal_append_failed", "op", e.Op, "err", err)
	}
}

func (s *Session) publish(ev publish.Event) {
	ev.BacktestID = s.id
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Publisher.Publish(ctx, ev); err != nil {
		s.log.Warnw("publish_failed", "kind", ev.Kind, "tick", ev.Tick, "err", err)
	}
}

// Init fixes the clock origin. A second call fails with exchange.ErrAlreadyInitialized.
func (s *Session) Init(ctx context.Context) (exchange.InitMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return exchange.InitMessage{}, ErrSessionClosed
	}
	msg, err := s.ex.Init(ctx)
	if err != nil {
		return exchange.InitMessage{}, err
	}
	s.initialized = true
	s.journal(storage.Entry{Op: storage.OpInit})
	return msg, nil
}

// RegisterSource issues a new subscriber id.
func (s *Session) RegisterSource() (subscriber.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return subscriber.Subscriber{}, ErrSessionClosed
	}
	sub := s.subs.Register(s.ex.Clock().Tick)
	s.journal(storage.Entry{Op: storage.OpRegister, Subscriber: sub.ID})
	s.log.Infow("subscriber_registered", "subscriber", sub.ID, "tick", sub.RegisteredAtTick)
	return sub, nil
}

func (s *Session) InsertOrder(sub uint64, o orderbook.Order) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionClosed
	}
	if err := s.subs.Authorize(sub); err != nil {
		return 0, err
	}
	id, err := s.ex.InsertOrder(o)
	if err != nil {
		return 0, err
	}
	o.ID = id
	s.journal(storage.Entry{Op: storage.OpInsert, Subscriber: sub, OrderID: id, Order: &o})

	// Under FillAgainstLastQuote the order may already have traded.
	if fills := s.ex.FetchTrades(s.published); len(fills) > 0 {
		s.published = fills[len(fills)-1].TradeID + 1
		s.publish(publish.Event{
			Kind:    publish.KindFill,
			Tick:    fills[0].TickIndex,
			HasNext: s.ex.Clock().HasNext,
			Trades:  fills,
		})
	}
	return id, nil
}

func (s *Session) DeleteOrder(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.ex.DeleteOrder(id); err != nil {
		return err
	}
	s.journal(storage.Entry{Op: storage.OpDelete, OrderID: id})
	return nil
}

// Tick advances the shared clock on behalf of sub. Every registered subscriber
// may drive the clock; ticks from different subscribers interleave in arrival order.
func (s *Session) Tick(ctx context.Context, sub uint64) (exchange.TickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return exchange.TickResult{}, ErrSessionClosed
	}
	if err := s.subs.Authorize(sub); err != nil {
		return exchange.TickResult{}, err
	}
	res, err := s.ex.Tick(ctx)
	if err != nil {
		s.log.Warnw("tick_failed", "subscriber", sub, "err", err)
		return exchange.TickResult{}, err
	}
	if !res.Advanced {
		return res, nil
	}
	s.journal(storage.Entry{Op: storage.OpTick, Subscriber: sub, Tick: res.Tick, Trades: len(res.Trades)})
	if n := len(res.Trades); n > 0 {
		s.published = res.Trades[n-1].TradeID + 1
	}
	s.publish(publish.Event{
		Kind:    publish.KindTick,
		Tick:    res.Tick,
		HasNext: res.HasNext,
		Trades:  res.Trades,
		Quotes:  res.Quotes,
	})
	return res, nil
}

func (s *Session) FetchQuotes() []market.Quote { return s.ex.FetchQuotes() }

func (s *Session) FetchTrades(from uint64) []ledger.Trade { return s.ex.FetchTrades(from) }

// Poll returns up to limit trades the subscriber has not seen and moves its
// cursor past them. limit <= 0 means all. The returned offset is the cursor the
// trades start at, so an empty poll still tells the caller where it stands.
func (s *Session) Poll(sub uint64, limit int) ([]ledger.Trade, uint64, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	cursor, err := s.subs.Cursor(sub)
	if err != nil {
		return nil, 0, err
	}
	trades := ledger.Limit(s.ex.FetchTrades(cursor), limit)
	if len(trades) > 0 {
		if err := s.subs.Advance(sub, trades[len(trades)-1].TradeID+1); err != nil {
			return nil, 0, err
		}
	}
	return trades, cursor, nil
}

func (s *Session) OrderStatus(id uint64) (exchange.OrderState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ex.OrderStatus(id)
}

func (s *Session) Book(symbol string) (exchange.BookView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ex.Book(symbol)
}

func (s *Session) Resting() []orderbook.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ex.Resting()
}

func (s *Session) StateHash() common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ex.StateHash()
}

func (s *Session) Subscribers() []subscriber.Subscriber { return s.subs.List() }

func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() Info {
	return Info{
		ID:           s.id,
		Source:       s.sourceName,
		Kind:         s.cfg.Kind,
		NumericMode:  s.cfg.Mode.String(),
		MarketPolicy: s.cfg.Policy.String(),
		Symbols:      s.ex.Symbols(),
		CreatedAt:    s.createdAt,
		Initialized:  s.initialized,
		Clock:        s.ex.Clock(),
		Subscribers:  s.subs.Count(),
		Playing:      s.Playing(),
	}
}

// Snapshot is the final state of a closed session.
type Snapshot struct {
	Record storage.RunRecord
	Trades []ledger.Trade
	Live   []orderbook.Order
}

// Close stops autoplay, rejects further commands and releases the exchange.
// The returned snapshot is what the manager archives.
func (s *Session) Close() (Snapshot, error) {
	s.StopPlay()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrSessionClosed
	}
	info := s.infoLocked()
	snap := Snapshot{
		Record: storage.RunRecord{
			ID:          s.id,
			Source:      s.sourceName,
			Kind:        string(s.cfg.Kind),
			NumericMode: info.NumericMode,
			Policy:      info.MarketPolicy,
			CreatedAt:   s.createdAt,
			ClosedAt:    s.deps.Clock.Now().UTC(),
			Ticks:       info.Clock.Tick,
			Subscribers: info.Subscribers,
			StateHash:   s.ex.StateHash().Hex(),
		},
		Trades: s.ex.FetchTrades(0),
		Live:   s.ex.Resting(),
	}
	s.closed = true

	s.publish(publish.Event{Kind: publish.KindClosed, Tick: info.Clock.Tick})
	s.journal(storage.Entry{Op: storage.OpClose, Tick: info.Clock.Tick, Trades: len(snap.Trades)})

	if err := s.ex.Close(); err != nil {
		return snap, fmt.Errorf("close exchange: %w", err)
	}
	s.log.Infow("backtest_closed", "ticks", info.Clock.Tick, "trades", len(snap.Trades), "live", len(snap.Live), "state_hash", snap.Record.StateHash)
	return snap, nil
}
