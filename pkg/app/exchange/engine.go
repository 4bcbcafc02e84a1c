package exchange

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickex/pkg/app/core/ledger"
	"github.com/uhyunpark/tickex/pkg/app/core/market"
	"github.com/uhyunpark/tickex/pkg/app/core/orderbook"
)

// Engine is the sequential exchange. It is not safe for concurrent use except
// for FetchTrades and FetchQuotes, which only touch the ledger.
type Engine struct {
	src  market.Source
	opts Options
	log  *zap.SugaredLogger

	clock   *Clock // nil until Init
	books   map[string]*orderbook.OrderBook
	symbols []string // sorted; fixes the per-tick matching order
	known   map[string]struct{}
	ledger  *ledger.Ledger

	orders map[uint64]*OrderState
	nextID uint64

	// running keccak over every trade appended, in ledger order
	tradeDigest common.Hash
}

func NewEngine(src market.Source, opts Options) *Engine {
	symbols := src.Symbols()
	sort.Strings(symbols)

	e := &Engine{
		src:     src,
		opts:    opts,
		log:     opts.logger(),
		books:   make(map[string]*orderbook.OrderBook, len(symbols)),
		symbols: symbols,
		known:   make(map[string]struct{}, len(symbols)),
		ledger:  ledger.New(),
		orders:  make(map[uint64]*OrderState),
		nextID:  1,
	}
	for _, sym := range symbols {
		e.books[sym] = orderbook.NewOrderBook(sym, opts.Mode, opts.Policy)
		e.known[sym] = struct{}{}
	}
	return e
}

func (e *Engine) Init(_ context.Context) (InitMessage, error) {
	if e.clock != nil {
		return InitMessage{}, ErrAlreadyInitialized
	}
	e.clock = NewClock(e.src.Start(), e.src.Frequency(), e.src.Len())

	e.log.Infow("exchange_initialized",
		"start", e.clock.Start().UTC(),
		"frequency", e.clock.Frequency().String(),
		"ticks", e.clock.Len(),
		"symbols", e.symbols,
		"numeric_mode", e.opts.Mode.String(),
		"market_policy", e.opts.Policy.String(),
	)
	return e.initMessage(), nil
}

func (e *Engine) initMessage() InitMessage {
	return InitMessage{
		Start:     e.clock.Start(),
		Frequency: e.clock.Frequency().String(),
		Symbols:   append([]string(nil), e.symbols...),
		Ticks:     int(e.clock.Len()),
	}
}

func (e *Engine) InsertOrder(o orderbook.Order) (uint64, error) {
	if e.clock == nil {
		return 0, ErrNotInitialized
	}
	if err := o.Validate(); err != nil {
		return 0, err
	}
	book, ok := e.books[o.Symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, o.Symbol)
	}

	o.ID = e.nextID
	o.Seq = 0
	fills, err := book.Insert(o)
	if err != nil {
		return 0, err
	}
	e.nextID++

	status := orderbook.Resting
	if o.Type.IsMarket() {
		status = orderbook.Queued
	}
	e.orders[o.ID] = &OrderState{Order: e.normalized(o), Status: status}

	if len(fills) > 0 {
		// FillAgainstLastQuote: stamped with the latest applied tick so the
		// ledger stays tick-ordered even when this symbol was quoted earlier.
		// A fill implies a quote, so at least one tick has been applied.
		at := e.clock.Index() - 1
		e.record(at, e.clock.At(at).Unix(), fills, nil)
	}
	return o.ID, nil
}

func (e *Engine) normalized(o orderbook.Order) orderbook.Order {
	o.Shares = e.opts.Mode.Normalize(o.Shares)
	if o.Price != nil {
		p := e.opts.Mode.Normalize(*o.Price)
		o.Price = &p
	}
	return o
}

func (e *Engine) DeleteOrder(id uint64) error {
	if e.clock == nil {
		return ErrNotInitialized
	}
	st, ok := e.orders[id]
	if !ok {
		return fmt.Errorf("%w: %d", orderbook.ErrOrderNotFound, id)
	}
	if st.Status == orderbook.Filled || st.Status == orderbook.Cancelled {
		return fmt.Errorf("%w: %d is %s", orderbook.ErrOrderNotFound, id, st.Status)
	}
	if err := e.books[st.Order.Symbol].Cancel(id); err != nil {
		return err
	}
	st.Status = orderbook.Cancelled
	return nil
}

func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	if e.clock == nil {
		return TickResult{}, ErrNotInitialized
	}
	idx := e.clock.Index()
	if !e.clock.HasNext() {
		return TickResult{Tick: idx, Trades: []ledger.Trade{}, Quotes: []market.Quote{}}, nil
	}

	// Nothing is mutated until the whole batch has been fetched and checked.
	batch, err := e.src.Batch(ctx, idx)
	if err != nil {
		return TickResult{}, fmt.Errorf("%w: tick %d: %w", ErrSource, idx, err)
	}
	if err := market.CheckBatch(idx, batch, e.known); err != nil {
		return TickResult{}, fmt.Errorf("%w: tick %d: %w", ErrSource, idx, err)
	}
	batch = append([]market.Quote(nil), batch...)
	market.SortBySymbol(batch)

	ts := e.clock.At(idx).Unix()
	var fills []orderbook.Fill
	applied := make([]market.Quote, 0, len(batch))
	for _, q := range batch {
		q.Timestamp = ts
		book := e.books[q.Symbol]
		f, err := book.ApplyQuote(q)
		if err != nil {
			// unreachable after CheckBatch: books only ever see increasing ticks
			return TickResult{}, fmt.Errorf("apply %s at tick %d: %w", q.Symbol, idx, err)
		}
		fills = append(fills, f...)
		lq, _ := book.LastQuote()
		applied = append(applied, lq)
	}

	trades := e.record(idx, ts, fills, applied)
	e.clock.advance()

	if len(trades) > 0 {
		e.log.Infow("tick_applied", "tick", idx, "quotes", len(applied), "trades", len(trades), "ledger_len", e.ledger.Len())
	} else {
		e.log.Debugw("tick_applied", "tick", idx, "quotes", len(applied))
	}
	if !e.clock.HasNext() {
		e.log.Infow("source_exhausted", "ticks", e.clock.Index(), "trades", e.ledger.Len())
	}

	return TickResult{
		Tick:     idx,
		Advanced: true,
		HasNext:  e.clock.HasNext(),
		Trades:   trades,
		Quotes:   applied,
	}, nil
}

// record appends fills to the ledger and moves their orders to Filled.
func (e *Engine) record(tick uint64, ts int64, fills []orderbook.Fill, quotes []market.Quote) []ledger.Trade {
	trades := e.ledger.Append(tick, ts, fills, quotes)
	for i := range trades {
		tr := trades[i]
		if st, ok := e.orders[tr.OrderID]; ok {
			id, price, at := tr.TradeID, tr.Price, tr.TickIndex
			st.Status = orderbook.Filled
			st.TradeID = &id
			st.FillPrice = &price
			st.FillTick = &at
		}
		e.tradeDigest = chainTrade(e.tradeDigest, tr)
	}
	return trades
}

func (e *Engine) FetchQuotes() []market.Quote { return e.ledger.Quotes() }

func (e *Engine) FetchTrades(from uint64) []ledger.Trade { return e.ledger.Trades(from) }

func (e *Engine) OrderStatus(id uint64) (OrderState, error) {
	st, ok := e.orders[id]
	if !ok {
		return OrderState{}, fmt.Errorf("%w: %d", orderbook.ErrOrderNotFound, id)
	}
	return *st, nil
}

func (e *Engine) Book(symbol string) (BookView, error) {
	book, ok := e.books[symbol]
	if !ok {
		return BookView{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	v := BookView{
		Symbol: symbol,
		Bids:   book.BidLevels(),
		Asks:   book.AskLevels(),
		Live:   book.Len(),
	}
	if q, ok := book.LastQuote(); ok {
		v.LastQuote = &q
	}
	return v, nil
}

// Resting returns every live order across all books, oldest first.
func (e *Engine) Resting() []orderbook.Order {
	var out []orderbook.Order
	for _, sym := range e.symbols {
		out = append(out, e.books[sym].Resting()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) Clock() ClockState {
	if e.clock == nil {
		return ClockState{}
	}
	return e.clock.State()
}

func (e *Engine) Symbols() []string { return append([]string(nil), e.symbols...) }

func (e *Engine) StateHash() common.Hash { return e.stateHash() }

func (e *Engine) Close() error { return nil }

var _ Exchange = (*Engine)(nil)
