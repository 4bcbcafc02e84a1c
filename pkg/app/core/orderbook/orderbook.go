package orderbook

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tickex/pkg/app/core/market"
)

type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Shares decimal.Decimal `json:"shares"` // total shares resting at this price
	Orders int             `json:"orders"`
}

// OrderBook holds resting orders for one symbol and matches them against quotes.
// It is not safe for concurrent use; the exchange serializes access.
type OrderBook struct {
	symbol string
	mode   NumericMode
	policy MarketPolicy

	// Limit ladders (FIFO at each price)
	bids *ladder // limit buys, highest price first
	asks *ladder // limit sells, lowest price first

	// Stop ladders keyed by trigger price
	stopBuys  *ladder // lowest trigger first: fires once the ask reaches the trigger
	stopSells *ladder // highest trigger first: fires once the bid drops to the trigger

	// Market orders waiting for the next quote
	queued []*Order

	// Order index for O(1) cancellation
	index map[uint64]*Order

	seq       uint64
	lastQuote *market.Quote
}

func NewOrderBook(symbol string, mode NumericMode, policy MarketPolicy) *OrderBook {
	return &OrderBook{
		symbol:    symbol,
		mode:      mode,
		policy:    policy,
		bids:      newLadder(true),
		asks:      newLadder(false),
		stopBuys:  newLadder(false),
		stopSells: newLadder(true),
		index:     make(map[uint64]*Order),
	}
}

func (ob *OrderBook) Symbol() string { return ob.symbol }

// Insert validates and accepts an order whose ID the caller has already assigned.
// Limit and stop orders always rest; they only match in ApplyQuote.
// Market orders queue for the next quote, or under FillAgainstLastQuote fill
// right away and the fill is returned.
func (ob *OrderBook) Insert(o Order) ([]Fill, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.Symbol != ob.symbol {
		return nil, fmt.Errorf("%w: symbol %s sent to %s book", ErrInvalidOrder, o.Symbol, ob.symbol)
	}
	if _, exists := ob.index[o.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate order id %d", ErrInvalidOrder, o.ID)
	}

	o.Shares = ob.mode.Normalize(o.Shares)
	if o.Price != nil {
		p := ob.mode.Normalize(*o.Price)
		o.Price = &p
	}
	// Rounding through float64 can collapse tiny values to zero.
	if err := o.Validate(); err != nil {
		return nil, err
	}

	if o.Type.IsMarket() && ob.policy == FillAgainstLastQuote {
		if ob.lastQuote == nil {
			return nil, fmt.Errorf("%w: %s has not been quoted yet", ErrNoQuoteAvailable, ob.symbol)
		}
		return []Fill{ob.fill(&o, ob.marketPrice(o.Type, *ob.lastQuote))}, nil
	}

	ob.seq++
	o.Seq = ob.seq
	cp := o

	switch {
	case cp.Type.IsMarket():
		ob.queued = append(ob.queued, &cp)
	case cp.Type == LimitBuy:
		ob.bids.add(*cp.Price, &cp)
	case cp.Type == LimitSell:
		ob.asks.add(*cp.Price, &cp)
	case cp.Type == StopBuy:
		ob.stopBuys.add(*cp.Price, &cp)
	case cp.Type == StopSell:
		ob.stopSells.add(*cp.Price, &cp)
	}
	ob.index[cp.ID] = &cp
	return nil, nil
}

// Cancel removes a resting or queued order. Nothing is emitted.
func (ob *OrderBook) Cancel(id uint64) error {
	o, ok := ob.index[id]
	if !ok {
		return fmt.Errorf("%w: %d in %s", ErrOrderNotFound, id, ob.symbol)
	}

	removed := false
	switch o.Type {
	case MarketBuy, MarketSell:
		for i, q := range ob.queued {
			if q.ID == id {
				ob.queued = append(ob.queued[:i], ob.queued[i+1:]...)
				removed = true
				break
			}
		}
	case LimitBuy:
		removed = ob.bids.remove(*o.Price, id)
	case LimitSell:
		removed = ob.asks.remove(*o.Price, id)
	case StopBuy:
		removed = ob.stopBuys.remove(*o.Price, id)
	case StopSell:
		removed = ob.stopSells.remove(*o.Price, id)
	}
	delete(ob.index, id)
	if !removed {
		// index and ladders disagree; the order is gone either way
		return fmt.Errorf("%w: %d in %s", ErrOrderNotFound, id, ob.symbol)
	}
	return nil
}

// ApplyQuote runs one matching pass against q and returns the fills in
// execution order: queued market orders, triggered stops, then limits.
// Every executed order fills completely and leaves the book.
func (ob *OrderBook) ApplyQuote(q market.Quote) ([]Fill, error) {
	if q.Symbol != ob.symbol {
		return nil, fmt.Errorf("%w: quote for %s sent to %s book", market.ErrBadQuote, q.Symbol, ob.symbol)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if ob.lastQuote != nil && q.TickIndex < ob.lastQuote.TickIndex {
		return nil, fmt.Errorf("%w: %s tick %d after tick %d", market.ErrBadQuote, ob.symbol, q.TickIndex, ob.lastQuote.TickIndex)
	}
	if ob.lastQuote != nil && q.TickIndex == ob.lastQuote.TickIndex {
		return nil, fmt.Errorf("%w: %s quoted twice at tick %d", market.ErrBadQuote, ob.symbol, q.TickIndex)
	}

	q.Bid = ob.mode.Normalize(q.Bid)
	q.Ask = ob.mode.Normalize(q.Ask)
	bid, ask := q.Bid, q.Ask

	var fills []Fill

	// 0. market orders waiting for a quote
	queued := ob.queued
	ob.queued = nil
	for _, o := range queued {
		fills = append(fills, ob.fill(o, ob.marketPrice(o.Type, q)))
	}

	// 1. stop triggering, converted to market at the quote
	for _, o := range ob.stopBuys.drainWhile(func(trigger decimal.Decimal) bool { return trigger.LessThanOrEqual(ask) }) {
		fills = append(fills, ob.fill(o, ask))
	}
	for _, o := range ob.stopSells.drainWhile(func(trigger decimal.Decimal) bool { return trigger.GreaterThanOrEqual(bid) }) {
		fills = append(fills, ob.fill(o, bid))
	}

	// 2. limit matching, most aggressive price first
	for _, o := range ob.bids.drainWhile(func(price decimal.Decimal) bool { return price.GreaterThanOrEqual(ask) }) {
		fills = append(fills, ob.fill(o, ask))
	}
	for _, o := range ob.asks.drainWhile(func(price decimal.Decimal) bool { return price.LessThanOrEqual(bid) }) {
		fills = append(fills, ob.fill(o, bid))
	}

	ob.lastQuote = &q
	return fills, nil
}

func (ob *OrderBook) marketPrice(t OrderType, q market.Quote) decimal.Decimal {
	if t.IsBuy() {
		return q.Ask
	}
	return q.Bid
}

func (ob *OrderBook) fill(o *Order, price decimal.Decimal) Fill {
	delete(ob.index, o.ID)
	return Fill{
		OrderID: o.ID,
		Type:    o.Type,
		Symbol:  ob.symbol,
		Price:   price,
		Shares:  o.Shares,
	}
}

// LastQuote returns the most recently applied quote.
func (ob *OrderBook) LastQuote() (market.Quote, bool) {
	if ob.lastQuote == nil {
		return market.Quote{}, false
	}
	return *ob.lastQuote, true
}

// Contains reports whether id is resting or queued here.
func (ob *OrderBook) Contains(id uint64) bool {
	_, ok := ob.index[id]
	return ok
}

// Len is the number of live orders.
func (ob *OrderBook) Len() int { return len(ob.index) }

// Resting returns copies of all live orders ordered by insertion.
func (ob *OrderBook) Resting() []Order {
	out := make([]Order, 0, len(ob.index))
	for _, o := range ob.index {
		cp := *o
		if o.Price != nil {
			p := *o.Price
			cp.Price = &p
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// BidLevels returns limit-buy levels sorted high to low (best bid first).
func (ob *OrderBook) BidLevels() []PriceLevel { return levelsOf(ob.bids) }

// AskLevels returns limit-sell levels sorted low to high (best ask first).
func (ob *OrderBook) AskLevels() []PriceLevel { return levelsOf(ob.asks) }

func levelsOf(l *ladder) []PriceLevel {
	var levels []PriceLevel
	l.walk(func(lv *level) {
		total := decimal.Zero
		for _, o := range lv.orders {
			total = total.Add(o.Shares)
		}
		levels = append(levels, PriceLevel{Price: lv.price, Shares: total, Orders: len(lv.orders)})
	})
	return levels
}
