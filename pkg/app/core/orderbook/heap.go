package orderbook

import (
	"container/heap"

	"github.com/shopspring/decimal"
)

// level is a FIFO queue of orders sharing one price (or one stop trigger).
type level struct {
	price  decimal.Decimal
	orders []*Order
}

// priceHeap implements heap.Interface over price levels.
// With max set the highest price is on top, otherwise the lowest.
// Use container/heap package to manipulate this heap (Init, Push, Pop, Remove)
type priceHeap struct {
	max    bool
	levels []*level
}

func (h priceHeap) Len() int { return len(h.levels) }
func (h priceHeap) Less(i, j int) bool {
	c := h.levels[i].price.Cmp(h.levels[j].price)
	if h.max {
		return c > 0
	}
	return c < 0
}
func (h priceHeap) Swap(i, j int) { h.levels[i], h.levels[j] = h.levels[j], h.levels[i] }

func (h *priceHeap) Push(x interface{}) {
	h.levels = append(h.levels, x.(*level))
}

func (h *priceHeap) Pop() interface{} {
	old := h.levels
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	h.levels = old[0 : n-1]
	return x
}

// Peek returns the top level without removing it
func (h *priceHeap) Peek() *level {
	if len(h.levels) == 0 {
		return nil
	}
	return h.levels[0]
}

// ladder groups one side of resting orders: heap for best-price access,
// map from canonical price to level for O(1) insertion.
type ladder struct {
	heap   *priceHeap
	levels map[string]*level
}

func newLadder(max bool) *ladder {
	h := &priceHeap{max: max}
	heap.Init(h)
	return &ladder{heap: h, levels: make(map[string]*level)}
}

func (l *ladder) add(price decimal.Decimal, o *Order) {
	key := price.String()
	lv, ok := l.levels[key]
	if !ok {
		// New price level - add to heap
		lv = &level{price: price}
		l.levels[key] = lv
		heap.Push(l.heap, lv)
	}
	lv.orders = append(lv.orders, o)
}

// remove drops order id from the level at price. Returns false when absent.
func (l *ladder) remove(price decimal.Decimal, id uint64) bool {
	key := price.String()
	lv, ok := l.levels[key]
	if !ok {
		return false
	}
	for i, o := range lv.orders {
		if o.ID != id {
			continue
		}
		lv.orders = append(lv.orders[:i], lv.orders[i+1:]...)
		if len(lv.orders) == 0 {
			l.dropLevel(key, lv)
		}
		return true
	}
	return false
}

// dropLevel removes an empty level from the heap (O(N) worst case, but rare)
func (l *ladder) dropLevel(key string, lv *level) {
	delete(l.levels, key)
	for i, cand := range l.heap.levels {
		if cand == lv {
			heap.Remove(l.heap, i)
			return
		}
	}
}

// drainWhile pops whole levels from the top of the ladder while qualifies holds
// for the level price, returning their orders best level first, FIFO within a level.
func (l *ladder) drainWhile(qualifies func(price decimal.Decimal) bool) []*Order {
	var out []*Order
	for {
		top := l.heap.Peek()
		if top == nil || !qualifies(top.price) {
			return out
		}
		heap.Pop(l.heap)
		delete(l.levels, top.price.String())
		out = append(out, top.orders...)
	}
}

// walk visits levels best first without modifying the ladder.
func (l *ladder) walk(fn func(lv *level)) {
	sorted := make([]*level, len(l.heap.levels))
	copy(sorted, l.heap.levels)
	tmp := &priceHeap{max: l.heap.max, levels: sorted}
	heap.Init(tmp)
	for tmp.Len() > 0 {
		fn(heap.Pop(tmp).(*level))
	}
}

func (l *ladder) len() int {
	n := 0
	for _, lv := range l.levels {
		n += len(lv.orders)
	}
	return n
}
