package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tickex/pkg/app/core/market"
)

// fillBook rests n limit buys and n limit sells on distinct price levels,
// away from any quote the benchmarks apply.
func fillBook(ob *OrderBook, n int) uint64 {
	id := uint64(0)
	for i := 0; i < n; i++ {
		id++
		ob.Insert(Order{ID: id, Type: LimitBuy, Symbol: "ABC", Shares: decimal.NewFromInt(100), Price: ptr(decimal.New(int64(9000-i), -2))})
		id++
		ob.Insert(Order{ID: id, Type: LimitSell, Symbol: "ABC", Shares: decimal.NewFromInt(100), Price: ptr(decimal.New(int64(11000+i), -2))})
	}
	return id
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

// BenchmarkInsertLimit measures resting a limit order on a book 100 levels deep
func BenchmarkInsertLimit(b *testing.B) {
	ob := NewOrderBook("ABC", Exact, QueueForNextQuote)
	next := fillBook(ob, 100)
	price := decimal.New(8500, -2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next++
		if _, err := ob.Insert(Order{ID: next, Type: LimitBuy, Symbol: "ABC", Shares: decimal.NewFromInt(10), Price: &price}); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCancel measures cancel by id: index lookup plus level removal
func BenchmarkCancel(b *testing.B) {
	ob := NewOrderBook("ABC", Exact, QueueForNextQuote)
	last := fillBook(ob, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := uint64(i)%last + 1
		if err := ob.Cancel(id); err != nil {
			b.StopTimer()
			// refill once every order has been cancelled
			if ob.Len() == 0 {
				fillBook(ob, 1000)
			}
			b.StartTimer()
		}
	}
}

// BenchmarkApplyQuote measures a matching pass that fills one queued market order
func BenchmarkApplyQuote(b *testing.B) {
	ob := NewOrderBook("ABC", Exact, QueueForNextQuote)
	next := fillBook(ob, 100)
	shares := decimal.NewFromInt(1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next++
		if _, err := ob.Insert(Order{ID: next, Type: MarketBuy, Symbol: "ABC", Shares: shares}); err != nil {
			b.Fatal(err)
		}
		q := market.Quote{Symbol: "ABC", Bid: decimal.New(9999, -2), Ask: decimal.New(10001, -2), TickIndex: uint64(i)}
		if _, err := ob.ApplyQuote(q); err != nil {
			b.Fatal(err)
		}
	}
}
