package exchange

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tickex/pkg/app/core/market"
	"github.com/uhyunpark/tickex/pkg/app/core/orderbook"
)

func TestConcurrentWritersAndReaders(t *testing.T) {
	for _, kind := range []Kind{KindSynced, KindActor} {
		t.Run(string(kind), func(t *testing.T) {
			cfg := market.DefaultSyntheticConfig()
			cfg.Ticks = 100
			src, err := market.NewSyntheticSource(cfg)
			require.NoError(t, err)

			ex, err := New(kind, src, Options{})
			require.NoError(t, err)
			defer ex.Close()
			_, err = ex.Init(context.Background())
			require.NoError(t, err)

			const writers = 8
			const perWriter = 50

			ids := make(chan uint64, writers*perWriter)
			var wg sync.WaitGroup
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perWriter; i++ {
						id, err := ex.InsertOrder(orderbook.NewMarketBuy("ABC", d("1")))
						if err != nil {
							t.Errorf("insert: %v", err)
							return
						}
						ids <- id
					}
				}()
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 40; i++ {
					if _, err := ex.Tick(context.Background()); err != nil {
						t.Errorf("tick: %v", err)
						return
					}
				}
			}()

			for r := 0; r < 4; r++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 100; i++ {
						trades := ex.FetchTrades(0)
						for j, tr := range trades {
							if tr.TradeID != uint64(j) {
								t.Errorf("gap at %d: trade id %d", j, tr.TradeID)
								return
							}
						}
						_ = ex.FetchQuotes()
						_, _ = ex.Book("ABC")
					}
				}()
			}

			wg.Wait()
			close(ids)

			seen := make(map[uint64]bool)
			for id := range ids {
				assert.False(t, seen[id], "order id %d issued twice", id)
				seen[id] = true
			}
			assert.Len(t, seen, writers*perWriter)

			// drain: every queued market order fills on the next tick
			tick(t, ex)
			assert.Len(t, ex.FetchTrades(0), writers*perWriter)
			assert.Empty(t, ex.Resting())
		})
	}
}

func TestActorClosed(t *testing.T) {
	src := &stubSource{symbols: []string{"ABC"}, batches: [][]market.Quote{{q(0, "ABC", "1", "2")}}}
	a := NewActor(NewEngine(src, Options{}))
	_, err := a.Init(context.Background())
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err = a.InsertOrder(orderbook.NewMarketBuy("ABC", d("1")))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = a.Tick(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestActorTickHonoursCanceledContextBeforeQueueing(t *testing.T) {
	src := &stubSource{symbols: []string{"ABC"}, batches: [][]market.Quote{{q(0, "ABC", "1", "2")}}}
	a := NewActor(NewEngine(src, Options{}))
	defer a.Close()
	_, err := a.Init(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Tick(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(0), a.Clock().Tick)
}
