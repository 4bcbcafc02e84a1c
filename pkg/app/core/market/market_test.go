package market

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func q(tick uint64, sym, bid, ask string) Quote {
	return Quote{Symbol: sym, Bid: decimal.RequireFromString(bid), Ask: decimal.RequireFromString(ask), TickIndex: tick}
}

func TestCheckBatch(t *testing.T) {
	known := map[string]struct{}{"ABC": {}, "BCD": {}}
	tests := []struct {
		name  string
		batch []Quote
		ok    bool
	}{
		{"valid", []Quote{q(3, "ABC", "1", "2"), q(3, "BCD", "1", "2")}, true},
		{"empty", nil, true},
		{"wrong tick", []Quote{q(2, "ABC", "1", "2")}, false},
		{"duplicate symbol", []Quote{q(3, "ABC", "1", "2"), q(3, "ABC", "1", "2")}, false},
		{"unknown symbol", []Quote{q(3, "XYZ", "1", "2")}, false},
		{"zero ask", []Quote{q(3, "ABC", "1", "0")}, false},
		{"locked", []Quote{q(3, "ABC", "2", "2")}, true},
		{"crossed", []Quote{q(3, "ABC", "12", "10")}, false},
		{"missing symbol", []Quote{q(3, "", "1", "2")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckBatch(3, tt.batch, known)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrBadQuote)
			}
		})
	}
}

func TestSliceSource(t *testing.T) {
	start := time.Unix(1_000, 0).UTC()
	src, err := NewSliceSource(start, time.Minute, []Quote{
		q(0, "BCD", "2", "3"),
		q(0, "ABC", "1", "2"),
		q(2, "ABC", "1", "2"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ABC", "BCD"}, src.Symbols())
	assert.Equal(t, 3, src.Len())

	b0, err := src.Batch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, b0, 2)
	assert.Equal(t, "ABC", b0[0].Symbol)
	assert.Equal(t, start.Unix(), b0[0].Timestamp)

	// gaps are empty batches
	b1, err := src.Batch(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, b1)

	b2, err := src.Batch(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, start.Add(2*time.Minute).Unix(), b2[0].Timestamp)

	_, err = src.Batch(context.Background(), 3)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Batch(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSliceSourceRejectsBadInput(t *testing.T) {
	_, err := NewSliceSource(time.Time{}, 0, nil)
	assert.Error(t, err)
	_, err = NewSliceSource(time.Time{}, time.Second, []Quote{q(0, "A", "1", "2"), q(0, "A", "1", "2")})
	assert.ErrorIs(t, err, ErrBadQuote)
}

func TestSyntheticSourceDeterministic(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	cfg.Ticks = 200
	cfg.Symbols = []string{"BCD", "ABC"}

	a, err := NewSyntheticSource(cfg)
	require.NoError(t, err)
	b, err := NewSyntheticSource(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC", "BCD"}, a.Symbols())

	known := map[string]struct{}{"ABC": {}, "BCD": {}}
	for tick := uint64(0); tick < 200; tick++ {
		x, err := a.Batch(context.Background(), tick)
		require.NoError(t, err)
		y, err := b.Batch(context.Background(), tick)
		require.NoError(t, err)
		require.NoError(t, CheckBatch(tick, x, known))
		for i := range x {
			assert.True(t, x[i].Bid.Equal(y[i].Bid), "tick %d", tick)
			assert.True(t, x[i].Ask.Sub(x[i].Bid).Equal(decimal.New(cfg.SpreadCents, -2)))
		}
	}

	cfg.Seed = 2
	c, err := NewSyntheticSource(cfg)
	require.NoError(t, err)
	last := uint64(cfg.Ticks - 1)
	x, _ := a.Batch(context.Background(), last)
	z, _ := c.Batch(context.Background(), last)
	assert.False(t, x[0].Bid.Equal(z[0].Bid) && x[1].Bid.Equal(z[1].Bid), "different seeds should diverge")
}

func TestSyntheticSourceConfigErrors(t *testing.T) {
	for name, mutate := range map[string]func(*SyntheticConfig){
		"no symbols":     func(c *SyntheticConfig) { c.Symbols = nil },
		"no ticks":       func(c *SyntheticConfig) { c.Ticks = 0 },
		"zero frequency": func(c *SyntheticConfig) { c.Frequency = 0 },
		"duplicate":      func(c *SyntheticConfig) { c.Symbols = []string{"A", "A"} },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultSyntheticConfig()
			mutate(&cfg)
			_, err := NewSyntheticSource(cfg)
			assert.Error(t, err)
		})
	}
}

func TestReadCSV(t *testing.T) {
	in := "tick,symbol,bid,ask\n0,ABC,49.5,50.0\n# comment\n1, BCD, 20.10, 20.12\n"
	quotes, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, uint64(1), quotes[1].TickIndex)
	assert.Equal(t, "BCD", quotes[1].Symbol)
	assert.True(t, quotes[1].Ask.Equal(decimal.RequireFromString("20.12")))

	for name, bad := range map[string]string{
		"bad tick":  "x,ABC,1,2\n",
		"bad price": "0,ABC,one,2\n",
		"zero bid":  "0,ABC,0,2\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(bad))
			assert.True(t, errors.Is(err, ErrBadQuote), "err = %v", err)
		})
	}

	_, err = ReadCSV(strings.NewReader("0,ABC,1\n"))
	assert.Error(t, err)
}
