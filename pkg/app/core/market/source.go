package market

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Source supplies quote batches by tick index. Batch must be deterministic for a
// given tick so a failed tick can be retried by the caller with the same result.
type Source interface {
	Symbols() []string
	Start() time.Time
	Frequency() time.Duration
	// Len is the number of ticks available.
	Len() int
	// Batch returns the quotes for tick. tick < Len.
	Batch(ctx context.Context, tick uint64) ([]Quote, error)
}

// SliceSource serves quotes held in memory, grouped by tick.
type SliceSource struct {
	symbols []string
	start   time.Time
	freq    time.Duration
	ticks   [][]Quote
}

// NewSliceSource groups quotes by TickIndex. Ticks with no quotes are kept as
// empty batches up to the highest tick seen. Symbols are collected from the data.
func NewSliceSource(start time.Time, freq time.Duration, quotes []Quote) (*SliceSource, error) {
	if freq <= 0 {
		return nil, fmt.Errorf("frequency must be positive, got %v", freq)
	}
	s := &SliceSource{start: start, freq: freq}
	syms := make(map[string]struct{})
	for _, q := range quotes {
		if err := q.Validate(); err != nil {
			return nil, err
		}
		for uint64(len(s.ticks)) <= q.TickIndex {
			s.ticks = append(s.ticks, nil)
		}
		q.Timestamp = start.Add(time.Duration(q.TickIndex) * freq).Unix()
		s.ticks[q.TickIndex] = append(s.ticks[q.TickIndex], q)
		syms[q.Symbol] = struct{}{}
	}
	for tick, batch := range s.ticks {
		if err := CheckBatch(uint64(tick), batch, nil); err != nil {
			return nil, err
		}
		SortBySymbol(batch)
	}
	for sym := range syms {
		s.symbols = append(s.symbols, sym)
	}
	sort.Strings(s.symbols)
	return s, nil
}

func (s *SliceSource) Symbols() []string        { return append([]string(nil), s.symbols...) }
func (s *SliceSource) Start() time.Time         { return s.start }
func (s *SliceSource) Frequency() time.Duration { return s.freq }
func (s *SliceSource) Len() int                 { return len(s.ticks) }

func (s *SliceSource) Batch(ctx context.Context, tick uint64) ([]Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tick >= uint64(len(s.ticks)) {
		return nil, fmt.Errorf("tick %d out of range (len %d)", tick, len(s.ticks))
	}
	return append([]Quote(nil), s.ticks[tick]...), nil
}

var _ Source = (*SliceSource)(nil)
