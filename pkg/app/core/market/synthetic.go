package market

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// SyntheticConfig controls the random-walk quote generator
type SyntheticConfig struct {
	Symbols   []string      // Markets to quote
	Ticks     int           // Number of ticks in the run
	Seed      int64         // Same seed, same quotes
	Start     time.Time     // Time of tick 0
	Frequency time.Duration // Time between ticks

	BaseCents   int64 // Starting mid price in cents
	MaxStep     int64 // Largest mid move per tick in cents (either direction)
	SpreadCents int64 // Bid/ask spread in cents
	FloorCents  int64 // Mid never drops below this
}

// DefaultSyntheticConfig returns reasonable defaults for testing
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Symbols:     []string{"ABC", "BCD"},
		Ticks:       1000,
		Seed:        1,
		Start:       time.Unix(1_600_000_000, 0).UTC(),
		Frequency:   time.Second,
		BaseCents:   10000, // $100.00
		MaxStep:     25,    // ±$0.25
		SpreadCents: 2,     // $0.02
		FloorCents:  100,   // $1.00
	}
}

// SyntheticSource serves a deterministic random walk per symbol.
// All ticks are generated up front so Batch is random access and repeatable.
type SyntheticSource struct {
	cfg     SyntheticConfig
	symbols []string
	ticks   [][]Quote
}

// NewSyntheticSource generates cfg.Ticks batches. Prices are whole cents so the
// walk is exact in decimal.
func NewSyntheticSource(cfg SyntheticConfig) (*SyntheticSource, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("synthetic source needs at least one symbol")
	}
	if cfg.Ticks <= 0 {
		return nil, fmt.Errorf("synthetic source needs a positive tick count, got %d", cfg.Ticks)
	}
	if cfg.Frequency <= 0 {
		return nil, fmt.Errorf("frequency must be positive, got %v", cfg.Frequency)
	}
	if cfg.SpreadCents < 0 || cfg.MaxStep < 0 {
		return nil, fmt.Errorf("spread and step must not be negative")
	}
	if cfg.FloorCents <= cfg.SpreadCents {
		cfg.FloorCents = cfg.SpreadCents + 1
	}
	if cfg.BaseCents < cfg.FloorCents {
		cfg.BaseCents = cfg.FloorCents
	}

	symbols := append([]string(nil), cfg.Symbols...)
	sort.Strings(symbols)
	for i := 1; i < len(symbols); i++ {
		if symbols[i] == symbols[i-1] {
			return nil, fmt.Errorf("duplicate symbol %s", symbols[i])
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	mids := make([]int64, len(symbols))
	for i := range mids {
		mids[i] = cfg.BaseCents
	}

	ticks := make([][]Quote, cfg.Ticks)
	for t := 0; t < cfg.Ticks; t++ {
		ts := cfg.Start.Add(time.Duration(t) * cfg.Frequency).Unix()
		batch := make([]Quote, len(symbols))
		for i, sym := range symbols {
			if t > 0 && cfg.MaxStep > 0 {
				mids[i] += rng.Int63n(2*cfg.MaxStep+1) - cfg.MaxStep
				if mids[i] < cfg.FloorCents {
					mids[i] = cfg.FloorCents
				}
			}
			bid := mids[i] - cfg.SpreadCents/2
			ask := bid + cfg.SpreadCents
			batch[i] = Quote{
				Symbol:    sym,
				Bid:       decimal.New(bid, -2),
				Ask:       decimal.New(ask, -2),
				TickIndex: uint64(t),
				Timestamp: ts,
			}
		}
		ticks[t] = batch
	}

	return &SyntheticSource{cfg: cfg, symbols: symbols, ticks: ticks}, nil
}

func (s *SyntheticSource) Symbols() []string        { return append([]string(nil), s.symbols...) }
func (s *SyntheticSource) Start() time.Time         { return s.cfg.Start }
func (s *SyntheticSource) Frequency() time.Duration { return s.cfg.Frequency }
func (s *SyntheticSource) Len() int                 { return len(s.ticks) }

func (s *SyntheticSource) Batch(ctx context.Context, tick uint64) ([]Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tick >= uint64(len(s.ticks)) {
		return nil, fmt.Errorf("tick %d out of range (len %d)", tick, len(s.ticks))
	}
	return append([]Quote(nil), s.ticks[tick]...), nil
}

var _ Source = (*SyntheticSource)(nil)
