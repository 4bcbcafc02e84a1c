package backtest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickex/pkg/app/core/ledger"
	"github.com/uhyunpark/tickex/pkg/app/core/market"
	"github.com/uhyunpark/tickex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tickex/pkg/app/exchange"
	"github.com/uhyunpark/tickex/pkg/storage"
)

// Source kinds accepted by Create
const (
	SourceSynthetic = "synthetic"
	SourceDataset   = "dataset"
)

var ErrStoreDisabled = errors.New("storage disabled")

// CreateRequest describes a new backtest. Zero fields take the manager defaults.
type CreateRequest struct {
	Source  string   `json:"source"`  // "synthetic" (default) or "dataset"
	Dataset string   `json:"dataset"` // dataset name when Source is "dataset"
	Seed    *int64   `json:"seed"`
	Ticks   int      `json:"ticks"`
	Symbols []string `json:"symbols"`

	Kind         string `json:"kind"`
	NumericMode  string `json:"numericMode"`
	MarketPolicy string `json:"marketPolicy"`
}

// ManagerConfig holds the defaults applied to every CreateRequest
type ManagerConfig struct {
	Synthetic market.SyntheticConfig
	Session   Config
}

// Manager owns every live backtest. Sessions share nothing mutable, so
// requests against different backtests run in parallel.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg   ManagerConfig
	store *storage.PebbleStore // nil disables datasets and archiving
	deps  Deps
	log   *zap.SugaredLogger
}

func NewManager(cfg ManagerConfig, store *storage.PebbleStore, deps Deps) *Manager {
	deps = deps.withDefaults()
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		store:    store,
		deps:     deps,
		log:      deps.Logger,
	}
}

// Create builds a new session with a fresh id. The session still needs Init.
func (m *Manager) Create(req CreateRequest) (*Session, error) {
	cfg, err := m.sessionConfig(req)
	if err != nil {
		return nil, err
	}
	src, name, err := m.source(req)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s, err := NewSession(id, name, src, cfg, m.deps)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	total := len(m.sessions)
	m.mu.Unlock()

	m.log.Infow("backtest_created",
		"backtest", id,
		"source", name,
		"kind", cfg.Kind,
		"numeric_mode", cfg.Mode.String(),
		"market_policy", cfg.Policy.String(),
		"live_backtests", total,
	)
	return s, nil
}

func (m *Manager) sessionConfig(req CreateRequest) (Config, error) {
	cfg := m.cfg.Session
	if req.Kind != "" {
		k, err := exchange.ParseKind(req.Kind)
		if err != nil {
			return Config{}, err
		}
		cfg.Kind = k
	}
	if req.NumericMode != "" {
		mode, err := orderbook.ParseNumericMode(req.NumericMode)
		if err != nil {
			return Config{}, err
		}
		cfg.Mode = mode
	}
	if req.MarketPolicy != "" {
		p, err := orderbook.ParseMarketPolicy(req.MarketPolicy)
		if err != nil {
			return Config{}, err
		}
		cfg.Policy = p
	}
	if cfg.Kind == "" {
		cfg.Kind = exchange.KindSynced
	}
	return cfg, nil
}

func (m *Manager) source(req CreateRequest) (market.Source, string, error) {
	switch strings.ToLower(req.Source) {
	case "", SourceSynthetic:
		sc := m.cfg.Synthetic
		if req.Seed != nil {
			sc.Seed = *req.Seed
		}
		if req.Ticks > 0 {
			sc.Ticks = req.Ticks
		}
		if len(req.Symbols) > 0 {
			sc.Symbols = req.Symbols
		}
		src, err := market.NewSyntheticSource(sc)
		if err != nil {
			return nil, "", err
		}
		return src, fmt.Sprintf("%s:seed=%d", SourceSynthetic, sc.Seed), nil

	case SourceDataset:
		if m.store == nil {
			return nil, "", fmt.Errorf("%w: dataset sources need a store", ErrStoreDisabled)
		}
		src, err := m.store.DatasetSource(req.Dataset)
		if err != nil {
			return nil, "", err
		}
		return src, SourceDataset + ":" + req.Dataset, nil

	default:
		return nil, "", fmt.Errorf("unknown source %q", req.Source)
	}
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBacktestNotFound, id)
	}
	return s, nil
}

// List returns every live backtest, oldest first
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Close removes the backtest and, when a store is configured, archives its
// ledger and the orders still live.
func (m *Manager) Close(id string) (storage.RunRecord, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return storage.RunRecord{}, fmt.Errorf("%w: %s", ErrBacktestNotFound, id)
	}

	snap, err := s.Close()
	if err != nil && snap.Record.ID == "" {
		return storage.RunRecord{}, err
	}
	snap.Record.Trades = uint64(len(snap.Trades))
	snap.Record.Live = len(snap.Live)

	if m.store != nil {
		start := time.Now()
		if aerr := m.store.SaveRun(snap.Record, snap.Trades, snap.Live); aerr != nil {
			m.log.Errorw("archive_failed", "backtest", id, "err", aerr)
			return snap.Record, errors.Join(err, aerr)
		}
		m.log.Infow("backtest_archived", "backtest", id, "trades", len(snap.Trades), "elapsed_ms", time.Since(start).Milliseconds())
	}
	return snap.Record, err
}

// CloseAll closes every live backtest. Used on shutdown.
func (m *Manager) CloseAll() error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if _, err := m.Close(id); err != nil && !errors.Is(err, ErrBacktestNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Archived reads a closed backtest back from the store
func (m *Manager) Archived(id string) (storage.RunRecord, error) {
	if m.store == nil {
		return storage.RunRecord{}, ErrStoreDisabled
	}
	return m.store.LoadRun(id)
}

// ArchivedTrades reads archived trades with id >= from
func (m *Manager) ArchivedTrades(id string, from uint64) ([]ledger.Trade, error) {
	if m.store == nil {
		return nil, ErrStoreDisabled
	}
	return m.store.LoadRunTrades(id, from)
}

// ArchivedRuns lists closed backtests, most recently closed first
func (m *Manager) ArchivedRuns() ([]storage.RunRecord, error) {
	if m.store == nil {
		return nil, ErrStoreDisabled
	}
	return m.store.ListRuns()
}

// Datasets lists the quote datasets available as sources
func (m *Manager) Datasets() ([]storage.DatasetMeta, error) {
	if m.store == nil {
		return nil, ErrStoreDisabled
	}
	return m.store.ListDatasets()
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
