package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/uhyunpark/tickex/pkg/app/core/ledger"
	"github.com/uhyunpark/tickex/pkg/app/core/market"
	"github.com/uhyunpark/tickex/pkg/app/core/orderbook"
)

var (
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrRunNotFound     = errors.New("run not found")
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

// NewMemPebbleStore keeps everything in memory. Used by tests.
func NewMemPebbleStore() (*PebbleStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) getJSON(key []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// ============================================================================
// Datasets
// ============================================================================

// DatasetMeta describes an imported quote stream
type DatasetMeta struct {
	Name      string        `json:"name"`
	Start     time.Time     `json:"start"`
	Frequency time.Duration `json:"frequency"`
	Symbols   []string      `json:"symbols"`
	Ticks     int           `json:"ticks"`
	Quotes    int           `json:"quotes"`
}

// SaveDataset groups quotes by tick and writes them in one batch, replacing any
// dataset of the same name. Quotes go through the same checks as an in-memory
// source, so a dataset that saves is a dataset that replays.
func (s *PebbleStore) SaveDataset(name string, start time.Time, freq time.Duration, quotes []market.Quote) (DatasetMeta, error) {
	if err := checkName("dataset", name); err != nil {
		return DatasetMeta{}, err
	}
	src, err := market.NewSliceSource(start, freq, quotes)
	if err != nil {
		return DatasetMeta{}, fmt.Errorf("dataset %s: %w", name, err)
	}

	meta := DatasetMeta{
		Name:      name,
		Start:     start.UTC(),
		Frequency: freq,
		Symbols:   src.Symbols(),
		Ticks:     src.Len(),
		Quotes:    len(quotes),
	}

	b := s.db.NewBatch()
	defer b.Close()

	prefix := datasetPrefix(name)
	if err := b.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
		return DatasetMeta{}, err
	}
	for tick := 0; tick < src.Len(); tick++ {
		batch, err := src.Batch(context.Background(), uint64(tick))
		if err != nil {
			return DatasetMeta{}, err
		}
		val, err := encodeGob(batch)
		if err != nil {
			return DatasetMeta{}, fmt.Errorf("encode tick %d: %w", tick, err)
		}
		if err := b.Set(datasetTickKey(name, uint64(tick)), val, nil); err != nil {
			return DatasetMeta{}, err
		}
	}
	header, err := json.Marshal(meta)
	if err != nil {
		return DatasetMeta{}, fmt.Errorf("failed to marshal dataset meta: %w", err)
	}
	if err := b.Set(datasetIndexKey(name), header, nil); err != nil {
		return DatasetMeta{}, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return DatasetMeta{}, fmt.Errorf("failed to save dataset: %w", err)
	}
	return meta, nil
}

func (s *PebbleStore) LoadDatasetMeta(name string) (DatasetMeta, error) {
	var meta DatasetMeta
	ok, err := s.getJSON(datasetIndexKey(name), &meta)
	if err != nil {
		return DatasetMeta{}, err
	}
	if !ok {
		return DatasetMeta{}, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
	}
	return meta, nil
}

// ListDatasets returns every dataset header, ordered by name
func (s *PebbleStore) ListDatasets() ([]DatasetMeta, error) {
	prefix := []byte(prefixDatasetIdx)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []DatasetMeta
	for iter.First(); iter.Valid(); iter.Next() {
		var meta DatasetMeta
		if err := json.Unmarshal(iter.Value(), &meta); err != nil {
			continue // Skip invalid entries
		}
		out = append(out, meta)
	}
	return out, iter.Error()
}

// DatasetSource replays a stored dataset. Batches are read from Pebble on
// demand, so the store must stay open for the life of the source.
type DatasetSource struct {
	store *PebbleStore
	meta  DatasetMeta
}

func (s *PebbleStore) DatasetSource(name string) (*DatasetSource, error) {
	meta, err := s.LoadDatasetMeta(name)
	if err != nil {
		return nil, err
	}
	return &DatasetSource{store: s, meta: meta}, nil
}

func (d *DatasetSource) Meta() DatasetMeta        { return d.meta }
func (d *DatasetSource) Symbols() []string        { return append([]string(nil), d.meta.Symbols...) }
func (d *DatasetSource) Start() time.Time         { return d.meta.Start }
func (d *DatasetSource) Frequency() time.Duration { return d.meta.Frequency }
func (d *DatasetSource) Len() int                 { return d.meta.Ticks }

func (d *DatasetSource) Batch(ctx context.Context, tick uint64) ([]market.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tick >= uint64(d.meta.Ticks) {
		return nil, fmt.Errorf("tick %d out of range (len %d)", tick, d.meta.Ticks)
	}
	val, closer, err := d.store.db.Get(datasetTickKey(d.meta.Name, tick))
	if err == pebble.ErrNotFound {
		return nil, fmt.Errorf("dataset %s missing tick %d", d.meta.Name, tick)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var batch []market.Quote
	if err := decodeGob(val, &batch); err != nil {
		return nil, fmt.Errorf("decode %s tick %d: %w", d.meta.Name, tick, err)
	}
	return batch, nil
}

var _ market.Source = (*DatasetSource)(nil)

// ============================================================================
// Run archives
// ============================================================================

// RunRecord is the header of an archived backtest
type RunRecord struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Kind        string    `json:"kind"`
	NumericMode string    `json:"numericMode"`
	Policy      string    `json:"marketPolicy"`
	CreatedAt   time.Time `json:"createdAt"`
	ClosedAt    time.Time `json:"closedAt"`
	Ticks       uint64    `json:"ticks"`
	Trades      uint64    `json:"trades"`
	Live        int       `json:"live"`
	Subscribers int       `json:"subscribers"`
	StateHash   string    `json:"stateHash"`
}

// SaveRun writes the run header, its full trade ledger and the orders still
// live at close in one batch.
func (s *PebbleStore) SaveRun(rec RunRecord, trades []ledger.Trade, live []orderbook.Order) error {
	if err := checkName("run", rec.ID); err != nil {
		return err
	}
	rec.Trades = uint64(len(trades))
	rec.Live = len(live)

	b := s.db.NewBatch()
	defer b.Close()

	for _, tr := range trades {
		data, err := json.Marshal(tr)
		if err != nil {
			return fmt.Errorf("failed to marshal trade: %w", err)
		}
		if err := b.Set(runTradeKey(rec.ID, tr.TradeID), data, nil); err != nil {
			return err
		}
	}
	for _, o := range live {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal order: %w", err)
		}
		if err := b.Set(runOrderKey(rec.ID, o.ID), data, nil); err != nil {
			return err
		}
	}
	header, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	if err := b.Set(runIndexKey(rec.ID), header, nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *PebbleStore) LoadRun(id string) (RunRecord, error) {
	var rec RunRecord
	ok, err := s.getJSON(runIndexKey(id), &rec)
	if err != nil {
		return RunRecord{}, err
	}
	if !ok {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return rec, nil
}

// ListRuns returns every archived run, most recently closed first
func (s *PebbleStore) ListRuns() ([]RunRecord, error) {
	prefix := []byte(prefixRunIdx)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []RunRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec RunRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ClosedAt.After(out[j].ClosedAt) })
	return out, iter.Error()
}

// LoadRunTrades returns archived trades with id >= from, in ledger order
func (s *PebbleStore) LoadRunTrades(id string, from uint64) ([]ledger.Trade, error) {
	prefix := runTradePrefix(id)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: runTradeKey(id, from),
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	trades := []ledger.Trade{}
	for iter.First(); iter.Valid(); iter.Next() {
		var tr ledger.Trade
		if err := json.Unmarshal(iter.Value(), &tr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade: %w", err)
		}
		trades = append(trades, tr)
	}
	return trades, iter.Error()
}

// LoadRunOrders returns the orders that were still live when the run closed
func (s *PebbleStore) LoadRunOrders(id string) ([]orderbook.Order, error) {
	prefix := runOrderPrefix(id)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	orders := []orderbook.Order{}
	for iter.First(); iter.Valid(); iter.Next() {
		var o orderbook.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, iter.Error()
}
