package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/uhyunpark/tickex/pkg/app/core/orderbook"
)

// Journal ops
const (
	OpCreate   = "create"
	OpInit     = "init"
	OpRegister = "register"
	OpInsert   = "insert"
	OpDelete   = "delete"
	OpTick     = "tick"
	OpClose    = "close"
)

// Entry is one accepted command against a backtest. Rejected commands are not journaled.
type Entry struct {
	At         time.Time        `json:"at"`
	BacktestID string           `json:"backtestId"`
	Op         string           `json:"op"`
	Subscriber uint64           `json:"subscriber,omitempty"`
	OrderID    uint64           `json:"orderId,omitempty"`
	Order      *orderbook.Order `json:"order,omitempty"`
	Tick       uint64           `json:"tick,omitempty"`
	Trades     int              `json:"trades,omitempty"`
}

// Journal records the command stream of every backtest, one JSON line per entry
type Journal interface {
	Append(e Entry) error
	Close() error
}

type NopJournal struct{}

func NewNopJournal() *NopJournal           { return &NopJournal{} }
func (j *NopJournal) Append(_ Entry) error { return nil }
func (j *NopJournal) Close() error         { return nil }

type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Append(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = fmt.Fprintln(j.f, string(line))
	return err
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// ReadJournal decodes a journal written by FileJournal
func ReadJournal(r io.Reader) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("journal line %d: %w", line, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

var _ Journal = (*NopJournal)(nil)
var _ Journal = (*FileJournal)(nil)
