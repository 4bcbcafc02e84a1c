package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tickex/pkg/app/core/ledger"
	"github.com/uhyunpark/tickex/pkg/app/core/orderbook"
)

type mockWriter struct {
	mu         sync.Mutex
	messages   []kafka.Message
	shouldFail bool
	closed     bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFail {
		return errors.New("kafka error")
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	w := &mockWriter{}
	p := NewKafkaPublisherWithWriter(w, "backtests")

	ev := Event{
		BacktestID: "bt-1",
		Kind:       KindTick,
		Tick:       4,
		HasNext:    true,
		Trades: []ledger.Trade{{
			TradeID:   0,
			OrderID:   1,
			Symbol:    "ABC",
			OrderType: orderbook.MarketBuy,
			Price:     decimal.RequireFromString("50"),
			Shares:    decimal.RequireFromString("100"),
			TickIndex: 4,
		}},
	}
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "bt-1", string(msg.Key))
	assert.Equal(t, []kafka.Header{
		{Key: "kind", Value: []byte("tick")},
		{Key: "tick", Value: []byte("4")},
	}, msg.Headers)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "bt-1", got["backtestId"])
	trades := got["trades"].([]any)
	require.Len(t, trades, 1)
	tr := trades[0].(map[string]any)
	assert.Equal(t, "MarketBuy", tr["orderType"])
	assert.Equal(t, "50", tr["price"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	p := NewKafkaPublisherWithWriter(&mockWriter{shouldFail: true}, "backtests")
	err := p.Publish(context.Background(), Event{BacktestID: "bt-2", Kind: KindTick, Tick: 9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bt-2 tick 9")
}

type countingPublisher struct {
	n   int
	err error
}

func (c *countingPublisher) Publish(context.Context, Event) error { c.n++; return c.err }
func (c *countingPublisher) Close() error                         { return c.err }

func TestMultiPublishesToAll(t *testing.T) {
	boom := errors.New("boom")
	a := &countingPublisher{}
	b := &countingPublisher{err: boom}
	m := Multi{a, b, Nop{}}

	err := m.Publish(context.Background(), Event{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
	assert.ErrorIs(t, m.Close(), boom)
}
