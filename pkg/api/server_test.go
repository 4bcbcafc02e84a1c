package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tickex/pkg/app/backtest"
	"github.com/uhyunpark/tickex/pkg/app/core/market"
	"github.com/uhyunpark/tickex/pkg/storage"
)

var testStart = time.Unix(1_700_000_000, 0).UTC()

func q(tick uint64, sym, bid, ask string) market.Quote {
	return market.Quote{
		Symbol:    sym,
		Bid:       decimal.RequireFromString(bid),
		Ask:       decimal.RequireFromString(ask),
		TickIndex: tick,
	}
}

type testEnv struct {
	srv *httptest.Server
	hub *Hub
	mgr *backtest.Manager
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	store, err := storage.NewMemPebbleStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.SaveDataset("scenario", testStart, time.Minute, []market.Quote{
		q(0, "ABC", "49.5", "50.0"),
		q(1, "ABC", "48.5", "49.0"),
		q(2, "ABC", "51.0", "51.5"),
	})
	require.NoError(t, err)

	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(func() { hub.Close() })

	mgr := backtest.NewManager(backtest.ManagerConfig{Synthetic: market.DefaultSyntheticConfig()}, store, backtest.Deps{Publisher: hub})
	t.Cleanup(func() { mgr.CloseAll() })

	s := NewServer(mgr, hub, []string{"*"}, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return testEnv{srv: srv, hub: hub, mgr: mgr}
}

func (e testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (e testEnv) decode(t *testing.T, method, path string, body any, wantStatus int, v any) {
	t.Helper()
	resp, raw := e.do(t, method, path, body)
	require.Equal(t, wantStatus, resp.StatusCode, string(raw))
	if v != nil {
		require.NoError(t, json.Unmarshal(raw, v), string(raw))
	}
}

func (e testEnv) errorCode(t *testing.T, method, path string, body any, wantStatus int) string {
	t.Helper()
	var er ErrorResponse
	e.decode(t, method, path, body, wantStatus, &er)
	return er.Error
}

// start creates an initialized backtest over the scenario dataset and registers one subscriber
func (e testEnv) start(t *testing.T) (string, uint64) {
	t.Helper()
	var created CreateBacktestResponse
	e.decode(t, "POST", "/api/v1/backtests", map[string]string{"source": "dataset", "dataset": "scenario"}, http.StatusCreated, &created)
	require.NotEmpty(t, created.BacktestID)

	e.decode(t, "POST", "/api/v1/backtests/"+created.BacktestID+"/init", nil, http.StatusOK, nil)

	var sub struct {
		ID uint64 `json:"subscriberId"`
	}
	e.decode(t, "POST", "/api/v1/backtests/"+created.BacktestID+"/subscribers", nil, http.StatusCreated, &sub)
	return created.BacktestID, sub.ID
}

type tradeJSON struct {
	TradeID   uint64 `json:"tradeId"`
	OrderID   uint64 `json:"orderId"`
	Symbol    string `json:"symbol"`
	OrderType string `json:"orderType"`
	Price     string `json:"price"`
	Shares    string `json:"shares"`
	Tick      uint64 `json:"tick"`
}

func TestBacktestFlow(t *testing.T) {
	env := newTestEnv(t)
	id, sub := env.start(t)
	base := "/api/v1/backtests/" + id
	assert.Equal(t, uint64(1), sub)

	var mkt SubmitOrderResponse
	env.decode(t, "POST", base+"/orders", SubmitOrderRequest{Subscriber: sub, Type: "MarketBuy", Symbol: "ABC", Shares: "100.0"}, http.StatusCreated, &mkt)
	var lim SubmitOrderResponse
	env.decode(t, "POST", base+"/orders", SubmitOrderRequest{Subscriber: sub, Type: "LimitBuy", Symbol: "ABC", Shares: "10", Price: "49"}, http.StatusCreated, &lim)
	assert.Equal(t, uint64(1), mkt.OrderID)
	assert.Equal(t, uint64(2), lim.OrderID)

	var status map[string]any
	env.decode(t, "GET", fmt.Sprintf("%s/orders/%d", base, mkt.OrderID), nil, http.StatusOK, &status)
	assert.Equal(t, "Queued", status["status"])

	var res struct {
		Tick    uint64      `json:"tick"`
		HasNext bool        `json:"hasNext"`
		Trades  []tradeJSON `json:"trades"`
	}
	env.decode(t, "POST", base+"/tick", SubscriberRequest{Subscriber: sub}, http.StatusOK, &res)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "50", res.Trades[0].Price)
	assert.Equal(t, "MarketBuy", res.Trades[0].OrderType)
	assert.True(t, res.HasNext)

	env.decode(t, "POST", base+"/tick", SubscriberRequest{Subscriber: sub}, http.StatusOK, &res)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, lim.OrderID, res.Trades[0].OrderID)
	assert.Equal(t, "49", res.Trades[0].Price)
	assert.Equal(t, uint64(1), res.Trades[0].Tick)

	var trades TradesResponse
	env.decode(t, "GET", base+"/trades?from=1", nil, http.StatusOK, &trades)
	assert.Len(t, trades.Trades, 1)
	assert.Equal(t, uint64(2), trades.Next)

	var polled TradesResponse
	env.decode(t, "GET", fmt.Sprintf("%s/poll?subscriber=%d", base, sub), nil, http.StatusOK, &polled)
	assert.Len(t, polled.Trades, 2)
	assert.Equal(t, uint64(0), polled.From)
	assert.Equal(t, uint64(2), polled.Next)
	// nothing new: the cursor comes back unchanged so following next never rereads
	env.decode(t, "GET", fmt.Sprintf("%s/poll?subscriber=%d", base, sub), nil, http.StatusOK, &polled)
	assert.Empty(t, polled.Trades)
	assert.Equal(t, uint64(2), polled.From)
	assert.Equal(t, uint64(2), polled.Next)

	var quotes QuotesResponse
	env.decode(t, "GET", base+"/quotes", nil, http.StatusOK, &quotes)
	require.Len(t, quotes.Quotes, 1)
	assert.True(t, quotes.Quotes[0].Ask.Equal(decimal.RequireFromString("49")))

	var book map[string]any
	env.decode(t, "GET", base+"/book/ABC", nil, http.StatusOK, &book)
	assert.Equal(t, "ABC", book["symbol"])

	var hash StateHashResponse
	env.decode(t, "GET", base+"/hash", nil, http.StatusOK, &hash)
	assert.Equal(t, uint64(2), hash.Tick)
	assert.True(t, strings.HasPrefix(hash.StateHash, "0x"))

	var rec storage.RunRecord
	env.decode(t, "DELETE", base, nil, http.StatusOK, &rec)
	assert.Equal(t, uint64(2), rec.Trades)
	assert.Equal(t, hash.StateHash, rec.StateHash)

	assert.Equal(t, "backtest_not_found", env.errorCode(t, "GET", base, nil, http.StatusNotFound))

	var archived TradesResponse
	env.decode(t, "GET", "/api/v1/archive/"+id+"/trades", nil, http.StatusOK, &archived)
	assert.Len(t, archived.Trades, 2)

	var runs []storage.RunRecord
	env.decode(t, "GET", "/api/v1/archive", nil, http.StatusOK, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	var created CreateBacktestResponse
	env.decode(t, "POST", "/api/v1/backtests", map[string]string{"source": "dataset", "dataset": "scenario"}, http.StatusCreated, &created)
	base := "/api/v1/backtests/" + created.BacktestID

	var sub struct {
		ID uint64 `json:"subscriberId"`
	}
	env.decode(t, "POST", base+"/subscribers", nil, http.StatusCreated, &sub)

	assert.Equal(t, "not_initialized", env.errorCode(t, "POST", base+"/tick", SubscriberRequest{Subscriber: sub.ID}, http.StatusConflict))
	env.decode(t, "POST", base+"/init", nil, http.StatusOK, nil)
	assert.Equal(t, "already_initialized", env.errorCode(t, "POST", base+"/init", nil, http.StatusConflict))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown backtest", "POST", "/api/v1/backtests/nope/tick", SubscriberRequest{Subscriber: 1}, http.StatusNotFound, "backtest_not_found"},
		{"unknown subscriber", "POST", base + "/tick", SubscriberRequest{Subscriber: 99}, http.StatusForbidden, "unknown_subscriber"},
		{"invalid order", "POST", base + "/orders", SubmitOrderRequest{Subscriber: sub.ID, Type: "LimitBuy", Symbol: "ABC", Shares: "1"}, http.StatusBadRequest, "invalid_order"},
		{"unknown order type", "POST", base + "/orders", SubmitOrderRequest{Subscriber: sub.ID, Type: "Iceberg", Symbol: "ABC", Shares: "1"}, http.StatusBadRequest, "invalid_order"},
		{"unknown symbol", "POST", base + "/orders", SubmitOrderRequest{Subscriber: sub.ID, Type: "MarketBuy", Symbol: "ZZZ", Shares: "1"}, http.StatusNotFound, "unknown_symbol"},
		{"unknown order", "DELETE", base + "/orders/77", nil, http.StatusNotFound, "order_not_found"},
		{"bad order id", "GET", base + "/orders/abc", nil, http.StatusBadRequest, "invalid orderId"},
		{"unknown book", "GET", base + "/book/ZZZ", nil, http.StatusNotFound, "unknown_symbol"},
		{"unknown dataset", "POST", "/api/v1/backtests", map[string]string{"source": "dataset", "dataset": "missing"}, http.StatusNotFound, "dataset_not_found"},
		{"bad kind", "POST", "/api/v1/backtests", map[string]string{"kind": "quantum"}, http.StatusBadRequest, "Bad Request"},
		{"unknown archive", "GET", "/api/v1/archive/nope", nil, http.StatusNotFound, "run_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, env.errorCode(t, tt.method, tt.path, tt.body, tt.status))
		})
	}
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv(t)
	id, sub := env.start(t)
	base := "/api/v1/backtests/" + id

	var placed SubmitOrderResponse
	env.decode(t, "POST", base+"/orders", SubmitOrderRequest{Subscriber: sub, Type: "LimitSell", Symbol: "ABC", Shares: "5", Price: "60"}, http.StatusCreated, &placed)

	var resting []map[string]any
	env.decode(t, "GET", base+"/orders", nil, http.StatusOK, &resting)
	assert.Len(t, resting, 1)

	resp, _ := env.do(t, "DELETE", fmt.Sprintf("%s/orders/%d", base, placed.OrderID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var status map[string]any
	env.decode(t, "GET", fmt.Sprintf("%s/orders/%d", base, placed.OrderID), nil, http.StatusOK, &status)
	assert.Equal(t, "Cancelled", status["status"])

	assert.Equal(t, "order_not_found", env.errorCode(t, "DELETE", fmt.Sprintf("%s/orders/%d", base, placed.OrderID), nil, http.StatusNotFound))
}

func TestWebSocketReceivesTicks(t *testing.T) {
	env := newTestEnv(t)
	id, sub := env.start(t)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws?channel=" + QuotesChannel(id)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{TradesChannel(id)}}))
	require.Eventually(t, func() bool { return env.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	// give the read pump a moment to apply the subscribe op
	time.Sleep(50 * time.Millisecond)

	env.decode(t, "POST", "/api/v1/backtests/"+id+"/orders", SubmitOrderRequest{Subscriber: sub, Type: "MarketSell", Symbol: "ABC", Shares: "1"}, http.StatusCreated, nil)
	env.decode(t, "POST", "/api/v1/backtests/"+id+"/tick", SubscriberRequest{Subscriber: sub}, http.StatusOK, nil)

	seen := map[string]bool{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(seen) < 2 {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, id, msg["backtestId"])
		seen[msg["type"].(string)] = true
	}
	assert.True(t, seen["quotes"])
	assert.True(t, seen["trades"])
}

func TestWebSocketReceivesImmediateFills(t *testing.T) {
	env := newTestEnv(t)

	var created CreateBacktestResponse
	env.decode(t, "POST", "/api/v1/backtests", map[string]string{"source": "dataset", "dataset": "scenario", "marketPolicy": "immediate"}, http.StatusCreated, &created)
	base := "/api/v1/backtests/" + created.BacktestID
	env.decode(t, "POST", base+"/init", nil, http.StatusOK, nil)
	var sub struct {
		ID uint64 `json:"subscriberId"`
	}
	env.decode(t, "POST", base+"/subscribers", nil, http.StatusCreated, &sub)
	env.decode(t, "POST", base+"/tick", SubscriberRequest{Subscriber: sub.ID}, http.StatusOK, nil)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws?channel=" + TradesChannel(created.BacktestID)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	var placed SubmitOrderResponse
	env.decode(t, "POST", base+"/orders", SubmitOrderRequest{Subscriber: sub.ID, Type: "MarketBuy", Symbol: "ABC", Shares: "3"}, http.StatusCreated, &placed)

	var msg struct {
		Type       string      `json:"type"`
		BacktestID string      `json:"backtestId"`
		Tick       uint64      `json:"tick"`
		Trades     []tradeJSON `json:"trades"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "trades", msg.Type)
	assert.Equal(t, created.BacktestID, msg.BacktestID)
	require.Len(t, msg.Trades, 1)
	assert.Equal(t, placed.OrderID, msg.Trades[0].OrderID)
	assert.Equal(t, "50", msg.Trades[0].Price)
	assert.Equal(t, uint64(0), msg.Trades[0].Tick)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	var body map[string]any
	env.decode(t, "GET", "/health", nil, http.StatusOK, &body)
	assert.Equal(t, "ok", body["status"])
}
