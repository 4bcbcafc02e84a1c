package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickex/pkg/app/backtest"
	"github.com/uhyunpark/tickex/pkg/app/core/ledger"
	"github.com/uhyunpark/tickex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tickex/pkg/app/core/subscriber"
	"github.com/uhyunpark/tickex/pkg/app/exchange"
	"github.com/uhyunpark/tickex/pkg/storage"
)

// Server handles REST API and WebSocket connections
type Server struct {
	mgr     *backtest.Manager
	router  *mux.Router
	hub     *Hub // WebSocket hub
	origins []string
	log     *zap.SugaredLogger
}

// NewServer creates a new API server. The hub must also be wired as a
// publisher of mgr for WebSocket clients to receive ticks.
func NewServer(mgr *backtest.Manager, hub *Hub, origins []string, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		mgr:     mgr,
		router:  mux.NewRouter(),
		hub:     hub,
		origins: origins,
		log:     logger.Named("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Backtest lifecycle
	api.HandleFunc("/backtests", s.handleCreateBacktest).Methods("POST")
	api.HandleFunc("/backtests", s.handleListBacktests).Methods("GET")
	api.HandleFunc("/backtests/{id}", s.handleGetBacktest).Methods("GET")
	api.HandleFunc("/backtests/{id}", s.handleCloseBacktest).Methods("DELETE")
	api.HandleFunc("/backtests/{id}/init", s.handleInit).Methods("POST")
	api.HandleFunc("/backtests/{id}/subscribers", s.handleRegister).Methods("POST")
	api.HandleFunc("/backtests/{id}/subscribers", s.handleListSubscribers).Methods("GET")

	// Orders
	api.HandleFunc("/backtests/{id}/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/backtests/{id}/orders", s.handleRestingOrders).Methods("GET")
	api.HandleFunc("/backtests/{id}/orders/{orderId}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/backtests/{id}/orders/{orderId}", s.handleCancelOrder).Methods("DELETE")

	// Clock and market data
	api.HandleFunc("/backtests/{id}/tick", s.handleTick).Methods("POST")
	api.HandleFunc("/backtests/{id}/play", s.handlePlay).Methods("POST")
	api.HandleFunc("/backtests/{id}/quotes", s.handleQuotes).Methods("GET")
	api.HandleFunc("/backtests/{id}/trades", s.handleTrades).Methods("GET")
	api.HandleFunc("/backtests/{id}/poll", s.handlePoll).Methods("GET")
	api.HandleFunc("/backtests/{id}/book/{symbol}", s.handleBook).Methods("GET")
	api.HandleFunc("/backtests/{id}/hash", s.handleStateHash).Methods("GET")

	// Archive and datasets
	api.HandleFunc("/archive", s.handleListArchived).Methods("GET")
	api.HandleFunc("/archive/{id}", s.handleGetArchived).Methods("GET")
	api.HandleFunc("/archive/{id}/trades", s.handleArchivedTrades).Methods("GET")
	api.HandleFunc("/datasets", s.handleListDatasets).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Serve listens on addr until ctx ends, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("server_starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Infow("server_stopped", "addr", addr)
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleCreateBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtest.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	sess, err := s.mgr.Create(req)
	if err != nil {
		s.respondErr(w, err, http.StatusBadRequest)
		return
	}
	respondJSONStatus(w, http.StatusCreated, CreateBacktestResponse{BacktestID: sess.ID()})
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.mgr.List())
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, sess.Info())
}

func (s *Server) handleCloseBacktest(w http.ResponseWriter, r *http.Request) {
	rec, err := s.mgr.Close(mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, rec)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	msg, err := sess.Init(r.Context())
	if err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, msg)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sub, err := sess.RegisterSource()
	if err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSONStatus(w, http.StatusCreated, sub)
}

func (s *Server) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, sess.Subscribers())
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req SubmitOrderRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	o, err := orderbook.ParseOrder(req.Type, req.Symbol, req.Shares, req.Price)
	if err != nil {
		s.respondErr(w, err, http.StatusBadRequest)
		return
	}

	id, err := sess.InsertOrder(req.Subscriber, o)
	if err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	s.log.Debugw("order_submitted", "backtest", sess.ID(), "order", id, "type", o.Type.String(), "symbol", o.Symbol)
	respondJSONStatus(w, http.StatusCreated, SubmitOrderResponse{OrderID: id})
}

func (s *Server) handleRestingOrders(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, sess.Resting())
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, ok := pathUint(w, r, "orderId")
	if !ok {
		return
	}
	st, err := sess.OrderStatus(id)
	if err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, st)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, ok := pathUint(w, r, "orderId")
	if !ok {
		return
	}
	if err := sess.DeleteOrder(id); err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req SubscriberRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	res, err := sess.Tick(r.Context(), req.Subscriber)
	if err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, res)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req PlayRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if req.Stop {
		sess.StopPlay()
		respondJSON(w, PlayResponse{Playing: false})
		return
	}

	// autoplay outlives the request that started it
	ctx := context.WithoutCancel(r.Context())
	if _, err := sess.Play(ctx, req.Subscriber, time.Duration(req.IntervalMs)*time.Millisecond); err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSONStatus(w, http.StatusAccepted, PlayResponse{Playing: true})
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, QuotesResponse{Quotes: sess.FetchQuotes()})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	from, ok := queryUint(w, r, "from")
	if !ok {
		return
	}
	limit, ok := queryUint(w, r, "limit")
	if !ok {
		return
	}

	trades := ledger.Limit(sess.FetchTrades(from), int(limit))
	respondJSON(w, tradesResponse(from, trades))
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sub, ok := queryUint(w, r, "subscriber")
	if !ok {
		return
	}
	limit, ok := queryUint(w, r, "limit")
	if !ok {
		return
	}
	trades, from, err := sess.Poll(sub, int(limit))
	if err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, tradesResponse(from, trades))
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	view, err := sess.Book(mux.Vars(r)["symbol"])
	if err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, view)
}

func (s *Server) handleStateHash(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, StateHashResponse{
		Tick:      sess.Info().Clock.Tick,
		StateHash: sess.StateHash().Hex(),
	})
}

func (s *Server) handleListArchived(w http.ResponseWriter, r *http.Request) {
	runs, err := s.mgr.ArchivedRuns()
	if err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, runs)
}

func (s *Server) handleGetArchived(w http.ResponseWriter, r *http.Request) {
	rec, err := s.mgr.Archived(mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, rec)
}

func (s *Server) handleArchivedTrades(w http.ResponseWriter, r *http.Request) {
	from, ok := queryUint(w, r, "from")
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.mgr.Archived(id); err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	trades, err := s.mgr.ArchivedTrades(id, from)
	if err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, tradesResponse(from, trades))
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	sets, err := s.mgr.Datasets()
	if err != nil {
		s.respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, sets)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"status":    "ok",
		"backtests": s.mgr.Count(),
		"wsClients": s.hub.Clients(),
	})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*backtest.Session, bool) {
	sess, err := s.mgr.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, err, http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// errorStatus maps domain errors to an HTTP status and a stable error code
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{backtest.ErrBacktestNotFound, http.StatusNotFound, "backtest_not_found"},
	{orderbook.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{exchange.ErrUnknownSymbol, http.StatusNotFound, "unknown_symbol"},
	{storage.ErrRunNotFound, http.StatusNotFound, "run_not_found"},
	{storage.ErrDatasetNotFound, http.StatusNotFound, "dataset_not_found"},
	{orderbook.ErrInvalidOrder, http.StatusBadRequest, "invalid_order"},
	{subscriber.ErrUnknownSubscriber, http.StatusForbidden, "unknown_subscriber"},
	{exchange.ErrNotInitialized, http.StatusConflict, "not_initialized"},
	{exchange.ErrAlreadyInitialized, http.StatusConflict, "already_initialized"},
	{orderbook.ErrNoQuoteAvailable, http.StatusConflict, "no_quote_available"},
	{backtest.ErrAlreadyPlaying, http.StatusConflict, "already_playing"},
	{backtest.ErrSessionClosed, http.StatusGone, "backtest_closed"},
	{exchange.ErrClosed, http.StatusGone, "backtest_closed"},
	{exchange.ErrSource, http.StatusBadGateway, "source_failed"},
	{backtest.ErrStoreDisabled, http.StatusNotImplemented, "storage_disabled"},
}

// respondErr writes err with its mapped status, or fallback when it is not a known domain error
func (s *Server) respondErr(w http.ResponseWriter, err error, fallback int) {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			respondError(w, m.status, m.code, err.Error())
			return
		}
	}
	if fallback >= http.StatusInternalServerError {
		s.log.Errorw("request_failed", "err", err)
	}
	respondError(w, fallback, http.StatusText(fallback), err.Error())
}

func tradesResponse(from uint64, trades []ledger.Trade) TradesResponse {
	next := from
	if len(trades) > 0 {
		next = trades[len(trades)-1].TradeID + 1
	}
	return TradesResponse{From: from, Next: next, Trades: trades}
}

// decodeBody decodes a JSON body, treating an empty body as the zero value
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func pathUint(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	raw := mux.Vars(r)[name]
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name, err.Error())
		return 0, false
	}
	return v, true
}

func queryUint(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name, err.Error())
		return 0, false
	}
	return v, true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
