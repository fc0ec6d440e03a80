// Package httpserver exposes the router's operator operations over HTTP.
package httpserver

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/multibroker/internal/app/router"
	"github.com/coachpo/multibroker/internal/domain/schema"
	"github.com/coachpo/multibroker/internal/infra/symbols"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	healthPath         = "/health"
	ordersPath         = "/orders"
	ordersCancelPath   = "/orders/cancel"
	ordersModifyPath   = "/orders/modify"
	positionsPath      = "/positions"
	positionsClosePath = "/positions/close"
	holdingsPath       = "/holdings"
	summaryPath        = "/summary"
	symbolsPath        = "/symbols"
	symbolsRefreshPath = "/symbols/refresh"
)

// Router is the operation surface the handlers call.
type Router interface {
	Place(ctx context.Context, tag string, ins schema.Instruction) schema.DispatchAggregate
	CancelOrders(ctx context.Context, refs []router.OrderRef) schema.DispatchAggregate
	Modify(ctx context.Context, reqs []router.ModifyRequest) schema.DispatchAggregate
	ClosePositions(ctx context.Context, reqs []router.CloseRequest) schema.DispatchAggregate
	ListOrders(ctx context.Context) (router.OrdersView, error)
	ListPositions(ctx context.Context) (router.PositionsView, error)
	Holdings(ctx context.Context) (router.HoldingsView, error)
	Summary(ctx context.Context) ([]schema.SummaryRow, []router.AccountError, error)
}

// SymbolIndex backs symbol search and refresh. Either method set may be absent.
type SymbolIndex interface {
	Search(ctx context.Context, q, exchange string) ([]symbols.Match, error)
}

// Options wire the handler.
type Options struct {
	Router  Router
	Symbols SymbolIndex
	// Refresh reloads the symbol master; nil disables the endpoint.
	Refresh func(ctx context.Context) (int, error)
	Logger  *log.Logger
}

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	router  Router
	symbols SymbolIndex
	refresh func(ctx context.Context) (int, error)
	logger  *log.Logger
}

// placeRequest is one instruction plus its result tag. Symbol, when set, is
// the pipe form EXCHANGE|SYMBOL|SECURITY_ID|SYMBOL_TOKEN and fills Instrument.
type placeRequest struct {
	Tag    string `json:"tag"`
	Symbol string `json:"symbol"`
	schema.Instruction
}

type cancelPayload struct {
	Orders []router.OrderRef `json:"orders"`
}

type modifyPayload struct {
	Orders []router.ModifyRequest `json:"orders"`
}

type closePayload struct {
	Positions []router.CloseRequest `json:"positions"`
}

// NewHandler creates the HTTP handler.
func NewHandler(opts Options) http.Handler {
	server := &httpServer{router: opts.Router, symbols: opts.Symbols, refresh: opts.Refresh, logger: opts.Logger}
	mux := http.NewServeMux()

	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))
	mux.Handle(ordersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.listOrders,
		http.MethodPost: server.placeOrder,
	}))
	mux.Handle(ordersCancelPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.cancelOrders,
	}))
	mux.Handle(ordersModifyPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.modifyOrders,
	}))
	mux.Handle(positionsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listPositions,
	}))
	mux.Handle(positionsClosePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.closePositions,
	}))
	mux.Handle(holdingsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.holdings,
	}))
	mux.Handle(summaryPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.summary,
	}))
	mux.Handle(symbolsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.searchSymbols,
	}))
	mux.Handle(symbolsRefreshPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.refreshSymbols,
	}))

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *httpServer) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ins := req.Instruction
	if symbol := strings.TrimSpace(req.Symbol); symbol != "" {
		ins.Instrument = schema.ParseInstrumentRef(symbol)
	}
	if ins.Instrument.Symbol == "" && ins.Instrument.SecurityID == "" {
		writeError(w, http.StatusBadRequest, "instrument required")
		return
	}
	if len(ins.Targets.Accounts) == 0 && len(ins.Targets.Groups) == 0 {
		writeError(w, http.StatusBadRequest, "targets required")
		return
	}
	writeJSON(w, http.StatusOK, s.router.Place(r.Context(), req.Tag, ins))
}

func (s *httpServer) cancelOrders(w http.ResponseWriter, r *http.Request) {
	var payload cancelPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	writeJSON(w, http.StatusOK, s.router.CancelOrders(r.Context(), payload.Orders))
}

func (s *httpServer) modifyOrders(w http.ResponseWriter, r *http.Request) {
	var payload modifyPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	writeJSON(w, http.StatusOK, s.router.Modify(r.Context(), payload.Orders))
}

func (s *httpServer) closePositions(w http.ResponseWriter, r *http.Request) {
	var payload closePayload
	if !decodeBody(w, r, &payload) {
		return
	}
	writeJSON(w, http.StatusOK, s.router.ClosePositions(r.Context(), payload.Positions))
}

func (s *httpServer) listOrders(w http.ResponseWriter, r *http.Request) {
	view, err := s.router.ListOrders(r.Context())
	s.writeView(w, view, err)
}

func (s *httpServer) listPositions(w http.ResponseWriter, r *http.Request) {
	view, err := s.router.ListPositions(r.Context())
	s.writeView(w, view, err)
}

func (s *httpServer) holdings(w http.ResponseWriter, r *http.Request) {
	view, err := s.router.Holdings(r.Context())
	s.writeView(w, view, err)
}

func (s *httpServer) summary(w http.ResponseWriter, r *http.Request) {
	rows, failures, err := s.router.Summary(r.Context())
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	if rows == nil {
		rows = []schema.SummaryRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": rows, "errors": failures})
}

func (s *httpServer) searchSymbols(w http.ResponseWriter, r *http.Request) {
	if s.symbols == nil {
		writeError(w, http.StatusServiceUnavailable, "symbol master unavailable")
		return
	}
	q := r.URL.Query()
	matches, err := s.symbols.Search(r.Context(), q.Get("q"), q.Get("exchange"))
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": matches})
}

func (s *httpServer) refreshSymbols(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "symbol refresh unavailable")
		return
	}
	n, err := s.refresh(r.Context())
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "imported": n})
}

func (s *httpServer) writeView(w http.ResponseWriter, view any, err error) {
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *httpServer) writeInternal(w http.ResponseWriter, err error) {
	if s.logger != nil {
		s.logger.Printf("request failed: %v", err)
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	limitRequestBody(w, r)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeDecodeError(w, err)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeDecodeError(w, err)
		return false
	}
	return true
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
