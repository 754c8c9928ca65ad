// Package api provides HTTP and WebSocket API endpoints for the pricefeed engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/feedforge/pricefeed/pkg/engine"
	"github.com/feedforge/pricefeed/pkg/logging"
	"github.com/feedforge/pricefeed/pkg/metrics"
)

// SourceHeader carries the caller's authenticated identity. The surrounding
// transport is trusted to have authenticated it.
const SourceHeader = "X-Source"

// Server represents the HTTP API server.
type Server struct {
	addr   string
	engine *engine.Engine
	server *http.Server
	logger *logging.Logger
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, eng *engine.Engine, logger *logging.Logger) *Server {
	return &Server{
		addr:   addr,
		engine: eng,
		logger: logger,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/height", s.handleHeight)
	mux.HandleFunc("POST /v1/quotes", s.handleSubmit)
	mux.HandleFunc("GET /v1/quotes/{asset}/{source}", s.handleSourceQuote)
	mux.HandleFunc("GET /v1/prices/{asset}", s.handlePrice)
	mux.HandleFunc("GET /v1/prices/{asset}/data", s.handlePriceData)
	mux.HandleFunc("GET /v1/prices/{asset}/fresh", s.handlePriceFresh)
	mux.HandleFunc("GET /v1/convert", s.handleConvert)
	mux.HandleFunc("POST /v1/admin/sources/{source}/authorize", s.handleAuthorize)
	mux.HandleFunc("POST /v1/admin/sources/{source}/deauthorize", s.handleDeauthorize)
	mux.HandleFunc("POST /v1/admin/params", s.handleSetParams)
	mux.HandleFunc("POST /v1/admin/quotes/{asset}/{source}/pause", s.handlePause)
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

// caller extracts the authenticated source identity from the request.
func caller(r *http.Request) engine.Source {
	return engine.Source(r.Header.Get(SourceHeader))
}

// submitRequest is the body of POST /v1/quotes.
type submitRequest struct {
	Asset  string `json:"asset"`
	Price  string `json:"price"`
	Weight int64  `json:"weight"`
}

// paramsRequest is the body of POST /v1/admin/params. Absent fields are left
// unchanged.
type paramsRequest struct {
	MinSources         *int    `json:"min_sources,omitempty"`
	StalenessThreshold *uint64 `json:"staleness_threshold,omitempty"`
}

type quoteResponse struct {
	Price  string `json:"price"`
	Weight int64  `json:"weight"`
	Height uint64 `json:"height"`
	Active bool   `json:"active"`
}

type priceDataResponse struct {
	Asset            string `json:"asset"`
	Price            string `json:"price"`
	LastUpdateHeight uint64 `json:"last_update_height"`
	SourceCount      int    `json:"source_count"`
}

// handleHealth handles /health endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPRequest("/health", "200", time.Since(start))
	}()

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleHeight reports the engine's current clock height.
func (s *Server) handleHeight(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, map[string]uint64{"height": s.engine.Height()})
}

// handleSubmit handles POST /v1/quotes.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/quotes", status, time.Since(start))
	}()

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = "400"
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		status = "400"
		s.sendError(w, http.StatusBadRequest, "invalid price")
		return
	}

	if err := s.engine.Submit(caller(r), req.Asset, price, req.Weight); err != nil {
		status = s.sendEngineError(w, err)
		return
	}

	s.sendJSON(w, map[string]string{"asset": req.Asset})
}

// handlePrice handles GET /v1/prices/{asset}.
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/prices", status, time.Since(start))
	}()

	asset := r.PathValue("asset")
	price, err := s.engine.GetPrice(asset)
	if err != nil {
		status = s.sendEngineError(w, err)
		return
	}

	s.sendJSON(w, map[string]string{"asset": asset, "price": price.String()})
}

// handlePriceData handles GET /v1/prices/{asset}/data.
func (s *Server) handlePriceData(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	agg, ok := s.engine.GetPriceData(asset)
	if !ok {
		s.sendError(w, http.StatusNotFound, "no aggregate for asset "+asset)
		return
	}

	s.sendJSON(w, priceDataResponse{
		Asset:            asset,
		Price:            agg.Price.String(),
		LastUpdateHeight: agg.LastUpdateHeight,
		SourceCount:      agg.SourceCount,
	})
}

// handlePriceFresh handles GET /v1/prices/{asset}/fresh.
func (s *Server) handlePriceFresh(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	s.sendJSON(w, map[string]bool{"fresh": s.engine.IsPriceFresh(asset)})
}

// handleSourceQuote handles GET /v1/quotes/{asset}/{source}.
func (s *Server) handleSourceQuote(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	source := engine.Source(r.PathValue("source"))

	q, ok := s.engine.GetSourceQuote(asset, source)
	if !ok {
		s.sendError(w, http.StatusNotFound, "no quote for asset "+asset+" from source "+string(source))
		return
	}

	s.sendJSON(w, quoteResponse{
		Price:  q.Price.String(),
		Weight: q.Weight,
		Height: q.Height,
		Active: q.Active,
	})
}

// handleConvert handles GET /v1/convert?from=A&to=B&amount=N.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/convert", status, time.Since(start))
	}()

	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	amountStr := r.URL.Query().Get("amount")

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		status = "400"
		s.sendError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	result, err := s.engine.Convert(from, to, amount)
	if err != nil {
		status = s.sendEngineError(w, err)
		return
	}

	s.sendJSON(w, map[string]string{
		"from":   from,
		"to":     to,
		"amount": result.String(),
	})
}

// handleAuthorize handles POST /v1/admin/sources/{source}/authorize.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	source := engine.Source(r.PathValue("source"))
	if err := s.engine.AuthorizeSource(caller(r), source); err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, map[string]string{"source": string(source), "status": "authorized"})
}

// handleDeauthorize handles POST /v1/admin/sources/{source}/deauthorize.
func (s *Server) handleDeauthorize(w http.ResponseWriter, r *http.Request) {
	source := engine.Source(r.PathValue("source"))
	if err := s.engine.DeauthorizeSource(caller(r), source); err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, map[string]string{"source": string(source), "status": "deauthorized"})
}

// handleSetParams handles POST /v1/admin/params.
func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	var req paramsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	who := caller(r)
	if req.MinSources != nil {
		if err := s.engine.SetMinSources(who, *req.MinSources); err != nil {
			s.sendEngineError(w, err)
			return
		}
	}
	if req.StalenessThreshold != nil {
		if err := s.engine.SetStalenessThreshold(who, *req.StalenessThreshold); err != nil {
			s.sendEngineError(w, err)
			return
		}
	}

	p := s.engine.Params()
	s.sendJSON(w, map[string]interface{}{
		"min_sources":         p.MinSources,
		"staleness_threshold": p.StalenessThreshold,
	})
}

// handlePause handles POST /v1/admin/quotes/{asset}/{source}/pause.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	source := engine.Source(r.PathValue("source"))

	if err := s.engine.PauseSource(caller(r), asset, source); err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, map[string]string{"asset": asset, "source": string(source), "status": "paused"})
}

// sendEngineError maps engine error kinds to HTTP status codes and returns
// the status string for metrics.
func (s *Server) sendEngineError(w http.ResponseWriter, err error) string {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNotAuthorized):
		code = http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidPrice),
		errors.Is(err, engine.ErrInvalidAsset),
		errors.Is(err, engine.ErrInvalidSource):
		code = http.StatusBadRequest
	case errors.Is(err, engine.ErrSourceNotFound):
		code = http.StatusNotFound
	case errors.Is(err, engine.ErrStalePrice):
		code = http.StatusGone
	case errors.Is(err, engine.ErrInsufficientSources):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrAlreadyExists):
		code = http.StatusConflict
	}
	s.sendError(w, code, err.Error())
	return strconv.Itoa(code)
}

func (s *Server) sendError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		s.logger.Error("Failed to encode error response", "error", err)
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
