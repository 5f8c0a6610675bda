// Package server exposes the HTTP trigger surface. POST /runs starts an
// extraction run and streams its progress as NDJSON lines; the remaining
// routes are read-only: stored claims, health and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/engine"
	"github.com/anibalchinley/extractor-proveedores/internal/scrape"
)

// Runner starts extraction runs. The engine admits one run at a time; a
// concurrent start reports engine.ErrBusy.
type Runner interface {
	Run(ctx context.Context, sink engine.Sink) (*engine.RunSummary, error)
}

// ClaimStore is the slice of the persistence layer the HTTP surface reads.
type ClaimStore interface {
	Ping(ctx context.Context) error
	ClaimsByRun(ctx context.Context, runID uuid.UUID) ([]scrape.Claim, error)
}

// Server hosts the trigger API over one engine.
type Server struct {
	cfg        config.ServerConfig
	log        *zap.Logger
	runner     Runner
	store      ClaimStore
	router     chi.Router
	httpServer *http.Server
}

// New builds the route tree and the underlying http.Server. Nothing listens
// until Start.
func New(cfg config.ServerConfig, logger *zap.Logger, runner Runner, store ClaimStore) *Server {
	s := &Server{
		cfg:    cfg,
		log:    logger.Named("server"),
		runner: runner,
		store:  store,
	}

	router := chi.NewRouter()
	router.Use(s.logRequests)
	router.Post("/runs", s.handleStartRun)
	router.Get("/runs/{id}/claims", s.handleRunClaims)
	router.Get("/healthz", s.handleHealthz)
	router.Get("/metrics", s.handleMetrics)
	s.router = router

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// Handler returns the route tree. Exposed for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is canceled, then drains in-flight requests within
// the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

// handleStartRun kicks off one extraction run and streams its progress as
// NDJSON, closing the stream with a terminal summary line. The run is bound
// to the request context, so a disconnecting client cancels it.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	stream := &runStream{w: w, flusher: flusher, enc: json.NewEncoder(w)}
	summary, err := s.runner.Run(r.Context(), stream.progress)
	if summary != nil {
		observeRun(summary)
	}

	if !stream.started {
		switch {
		case errors.Is(err, engine.ErrBusy):
			respondError(w, http.StatusConflict, err)
		case err != nil:
			respondError(w, http.StatusInternalServerError, err)
		default:
			stream.close(summary)
		}
		return
	}
	if err != nil {
		s.log.Warn("Run finished with error", zap.Error(err))
	}
	stream.close(summary)
}

// runStream writes NDJSON lines and flushes per event so callers watch the
// run advance in real time. Headers go out lazily on the first line, which
// keeps the pre-stream error paths free to pick their own status code.
type runStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	enc     *json.Encoder
	started bool
}

func (st *runStream) progress(p engine.Progress) {
	st.begin()
	_ = st.enc.Encode(p)
	st.flusher.Flush()
}

func (st *runStream) close(summary *engine.RunSummary) {
	st.begin()
	_ = st.enc.Encode(summaryLine{Stage: "summary", Summary: summary})
	st.flusher.Flush()
}

func (st *runStream) begin() {
	if st.started {
		return
	}
	st.w.Header().Set("Content-Type", "application/x-ndjson")
	st.w.Header().Set("Cache-Control", "no-store")
	st.w.WriteHeader(http.StatusOK)
	st.started = true
}

// summaryLine is the terminal NDJSON line of a run stream.
type summaryLine struct {
	Stage   string             `json:"stage"`
	Summary *engine.RunSummary `json:"summary"`
}

func (s *Server) handleRunClaims(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid run id: %w", err))
		return
	}

	claims, err := s.store.ClaimsByRun(r.Context(), runID)
	if err != nil {
		s.log.Error("Loading claims for run",
			zap.String("run_id", runID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, errors.New("failed to load claims"))
		return
	}

	views := make([]claimView, len(claims))
	for i, c := range claims {
		views[i] = newClaimView(c)
	}
	respondJSON(w, http.StatusOK, claimsResponse{
		RunID:  runID.String(),
		Count:  len(views),
		Claims: views,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, errors.New("database unavailable"))
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type claimsResponse struct {
	RunID  string      `json:"run_id"`
	Count  int         `json:"count"`
	Claims []claimView `json:"claims"`
}

// claimView is the JSON shape of one stored claim row. Values stay exactly
// as the portal rendered them.
type claimView struct {
	Company          string `json:"company"`
	Section          string `json:"section"`
	ClaimNumber      string `json:"claim_number"`
	AssignedDate     string `json:"assigned_date,omitempty"`
	ContactStatus    string `json:"contact_status,omitempty"`
	InsuredName      string `json:"insured_name,omitempty"`
	InsuredPhone     string `json:"insured_phone,omitempty"`
	InsuredEmail     string `json:"insured_email,omitempty"`
	EstimatedArrival string `json:"estimated_arrival,omitempty"`
	EntryDate        string `json:"entry_date,omitempty"`
	Status           string `json:"status,omitempty"`
	Plate            string `json:"plate,omitempty"`
	InsuredRUT       string `json:"insured_rut,omitempty"`
	Brand            string `json:"brand,omitempty"`
	Model            string `json:"model,omitempty"`
	DamageType       string `json:"damage_type,omitempty"`
}

func newClaimView(c scrape.Claim) claimView {
	return claimView{
		Company:          c.Company,
		Section:          c.Section.String(),
		ClaimNumber:      c.ClaimNumber,
		AssignedDate:     c.AssignedDate,
		ContactStatus:    c.ContactStatus,
		InsuredName:      c.InsuredName,
		InsuredPhone:     c.InsuredPhone,
		InsuredEmail:     c.InsuredEmail,
		EstimatedArrival: c.EstimatedArrival,
		EntryDate:        c.EntryDate,
		Status:           c.Status,
		Plate:            c.Plate,
		InsuredRUT:       c.InsuredRUT,
		Brand:            c.Brand,
		Model:            c.Model,
		DamageType:       c.DamageType,
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, errorResponse{Error: err.Error(), Status: status})
}

// logRequests emits one line per request after it completes.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps the run stream flushable behind the logging wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
