// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dharsanguruparan/IteraFlow/internal/config"
	"github.com/dharsanguruparan/IteraFlow/internal/intake"
	"github.com/dharsanguruparan/IteraFlow/internal/processing"
	"github.com/dharsanguruparan/IteraFlow/internal/queue"
	"github.com/dharsanguruparan/IteraFlow/internal/signing"
)

// Scheduler queues background status checks. *queue.Scheduler implements it.
type Scheduler interface {
	EnqueueCheckStatus(ctx context.Context, payload queue.CheckStatusPayload, delay time.Duration) error
}

// Server exposes HTTP endpoints for uploads, batches and export retrieval.
type Server struct {
	cfg       *config.Config
	orch      *processing.Orchestrator
	poller    *processing.Poller
	intake    *intake.Validator
	scheduler Scheduler
	signer    *signing.Signer
	log       *slog.Logger
	now       func() time.Time

	server *http.Server
	once   sync.Once
}

// New constructs a Server. scheduler may be nil, in which case batches that
// do not wait are left for clients to poll.
func New(cfg *config.Config, orch *processing.Orchestrator, scheduler Scheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		orch:      orch,
		poller:    processing.NewPoller(orch, logger),
		intake:    intake.NewValidator(cfg.MaxFileSize, cfg.AllowedTypes),
		scheduler: scheduler,
		signer:    signing.NewSigner(cfg.SigningSecret, cfg.ExportLinkTTL),
		log:       logger,
		now:       time.Now,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/documents", s.handleDocuments)
	mux.HandleFunc("/documents/", s.handleDocumentRoute)
	mux.HandleFunc("/batches", s.handleBatches)
	mux.HandleFunc("/exports/download", s.handleDownload)
	return corsMiddleware(s.loggingMiddleware(mux))
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.cfg.Address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api.listen", "addr", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleList(w, r)
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDocumentRoute serves /documents/{id}/{status|export|export/refresh|mapping|export-link}.
func (s *Server) handleDocumentRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/documents/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	route := strings.Join(parts[1:], "/")
	method := http.MethodGet
	var handler func(http.ResponseWriter, *http.Request, string)
	switch route {
	case "":
		handler = s.handleDocument
	case "status":
		handler = s.handleStatus
	case "export":
		handler = s.handleExport
	case "export/refresh":
		method, handler = http.MethodPost, s.handleRefresh
	case "mapping":
		handler = s.handleMapping
	case "export-link":
		method, handler = http.MethodPost, s.handleExportLink
	default:
		http.NotFound(w, r)
		return
	}
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handler(w, r, id)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Warn("api.encode_failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("api.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}
