package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/metadata"
	"github.com/leaselab/image-sync/internal/models"
	"github.com/leaselab/image-sync/internal/syncer"
)

const (
	defaultRunsLimit = 10
	maxRunsLimit     = 100
)

// Syncer is the sync service driven by the HTTP trigger
type Syncer interface {
	Run(ctx context.Context, trigger string) (*models.RunReport, error)
	SyncRecord(ctx context.Context, recordID string) (*models.SyncResult, error)
	Status(ctx context.Context) (*models.RunStatus, error)
	Runs(ctx context.Context, limit int) ([]models.RunReport, error)
	GetRun(ctx context.Context, id string) (*models.RunReport, error)
}

// Server handles HTTP requests
type Server struct {
	config config.ServerConfig
	syncer Syncer
	logger zerolog.Logger
	server *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, svc Syncer, logger zerolog.Logger) *Server {
	s := &Server{
		config: cfg,
		syncer: svc,
		logger: logger,
	}

	// a sync response is written only once the whole run completes
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Minute,
	}

	return s
}

// Handler returns the full middleware chain and routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/{$}", s.withAuth(s.handleSync))
	mux.Handle("/sync", s.withAuth(s.handleSync))
	mux.Handle("/sync/record", s.withAuth(s.handleSyncRecord))
	mux.Handle("/status", s.withAuth(s.handleStatus))
	mux.Handle("/runs", s.withAuth(s.handleRuns))
	mux.Handle("/runs/{id}", s.withAuth(s.handleRun))
	mux.HandleFunc("/", s.handleNotFound)

	return s.withRequestLogging(withCORS(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAuth rejects requests whose Authorization header is not exactly
// "Bearer <secret>" when a secret is configured. Only the sync and history
// routes are wrapped; health checks and unknown routes stay open.
func (s *Server) withAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		expected := "Bearer " + s.config.Secret
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(expected)) != 1 {
			writeError(w, http.StatusUnauthorized, syncer.ErrUnauthorized.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSync runs a full sync and returns its report
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// a dropped client must not abort a run halfway
	report, err := s.syncer.Run(context.WithoutCancel(r.Context()), syncer.TriggerHTTP)
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

type syncRecordRequest struct {
	RecordID string `json:"recordId"`
}

// handleSyncRecord syncs one record by id
func (s *Server) handleSyncRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	recordID := r.URL.Query().Get("recordId")
	if recordID == "" && r.Body != nil {
		var req syncRecordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			recordID = req.RecordID
		}
	}
	if recordID == "" {
		writeError(w, http.StatusBadRequest, "recordId is required")
		return
	}

	result, err := s.syncer.SyncRecord(context.WithoutCancel(r.Context()), recordID)
	if errors.Is(err, metadata.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"recordId": recordID,
		"result":   result,
	})
}

// handleStatus handles GET requests for the last run status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status, err := s.syncer.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve status: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleRuns handles GET requests for recent run reports
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := defaultRunsLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = min(l, maxRunsLimit)
	}

	runs, err := s.syncer.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
		"limit": limit,
	})
}

// handleRun returns one run report by id
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	report, err := s.syncer.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve run: %v", err))
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}

func (s *Server) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, syncer.ErrRunInProgress) {
		writeError(w, http.StatusConflict, syncer.ErrRunInProgress.Error())
		return
	}

	zerolog.Ctx(r.Context()).Error().Err(err).Msg("Sync failed")
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
