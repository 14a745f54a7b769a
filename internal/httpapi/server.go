// Package httpapi exposes the sync engine over HTTP: the JSON sync
// contract, read access to the cache, health and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pepperpark/mailcache/internal/imapwire"
	"github.com/pepperpark/mailcache/internal/logging"
	"github.com/pepperpark/mailcache/internal/state"
	"github.com/pepperpark/mailcache/internal/syncer"
)

const maxBodyBytes = 1 << 20

// Runner runs one sync; *syncer.Syncer implements it.
type Runner interface {
	Run(ctx context.Context, req syncer.Request) (*syncer.Report, error)
}

type Server struct {
	runner Runner
	store  state.Store
	log    zerolog.Logger
	redact logging.Redactor
}

func New(runner Runner, store state.Store, log zerolog.Logger, redact logging.Redactor) *Server {
	return &Server{runner: runner, store: store, log: log, redact: redact}
}

// Handler returns the routed handler with CORS and request logging.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Post("/", s.handleSync)
	r.Post("/sync", s.handleSync)
	r.Get("/messages", s.handleMessages)
	r.Get("/cursors", s.handleCursors)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// cors allows every origin and answers pre-flight requests itself.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
		h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}

type imapConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user"`
	Pass string `json:"pass"`
	// TLS forces implicit TLS on a non-standard port.
	TLS bool `json:"tls,omitempty"`
}

type syncRequest struct {
	IMAPConfig  *imapConfig            `json:"imap_config"`
	UserEmail   string                 `json:"user_email"`
	SyncFolders syncer.FolderSelection `json:"sync_folders"`
}

type syncResponse struct {
	Success     bool                  `json:"success"`
	RunID       string                `json:"run_id"`
	TotalSynced int                   `json:"total_synced"`
	Folders     []syncer.FolderResult `json:"folders"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	if req.IMAPConfig == nil || req.UserEmail == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing configuration"})
		return
	}

	rep, err := s.runner.Run(r.Context(), syncer.Request{
		Endpoint: imapwire.Endpoint{Host: req.IMAPConfig.Host, Port: req.IMAPConfig.Port, UseTLS: req.IMAPConfig.TLS},
		User:     req.IMAPConfig.User,
		Pass:     req.IMAPConfig.Pass,
		Mailbox:  req.UserEmail,
		Folders:  req.SyncFolders,
	})
	if err != nil {
		s.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("mailbox", s.redact.Email(req.UserEmail)).
			Msg("sync failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		Success:     true,
		RunID:       rep.RunID,
		TotalSynced: rep.TotalSynced,
		Folders:     rep.Folders,
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	mailbox := r.URL.Query().Get("user_email")
	if mailbox == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_email is required"})
		return
	}
	folder := r.URL.Query().Get("folder")
	if folder == "" {
		folder = "INBOX"
	}
	msgs, err := s.store.ListMessages(r.Context(), mailbox, folder)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleCursors(w http.ResponseWriter, r *http.Request) {
	mailbox := r.URL.Query().Get("user_email")
	if mailbox == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_email is required"})
		return
	}
	cursors, err := s.store.ListCursors(r.Context(), mailbox)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if cursors == nil {
		cursors = []state.Cursor{}
	}
	writeJSON(w, http.StatusOK, cursors)
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("cache read failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "cache unavailable"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
