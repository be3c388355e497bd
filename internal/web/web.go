package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"smartsign/internal/config"
	"smartsign/internal/history"
	appLog "smartsign/internal/log"
	"smartsign/internal/model"
	"smartsign/internal/runner"
	"smartsign/internal/snapshot"
)

const (
	snapshotCacheSeconds = 300
	imageCacheSeconds    = 24 * 60 * 60
	uploadField          = "file"
)

// Batcher runs seminar batches. *runner.Runner implements it.
type Batcher interface {
	Run(ctx context.Context, trigger runner.Trigger, now time.Time) (runner.Report, error)
	Upload(ctx context.Context, name string, body []byte, now time.Time) (runner.Report, error)
}

// RunLister lists recorded batches. *history.DB implements it.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]history.Run, error)
}

// Server exposes the snapshot to the signage player and the upload/refresh
// API to editors.
type Server struct {
	cfg     *config.Config
	batcher Batcher
	runs    RunLister
	mux     *http.ServeMux
	now     func() time.Time

	// Last report produced through this server, for /api/seminars when no
	// history database is configured.
	lastMu sync.RWMutex
	last   *runner.Report
}

// NewServer constructs a new Server. runs may be nil.
func NewServer(cfg *config.Config, batcher Batcher, runs RunLister) *Server {
	s := &Server{
		cfg:     cfg,
		batcher: batcher,
		runs:    runs,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler with CORS and optional basic auth applied.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return corsMiddleware(h)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health and CORS preflight
// with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="SmartSign", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware lets the display page fetch the snapshot from another
// origin and answers preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/seminarier.csv", s.handleSnapshot)
	s.mux.HandleFunc("/calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("/preview.png", s.handlePreview)

	s.mux.HandleFunc("/api/seminars", s.handleSeminars)
	s.mux.HandleFunc("/api/upload", s.handleUpload)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.HandleFunc("/api/runs", s.handleRuns)

	// Display template and images.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// handleSnapshot serves the CSV the display page polls.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(snapshotCacheSeconds))
	http.ServeFile(w, r, s.cfg.SnapshotPath)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	if s.cfg.ICSPath == "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(snapshotCacheSeconds))
	http.ServeFile(w, r, s.cfg.ICSPath)
}

// handlePreview serves the last preview capture from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, s.cfg.Preview.OutputPath)
}

type seminarsResponse struct {
	Outcome  *model.Outcome  `json:"outcome,omitempty"`
	Count    int             `json:"count"`
	Seminars []model.Seminar `json:"seminars"`
}

// handleSeminars returns the published snapshot as JSON together with the
// outcome of the most recent batch.
func (s *Server) handleSeminars(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	seminars, err := snapshot.ReadFile(s.cfg.SnapshotPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Error("read snapshot failed", err, "path", s.cfg.SnapshotPath)
		writeError(w, http.StatusInternalServerError, "snapshot unreadable")
		return
	}
	if seminars == nil {
		seminars = []model.Seminar{}
	}

	writeJSON(w, http.StatusOK, seminarsResponse{
		Outcome:  s.lastOutcome(r.Context()),
		Count:    len(seminars),
		Seminars: seminars,
	})
}

func (s *Server) lastOutcome(ctx context.Context) *model.Outcome {
	if s.runs != nil {
		runs, err := s.runs.Recent(ctx, 1)
		if err != nil {
			appLog.Error("history lookup failed", err)
		} else if len(runs) > 0 {
			return &model.Outcome{
				Status:  model.Status(runs[0].Status),
				Message: runs[0].Message,
				Count:   runs[0].Count,
			}
		}
	}
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return nil
	}
	out := s.last.Outcome
	return &out
}

func (s *Server) remember(rep runner.Report) {
	s.lastMu.Lock()
	s.last = &rep
	s.lastMu.Unlock()
}

// batchResponse is the JSON shape of /api/upload and /api/refresh.
type batchResponse struct {
	Success bool         `json:"success"`
	Status  model.Status `json:"status"`
	Message string       `json:"message"`
	Count   int          `json:"count"`
	RunID   string       `json:"run_id"`
	Written bool         `json:"written"`
}

func writeReport(w http.ResponseWriter, rep runner.Report) {
	status := http.StatusOK
	if rep.Outcome.Status != model.StatusSuccess {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, batchResponse{
		Success: rep.Outcome.Status == model.StatusSuccess,
		Status:  rep.Outcome.Status,
		Message: rep.Outcome.Message,
		Count:   rep.Outcome.Count,
		RunID:   rep.RunID,
		Written: rep.Written,
	})
}

// handleUpload accepts a workbook as multipart field "file", stores it and
// publishes a new snapshot.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}

	limit := int64(s.cfg.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !allowedWorkbook(name) {
		writeError(w, http.StatusBadRequest, "only .xlsx and .xls files are accepted")
		return
	}
	if header.Size > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	body, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}

	appLog.Info("workbook uploaded", "name", name, "size", len(body), "remote", r.RemoteAddr)

	rep, err := s.batcher.Upload(r.Context(), name, body, s.now())
	s.remember(rep)
	if err != nil {
		appLog.Error("upload batch failed", err, "run_id", rep.RunID)
		writeError(w, http.StatusInternalServerError, "processing failed: "+err.Error())
		return
	}
	writeReport(w, rep)
}

func allowedWorkbook(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xls":
		return true
	}
	return false
}

// handleRefresh re-filters the stored workbook against the current date.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	rep, err := s.batcher.Run(r.Context(), runner.TriggerManual, s.now())
	s.remember(rep)
	if err != nil {
		appLog.Error("refresh batch failed", err, "run_id", rep.RunID)
		writeError(w, http.StatusInternalServerError, "processing failed: "+err.Error())
		return
	}
	writeReport(w, rep)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if s.runs == nil {
		writeJSON(w, http.StatusOK, []history.Run{})
		return
	}
	runs, err := s.runs.Recent(r.Context(), parseIntDefault(r.URL.Query().Get("limit"), 20))
	if err != nil {
		appLog.Error("list runs failed", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// staticFileServer serves cfg.StaticDir. Images are cached for a day,
// everything else for five minutes so template edits show up quickly.
func (s *Server) staticFileServer() http.Handler {
	if s.cfg.StaticDir == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	fileServer := http.FileServer(http.Dir(s.cfg.StaticDir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Unknown API paths get a 404, never the display template.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			http.NotFound(w, r)
			return
		}

		maxAge := snapshotCacheSeconds
		if isImage(path) {
			maxAge = imageCacheSeconds
		}
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAge))
		fileServer.ServeHTTP(w, r)
	})
}

func isImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico":
		return true
	}
	return false
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
