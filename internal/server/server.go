// Package server exposes the parse, preview and apply pipeline plus the
// change monitor over a local JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sokinpui/dropin/dropin"
	"github.com/sokinpui/dropin/model"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

type Server struct {
	app    *dropin.App
	logger *slog.Logger
}

func New(app *dropin.App, logger *slog.Logger) *Server {
	return &Server{app: app, logger: logger.With("component", "server")}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/parse", s.handleParse)
		r.Post("/preview", s.handlePreview)
		r.Post("/apply", s.handleApply)
		r.Post("/undo", s.handleUndo)
		r.Get("/changes", s.handleChanges)
		r.Get("/logs", s.handleLogs)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

// Serve listens on addr until ctx is done, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return httpServer.Close()
		}
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return <-errCh
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, errorBody{Error: apiError{Code: errCode, Message: message}})
}

// request carries either raw response text or already parsed updates.
type request struct {
	Content string             `json:"content"`
	Updates []model.FileUpdate `json:"updates"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (request, bool) {
	var req request
	r.Body = http.MaxBytesReader(w, r.Body, 4*s.app.Config().MaxFileSize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", err.Error())
		return req, false
	}
	return req, true
}

func (s *Server) updates(req request) []model.FileUpdate {
	if len(req.Updates) > 0 {
		return req.Updates
	}
	return s.app.Parse(req.Content)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "root": s.app.Root()})
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	updates := s.app.Parse(req.Content)
	if updates == nil {
		updates = []model.FileUpdate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updates": updates})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	previews, err := s.app.Preview(r.Context(), s.updates(req))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "preview_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"previews": previews})
}

type failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type summaryResponse struct {
	Created   []string          `json:"created"`
	Modified  []string          `json:"modified"`
	Deleted   []string          `json:"deleted"`
	Failed    []failure         `json:"failed"`
	Skipped   []string          `json:"skipped,omitempty"`
	Backups   map[string]string `json:"backups,omitempty"`
	Fallbacks []model.Fallback  `json:"fallbacks,omitempty"`
	Message   string            `json:"message,omitempty"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	updates := s.updates(req)
	if len(updates) == 0 {
		writeErr(w, http.StatusUnprocessableEntity, "no_updates", "no file updates found")
		return
	}

	summary, res := s.app.Apply(r.Context(), updates)
	resp := summaryResponse{
		Created:   nonNil(summary.Created),
		Modified:  nonNil(summary.Modified),
		Deleted:   nonNil(summary.Deleted),
		Failed:    make([]failure, 0, len(res.Failed)),
		Skipped:   res.Skipped,
		Backups:   res.Backups,
		Fallbacks: summary.Fallbacks,
		Message:   summary.Message,
	}
	for _, f := range res.Failed {
		resp.Failed = append(resp.Failed, failure{Path: f.Path, Error: f.Err.Error()})
	}

	code := http.StatusOK
	if len(res.Succeeded) == 0 {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleUndo(w http.ResponseWriter, _ *http.Request) {
	summary, err := s.app.Undo()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "undo_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"restored":  nonNil(summary.Modified),
		"removed":   nonNil(summary.Deleted),
		"conflicts": nonNil(summary.Failed),
		"message":   summary.Message,
	})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") != "" {
		if _, ok := s.app.Refresh(); !ok {
			writeErr(w, http.StatusConflict, "monitor_stopped", "change monitor is not running")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": s.app.RecentChanges()})
}

func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	buf := s.app.Logs()
	writeJSON(w, http.StatusOK, map[string]any{
		"events":  buf.Events(),
		"evicted": buf.Evicted(),
	})
}
