// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes run ledgers and artifacts over a read-only HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pdiddy/report-engine/internal/artifact"
	"github.com/pdiddy/report-engine/internal/logging"
)

// Server serves the run browser.
type Server struct {
	Reader *artifact.Reader
}

// New returns a server over r.
func New(r *artifact.Reader) *Server {
	return &Server{Reader: r}
}

// Routes builds the router.
//
//	GET /runs
//	GET /runs/{id}/ledger
//	GET /runs/{id}/gaps
//	GET /runs/{id}/artifacts
//	GET /runs/{id}/artifacts/*
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLog)

	r.Get("/runs", s.listRuns)
	r.Route("/runs/{id}", func(r chi.Router) {
		r.Get("/ledger", s.ledger)
		r.Get("/gaps", s.gaps)
		r.Get("/artifacts", s.listArtifacts)
		r.Get("/artifacts/*", s.readArtifact)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	logger := logging.New("server")
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.Reader.Runs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []artifact.RunRow{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) ledger(w http.ResponseWriter, r *http.Request) {
	l, err := s.Reader.Ledger(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) gaps(w http.ResponseWriter, r *http.Request) {
	data, err := s.Reader.Read(r.Context(), chi.URLParam(r, "id"), artifact.KeyGapReport)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write(data)
}

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	keys, err := s.Reader.Keys(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) readArtifact(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", artifact.ErrInvalidKey, err))
		return
	}
	data, err := s.Reader.Read(r.Context(), chi.URLParam(r, "id"), key)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType(key))
	w.Write(data)
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".yaml":
		return "application/yaml"
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	default:
		return "text/plain; charset=utf-8"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, artifact.ErrInvalidKey):
		code = http.StatusBadRequest
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func requestLog(next http.Handler) http.Handler {
	logger := logging.New("server")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
