// Copyright 2021 Lakewing Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package web serves the feature lookup and scoring HTTP API.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/lakewing/fpk"
	"github.com/lakewing/fpk/score"
	"github.com/pkg/errors"
)

// OfflineGetter is the point-in-time offline read path. *feature.Lookup
// satisfies it.
type OfflineGetter interface {
	GetOffline(entity fpk.EntityKey, asOf time.Time) (fpk.FeatureVector, error)
}

// Server exposes feature lookups and online scoring over HTTP.
type Server struct {
	offline OfflineGetter
	online  score.OnlineGetter
	scorer  *score.Scorer
	catalog fpk.Catalog

	addr     string
	listener net.Listener
	server   *http.Server
	log      fpk.Logger
}

// ServerOption is a functional option for the Server.
type ServerOption func(*Server)

// OptServerAddr sets the bind address.
func OptServerAddr(addr string) ServerOption {
	return func(s *Server) { s.addr = addr }
}

// OptServerListener uses the given listener, inferring the address from it.
func OptServerListener(l net.Listener) ServerOption {
	return func(s *Server) {
		s.listener = l
		s.addr = l.Addr().String()
	}
}

// OptServerCatalog sets the governance catalog consulted for access checks.
func OptServerCatalog(c fpk.Catalog) ServerOption {
	return func(s *Server) { s.catalog = c }
}

// OptServerLogger sets the logger.
func OptServerLogger(l fpk.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// NewServer creates a Server; Start begins serving.
func NewServer(offline OfflineGetter, online score.OnlineGetter, scorer *score.Scorer, opts ...ServerOption) *Server {
	s := &Server{
		offline: offline,
		online:  online,
		scorer:  scorer,
		addr:    ":8101",
		log:     fpk.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/features", s.handleOffline).Methods("GET")
	r.HandleFunc("/features/online", s.handleOnline).Methods("GET")
	r.HandleFunc("/score", s.handleScore).Methods("POST")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")
	return handlers.LoggingHandler(os.Stderr, r)
}

// Start begins serving in the background.
func (s *Server) Start() error {
	if s.listener == nil {
		var err error
		s.listener, err = net.Listen("tcp", s.addr)
		if err != nil {
			return errors.Wrapf(err, "listening on %s", s.addr)
		}
	}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.log.Printf("serving: %v", err)
		}
	}()
	return nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Close shuts the server down gracefully.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Wrap(s.server.Shutdown(ctx), "shutting down server")
}

func (s *Server) checkAccess(r *http.Request, table string) error {
	if s.catalog == nil {
		return nil
	}
	principal := r.Header.Get("X-Principal")
	if principal == "" {
		principal = "anonymous"
	}
	return s.catalog.CheckAccess(principal, table)
}

func (s *Server) handleOffline(w http.ResponseWriter, r *http.Request) {
	if err := s.checkAccess(r, "gold"); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	entity := r.URL.Query().Get("entity")
	if entity == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing entity parameter"))
		return
	}
	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "parsing as_of"))
			return
		}
		asOf = t
	}
	fv, err := s.offline.GetOffline(fpk.EntityKey(entity), asOf)
	if err != nil {
		writeTypedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fv)
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	if err := s.checkAccess(r, "online"); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	if s.online == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no online store configured"))
		return
	}
	entity := r.URL.Query().Get("entity")
	if entity == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing entity parameter"))
		return
	}
	fv, err := s.online.Get(r.Context(), fpk.EntityKey(entity))
	if err != nil {
		writeTypedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fv)
}

type scoreRequest struct {
	Entity fpk.EntityKey `json:"entity_key"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if err := s.checkAccess(r, "scores"); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decoding request"))
		return
	}
	if req.Entity == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing entity_key"))
		return
	}
	rec, err := s.scorer.ScoreOnline(r.Context(), req.Entity)
	if err != nil {
		writeTypedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// writeTypedError maps the pipeline failure taxonomy onto status codes.
// Degraded online paths surface as 503s; they are never masked as scores.
func writeTypedError(w http.ResponseWriter, err error) {
	switch errors.Cause(err) {
	case fpk.ErrNoFeatures:
		writeError(w, http.StatusNotFound, err)
	case fpk.ErrFeatureStale, fpk.ErrScoringUnavailable:
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
