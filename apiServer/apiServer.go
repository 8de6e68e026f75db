// Package apiServer exposes the ledger's query and mutation surface over
// HTTP, plus a websocket stream of audit events, for dashboard clients.
package apiServer

import (
	"log/slog"
	"net/http"

	cipherwatt "github.com/cipherwatt/cipherwatt"
)

// AuthFunc gates every request. The default allows everything; deployments
// put their token check here.
type AuthFunc func(r *http.Request) error

func defaultAuth(*http.Request) error { return nil }

type Server struct {
	mux    *http.ServeMux
	ledger *cipherwatt.Ledger
	log    *slog.Logger
	auth   AuthFunc
}

type Option func(*Server)

func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

func WithAuth(auth AuthFunc) Option {
	return func(s *Server) { s.auth = auth }
}

func New(ledger *cipherwatt.Ledger, opts ...Option) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		ledger: ledger,
		log:    slog.Default(),
		auth:   defaultAuth,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /submissions", s.handleSubmit)
	s.mux.HandleFunc("GET /submissions/{id}", s.handleGetSubmission)
	s.mux.HandleFunc("POST /submissions/{id}/reveal", s.handleRequestReveal)
	s.mux.HandleFunc("GET /systems", s.handleSystems)
	s.mux.HandleFunc("GET /systems/{key}/sum", s.handleGetSum)
	s.mux.HandleFunc("POST /systems/{key}/reveal", s.handleRequestSumReveal)
	s.mux.Handle("GET /events", s.eventStreamHandler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	} else {
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.auth(r); err != nil {
		s.log.Warn("authentication failed", "error", err)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	s.mux.ServeHTTP(w, r)
}
