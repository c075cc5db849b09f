// Package status serves a read-only HTTP view of a run in progress:
// health, Prometheus metrics, account balances and a WebSocket feed of
// account updates.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/payments-engine/internal/metrics"
	"github.com/atmx/payments-engine/internal/store"
)

// Server exposes account state over HTTP.
type Server struct {
	accounts store.AccountStore
	hub      *Hub
	logger   *slog.Logger
}

// NewServer creates a status server. hub may be nil to disable the feed.
func NewServer(accounts store.AccountStore, hub *Hub, logger *slog.Logger) *Server {
	return &Server{accounts: accounts, hub: hub, logger: logger}
}

// Router builds the HTTP routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"payments-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}
		r.Get("/accounts", s.ListAccounts)
		r.Get("/accounts/{clientID}", s.GetAccount)
	})
	return r
}

// ListAccounts handles GET /api/v1/accounts
func (s *Server) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("snapshot failed", "err", err)
		writeError(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	views := make([]AccountView, len(accounts))
	for i, a := range accounts {
		views[i] = NewAccountView(a)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// GetAccount handles GET /api/v1/accounts/{clientID}
func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	clientID, ok := parseClientID(chi.URLParam(r, "clientID"))
	if !ok {
		writeError(w, "client id must be an integer in 0..65535", http.StatusBadRequest)
		return
	}

	account, err := s.accounts.Account(r.Context(), clientID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("account lookup failed", "client", clientID, "err", err)
		writeError(w, "account lookup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(NewAccountView(account))
}

// ListenAndServe serves the router on addr until ctx is done, then shuts
// down gracefully. The hub, if any, runs for the same lifetime.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.hub != nil {
		go s.hub.Run(ctx)
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func parseClientID(s string) (uint16, bool) {
	n, err := strconv.ParseUint(s, 10, 16)
	return uint16(n), err == nil
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
