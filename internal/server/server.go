// Package server implements the HTTP surface spec §6 names: the three
// unauthenticated /engine/... routes consumed by an upstream gateway.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/interfaces"
)

// Server is the explicitly constructed HTTP bootstrap, wrapping a
// Dispatcher value rather than reaching for package-level state.
type Server struct {
	dispatcher interfaces.Dispatcher
	logger     *common.Logger
	httpServer *http.Server
}

// New builds a Server bound to dispatcher, listening on addr.
func New(dispatcher interfaces.Dispatcher, logger *common.Logger, addr string) *Server {
	s := &Server{dispatcher: dispatcher, logger: logger}

	router := mux.NewRouter()
	s.registerRoutes(router)
	handler := applyMiddleware(router, logger)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
