// Package server assembles the device registration API.
package server

import (
	"net/http"

	"github.com/volatileeight/autopilot/internal/handlers"
	"github.com/volatileeight/autopilot/internal/middleware"
	"github.com/volatileeight/autopilot/internal/store"
)

// Server represents the device registration API server
type Server struct {
	store *store.Store
	mux   *http.ServeMux
}

// New creates a new server instance backed by the given store.
func New(st *store.Store, token string) *Server {
	s := &Server{
		store: st,
		mux:   http.NewServeMux(),
	}
	s.setupRoutes(token)
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(token string) {
	// Health check (no auth required)
	s.mux.HandleFunc("/health", handlers.HealthCheck)

	deviceHandler := handlers.NewDeviceHandler(s.store)
	authMiddleware := middleware.NewAuthMiddleware(token)

	// Protected API routes
	s.mux.Handle("POST /api/devices", authMiddleware.RequireAuth(http.HandlerFunc(deviceHandler.RegisterDevice)))
	s.mux.Handle("GET /api/devices", authMiddleware.RequireAuth(http.HandlerFunc(deviceHandler.ListDevices)))
	s.mux.Handle("GET /api/devices/{id}", authMiddleware.RequireAuth(http.HandlerFunc(deviceHandler.GetDevice)))
	s.mux.Handle("DELETE /api/devices/{id}", authMiddleware.RequireAuth(http.HandlerFunc(deviceHandler.DeleteDevice)))
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Close closes the server resources
func (s *Server) Close() error {
	return s.store.Close()
}
