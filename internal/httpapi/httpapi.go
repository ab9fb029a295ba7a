// Package httpapi serves the WebSocket endpoint alongside health, metrics,
// and read-only room inspection routes.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cory-johannsen/grove/internal/config"
	"github.com/cory-johannsen/grove/internal/game/floor"
)

const readyTimeout = 2 * time.Second

// RoomReader lists the connections in a room.
type RoomReader interface {
	Connections(ctx context.Context, roomID string) ([]string, error)
}

// GroundItemReader lists the items lying in a room.
type GroundItemReader interface {
	ItemsInRoom(ctx context.Context, roomID string) ([]floor.GroundItem, error)
}

// Deps are the collaborators the routes read from.
type Deps struct {
	WebSocket   http.Handler
	Rooms       RoomReader
	GroundItems GroundItemReader
	// Live reports the number of open WebSocket connections on this process.
	Live func() int
	// Ready reports whether the store is reachable.
	Ready func(ctx context.Context) error
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

type connectionsResponse struct {
	RoomID      string   `json:"roomId"`
	Connections []string `json:"connections"`
}

type groundItemsResponse struct {
	RoomID string             `json:"roomId"`
	Items  []floor.GroundItem `json:"items"`
}

// NewRouter builds the chi router.
//
// Precondition: every field of deps and logger must be non-nil.
func NewRouter(deps Deps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Handle("/ws", deps.WebSocket)
	r.Get("/health", handleHealth(deps.Live))
	r.Get("/ready", handleReady(deps.Ready, logger))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/rooms/{roomID}", func(r chi.Router) {
		r.Get("/connections", handleConnections(deps.Rooms, logger))
		r.Get("/ground-items", handleGroundItems(deps.GroundItems, logger))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// NewServer wraps handler in an http.Server configured from cfg.
func NewServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

func handleHealth(live func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, healthResponse{Status: "ok", Connections: live()})
	}
}

func handleReady(ready func(ctx context.Context) error, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := ready(ctx); err != nil {
			logger.Warn("readiness check failed", zap.Error(err))
			respondError(w, http.StatusServiceUnavailable, "Store unavailable")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func handleConnections(rooms RoomReader, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		if strings.TrimSpace(roomID) == "" {
			respondError(w, http.StatusBadRequest, "Missing room id")
			return
		}
		ids, err := rooms.Connections(r.Context(), roomID)
		if err != nil {
			logger.Error("listing connections", zap.String("room_id", roomID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Failed to list connections")
			return
		}
		if ids == nil {
			ids = []string{}
		}
		respondJSON(w, http.StatusOK, connectionsResponse{RoomID: roomID, Connections: ids})
	}
}

func handleGroundItems(items GroundItemReader, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		if strings.TrimSpace(roomID) == "" {
			respondError(w, http.StatusBadRequest, "Missing room id")
			return
		}
		list, err := items.ItemsInRoom(r.Context(), roomID)
		if err != nil {
			logger.Error("listing ground items", zap.String("room_id", roomID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Failed to list ground items")
			return
		}
		if list == nil {
			list = []floor.GroundItem{}
		}
		respondJSON(w, http.StatusOK, groundItemsResponse{RoomID: roomID, Items: list})
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, `{"message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Message: message})
}

// requestLogger logs API requests. The WebSocket upgrade and the probe
// routes are not logged.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/ws", "/health", "/ready", "/metrics":
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}
