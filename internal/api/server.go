// Package api serves the operational HTTP surface: health, instance
// stats, room listing, history inspection, and notification publishing
// for backend producers. Room state mutation flows through the
// WebSocket hub only.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"classhub/internal/fanout"
	"classhub/internal/room"
	"classhub/internal/service"
	"classhub/internal/session"
	"classhub/internal/ws"
	"classhub/pkg/interfaces"
)

type Server struct {
	sessions      *session.Manager
	rooms         *room.Registry
	conns         *ws.Registry
	store         interfaces.EnvelopeStore
	fan           *fanout.Fanout
	notifications *service.NotificationService
	logger        zerolog.Logger
}

func NewServer(sessions *session.Manager, rooms *room.Registry, conns *ws.Registry, store interfaces.EnvelopeStore, fan *fanout.Fanout, notifications *service.NotificationService, logger zerolog.Logger) *Server {
	return &Server{
		sessions:      sessions,
		rooms:         rooms,
		conns:         conns,
		store:         store,
		fan:           fan,
		notifications: notifications,
		logger:        logger.With().Str("component", "api").Logger(),
	}
}

// Router mounts the admin routes plus the WebSocket endpoint.
func (s *Server) Router(wsHandler http.HandlerFunc) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/rooms", s.handleRooms)
	mux.HandleFunc("GET /api/rooms/{id}/history", s.handleHistory)
	mux.HandleFunc("POST /api/notifications", s.handlePushNotification)
	mux.HandleFunc("/ws", wsHandler)

	return s.withLogging(mux)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path == "/health" {
			return
		}
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"instance": s.fan.InstanceID(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{
		"instance": s.fan.InstanceID(),
		"sessions": s.sessions.Count(),
		"rooms":    s.rooms.Count(),
	}
	for k, v := range s.conns.Stats() {
		stats[k] = v
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms": s.rooms.List(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 500"})
			return
		}
		limit = parsed
	}

	envelopes, err := s.store.Recent(r.Context(), roomID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("room", roomID).Msg("history query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":   roomID,
		"envelopes": envelopes,
	})
}

type pushNotificationRequest struct {
	UserID     string         `json:"user_id"`
	SenderID   string         `json:"sender_id"`
	SenderName string         `json:"sender_name"`
	Payload    map[string]any `json:"payload"`
}

// handlePushNotification is the producer entry point for the rest of
// the school platform: grade postings, announcements, and similar
// backend events land here and reach the user live or via the offline
// queue.
func (s *Server) handlePushNotification(w http.ResponseWriter, r *http.Request) {
	var req pushNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	if req.UserID == "" || len(req.Payload) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and payload are required"})
		return
	}
	if req.SenderID == "" {
		req.SenderID = "system"
	}

	if err := s.notifications.Push(req.SenderID, req.SenderName, req.UserID, req.Payload); err != nil {
		s.logger.Error().Err(err).Str("user", req.UserID).Msg("notification push failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delivery failed"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"user_id": req.UserID,
		"queued":  s.notifications.QueuedCount(req.UserID),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
