package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler exposes the viewer-facing endpoints.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	service           *Service
}

func NewWebSocketHandler(cm *ConnectionManager, service *Service) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		service:           service,
	}
}

// HandleRoomConnection upgrades a viewer into a room session.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomIDStr := r.URL.Query().Get("room_id")
	if roomIDStr == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	roomID, err := uuid.Parse(roomIDStr)
	if err != nil {
		http.Error(w, "invalid room_id format", http.StatusBadRequest)
		return
	}

	// Identity comes from the identity provider upstream; here it is just
	// carried through.
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		identity = "anonymous"
	}

	conn, err := h.connectionManager.Upgrade(w, r, identity, roomID)
	if err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID.String()).
			Str("identity", identity).
			Msg("failed to upgrade viewer connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}

	if err := h.service.StartSession(conn); err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID.String()).
			Str("identity", identity).
			Msg("failed to start viewer session")
		h.connectionManager.unregisterConnection(conn)
		conn.Conn.Close()
		return
	}

	// Pumps start only after the session teardown hook is attached.
	conn.startPumps()
}

// HandleConnectionStats reports active viewer counts.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	total, rooms := h.connectionManager.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"total_connections": total,
		"room_connections":  rooms,
	})
}

// RegisterRoutes registers the gateway routes on a mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
