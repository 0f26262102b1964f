package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/roadsense/roadsense/internal/ws"
)

// WSHandler upgrades live-subscription requests and registers the resulting
// client under the requested user id.
type WSHandler struct {
	registry *ws.Registry
	upgrader websocket.Upgrader
	log      *logrus.Logger
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(registry *ws.Registry, log *logrus.Logger) *WSHandler {
	return &WSHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

// Subscribe handles GET /ws/{userID}. The connection stays open until the
// peer disconnects; the read pump removes the registration on exit.
func (h *WSHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.registry, conn, userID, h.log)
	h.registry.Subscribe(userID, client)

	go client.WritePump()
	go client.ReadPump()
}
