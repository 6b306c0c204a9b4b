// Package api exposes the relay over HTTP: the two WebSocket endpoints plus
// health, stats and read-only room history.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"roomrelay-server/hub"
	"roomrelay-server/protocol"
	"roomrelay-server/registry"
	"roomrelay-server/router"
	"roomrelay-server/websocket"
	"roomrelay-server/wslite"
)

type Deps struct {
	Router         *router.Router
	Conns          *registry.Registry
	Rooms          *hub.Directory
	Board          *hub.Switchboard
	MaxMessageSize int64
	SendBuffer     int
}

func NewRouter(d Deps) *mux.Router {
	handler := protocol.NewHandler(d.Router)

	r := mux.NewRouter()
	r.HandleFunc("/ws", websocket.Handler(d.Router, d.Board, handler, websocket.Options{
		MaxMessageSize: d.MaxMessageSize,
		SendBuffer:     d.SendBuffer,
	})).Methods(http.MethodGet)
	r.HandleFunc("/ws/lite", wslite.Handler(d.Router, d.Board, handler, wslite.Options{
		MaxMessageSize: d.MaxMessageSize,
		SendBuffer:     d.SendBuffer,
	})).Methods(http.MethodGet)
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/stats", statsHandler(d)).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{room}/history", historyHandler(d.Router)).Methods(http.MethodGet)
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, members := d.Rooms.Stats()
		writeJSON(w, http.StatusOK, map[string]int{
			"rooms":       rooms,
			"members":     members,
			"connections": d.Conns.Count(),
		})
	}
}

func historyHandler(rt *router.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := mux.Vars(r)["room"]
		records, err := rt.History(r.Context(), room)
		if err != nil {
			slog.Error("history read failed", "room", room, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}
