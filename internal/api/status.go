package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var statusUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const statusPushInterval = 2 * time.Second

// handleStatusStream upgrades to a websocket and periodically pushes a
// snapshot of every live adapter's Marshal() output, so an admin console
// can tail adapter health without polling /interfaces.
func (s *RESTServer) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := statusUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("api: status stream upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			snapshot := make([]map[string]interface{}, 0)
			for _, a := range s.ifaces.GetAll() {
				snapshot = append(snapshot, a.Marshal())
			}
			data, err := json.Marshal(snapshot)
			if err != nil {
				log.Error().Err(err).Msg("api: status stream marshal failed")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
