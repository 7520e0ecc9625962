package audit

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeTail upgrades the request to a websocket and streams every audit
// Record appended from this point on — an operator-dashboard convenience,
// additive to spec.md (not an invariant-bearing component).
func (l *Log) ServeTail(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("audit: websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch, unsubscribe := l.Subscribe()
	defer unsubscribe()

	for record := range ch {
		if err := conn.WriteJSON(record); err != nil {
			return
		}
	}
}
