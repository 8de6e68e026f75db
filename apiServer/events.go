package apiServer

import (
	"net/http"

	"golang.org/x/net/websocket"
)

// eventStreamHandler upgrades to a websocket and forwards ledger events as
// JSON until the client disconnects or the ledger closes.
func (s *Server) eventStreamHandler() http.Handler {
	return websocket.Handler(func(ws *websocket.Conn) {
		defer ws.Close()

		ch, cancel, err := s.ledger.Events(64)
		if err != nil {
			s.log.Warn("event stream rejected", "error", err)
			return
		}
		defer cancel()

		for ev := range ch {
			if err := websocket.JSON.Send(ws, ev); err != nil {
				// Client went away.
				return
			}
		}
	})
}
