package websocket

import (
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"leaderwatch/core"
	"leaderwatch/realtime"
)

const writeWait = 5 * time.Second

// Handler returns an http.Handler that upgrades to WebSocket and streams
// events from the hub. With ?user=<id> only events involving that user as
// actor or target are sent.
func Handler(hub *realtime.Hub) http.Handler {
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := realtime.ForUser(core.UserID(r.URL.Query().Get("user")))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		sub := hub.Subscribe(256, filter)
		defer sub.Close()

		// reader goroutine notices the client going away
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				msg, err := realtime.Encode(ev)
				if err != nil {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.TextMessage, msg); err != nil {
					return
				}
			}
		}
	})
}
