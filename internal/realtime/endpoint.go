package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request and runs the client pumps. Usage:
//
//	wscat -c "ws://localhost:8080/ws/dashboard"
//	{"action":"join","equipmentId":3}
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Printf("ws upgrade failed: remote=%s err=%v", r.RemoteAddr, err)
		return
	}

	client := NewClient(conn, hub)
	hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}
