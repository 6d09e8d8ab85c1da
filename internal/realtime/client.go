package realtime

import (
	"encoding/json"

	"github.com/gorilla/websocket"
)

const sendBuffer = 256

// Client is one dashboard websocket connection.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	remote string
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    hub,
		remote: conn.RemoteAddr().String(),
	}
}

// ControlMessage is the client-to-server room protocol.
type ControlMessage struct {
	Action      string `json:"action"`
	EquipmentID int    `json:"equipmentId"`
}

// ReadPump consumes join/leave messages until the connection drops.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		close(c.send)
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Printf("ws read error: remote=%s err=%v", c.remote, err)
			}
			return
		}

		var req ControlMessage
		if err := json.Unmarshal(msg, &req); err != nil {
			c.hub.logger.Printf("ws bad control message: remote=%s err=%v", c.remote, err)
			continue
		}

		switch req.Action {
		case "join":
			c.hub.Join(req.EquipmentID, c)
		case "leave":
			c.hub.Leave(req.EquipmentID, c)
		default:
			c.hub.logger.Printf("ws unknown action: remote=%s action=%q", c.remote, req.Action)
		}
	}
}

// WritePump forwards queued events to the connection.
func (c *Client) WritePump() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.hub.logger.Printf("ws write error: remote=%s err=%v", c.remote, err)
			return
		}
	}
}
