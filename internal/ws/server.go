package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/appy-one/acebase-server-sub001/internal/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20
)

// Server upgrades HTTP requests to persistent connections and pumps
// protocol events between the socket and the broker.
type Server struct {
	broker   *Broker
	upgrader websocket.Upgrader
}

// NewServer creates a Server around broker.
func NewServer(broker *Broker) *Server {
	return &Server{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Token auth guards the endpoint; browser origin is not a
			// trust boundary for this protocol.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Registry exposes the broker's connection registry.
func (s *Server) Registry() *Registry { return s.broker.Registry() }

// Handle upgrades the request and services the connection until it
// drops. user is the identity resolved by the bearer middleware, nil
// for anonymous connections.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request, user *auth.UserAccount) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := s.broker.Connect(user)
	go s.writePump(conn, client)
	s.readPump(conn, client)
}

// readPump reads inbound events and dispatches them in arrival order,
// so responses of one connection keep their request order. It returns
// when the connection drops, after unwinding the client's state.
func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		s.broker.Disconnect(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", "client_id", client.ID(), "error", err)
			}
			return
		}
		s.broker.Handle(client, msg)
	}
}

// writePump is the single writer of the connection. It drains the
// client's send queue and keeps the connection alive with pings.
func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
