package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const wsWriteTimeout = 10 * time.Second

// handleSSE streams the user's realtime events as server-sent events. The
// connection stays open until the client goes away or the hub stops;
// keep-alive comments hold idle proxies open.
func (s *Server) handleSSE(c echo.Context) error {
	client := s.hub.Register(userID(c))
	defer s.hub.Unregister(client)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-client.Receive():
			if !ok {
				return nil
			}
			if msg.KeepAlive {
				if _, err := fmt.Fprint(res, ": keep-alive\n\n"); err != nil {
					return nil
				}
			} else {
				if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", msg.Name, msg.Data); err != nil {
					return nil
				}
			}
			res.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS middleware and the
	// platform proxy in front of the service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// handleWebSocket streams the user's realtime events over a WebSocket.
// Keep-alive frames become pings. Incoming messages are ignored; the read
// loop only detects the close.
func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	client := s.hub.Register(userID(c))
	defer func() {
		s.hub.Unregister(client)
		conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case msg, ok := <-client.Receive():
			if !ok {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if msg.KeepAlive {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return nil
				}
				continue
			}
			if err := conn.WriteJSON(wsFrame{Event: string(msg.Name), Data: msg.Data}); err != nil {
				return nil
			}
		}
	}
}
