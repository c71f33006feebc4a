package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/luna-net/luna-node/internal/node"
	"github.com/luna-net/luna-node/internal/util"
)

// Status push cadence: tight while mining so the UI can animate hash
// rate, relaxed when idle.
const (
	wsMiningInterval = 5 * time.Second
	wsIdleInterval   = 15 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API binds to loopback for the local UI; origin checks add nothing
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is the envelope pushed to status subscribers
type wsFrame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// handleStatusWS streams status snapshots and orchestrator events over a
// WebSocket. A frame goes out immediately on connect, then on every tick
// and on every published event.
func (s *Server) handleStatusWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.Debugf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := s.node.Events().Subscribe(32)
	defer cancel()

	// Reader drains control frames and detects the peer going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.writeStatusFrame(conn); err != nil {
		return
	}

	timer := time.NewTimer(s.pushInterval())
	defer timer.Stop()

	for {
		select {
		case <-done:
			return

		case <-timer.C:
			if err := s.writeStatusFrame(conn); err != nil {
				return
			}
			timer.Reset(s.pushInterval())

		case event, ok := <-events:
			if !ok {
				return
			}
			if err := s.writeEventFrame(conn, event); err != nil {
				return
			}
			// State-changing events deserve a fresh snapshot right away
			if event.Type == node.EventBlockMined || event.Type == node.EventMiningStarted || event.Type == node.EventMiningStopped {
				if err := s.writeStatusFrame(conn); err != nil {
					return
				}
				timer.Reset(s.pushInterval())
			}
		}
	}
}

func (s *Server) pushInterval() time.Duration {
	if s.node.Mining() {
		return wsMiningInterval
	}
	return wsIdleInterval
}

func (s *Server) writeStatusFrame(conn *websocket.Conn) error {
	status := s.node.GetStatus(context.Background())
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(wsFrame{
		Type:      "status",
		Data:      status,
		Timestamp: time.Now().Unix(),
	})
}

func (s *Server) writeEventFrame(conn *websocket.Conn, event node.Event) error {
	frame := wsFrame{
		Type:      string(event.Type),
		Message:   event.Message,
		Timestamp: event.Timestamp.Unix(),
	}
	if event.Block != nil {
		frame.Data = event.Block
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(frame)
}
