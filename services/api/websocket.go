package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// inboundFrame is what a subscriber may send us. Only ping is recognized.
type inboundFrame struct {
	Type string `json:"type"`
}

// wsWriter serializes writes; the frame pump and the pong reply come from
// different goroutines and gorilla/websocket allows one writer at a time.
type wsWriter struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (w *wsWriter) writeJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ws.WriteJSON(v)
}

// HandleSubscribe upgrades to a WebSocket and streams a project's trace
// frames: the buffered run first, then live events. Inbound ping frames are
// echoed as an error-kind pong.
func (s *Server) HandleSubscribe(c *gin.Context) {
	projectID := c.Param("projectId")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	writer := &wsWriter{ws: ws}

	subID, frames, err := s.bus.Subscribe(projectID)
	if err != nil {
		_ = writer.writeJSON(gin.H{"type": "error", "error": err.Error()})
		return
	}
	defer s.bus.Unsubscribe(projectID, subID)
	recordSubscriber(1)
	defer recordSubscriber(-1)

	slog.Info("trace subscriber connected", "project_id", projectID, "subscriber_id", subID)

	// Writer: pump bus frames to the socket until the bus or socket closes.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for frame := range frames {
			if err := writer.writeJSON(frame); err != nil {
				slog.Warn("failed to write trace frame", "error", err)
				return
			}
		}
	}()

	// Reader: only ping frames are expected; anything unreadable ends the
	// session.
	for {
		var in inboundFrame
		if err := ws.ReadJSON(&in); err != nil {
			slog.Info("trace subscriber disconnected", "project_id", projectID, "error", err.Error())
			break
		}
		if in.Type == "ping" {
			if err := writer.writeJSON(gin.H{"type": "error", "error": "pong"}); err != nil {
				break
			}
		}
	}

	s.bus.Unsubscribe(projectID, subID)
	<-writeDone
}
