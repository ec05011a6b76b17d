package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cugtyt/kg-explorer/internal/eventbus"
	"github.com/cugtyt/kg-explorer/internal/events"
)

const (
	streamBuffer = 32
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// Frame is one bus event as pushed to SSE and websocket clients.
type Frame struct {
	Event string         `json:"event"`
	Data  eventbus.Event `json:"data"`
	Time  time.Time      `json:"time"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// subscribe forwards events on events.Topic to a buffered channel until ctx
// is done. A slow client loses frames rather than blocking the bus.
func (s *Server) subscribe(ctx context.Context) <-chan Frame {
	frames := make(chan Frame, streamBuffer)
	eventbus.SubscribeContext(ctx, s.bus, events.Topic, func(_ context.Context, event eventbus.Event) {
		frame := Frame{Event: event.EventName(), Data: event, Time: s.now()}
		select {
		case frames <- frame:
		default:
			s.logger.Warnf("Dropping %s for slow stream client", frame.Event)
		}
	})
	return frames
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	frames := s.subscribe(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			payload, err := json.Marshal(frame.Data)
			if err != nil {
				s.logger.Errorf("Failed to marshal %s: %v", frame.Event, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\n", frame.Event)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only detect the close; clients do not send anything.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Warnf("WebSocket read error: %v", err)
				}
				return
			}
		}
	}()

	frames := s.subscribe(ctx)
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				s.logger.Warnf("WebSocket write failed: %v", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
