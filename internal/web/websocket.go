package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mtzanidakis/aiteam/internal/pipeline"
)

const greeting = "Connected to AITEAM chat."

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans observer events out to every /ws/events connection.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan json.RawMessage
	mu        sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan json.RawMessage, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-h.broadcast:
			var failed []*websocket.Conn
			h.mu.RLock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
					failed = append(failed, client)
				}
			}
			h.mu.RUnlock()

			for _, client := range failed {
				h.Unregister(client)
				client.Close()
			}
		}
	}
}

func (h *Hub) Broadcast(data json.RawMessage) {
	select {
	case h.broadcast <- data:
	default:
		slog.Warn("websocket broadcast channel full, dropping event")
	}
}

func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// Len returns the number of connected observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	s.hub.Register(conn)
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	// Observers only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

type chatMessage struct {
	Message string `json:"message"`
	Debug   bool   `json:"debug"`
	Async   *bool  `json:"async"`
}

// handleChat runs one pipeline per received message and streams its events
// back on the same connection.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := conn.WriteJSON(map[string]string{"type": "system", "message": greeting}); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("chat read failed", "error", err)
			}
			return
		}

		var in chatMessage
		if err := json.Unmarshal(data, &in); err != nil {
			if err := conn.WriteJSON(pipeline.Event{
				Type:    pipeline.EventError,
				Stage:   pipeline.StageReceived,
				Message: "invalid payload: " + err.Error(),
			}); err != nil {
				return
			}
			continue
		}
		slog.Info("chat message received", "length", len(strings.TrimSpace(in.Message)))

		opts := s.defaultOptions()
		opts.Debug = in.Debug
		if in.Async != nil {
			opts.AsyncPreferred = *in.Async
		}

		if err := s.streamRun(ctx, cancel, conn, in.Message, opts); err != nil {
			return
		}
	}
}

var errClientGone = errors.New("client gone")

// streamRun forwards one run's events. On a write failure it cancels ctx so
// the run stops emitting, drains the remainder and reports errClientGone.
func (s *Server) streamRun(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, message string, opts pipeline.Options) error {
	run := s.orch.Stream(ctx, message, opts)
	var gone bool
	for e := range run.Events() {
		if gone {
			continue
		}
		if err := conn.WriteJSON(e); err != nil {
			slog.Info("chat client gone", "run", run.ID, "error", err)
			gone = true
			cancel()
		}
	}
	if _, err := run.Wait(); err != nil {
		slog.Debug("chat run failed", "run", run.ID, "error", err)
	}
	if gone {
		return errClientGone
	}
	return nil
}
