package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hub fans push frames out to every connected websocket client.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	logger  zerolog.Logger
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{
		clients: make(map[*websocket.Conn]chan []byte),
		logger:  logger.With().Str("component", "push-hub").Logger(),
	}
}

// broadcast sends one frame to all clients; slow clients are dropped.
func (h *hub) broadcast(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error().Err(err).Msg("encode push frame")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		select {
		case send <- data:
		default:
			close(send)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// handleWebSocket upgrades the connection and runs its write pump.
func (h *hub) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	send := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()

	h.logger.Debug().Msg("client connected")

	// read pump: discard input, detect close
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()

	go func() {
		for data := range send {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(conn)
				return
			}
		}
	}()

	return nil
}

func (h *hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if send, ok := h.clients[conn]; ok {
		close(send)
		delete(h.clients, conn)
	}
	conn.Close()
}
