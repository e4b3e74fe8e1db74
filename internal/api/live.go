package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/agv-data/vision/internal/framestore"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard clients connect from arbitrary origins on the local network.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans captured frames out to connected websocket clients. Broadcast is
// non-blocking: when the buffer is full the frame is dropped, a slow viewer
// must never stall the capture loop.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 8),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is cancelled. After Run returns nobody
// drains register/unregister, so those sends select against done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mutex.Unlock()
			log.Printf("frame viewer connected, total: %d", n)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.mutex.Unlock()
			log.Printf("frame viewer disconnected, total: %d", n)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

type frameMessage struct {
	CapturedAt string `json:"captured_at"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Image      string `json:"image"`
}

// BroadcastFrame queues one frame for delivery to all viewers. Safe to call
// from the capture goroutine; drops the frame when viewers cannot keep up.
func (h *Hub) BroadcastFrame(f *framestore.Frame) {
	msg, err := json.Marshal(frameMessage{
		CapturedAt: f.CapturedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		Width:      f.Width,
		Height:     f.Height,
		Image:      base64.StdEncoding.EncodeToString(f.JPEG),
	})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// serveFrames upgrades the connection and streams frames until the client
// goes away. Incoming messages are read and discarded to detect disconnects.
func (s *Server) serveFrames(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	select {
	case s.hub.register <- conn:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case s.hub.unregister <- conn:
			case <-s.hub.done:
				conn.Close()
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
