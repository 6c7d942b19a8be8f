package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/kernel"
)

const wsWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamHub pushes every kernel snapshot to connected websocket clients
type streamHub struct {
	kernel KernelService

	lock    sync.Mutex
	clients map[*websocket.Conn]bool

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	cancel    func()
}

func newStreamHub(k KernelService) *streamHub {
	return &streamHub{
		kernel:  k,
		clients: make(map[*websocket.Conn]bool),
		done:    make(chan struct{}),
		cancel:  func() {},
	}
}

func (h *streamHub) start() {
	h.startOnce.Do(func() {
		views, cancel := h.kernel.Subscribe()
		h.cancel = cancel
		go h.run(views)
	})
}

func (h *streamHub) run(views <-chan kernel.View) {
	for {
		select {
		case <-h.done:
			return
		case v := <-views:
			msg, err := json.Marshal(v)
			if err != nil {
				log.Error().Err(err).Msg("Failed to encode kernel snapshot")
				continue
			}
			h.broadcast(msg)
		}
	}
}

func (h *streamHub) broadcast(msg []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		if err := writeMessage(client, msg); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}

func (h *streamHub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.cancel()

		h.lock.Lock()
		defer h.lock.Unlock()
		for client := range h.clients {
			_ = client.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(time.Second))
			client.Close()
			delete(h.clients, client)
		}
	})
}

func (h *streamHub) count() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// serveWS upgrades, sends the current snapshot, then streams updates until the client leaves
func (h *streamHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	msg, err := json.Marshal(h.kernel.Snapshot())
	if err == nil {
		err = writeMessage(conn, msg)
	}
	if err != nil {
		conn.Close()
		return
	}

	h.lock.Lock()
	h.clients[conn] = true
	h.lock.Unlock()

	log.Debug().Str("remote", clientIP(r)).Msg("Kernel stream client connected")

	// inbound messages are ignored; a read error means the client is gone
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.lock.Lock()
				if h.clients[conn] {
					delete(h.clients, conn)
					conn.Close()
				}
				h.lock.Unlock()
				return
			}
		}
	}()
}

func writeMessage(conn *websocket.Conn, msg []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
