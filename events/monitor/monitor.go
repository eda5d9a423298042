// Package monitor implements a local, one-way websocket tap of every
// emitted event, for embedder devtools and integration tests that want to
// watch the event stream live rather than poll an API. Grounded on the
// teacher's websocket-hub shape also seen in the pack's chat-gateway
// examples (a broadcast channel plus register/unregister channels guarded
// by one goroutine), but simplified to a pure fan-out tap: monitor clients
// never send anything back, so there is no read pump, only a write pump
// per connection.
package monitor

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"

	"github.com/coreim/dcore/events"
)

const bufferSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler is the events.Handler implementation registered under name
// "monitor". It is also an http.Handler: mount it on a debug mux to accept
// websocket connections.
type Handler struct {
	mu      sync.Mutex
	clients map[*client]bool

	input chan *events.Event
	stop  chan struct{}
	ready bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHandler() *Handler {
	return &Handler{clients: make(map[*client]bool)}
}

// Init ignores jsonconf (monitor has no config beyond "is it wired in at
// all") and starts the broadcast loop.
func (h *Handler) Init(jsonconf string) error {
	h.input = make(chan *events.Event, bufferSize)
	h.stop = make(chan struct{}, 1)
	h.ready = true
	go h.loop()
	return nil
}

func (h *Handler) loop() {
	for {
		select {
		case ev := <-h.input:
			body, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- body:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Handler) IsReady() bool { return h.ready }

func (h *Handler) Events() chan<- *events.Event { return h.input }

func (h *Handler) Stop() {
	if h.ready {
		h.stop <- struct{}{}
	}
}

// ServeHTTP upgrades to a websocket and registers the connection as a
// broadcast target until it disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("monitor: upgrade failed:", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go func() {
		for body := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				break
			}
		}
		conn.Close()
	}()
}

// LoggingMiddleware wraps a mux with gorilla/handlers combined logging, the
// same access-log middleware the teacher's pack uses elsewhere for its
// HTTP listeners.
func LoggingMiddleware(next http.Handler) http.Handler {
	return handlers.CombinedLoggingHandler(logWriter{}, next)
}

type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Print(string(p))
	return len(p), nil
}
