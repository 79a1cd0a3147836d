// Package httpapi is the CLI boundary's HTTP/WebSocket surface wrapping
// an *agentsvc.Service, per spec.md §6's CLI operation names (status,
// submitTask, createPlan, executePlan, listPlans) and SPEC_FULL.md's
// domain-stack wiring for gorilla/mux and gorilla/websocket. Grounded
// on the teacher's internal/server package: hub.go's register/
// unregister/broadcast Hub (generalized from dashboard state pushes to
// forwarding internal/bus.Event lifecycle messages), server.go's
// mux.NewRouter()/route-registration idiom, and handlers.go's
// origin-checked websocket.Upgrader.
package httpapi

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/CLIAIMONITOR/internal/bus"
)

// clientBufferSize bounds a client's outbound channel, matching the
// teacher's WebSocketBufferSize.
const clientBufferSize = 256

// wsMessage is the envelope forwarded to every connected client, one
// per internal/bus.Event.
type wsMessage struct {
	Subject string                 `json:"subject"`
	Payload map[string]interface{} `json:"payload"`
}

// client is one connected WebSocket reader.
type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte
}

// hub fans bus events out to every connected client, adapted from
// internal/server/hub.go's Hub/Client broadcast loop.
type hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, clientBufferSize),
		done:       make(chan struct{}),
	}
}

// run drives the hub until stop is called. Intended to run in its own
// goroutine.
func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			return
		}
	}
}

func (h *hub) stop() {
	close(h.done)
}

// forward subscribes to every lifecycle subject on eventBus and
// broadcasts each one to connected clients as wsMessage JSON.
func (h *hub) forward(eventBus *bus.Bus) (unsubscribe func(), err error) {
	subjects := []string{"tasks.*", "plans.*"}
	var unsubs []func()
	for _, subject := range subjects {
		unsub, err := eventBus.Subscribe(subject, func(ev bus.Event) {
			data, merr := json.Marshal(wsMessage{Subject: ev.Subject, Payload: ev.Payload})
			if merr != nil {
				return
			}
			h.broadcast <- data
		})
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return nil, err
		}
		unsubs = append(unsubs, unsub)
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}, nil
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
		// Clients don't send commands; any message just keeps the pump alive.
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
