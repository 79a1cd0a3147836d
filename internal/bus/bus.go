// Package bus implements the in-process lifecycle event bus that the
// TaskQueue publishes task transitions through, and that
// internal/httpapi's websocket hub subscribes to. Grounded on the teacher's internal/nats/server.go (EmbeddedServer,
// an in-process nats-server/v2 instance) and internal/nats/client.go
// (nats.go client wrapper with JSON publish/subscribe helpers),
// generalized from a multi-purpose control-plane bus with JetStream
// and WebSocket client support to a narrower fire-and-forget lifecycle
// bus matching the queue.EventBus interface from spec.md §4.1.
package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	nc "github.com/nats-io/nats.go"

	"github.com/CLIAIMONITOR/internal/corelog"
)

// Lifecycle subjects. The tasks.* subjects are published by the queue,
// per spec.md §4.1's "Emit lifecycle events to StateManager". The
// plans.* subjects are declared for plan lifecycle events (§4.5); no
// component in this module publishes them.
const (
	SubjectTaskSubmitted = "tasks.submitted"
	SubjectTaskStarted   = "tasks.started"
	SubjectTaskCompleted = "tasks.completed"
	SubjectTaskFailed    = "tasks.failed"
	SubjectTaskCancelled = "tasks.cancelled"
	SubjectPlanCreated   = "plans.created"
	SubjectPlanCompleted = "plans.completed"
	SubjectPlanFailed    = "plans.failed"
)

// Event is the decoded form of a bus message, delivered to Subscribe
// handlers.
type Event struct {
	Subject string
	Payload map[string]interface{}
}

// Bus is an embedded, single-process NATS server plus an internal
// client connected to it. No external process or network configuration
// is required; it exists purely so publishers and subscribers within
// the Agent Service can be decoupled the way a real deployment's
// cross-process bus would decouple them.
type Bus struct {
	log    *corelog.Logger
	server *natsserver.Server
	conn   *nc.Conn

	mu      sync.Mutex
	running bool
}

// New constructs an unstarted Bus.
func New() *Bus {
	return &Bus{log: corelog.New("BUS")}
}

// Start launches the embedded server on an OS-assigned loopback port
// and connects the internal client, per the teacher's
// EmbeddedServer.Start/NewClient pair.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("bus already running")
	}

	opts := &natsserver.Options{
		Host:       "127.0.0.1",
		Port:       -1, // -1 asks nats-server to pick a free port
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return fmt.Errorf("embedded nats server not ready for connections")
	}

	conn, err := nc.Connect(srv.ClientURL(), nc.MaxReconnects(-1))
	if err != nil {
		srv.Shutdown()
		return fmt.Errorf("failed to connect internal bus client: %w", err)
	}

	b.server = srv
	b.conn = conn
	b.running = true
	return nil
}

// Shutdown drains the internal client and stops the embedded server.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	if b.server != nil {
		b.server.Shutdown()
		b.server.WaitForShutdown()
	}
	b.running = false
}

// Publish implements queue.EventBus: JSON-encode payload and publish
// it fire-and-forget. A bus that failed to start or was shut down
// silently drops the event, matching spec.md §4.1's "a nil EventBus is
// valid; events are simply dropped" contract extended to a stopped one.
func (b *Bus) Publish(subject string, payload map[string]interface{}) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Warnf("failed to marshal event for %s: %v", subject, err)
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		b.log.Warnf("failed to publish to %s: %v", subject, err)
	}
}

// Subscribe registers handler for every message on subject (which may
// be a NATS wildcard such as "tasks.*"). The returned function cancels
// the subscription.
func (b *Bus) Subscribe(subject string, handler func(Event)) (unsubscribe func(), err error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("bus is not running")
	}

	sub, err := conn.Subscribe(subject, func(msg *nc.Msg) {
		var payload map[string]interface{}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			b.log.Warnf("failed to unmarshal event on %s: %v", msg.Subject, err)
			return
		}
		handler(Event{Subject: msg.Subject, Payload: payload})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}
