package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/CLIAIMONITOR/internal/state"
)

func auditFilterFromQuery(q url.Values) state.AuditFilter {
	var filter state.AuditFilter
	filter.TaskID = q.Get("taskId")
	filter.Type = q.Get("type")
	filter.Status = q.Get("status")
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = t
		}
	}
	if until := q.Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			filter.Until = t
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}
	return filter
}

// httpServer owns the listening *http.Server and the event-forwarding
// hub's goroutine and subscription, per spec.md §6's CLI boundary.
// Grounded on the teacher's Server.Start/Shutdown pair in
// internal/server/server.go.
type httpServer struct {
	inner        *http.Server
	hub          *hub
	unsubscribe  func()
}

// Listen starts serving addr with srv's router and begins forwarding
// the agent service's lifecycle events to connected WebSocket clients.
func Listen(addr string, srv *Server) (*httpServer, error) {
	unsubscribe, err := srv.hub.forward(srv.svc.EventBus())
	if err != nil {
		return nil, err
	}
	go srv.hub.run()

	h := &httpServer{
		inner: &http.Server{
			Addr:    addr,
			Handler: srv.Handler(),
		},
		hub:         srv.hub,
		unsubscribe: unsubscribe,
	}
	go h.inner.ListenAndServe()
	return h, nil
}

// Shutdown gracefully stops the HTTP listener and the event hub.
func (h *httpServer) Shutdown(ctx context.Context) error {
	h.unsubscribe()
	h.hub.stop()
	return h.inner.Shutdown(ctx)
}
