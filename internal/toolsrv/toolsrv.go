// Package toolsrv implements the Tool Adapter boundary from spec.md
// §6: listTools/callTool against one or more registered external tool
// servers, selected in declared priority order. Grounded on the
// teacher's internal/mcp/tools.go ToolRegistry/ToolHandler/
// ToolDefinition shape, generalized from an in-process agentID-keyed
// registry to a server-scoped one addressable by serverId.
package toolsrv

import (
	"context"
	"sort"
	"sync"

	"github.com/CLIAIMONITOR/internal/errkind"
)

// Descriptor describes one callable tool exposed by a server.
type Descriptor struct {
	Name        string
	Description string
	ServerID    string
}

// Result is the outcome of a tool call.
type Result struct {
	Output  string
	IsError bool
}

// Handler executes one tool call.
type Handler func(ctx context.Context, args map[string]interface{}) (*Result, error)

// server holds one registered tool server's handlers and priority.
type server struct {
	id       string
	priority int
	enabled  bool
	tools    map[string]Handler
	descs    map[string]Descriptor
}

// Adapter is the Tool Adapter interface from spec.md §6.
type Adapter interface {
	ListTools(serverID string) []Descriptor
	CallTool(ctx context.Context, serverID, name string, args map[string]interface{}) (*Result, error)
}

// Registry is the default, in-process Adapter implementation:
// servers register tool handlers; calls without an explicit serverID
// are resolved by scanning servers in declared priority order.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*server
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{servers: make(map[string]*server)}
}

// RegisterServer declares a tool server and its priority (lower runs
// first when resolving an unscoped callTool).
func (r *Registry) RegisterServer(serverID string, priority int, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[serverID] = &server{
		id: serverID, priority: priority, enabled: enabled,
		tools: make(map[string]Handler), descs: make(map[string]Descriptor),
	}
}

// RegisterTool attaches a handler to an already-declared server.
func (r *Registry) RegisterTool(serverID string, desc Descriptor, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[serverID]
	if !ok {
		s = &server{id: serverID, enabled: true, tools: make(map[string]Handler), descs: make(map[string]Descriptor)}
		r.servers[serverID] = s
	}
	desc.ServerID = serverID
	s.tools[desc.Name] = handler
	s.descs[desc.Name] = desc
}

// orderedServers returns enabled servers sorted by ascending priority.
func (r *Registry) orderedServers() []*server {
	out := make([]*server, 0, len(r.servers))
	for _, s := range r.servers {
		if s.enabled {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].priority < out[j].priority })
	return out
}

// ListTools returns descriptors for one server, or all servers if
// serverID is empty.
func (r *Registry) ListTools(serverID string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Descriptor
	if serverID != "" {
		if s, ok := r.servers[serverID]; ok {
			for _, d := range s.descs {
				out = append(out, d)
			}
		}
		return out
	}
	for _, s := range r.orderedServers() {
		for _, d := range s.descs {
			out = append(out, d)
		}
	}
	return out
}

// CallTool resolves the named tool, preferring serverID when given,
// otherwise scanning enabled servers in priority order, per spec.md
// §6: "the core selects servers in declared priority order when
// serverId is omitted."
func (r *Registry) CallTool(ctx context.Context, serverID, name string, args map[string]interface{}) (*Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if serverID != "" {
		s, ok := r.servers[serverID]
		if !ok {
			return nil, errkind.Newf(errkind.Validation, "unknown tool server %q", serverID).WithRetriable(false)
		}
		return r.invoke(ctx, s, name, args)
	}

	for _, s := range r.orderedServers() {
		if _, ok := s.tools[name]; ok {
			return r.invoke(ctx, s, name, args)
		}
	}
	return nil, errkind.Newf(errkind.Validation, "no registered server exposes tool %q", name).WithRetriable(false)
}

func (r *Registry) invoke(ctx context.Context, s *server, name string, args map[string]interface{}) (*Result, error) {
	handler, ok := s.tools[name]
	if !ok {
		return nil, errkind.Newf(errkind.Validation, "server %q has no tool %q", s.id, name).WithRetriable(false)
	}
	result, err := handler(ctx, args)
	if err != nil {
		return nil, errkind.Wrap(errkind.UpstreamFailed, err)
	}
	return result, nil
}
