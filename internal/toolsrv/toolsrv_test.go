package toolsrv

import (
	"context"
	"testing"
)

func TestCallToolResolvesByPriorityWhenServerUnspecified(t *testing.T) {
	r := NewRegistry()
	r.RegisterServer("low-priority", 10, true)
	r.RegisterServer("high-priority", 1, true)

	r.RegisterTool("low-priority", Descriptor{Name: "search"}, func(ctx context.Context, args map[string]interface{}) (*Result, error) {
		return &Result{Output: "low"}, nil
	})
	r.RegisterTool("high-priority", Descriptor{Name: "search"}, func(ctx context.Context, args map[string]interface{}) (*Result, error) {
		return &Result{Output: "high"}, nil
	})

	res, err := r.CallTool(context.Background(), "", "search", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.Output != "high" {
		t.Fatalf("output = %q, want %q (higher-priority server should win)", res.Output, "high")
	}
}

func TestCallToolSkipsDisabledServers(t *testing.T) {
	r := NewRegistry()
	r.RegisterServer("disabled", 1, false)
	r.RegisterTool("disabled", Descriptor{Name: "search"}, func(ctx context.Context, args map[string]interface{}) (*Result, error) {
		return &Result{Output: "should not be seen"}, nil
	})

	if _, err := r.CallTool(context.Background(), "", "search", nil); err == nil {
		t.Fatal("expected an error since only a disabled server exposes the tool")
	}
}

func TestCallToolUnknownServer(t *testing.T) {
	r := NewRegistry()
	if _, err := r.CallTool(context.Background(), "nope", "search", nil); err == nil {
		t.Fatal("expected an error for an unregistered server id")
	}
}

func TestCallToolPropagatesHandlerError(t *testing.T) {
	r := NewRegistry()
	r.RegisterServer("srv", 1, true)
	r.RegisterTool("srv", Descriptor{Name: "fail"}, func(ctx context.Context, args map[string]interface{}) (*Result, error) {
		return nil, context.DeadlineExceeded
	})

	if _, err := r.CallTool(context.Background(), "srv", "fail", nil); err == nil {
		t.Fatal("expected the handler's error to propagate")
	}
}

func TestListToolsFiltersByServer(t *testing.T) {
	r := NewRegistry()
	r.RegisterServer("a", 1, true)
	r.RegisterServer("b", 2, true)
	r.RegisterTool("a", Descriptor{Name: "x"}, func(ctx context.Context, args map[string]interface{}) (*Result, error) { return &Result{}, nil })
	r.RegisterTool("b", Descriptor{Name: "y"}, func(ctx context.Context, args map[string]interface{}) (*Result, error) { return &Result{}, nil })

	if got := r.ListTools("a"); len(got) != 1 || got[0].Name != "x" {
		t.Fatalf("ListTools(a) = %+v, want one descriptor named x", got)
	}
	if got := r.ListTools(""); len(got) != 2 {
		t.Fatalf("ListTools(\"\") = %+v, want 2 descriptors", got)
	}
}
