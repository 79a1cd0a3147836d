package executor

import (
	"context"
	"fmt"
	"runtime"

	"github.com/CLIAIMONITOR/internal/errkind"
	"github.com/CLIAIMONITOR/internal/tasks"
)

// systemPromptFor returns the per-type system-prompt convention from
// spec.md §4.3's "AI-typed handlers" paragraph.
func systemPromptFor(t tasks.Type) string {
	switch t {
	case tasks.TypeCodeGeneration:
		return "You write correct, idiomatic code for the requested task. Respond with code only unless asked to explain."
	case tasks.TypeDecisionMaking:
		return "You make a single clear decision given the context and justify it in one sentence."
	case tasks.TypeTextProcessing:
		return "You transform or summarize the given text exactly as requested."
	default:
		return "You analyze the given context and report findings concisely."
	}
}

// runAIHandler implements spec.md §4.3's AI_ANALYSIS/CODE_GENERATION/
// DECISION_MAKING/TEXT_PROCESSING row: build a prompt from declared
// parameters, call the AI Adapter, and return its text as output.
func (x *Executor) runAIHandler(ctx context.Context, t *tasks.Task) (*tasks.Result, error) {
	prompt := firstNonEmpty(t.Parameters, "prompt", "content", "question", "text")
	systemPrompt := systemPromptFor(t.Type)

	resp, err := x.ai.Send(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{}
	if resp.Usage != nil {
		meta["inputTokens"] = fmt.Sprint(resp.Usage.InputTokens)
		meta["outputTokens"] = fmt.Sprint(resp.Usage.OutputTokens)
	}
	return &tasks.Result{Success: true, Output: resp.Text, Metadata: meta}, nil
}

func firstNonEmpty(params map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v := stringParam(params, k); v != "" {
			return v
		}
	}
	return ""
}

// runToolCall implements spec.md §4.3's TOOL_CALL handler.
func (x *Executor) runToolCall(ctx context.Context, t *tasks.Task) (*tasks.Result, error) {
	toolName := stringParam(t.Parameters, "toolName")
	serverID := stringParam(t.Parameters, "serverId")

	var args map[string]interface{}
	if raw, ok := t.Parameters["arguments"]; ok {
		args, _ = raw.(map[string]interface{})
	}

	toolResult, err := x.tool.CallTool(ctx, serverID, toolName, args)
	if err != nil {
		return nil, err
	}
	if toolResult.IsError {
		return &tasks.Result{Success: false, Output: toolResult.Output}, errkind.New(errkind.UpstreamFailed, toolResult.Output)
	}
	return &tasks.Result{Success: true, Output: toolResult.Output}, nil
}

// runHealthCheck implements spec.md §4.3's HEALTH_CHECK row.
func (x *Executor) runHealthCheck(t *tasks.Task) (*tasks.Result, error) {
	output := fmt.Sprintf("goroutines=%d os=%s arch=%s allowRoots=%v",
		runtime.NumGoroutine(), runtime.GOOS, runtime.GOARCH, x.env.AllowRoots())
	return &tasks.Result{Success: true, Output: output}, nil
}
