// Package executor maps a Task to its handler, validates parameters,
// runs the action, and returns a tasks.Result or a classified error,
// per spec.md §4.3. Grounded on the teacher's supervisor.Executor
// (ExecutePlan dispatch-by-kind shape in internal/supervisor/executor.go),
// generalized from deployment-plan spawning to per-task-type dispatch.
package executor

import (
	"context"
	"time"

	"github.com/CLIAIMONITOR/internal/ai"
	"github.com/CLIAIMONITOR/internal/corelog"
	"github.com/CLIAIMONITOR/internal/env"
	"github.com/CLIAIMONITOR/internal/errkind"
	"github.com/CLIAIMONITOR/internal/tasks"
	"github.com/CLIAIMONITOR/internal/toolsrv"
)

// Executor dispatches Tasks to their typed handlers.
type Executor struct {
	env  *env.Environment
	ai   ai.Adapter
	tool toolsrv.Adapter
	log  *corelog.Logger
}

// New constructs an Executor over its four leaf dependencies.
func New(environment *env.Environment, aiAdapter ai.Adapter, toolAdapter toolsrv.Adapter) *Executor {
	return &Executor{
		env:  environment,
		ai:   aiAdapter,
		tool: toolAdapter,
		log:  corelog.New("EXEC"),
	}
}

// Execute validates t's parameters then dispatches to its handler.
// The returned error, if any, is always a *errkind.Classified.
func (x *Executor) Execute(ctx context.Context, t *tasks.Task) (*tasks.Result, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		result *tasks.Result
		err    error
	)

	switch t.Type {
	case tasks.TypeShellCommand:
		result, err = x.runShellCommand(ctx, t)
	case tasks.TypeScriptExecution:
		result, err = x.runScriptExecution(ctx, t)
	case tasks.TypeFileRead:
		result, err = x.runFileRead(t)
	case tasks.TypeFileWrite:
		result, err = x.runFileWrite(t)
	case tasks.TypeFileCopy:
		result, err = x.runFileCopy(t)
	case tasks.TypeFileDelete:
		result, err = x.runFileDelete(t)
	case tasks.TypeDirectoryScan:
		result, err = x.runDirectoryScan(t)
	case tasks.TypeAIAnalysis, tasks.TypeCodeGeneration, tasks.TypeDecisionMaking, tasks.TypeTextProcessing:
		result, err = x.runAIHandler(ctx, t)
	case tasks.TypeToolCall:
		result, err = x.runToolCall(ctx, t)
	case tasks.TypeComposite:
		result, err = x.runComposite(ctx, t)
	case tasks.TypeHealthCheck:
		result, err = x.runHealthCheck(t)
	case tasks.TypeLogAnalysis:
		result, err = x.runLogAnalysis(t)
	default:
		err = errkind.Newf(errkind.Validation, "no handler for task type %q", t.Type).WithRetriable(false)
	}

	if result != nil {
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
	}
	return result, err
}

// stringParam reads a string parameter, returning "" if absent or of
// the wrong type.
func stringParam(params map[string]interface{}, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func boolParam(params map[string]interface{}, key string, def bool) bool {
	v, ok := params[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func intParam(params map[string]interface{}, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func mapStringParam(params map[string]interface{}, key string) map[string]string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}
