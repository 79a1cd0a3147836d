package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/CLIAIMONITOR/internal/env"
	"github.com/CLIAIMONITOR/internal/errkind"
	"github.com/CLIAIMONITOR/internal/tasks"
)

// runShellCommand implements spec.md §4.3's SHELL_COMMAND algorithm.
func (x *Executor) runShellCommand(ctx context.Context, t *tasks.Task) (*tasks.Result, error) {
	command := stringParam(t.Parameters, "command")
	workingDir := stringParam(t.Parameters, "workingDirectory")
	shellOverride := stringParam(t.Parameters, "shell")
	environ := mapStringParam(t.Parameters, "environment")

	var envSlice []string
	if environ != nil {
		envSlice = os.Environ()
		for k, v := range environ {
			envSlice = append(envSlice, k+"="+v)
		}
	}

	timeout := time.Duration(t.TimeoutMs) * time.Millisecond
	shellResult, err := x.env.RunShellCommand(ctx, command, workingDir, envSlice, shellOverride, timeout)
	if err != nil {
		if shellResult != nil {
			return resultFromShell(shellResult, false), err
		}
		return nil, err
	}

	return resultFromShell(shellResult, shellResult.ExitCode == 0), nil
}

func resultFromShell(sr *env.ShellResult, success bool) *tasks.Result {
	exitCode := sr.ExitCode
	meta := map[string]string{}
	if sr.OutputTruncated {
		meta["outputTruncated"] = "true"
	}
	return &tasks.Result{
		Success:         success,
		Output:          sr.Output,
		ExitCode:        &exitCode,
		ExecutionTimeMs: sr.ExecutionTimeMs,
		Metadata:        meta,
	}
}

// runScriptExecution stages scriptContent to a temp file per its
// language and runs it with the matching interpreter, per spec.md
// §4.3's SCRIPT_EXECUTION row.
func (x *Executor) runScriptExecution(ctx context.Context, t *tasks.Task) (*tasks.Result, error) {
	content := stringParam(t.Parameters, "scriptContent")
	language := stringParam(t.Parameters, "language")

	interpreter, ext, err := interpreterFor(language)
	if err != nil {
		return nil, err
	}

	dir, mkErr := os.MkdirTemp("", "script-*")
	if mkErr != nil {
		return nil, errkind.Wrap(errkind.FileIOError, mkErr)
	}
	defer os.RemoveAll(dir)

	scriptPath := filepath.Join(dir, "script"+ext)
	if err := os.WriteFile(scriptPath, []byte(content), 0o755); err != nil {
		return nil, errkind.Wrap(errkind.FileIOError, err)
	}

	command := fmt.Sprintf("%s %s", interpreter, scriptPath)
	timeout := time.Duration(t.TimeoutMs) * time.Millisecond
	shellResult, err := x.env.RunShellCommand(ctx, command, dir, nil, "", timeout)
	if err != nil {
		if shellResult != nil {
			return resultFromShell(shellResult, false), err
		}
		return nil, err
	}
	return resultFromShell(shellResult, shellResult.ExitCode == 0), nil
}

func interpreterFor(language string) (interpreter, ext string, err error) {
	switch language {
	case "python", "python3":
		return "python3", ".py", nil
	case "javascript", "node":
		return "node", ".js", nil
	case "bash", "shell", "sh":
		return "bash", ".sh", nil
	case "ruby":
		return "ruby", ".rb", nil
	default:
		return "", "", errkind.Newf(errkind.Validation, "unsupported script language %q", language).WithRetriable(false)
	}
}
