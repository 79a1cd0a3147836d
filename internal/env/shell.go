package env

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/CLIAIMONITOR/internal/errkind"
	"github.com/CLIAIMONITOR/internal/tasks"
)

// ResolveShell picks the interpreter per spec.md §4.3 step 2: explicit
// override, else OS default (/bin/zsh on macOS, /bin/bash on Linux,
// cmd /c on Windows). Grounded on the teacher's exec.Command("wezterm.exe", ...)
// invocation style in internal/wezterm/ops.go, generalized to pick the
// binary rather than hardcoding it.
func ResolveShell(override string) (string, []string) {
	if override != "" {
		return override, []string{"-c"}
	}
	switch runtime.GOOS {
	case "darwin":
		return "/bin/zsh", []string{"-c"}
	case "windows":
		return "cmd", []string{"/c"}
	default:
		return "/bin/bash", []string{"-c"}
	}
}

// ToolAvailable probes whether tool is on PATH, using the same shell
// selection rule ("which" on Unix, "where" on Windows), per spec.md §4.4.
func (e *Environment) ToolAvailable(ctx context.Context, tool string) bool {
	probe := "which"
	if runtime.GOOS == "windows" {
		probe = "where"
	}
	cmd := exec.CommandContext(ctx, probe, tool)
	return cmd.Run() == nil
}

// ShellResult is the outcome of a spawned shell command.
type ShellResult struct {
	ExitCode        int
	Output          string
	OutputTruncated bool
	ExecutionTimeMs int64
}

// RunShellCommand executes command under the deny-list and timeout
// discipline of spec.md §4.3's SHELL_COMMAND algorithm. Stdout and
// stderr are captured concurrently into independent 64 KiB bounded
// buffers; on timeout the process group is terminated then killed via
// the OS-specific helpers in proc_unix.go / proc_windows.go.
func (e *Environment) RunShellCommand(ctx context.Context, command, workingDir string, environ []string, shellOverride string, timeout time.Duration) (*ShellResult, error) {
	if err := e.CheckCommand(command); err != nil {
		return nil, err
	}

	shellPath, shellArgs := ResolveShell(shellOverride)
	args := append(append([]string{}, shellArgs...), command)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, shellPath, args...)
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	if len(environ) > 0 {
		cmd.Env = environ
	}
	setProcessGroup(cmd)

	var stdoutBuf, stderrBuf boundedBuffer
	stdoutBuf.limit = tasks.MaxOutputBytes
	stderrBuf.limit = tasks.MaxOutputBytes
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	err := cmd.Start()
	if err != nil {
		return nil, errkind.Wrap(errkind.ProcessError, err)
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		killProcessGroup(cmd)
		return &ShellResult{
			ExitCode:        -1,
			Output:          stdoutBuf.String() + stderrBuf.String(),
			OutputTruncated: stdoutBuf.truncated || stderrBuf.truncated,
			ExecutionTimeMs: elapsed.Milliseconds(),
		}, errkind.New(errkind.Timeout, "shell command exceeded timeout").WithRetriable(true)
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, errkind.Wrap(errkind.ProcessError, waitErr)
		}
	}

	return &ShellResult{
		ExitCode:        exitCode,
		Output:          stdoutBuf.String() + stderrBuf.String(),
		OutputTruncated: stdoutBuf.truncated || stderrBuf.truncated,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}, nil
}

// boundedBuffer caps writes at limit bytes and records truncation,
// matching spec.md §4.3's "mark output_truncated in metadata".
type boundedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
