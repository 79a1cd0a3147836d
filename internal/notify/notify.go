// Package notify implements an optional desktop toast on CRITICAL
// task/plan failure, per SPEC_FULL.md's domain-stack wiring table.
// Grounded on internal/notifications/toast.go (go-toast/toast wrapper,
// Windows-only, dashboard-URL click action), generalized from the
// teacher's supervisor-needs-input alert to a CRITICAL-severity
// task/plan failure alert, and gated behind agent.mode the way spec.md
// §4.5 step 6 gates interactive failure handling (silent in
// AUTONOMOUS, since there is no human expected to be watching).
package notify

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"

	"github.com/CLIAIMONITOR/internal/config"
)

// Notifier shows a toast notification on CRITICAL failures, unless the
// configured mode is AUTONOMOUS.
type Notifier struct {
	appID string
	mode  config.Mode
}

// New returns a Notifier for appID under mode. An empty appID defaults
// to the agent's name.
func New(appID string, mode config.Mode) *Notifier {
	if appID == "" {
		appID = "cliaimonitor-agent"
	}
	return &Notifier{appID: appID, mode: mode}
}

// IsSupported reports whether toast notifications can be shown on this
// platform (go-toast/toast only implements the Windows notification
// center).
func (n *Notifier) IsSupported() bool {
	return runtime.GOOS == "windows"
}

// NotifyTaskFailure shows a toast for a CRITICAL-priority task failure.
// A no-op in AUTONOMOUS mode or on unsupported platforms.
func (n *Notifier) NotifyTaskFailure(taskName, reason string) error {
	if n.mode == config.ModeAutonomous {
		return nil
	}
	return n.push("Critical task failed", fmt.Sprintf("%s: %s", taskName, reason))
}

// NotifyPlanFailure shows a toast for a plan that stopped due to a
// CRITICAL subtask failure. A no-op in AUTONOMOUS mode or on
// unsupported platforms.
func (n *Notifier) NotifyPlanFailure(goal, reason string) error {
	if n.mode == config.ModeAutonomous {
		return nil
	}
	return n.push("Plan failed", fmt.Sprintf("%s: %s", goal, reason))
}

func (n *Notifier) push(title, message string) error {
	if !n.IsSupported() {
		return nil
	}
	notification := toast.Notification{
		AppID:   n.appID,
		Title:   title,
		Message: message,
		Audio:   toast.IM,
	}
	return notification.Push()
}
