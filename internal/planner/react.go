package planner

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/CLIAIMONITOR/internal/ai"
	"github.com/CLIAIMONITOR/internal/config"
	"github.com/CLIAIMONITOR/internal/corelog"
	"github.com/CLIAIMONITOR/internal/env"
	"github.com/CLIAIMONITOR/internal/errkind"
	"github.com/CLIAIMONITOR/internal/queue"
	"github.com/CLIAIMONITOR/internal/tasks"
)

// Submitter is the narrow interface the Planner needs from the
// TaskQueue: submit a derived action Task and await its terminal
// result, per spec.md §4.5 step 3. *queue.Queue satisfies this.
type Submitter interface {
	SubmitAndWait(ctx context.Context, t *tasks.Task) (*tasks.Task, error)
}

var _ Submitter = (*queue.Queue)(nil)

// FailureHandler is the out-of-scope interactive collaborator from
// spec.md §4.5 step 6: when installed, it is offered a failed
// subtask's report and returns one of "continue", "stop", "retry". A
// nil FailureHandler means non-interactive mode, where the decision is
// governed purely by the subtask's priority.
type FailureHandler interface {
	HandleFailure(ctx context.Context, subtask *SubTask, step *ExecutionStep) (decision string, err error)
}

// Planner drives ExecutionPlans through ReAct cycles, per spec.md §4.5.
type Planner struct {
	ai      ai.Adapter
	queue   Submitter
	env     *env.Environment
	cfg     *config.Config
	failure FailureHandler
	log     *corelog.Logger

	mu    sync.Mutex
	plans map[string]*ExecutionPlan
}

// New constructs a Planner. failureHandler may be nil (non-interactive).
func New(aiAdapter ai.Adapter, taskQueue Submitter, environment *env.Environment, cfg *config.Config, failureHandler FailureHandler) *Planner {
	return &Planner{
		ai:      aiAdapter,
		queue:   taskQueue,
		env:     environment,
		cfg:     cfg,
		failure: failureHandler,
		log:     corelog.New("PLANNER"),
		plans:   make(map[string]*ExecutionPlan),
	}
}

const decompositionSystemPrompt = `You are the planning component of an autonomous coding agent.
Given a goal and a summary of the working environment, decompose the goal into
an ordered list of concrete subtasks. Respond with one SUBTASK_<n> block per
subtask using this template:

SUBTASK_1
Description: <what to do>
Expected Outcome: <how to know it worked>
Priority: CRITICAL|HIGH|MEDIUM|LOW
Complexity: SIMPLE|MODERATE|COMPLEX
Dependencies: <comma-separated subtask ids this depends on, or none>
Commands: <optional shell commands>
Code Language: <optional>
Code Content: <optional>
File Path: <optional>
File Content: <optional>
`

// CreatePlan produces an ExecutionPlan from goal, per spec.md §4.5.
func (p *Planner) CreatePlan(ctx context.Context, goal string, planCtx map[string]interface{}) (*ExecutionPlan, error) {
	cwd := contextString(planCtx, "cwd")
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}

	probe, err := ProbeEnvironment(ctx, p.env, cwd)
	if err != nil {
		p.log.Warnf("environment probe failed: %v", err)
		probe = &ProbeSummary{Text: "(environment probe unavailable)"}
	}

	userPrompt := fmt.Sprintf("Goal: %s\n\nEnvironment:\n%s", goal, probe.Text)

	var subtasks []*SubTask
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		resp, sendErr := p.ai.Send(ctx, decompositionSystemPrompt, userPrompt)
		if sendErr != nil {
			lastErr = sendErr
			if !errkind.IsRetriable(sendErr) {
				break
			}
			continue
		}
		subtasks = ParseSubtasks(resp.Text)
		if len(subtasks) > 0 {
			lastErr = nil
			break
		}
		lastErr = errkind.New(errkind.ParseError, "decomposition response had no parseable SUBTASK_ blocks")
		userPrompt += "\n\n(Previous response could not be parsed. Respond using exactly the SUBTASK_<n> template.)"
	}
	if len(subtasks) == 0 {
		if lastErr == nil {
			lastErr = errkind.New(errkind.PlanningError, "decomposition yielded no subtasks")
		}
		return nil, errkind.Wrap(errkind.PlanningError, lastErr).WithRetriable(false)
	}

	for _, st := range subtasks {
		if st.FilePath == "" {
			continue
		}
		resolved, resolveErr := p.env.ResolvePath(st.FilePath)
		if resolveErr != nil {
			continue
		}
		st.FileExists = p.env.Exists(resolved)
		if st.FileExists {
			content, _, readErr := p.env.ReadFile(resolved)
			if readErr == nil {
				st.OriginalFileContent = content
			}
		}
	}

	plan := &ExecutionPlan{
		ID:             newID("plan"),
		Goal:           goal,
		SubTasks:       subtasks,
		Context:        planCtx,
		Status:         PlanCreated,
		CreatedAt:      time.Now(),
		replanFailures: make(map[string]int),
	}
	plan.Strategy = AnalyzePlan(plan)

	p.mu.Lock()
	p.plans[plan.ID] = plan
	p.mu.Unlock()

	p.log.Infof("created plan %s with %d subtasks", plan.ID, len(subtasks))
	return plan, nil
}

// GetPlan returns a previously created plan.
func (p *Planner) GetPlan(id string) (*ExecutionPlan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, ok := p.plans[id]
	return pl, ok
}

// ListPlans returns every plan the Planner has created, per the Agent
// Service's listPlans operation (spec.md §6).
func (p *Planner) ListPlans() []*ExecutionPlan {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*ExecutionPlan, 0, len(p.plans))
	for _, pl := range p.plans {
		out = append(out, pl)
	}
	return out
}

// ExecutePlan drives plan to completion via per-subtask ReAct cycles,
// per spec.md §4.5.
func (p *Planner) ExecutePlan(ctx context.Context, planID string) (*PlanExecution, error) {
	plan, ok := p.GetPlan(planID)
	if !ok {
		return nil, errkind.Newf(errkind.Validation, "unknown plan %q", planID)
	}

	plan.Status = PlanExecuting
	wm := NewWorkingMemory()
	exec := &PlanExecution{
		PlanID:    plan.ID,
		Status:    PlanExecuting,
		StartedAt: time.Now(),
	}

	done := make(map[string]bool)
	skipped := make(map[string]bool)
	consecutiveNoProgress := 0

	for len(done)+len(skipped) < len(plan.SubTasks) {
		progressed := false
		for _, st := range plan.SubTasks {
			if done[st.ID] || skipped[st.ID] {
				continue
			}
			if !allSatisfied(st.Dependencies, done) {
				continue
			}
			if anyFailed(st.Dependencies, skipped) {
				skipped[st.ID] = true
				progressed = true
				continue
			}

			outcome, steps := p.runSubtask(ctx, plan, st, wm)
			exec.Steps = append(exec.Steps, steps...)
			progressed = true

			switch outcome {
			case outcomeSucceeded:
				done[st.ID] = true
			case outcomeSkipped:
				skipped[st.ID] = true
			case outcomeFailedCritical:
				plan.Status = PlanFailed
				exec.Status = PlanFailed
				exec.WorkingMemory = wm.Snapshot()
				exec.CompletedAt = time.Now()
				return exec, nil
			case outcomeFailed:
				skipped[st.ID] = true
			}
		}
		if !progressed {
			consecutiveNoProgress++
		} else {
			consecutiveNoProgress = 0
		}
		if consecutiveNoProgress >= 3 {
			plan.Status = PlanFailed
			exec.Status = PlanFailed
			exec.WorkingMemory = wm.Snapshot()
			exec.CompletedAt = time.Now()
			return exec, nil
		}
	}

	plan.Status = PlanCompleted
	exec.Status = PlanCompleted
	exec.WorkingMemory = wm.Snapshot()
	exec.CompletedAt = time.Now()
	plan.CompletedAt = exec.CompletedAt
	return exec, nil
}

type subtaskOutcome int

const (
	outcomeSucceeded subtaskOutcome = iota
	outcomeFailed
	outcomeFailedCritical
	outcomeSkipped
)

// runSubtask drives one subtask through ReAct cycles until it
// succeeds, is skipped by policy, or fails permanently, per spec.md
// §4.5 steps 1-6.
func (p *Planner) runSubtask(ctx context.Context, plan *ExecutionPlan, st *SubTask, wm *WorkingMemory) (subtaskOutcome, []*ExecutionStep) {
	var steps []*ExecutionStep
	var lastStep *ExecutionStep
	maxCycles := 1 + retryBudget(st.Priority)

	for cycle := 0; cycle < maxCycles; cycle++ {
		step := p.reactCycle(ctx, plan, st, wm, lastStep)
		steps = append(steps, step)
		lastStep = step

		if step.Status == StepCompleted {
			return outcomeSucceeded, steps
		}

		if cycle == maxCycles-1 {
			break
		}
		if step.ShouldReplan {
			p.replanFromStep(ctx, plan, st)
		}
	}

	if p.failure != nil {
		decision, err := p.failure.HandleFailure(ctx, st, lastStep)
		if err == nil {
			switch decision {
			case "continue":
				return outcomeSkipped, steps
			case "retry":
				step := p.reactCycle(ctx, plan, st, wm, lastStep)
				steps = append(steps, step)
				if step.Status == StepCompleted {
					return outcomeSucceeded, steps
				}
				return outcomeFailed, steps
			default: // "stop"
				return outcomeFailedCritical, steps
			}
		}
	}

	switch st.Priority {
	case PriorityCritical:
		return outcomeFailedCritical, steps
	case PriorityHigh:
		return outcomeFailed, steps
	default: // MEDIUM/LOW: skip and continue, per spec.md §4.5 step 6
		return outcomeSkipped, steps
	}
}

// retryBudget ties ReAct retry cycles to subtask priority, per spec.md
// §4.5 step 6: CRITICAL stops immediately (budget 0), HIGH retries up
// to 2 extra cycles, MEDIUM/LOW are skipped on first failure (budget 0,
// since retrying a skip-on-failure subtask wastes cycles).
func retryBudget(p Priority) int {
	switch p {
	case PriorityHigh:
		return 2
	default:
		return 0
	}
}

// reactCycle runs one Reason -> Act -> Observe -> Reflect turn against
// st, per spec.md §4.5.
func (p *Planner) reactCycle(ctx context.Context, plan *ExecutionPlan, st *SubTask, wm *WorkingMemory, prevFailure *ExecutionStep) *ExecutionStep {
	step := &ExecutionStep{SubTaskID: st.ID, Status: StepRunning}

	// 1. Reason.
	reasoning, err := p.reason(ctx, plan, st, wm, prevFailure)
	if err != nil {
		step.Reasoning = fmt.Sprintf("reasoning call failed: %v", err)
		step.Status = StepFailed
		return step
	}
	step.Reasoning = reasoning

	// 2. Pre-execution tool check (never blocks execution).
	p.checkTools(ctx, st, reasoning, wm)

	// 3. Act.
	action, err := p.act(ctx, plan, st, reasoning)
	if err != nil {
		step.Status = StepFailed
		step.Observation = fmt.Sprintf("could not determine an action: %v", err)
		return step
	}
	step.Action = action

	taskType, ok := mapActionType(action.ActionType)
	if !ok {
		step.Status = StepFailed
		step.Observation = fmt.Sprintf("unrecognized action type %q", action.ActionType)
		return step
	}

	t := tasks.New(action.ActionDescription, action.ActionDescription, taskType, mapPriority(st.Priority), action.Parameters)
	t.Retry.MaxAttempts = 1 // ReAct retries are the planner's decision, per spec.md §4.5 step 3

	result, waitErr := p.queue.SubmitAndWait(ctx, t)
	if waitErr != nil {
		step.Status = StepFailed
		step.Observation = fmt.Sprintf("task did not complete: %v", waitErr)
		return step
	}

	// 4. Observe.
	observation := observe(result)
	step.Observation = observation
	wm.Set(st.ID, observation)

	// 5. Reflect.
	succeeded := result.Status == tasks.StatusCompleted && result.Result != nil && result.Result.Success
	demonstrates := p.reflect(ctx, st, observation)
	if succeeded && demonstrates {
		step.Status = StepCompleted
		return step
	}

	step.Status = StepFailed
	if !demonstrates && succeeded {
		step.ShouldReplan = true
	}
	return step
}

func (p *Planner) reason(ctx context.Context, plan *ExecutionPlan, st *SubTask, wm *WorkingMemory, prevFailure *ExecutionStep) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan goal: %s\n", plan.Goal)
	fmt.Fprintf(&sb, "Current subtask: %s\nExpected outcome: %s\n", st.Description, st.ExpectedOutcome)
	fmt.Fprintf(&sb, "Working memory (recent observations):\n%s\n", wm.Summary(5))
	if prevFailure != nil {
		fmt.Fprintf(&sb, "Previous attempt failed. Observation: %s\n", prevFailure.Observation)
	}
	resp, err := p.ai.Send(ctx, "You are reasoning about how to accomplish one subtask of a larger plan. Briefly explain your approach.", sb.String())
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

const actionSystemPrompt = `Choose one concrete action to accomplish the current subtask. Respond with:

ACTION_TYPE: SHELL_COMMAND|FILE_READ|FILE_WRITE|FILE_COPY|FILE_DELETE|DIRECTORY_SCAN|AI_ANALYSIS|CODE_GENERATION|DECISION_MAKING|TEXT_PROCESSING|TOOL_CALL|SCRIPT_EXECUTION|HEALTH_CHECK|LOG_ANALYSIS
ACTION_DESCRIPTION: <one line>
PARAMETERS: key1=value1, key2=value2
EXPECTED_OUTCOME: <one line>
`

func (p *Planner) act(ctx context.Context, plan *ExecutionPlan, st *SubTask, reasoning string) (ActionSpec, error) {
	user := fmt.Sprintf("Subtask: %s\nReasoning: %s\nPre-declared commands: %v\nFile path hint: %s",
		st.Description, reasoning, st.Commands, st.FilePath)
	resp, err := p.ai.Send(ctx, actionSystemPrompt, user)
	if err != nil {
		return ActionSpec{}, err
	}
	action := ParseActionSpec(resp.Text)
	if action.ActionType == "" {
		return ActionSpec{}, errkind.New(errkind.ParseError, "no ACTION_TYPE parsed from response")
	}
	return action, nil
}

func (p *Planner) reflect(ctx context.Context, st *SubTask, observation string) bool {
	user := fmt.Sprintf("Expected outcome: %s\nObservation: %s\nDoes the observation demonstrate the expected outcome? Answer yes or no.",
		st.ExpectedOutcome, observation)
	resp, err := p.ai.Send(ctx, "You are evaluating whether a subtask's expected outcome was achieved.", user)
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(resp.Text))
	return strings.Contains(answer, "yes")
}

// checkTools extracts candidate tool names from st.Commands and the
// reasoning text, probes availability, and records an install
// suggestion in working memory for anything missing. Per spec.md §4.5
// step 2, this never blocks execution.
func (p *Planner) checkTools(ctx context.Context, st *SubTask, reasoning string, wm *WorkingMemory) {
	candidates := extractToolCandidates(st.Commands, reasoning)
	for _, tool := range candidates {
		if p.env.ToolAvailable(ctx, tool) {
			continue
		}
		resp, err := p.ai.Send(ctx,
			"Suggest a one-line shell command to install the named tool on the current OS.",
			fmt.Sprintf("Tool: %s\nOS: %s", tool, currentOS()))
		suggestion := "(no suggestion available)"
		if err == nil {
			suggestion = strings.TrimSpace(resp.Text)
		}
		wm.Set("tool-suggestion:"+tool, suggestion)
	}
}

// maxConsecutiveReplanFailures is spec.md §9's "three consecutive
// replans at the same index" threshold before a tail-only replan
// escalates to a full rebuild.
const maxConsecutiveReplanFailures = 3

// replanFromStep issues a decomposition call restricted to the
// remaining goal and substitutes the unfinished tail, per spec.md §4.5
// step 7 and §9's "partial (tail-only) replanning" decision. After
// maxConsecutiveReplanFailures failed attempts at the same subtask id,
// it escalates to a full rebuild of the unfinished tail from the
// original goal instead of the narrowed one.
func (p *Planner) replanFromStep(ctx context.Context, plan *ExecutionPlan, from *SubTask) {
	remaining := remainingDescriptions(plan.SubTasks, from.ID)
	if len(remaining) == 0 {
		return
	}

	full := plan.replanFailures[from.ID] >= maxConsecutiveReplanFailures
	var prompt string
	if full {
		prompt = fmt.Sprintf("Original goal: %s\nReplan the remaining work from scratch; prior narrow replans failed repeatedly.", plan.Goal)
	} else {
		prompt = fmt.Sprintf("Original goal: %s\nRemaining work: %s", plan.Goal, strings.Join(remaining, "; "))
	}

	resp, err := p.ai.Send(ctx, decompositionSystemPrompt, prompt)
	if err != nil {
		p.log.Warnf("replan for plan %s failed: %v", plan.ID, err)
		plan.replanFailures[from.ID]++
		return
	}
	newTail := ParseSubtasks(resp.Text)
	if len(newTail) == 0 {
		plan.replanFailures[from.ID]++
		return
	}

	replaceTail(plan, from.ID, newTail)
	plan.Strategy = AnalyzePlan(plan)
	delete(plan.replanFailures, from.ID)
}

func remainingDescriptions(subtasks []*SubTask, fromID string) []string {
	var out []string
	found := false
	for _, st := range subtasks {
		if st.ID == fromID {
			found = true
		}
		if found {
			out = append(out, st.Description)
		}
	}
	return out
}

func replaceTail(plan *ExecutionPlan, fromID string, newTail []*SubTask) {
	idx := -1
	for i, st := range plan.SubTasks {
		if st.ID == fromID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	plan.SubTasks = append(plan.SubTasks[:idx], newTail...)
}

func observe(t *tasks.Task) string {
	var sb strings.Builder
	if t.Result != nil {
		fmt.Fprintf(&sb, "success=%v", t.Result.Success)
		if t.Result.ExitCode != nil {
			fmt.Fprintf(&sb, " exitCode=%d", *t.Result.ExitCode)
		}
		sb.WriteString("\n")
		sb.WriteString(firstNLines(t.Result.Output, 10))
		if len(t.Result.FilesCreated) > 0 {
			fmt.Fprintf(&sb, "\nfiles created: %v", t.Result.FilesCreated)
		}
		if len(t.Result.FilesModified) > 0 {
			fmt.Fprintf(&sb, "\nfiles modified: %v", t.Result.FilesModified)
		}
	} else {
		fmt.Fprintf(&sb, "status=%s error=%s", t.Status, t.ErrorMessage)
	}
	return sb.String()
}

func firstNLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

func allSatisfied(deps []string, done map[string]bool) bool {
	for _, d := range deps {
		if !done[d] {
			return false
		}
	}
	return true
}

func anyFailed(deps []string, failed map[string]bool) bool {
	for _, d := range deps {
		if failed[d] {
			return true
		}
	}
	return false
}

func mapPriority(p Priority) tasks.Priority {
	switch p {
	case PriorityCritical:
		return tasks.PriorityCritical
	case PriorityHigh:
		return tasks.PriorityHigh
	case PriorityLow:
		return tasks.PriorityLow
	default:
		return tasks.PriorityMedium
	}
}

func mapActionType(s string) (tasks.Type, bool) {
	t := tasks.Type(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case tasks.TypeShellCommand, tasks.TypeFileRead, tasks.TypeFileWrite, tasks.TypeFileCopy,
		tasks.TypeFileDelete, tasks.TypeDirectoryScan, tasks.TypeAIAnalysis, tasks.TypeCodeGeneration,
		tasks.TypeDecisionMaking, tasks.TypeTextProcessing, tasks.TypeToolCall, tasks.TypeScriptExecution,
		tasks.TypeComposite, tasks.TypeHealthCheck, tasks.TypeLogAnalysis:
		return t, true
	default:
		return "", false
	}
}

func contextString(ctx map[string]interface{}, key string) string {
	v, ok := ctx[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func extractToolCandidates(commands []string, reasoning string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	for _, cmd := range commands {
		fields := strings.Fields(cmd)
		if len(fields) > 0 {
			add(fields[0])
		}
	}
	for _, tool := range commonTools {
		if strings.Contains(reasoning, tool) {
			add(tool)
		}
	}
	return out
}

func currentOS() string {
	return runtime.GOOS
}
