package planner

import (
	"context"
	"testing"

	"github.com/CLIAIMONITOR/internal/ai"
	"github.com/CLIAIMONITOR/internal/config"
	"github.com/CLIAIMONITOR/internal/env"
	"github.com/CLIAIMONITOR/internal/tasks"
)

// scriptedAdapter returns successive canned responses, used to drive a
// Planner through a deterministic ReAct cycle without a real provider.
type scriptedAdapter struct {
	responses []string
	calls     int
}

func (s *scriptedAdapter) Send(ctx context.Context, systemPrompt, userPrompt string) (*ai.Response, error) {
	if s.calls >= len(s.responses) {
		return &ai.Response{Text: "no more scripted responses"}, nil
	}
	text := s.responses[s.calls]
	s.calls++
	return &ai.Response{Text: text}, nil
}

// fakeSubmitter completes every submitted task immediately and
// successfully, letting tests isolate the Planner from a real queue.
type fakeSubmitter struct {
	completions []*tasks.Task
}

func (f *fakeSubmitter) SubmitAndWait(ctx context.Context, t *tasks.Task) (*tasks.Task, error) {
	t.Status = tasks.StatusCompleted
	t.Result = &tasks.Result{Success: true, Output: "hello"}
	f.completions = append(f.completions, t)
	return t, nil
}

func newTestPlanner(ai *scriptedAdapter, sub *fakeSubmitter, dir string) *Planner {
	e := env.New([]string{dir})
	cfg := config.Default()
	return New(ai, sub, e, cfg, nil)
}

func TestCreatePlanParsesSubtasks(t *testing.T) {
	dir := t.TempDir()
	scripted := &scriptedAdapter{responses: []string{
		`SUBTASK_1
Description: Echo a greeting
Expected Outcome: greeting is printed
Priority: HIGH
Complexity: SIMPLE
`,
	}}
	p := newTestPlanner(scripted, &fakeSubmitter{}, dir)

	plan, err := p.CreatePlan(context.Background(), "print a greeting", map[string]interface{}{"cwd": dir})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if len(plan.SubTasks) != 1 {
		t.Fatalf("got %d subtasks, want 1", len(plan.SubTasks))
	}
	if plan.Status != PlanCreated {
		t.Fatalf("status = %s, want CREATED", plan.Status)
	}
	if got, ok := p.GetPlan(plan.ID); !ok || got.ID != plan.ID {
		t.Fatalf("GetPlan did not return the created plan")
	}
}

func TestCreatePlanFailsWhenNothingParses(t *testing.T) {
	dir := t.TempDir()
	scripted := &scriptedAdapter{responses: []string{
		"I cannot help with that.",
		"Still nothing useful.",
		"Giving up.",
	}}
	p := newTestPlanner(scripted, &fakeSubmitter{}, dir)

	_, err := p.CreatePlan(context.Background(), "do something", nil)
	if err == nil {
		t.Fatal("expected an error when no SUBTASK_ blocks parse")
	}
}

func TestExecutePlanSingleSubtaskSucceeds(t *testing.T) {
	dir := t.TempDir()
	scripted := &scriptedAdapter{responses: []string{
		// decomposition
		`SUBTASK_1
Description: Echo a greeting
Expected Outcome: greeting is printed
Priority: HIGH
Complexity: SIMPLE
`,
		// reason
		"I will run an echo command to produce the greeting.",
		// act
		`ACTION_TYPE: SHELL_COMMAND
ACTION_DESCRIPTION: echo a greeting
PARAMETERS: command=echo hello
EXPECTED_OUTCOME: greeting is printed
`,
		// reflect
		"yes, the observation shows the greeting was printed.",
	}}
	sub := &fakeSubmitter{}
	p := newTestPlanner(scripted, sub, dir)

	plan, err := p.CreatePlan(context.Background(), "print a greeting", map[string]interface{}{"cwd": dir})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	exec, err := p.ExecutePlan(context.Background(), plan.ID)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if exec.Status != PlanCompleted {
		t.Fatalf("plan status = %s, want COMPLETED", exec.Status)
	}
	if len(exec.Steps) != 1 {
		t.Fatalf("got %d steps, want 1", len(exec.Steps))
	}
	if exec.Steps[0].Status != StepCompleted {
		t.Fatalf("step status = %s, want COMPLETED", exec.Steps[0].Status)
	}
	if len(sub.completions) != 1 {
		t.Fatalf("expected exactly one task submitted to the queue, got %d", len(sub.completions))
	}
}

func TestExecutePlanUnknownIDFails(t *testing.T) {
	dir := t.TempDir()
	p := newTestPlanner(&scriptedAdapter{}, &fakeSubmitter{}, dir)
	if _, err := p.ExecutePlan(context.Background(), "plan-does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown plan id")
	}
}
