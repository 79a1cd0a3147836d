// Package planner implements the ReAct Planner from spec.md §4.5: it
// turns a goal into an ExecutionPlan and drives each SubTask through
// Reason -> Act -> Observe -> Reflect cycles, submitting Tasks to the
// queue and interpreting their results. Grounded on the teacher's
// supervisor.Planner (AnalyzeTasks/categorizeTask bucketing in
// supervisor/planner.go, generalized from deployment-plan analysis to
// ReAct subtask analysis) and on
// other_examples/...basegraphhq-basegraph__relay-internal-brain-planner.go's
// reason/act-loop shape (generalized from a tool-calling LLM loop to
// one that submits typed Tasks to an explicit queue instead of calling
// tools directly).
package planner

import (
	"time"

	"github.com/google/uuid"
)

// Priority mirrors tasks.Priority's CRITICAL/HIGH/MEDIUM/LOW subset
// used at the SubTask level (spec.md §3 SubTask has no BACKGROUND).
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Complexity is the SubTask's estimated difficulty, surfaced in
// ExecutionPlan.strategy's complexity score. It does not affect the
// ReAct retry budget, which depends on priority alone.
type Complexity string

const (
	ComplexitySimple   Complexity = "SIMPLE"
	ComplexityModerate Complexity = "MODERATE"
	ComplexityComplex  Complexity = "COMPLEX"
)

// OperationMode mirrors the FILE_WRITE operationMode hint a subtask
// may pre-declare, per spec.md §3.
type OperationMode string

const (
	OperationCreate  OperationMode = "CREATE"
	OperationReplace OperationMode = "REPLACE"
	OperationModify  OperationMode = "MODIFY"
	OperationAppend  OperationMode = "APPEND"
	OperationAuto    OperationMode = "AUTO"
)

// SubTask is one plan node, per spec.md §3.
type SubTask struct {
	ID                  string        `json:"id"`
	Description         string        `json:"description"`
	ExpectedOutcome     string        `json:"expectedOutcome"`
	Priority            Priority      `json:"priority"`
	Complexity          Complexity    `json:"complexity"`
	Dependencies        []string      `json:"dependencies,omitempty"`
	Commands            []string      `json:"commands,omitempty"`
	CodeLanguage        string        `json:"codeLanguage,omitempty"`
	CodeContent         string        `json:"codeContent,omitempty"`
	FilePath            string        `json:"filePath,omitempty"`
	FileContent         string        `json:"fileContent,omitempty"`
	OperationMode       OperationMode `json:"operationMode,omitempty"`
	OriginalFileContent string        `json:"originalFileContent,omitempty"`
	FileExists          bool          `json:"fileExists,omitempty"`
}

// PlanStatus is an ExecutionPlan's lifecycle state, per spec.md §3.
type PlanStatus string

const (
	PlanCreated   PlanStatus = "CREATED"
	PlanExecuting PlanStatus = "EXECUTING"
	PlanCompleted PlanStatus = "COMPLETED"
	PlanFailed    PlanStatus = "FAILED"
	PlanCancelled PlanStatus = "CANCELLED"
)

// Strategy describes ordering, parallelism opportunities and risk
// notes for a plan, surfaced by AnalyzePlan (SPEC_FULL.md supplemented
// feature, grounded on supervisor.DeploymentPlan.Rationale/Risks).
type Strategy struct {
	Ordering           string         `json:"ordering"`
	ParallelGroups      [][]string     `json:"parallelGroups,omitempty"`
	RiskNotes          []string       `json:"riskNotes,omitempty"`
	CategoryBreakdown  map[string]int `json:"categoryBreakdown,omitempty"`
	ComplexityScore    int            `json:"complexityScore"`
}

// ExecutionPlan is the static plan produced by CreatePlan, per spec.md §3.
type ExecutionPlan struct {
	ID          string                 `json:"id"`
	Goal        string                 `json:"goal"`
	SubTasks    []*SubTask             `json:"subTasks"`
	Strategy    Strategy               `json:"strategy"`
	Context     map[string]interface{} `json:"context"`
	Status      PlanStatus             `json:"status"`
	CreatedAt   time.Time              `json:"createdAt"`
	CompletedAt time.Time              `json:"completedAt,omitempty"`

	// replanFailures counts consecutive failed tail-only replans per
	// subtask id, per spec.md §9: "a full rebuild is allowed only when
	// three consecutive replans at the same index fail." Not
	// serialized; it is execution bookkeeping, not plan state.
	replanFailures map[string]int `json:"-"`
}

// StepStatus is an ExecutionStep's outcome.
type StepStatus string

const (
	StepRunning   StepStatus = "RUNNING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
)

// ActionSpec is a desugared, executor-bound action chosen by reasoning,
// per spec.md §3.
type ActionSpec struct {
	ActionType      string                 `json:"actionType"`
	ActionDescription string               `json:"actionDescription"`
	Parameters      map[string]interface{} `json:"parameters"`
	ExpectedOutcome string                 `json:"expectedOutcome"`
}

// ExecutionStep is one ReAct cycle's record, per spec.md §3.
type ExecutionStep struct {
	SubTaskID    string     `json:"subTaskId"`
	Reasoning    string     `json:"reasoning"`
	Action       ActionSpec `json:"action"`
	Observation  string     `json:"observation"`
	Status       StepStatus `json:"status"`
	ShouldReplan bool       `json:"shouldReplan"`
}

// PlanExecution is the mutable runtime record per plan, per spec.md §3.
type PlanExecution struct {
	PlanID        string                 `json:"planId"`
	Status        PlanStatus             `json:"status"`
	Steps         []*ExecutionStep       `json:"steps"`
	WorkingMemory map[string]interface{} `json:"workingMemory"`
	StartedAt     time.Time              `json:"startedAt"`
	CompletedAt   time.Time              `json:"completedAt,omitempty"`
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
