package tasks

import (
	"fmt"

	"github.com/CLIAIMONITOR/internal/errkind"
)

// requiredParams mirrors the parameter contract table in spec.md §4.3.
var requiredParams = map[Type][]string{
	TypeShellCommand:    {"command"},
	TypeScriptExecution: {"scriptContent", "language"},
	TypeFileRead:        {"filePath"},
	TypeFileWrite:       {"filePath", "content"},
	TypeFileCopy:        {"sourcePath", "targetPath"},
	TypeFileDelete:      {"filePath"},
	TypeDirectoryScan:   {"directoryPath"},
	TypeToolCall:        {"toolName"},
	TypeLogAnalysis:     {"logFile"},
	// AI_ANALYSIS / CODE_GENERATION / DECISION_MAKING / TEXT_PROCESSING accept
	// any of prompt/content/question/text; checked specially below.
	// COMPOSITE requires "steps"; checked specially below.
	// HEALTH_CHECK has no required parameters.
}

var aiAliasKeys = []string{"prompt", "content", "question", "text"}

// Validate checks the task's declared type has valid required
// parameters before admission, per spec.md §4.3's "every handler
// rejects missing/empty required parameters with ValidationError
// before any side effect". Mirrors the teacher's Task.Validate plus
// ValidateReport's field-presence checks in supervisor/parser.go.
func (t *Task) Validate() error {
	if t.Name == "" {
		return errkind.New(errkind.Validation, "task name is required")
	}
	if t.Type == "" {
		return errkind.New(errkind.Validation, "task type is required")
	}

	switch t.Type {
	case TypeAIAnalysis, TypeCodeGeneration, TypeDecisionMaking, TypeTextProcessing:
		return t.validateAIAlias()
	case TypeComposite:
		return t.validateComposite()
	case TypeHealthCheck:
		return nil
	}

	required, known := requiredParams[t.Type]
	if !known {
		return errkind.Newf(errkind.Validation, "unknown task type %q", t.Type)
	}

	for _, key := range required {
		if err := t.requireNonEmpty(key); err != nil {
			return err
		}
	}
	return nil
}

func (t *Task) requireNonEmpty(key string) error {
	v, ok := t.Parameters[key]
	if !ok {
		return errkind.Newf(errkind.Validation, "missing required parameter %q", key)
	}
	s, ok := v.(string)
	if ok && s == "" {
		return errkind.Newf(errkind.Validation, "required parameter %q is empty", key)
	}
	return nil
}

func (t *Task) validateAIAlias() error {
	for _, key := range aiAliasKeys {
		if v, ok := t.Parameters[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return nil
			}
		}
	}
	return errkind.Newf(errkind.Validation, "one of %v is required", aiAliasKeys)
}

func (t *Task) validateComposite() error {
	steps, ok := t.Parameters["steps"]
	if !ok {
		return errkind.New(errkind.Validation, "missing required parameter \"steps\"")
	}
	list, ok := steps.([]interface{})
	if !ok || len(list) == 0 {
		return errkind.New(errkind.Validation, "\"steps\" must be a non-empty list")
	}
	return nil
}

// String implements fmt.Stringer for debugging/log lines.
func (t *Task) String() string {
	return fmt.Sprintf("Task{id=%s type=%s priority=%s status=%s}", t.ID, t.Type, t.Priority, t.Status)
}
