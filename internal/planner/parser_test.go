package planner

import "testing"

func TestParseSubtasksBasic(t *testing.T) {
	response := `Here is the plan:

SUBTASK_1
Description: Read the configuration file
Expected Outcome: Contents are printed to working memory
Priority: HIGH
Complexity: SIMPLE
Dependencies: none
File Path: config.yaml

SUBTASK_2
Description: Apply the configured timeout to the server
Expected Outcome: Server starts with the new timeout
Priority: MEDIUM
Complexity: MODERATE
Dependencies: subtask_1
`

	subtasks := ParseSubtasks(response)
	if len(subtasks) != 2 {
		t.Fatalf("got %d subtasks, want 2", len(subtasks))
	}
	if subtasks[0].Priority != PriorityHigh {
		t.Fatalf("subtask 1 priority = %s, want HIGH", subtasks[0].Priority)
	}
	if subtasks[0].FilePath != "config.yaml" {
		t.Fatalf("subtask 1 filePath = %q", subtasks[0].FilePath)
	}
	if subtasks[1].Complexity != ComplexityModerate {
		t.Fatalf("subtask 2 complexity = %s, want MODERATE", subtasks[1].Complexity)
	}
}

func TestParseSubtasksUnknownEnumsFallBack(t *testing.T) {
	response := `SUBTASK_1
Description: Do a thing
Priority: URGENT
Complexity: HARD
`
	subtasks := ParseSubtasks(response)
	if len(subtasks) != 1 {
		t.Fatalf("got %d subtasks, want 1", len(subtasks))
	}
	if subtasks[0].Priority != PriorityMedium {
		t.Fatalf("priority = %s, want fallback MEDIUM", subtasks[0].Priority)
	}
	if subtasks[0].Complexity != ComplexityModerate {
		t.Fatalf("complexity = %s, want fallback MODERATE", subtasks[0].Complexity)
	}
}

func TestParseSubtasksSkipsBlocksWithoutDescription(t *testing.T) {
	response := `SUBTASK_1
Priority: HIGH
`
	subtasks := ParseSubtasks(response)
	if len(subtasks) != 0 {
		t.Fatalf("got %d subtasks, want 0 (no Description field)", len(subtasks))
	}
}

func TestParseActionSpec(t *testing.T) {
	response := `ACTION_TYPE: SHELL_COMMAND
ACTION_DESCRIPTION: list the directory
PARAMETERS: command=ls -la, timeout=5
EXPECTED_OUTCOME: directory contents are printed
`
	action := ParseActionSpec(response)
	if action.ActionType != "SHELL_COMMAND" {
		t.Fatalf("actionType = %q", action.ActionType)
	}
	if action.Parameters["command"] != "ls -la" {
		t.Fatalf("command param = %v", action.Parameters["command"])
	}
	if action.Parameters["timeout"] != "5" {
		t.Fatalf("timeout param = %v", action.Parameters["timeout"])
	}
}
