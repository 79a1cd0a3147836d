package executor

import (
	"context"
	"fmt"

	"github.com/CLIAIMONITOR/internal/tasks"
)

// runComposite implements spec.md §4.3's COMPOSITE row: steps run
// sequentially in-process and short-circuit on the first failure
// unless continueOnError is set.
func (x *Executor) runComposite(ctx context.Context, t *tasks.Task) (*tasks.Result, error) {
	continueOnError := boolParam(t.Parameters, "continueOnError", false)

	rawSteps, _ := t.Parameters["steps"].([]interface{})
	aggregate := &tasks.Result{Success: true, Metadata: map[string]string{}}

	for i, raw := range rawSteps {
		stepMap, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		stepTask, err := stepToTask(stepMap)
		if err != nil {
			aggregate.Success = false
			aggregate.Output += fmt.Sprintf("step %d: invalid step definition: %v\n", i, err)
			if !continueOnError {
				return aggregate, err
			}
			continue
		}

		stepResult, err := x.Execute(ctx, stepTask)
		if err != nil {
			aggregate.Success = false
			aggregate.Output += fmt.Sprintf("step %d (%s): %v\n", i, stepTask.Name, err)
			if !continueOnError {
				return aggregate, err
			}
			continue
		}

		aggregate.Output += fmt.Sprintf("step %d (%s): %s\n", i, stepTask.Name, stepResult.Output)
		aggregate.FilesCreated = append(aggregate.FilesCreated, stepResult.FilesCreated...)
		aggregate.FilesModified = append(aggregate.FilesModified, stepResult.FilesModified...)
		if !stepResult.Success {
			aggregate.Success = false
			if !continueOnError {
				return aggregate, nil
			}
		}
	}

	return aggregate, nil
}

func stepToTask(step map[string]interface{}) (*tasks.Task, error) {
	name, _ := step["name"].(string)
	if name == "" {
		name = "step"
	}
	description, _ := step["description"].(string)
	typeStr, _ := step["type"].(string)
	priorityStr, _ := step["priority"].(string)

	params, _ := step["parameters"].(map[string]interface{})

	stepTask := tasks.New(name, description, tasks.Type(typeStr), tasks.Priority(priorityStr), params)
	if err := stepTask.Validate(); err != nil {
		return nil, err
	}
	return stepTask, nil
}
