package models

// ExecutionContext is the data window an action sees while a task runs: the
// task input, the workflow variables and the outputs of steps completed so
// far, keyed by step ID.
type ExecutionContext struct {
	TaskID      string         `json:"task_id"`
	WorkflowID  string         `json:"workflow_id"`
	Input       map[string]any `json:"input,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
	StepResults map[string]any `json:"step_results,omitempty"`
}

// Data returns the view conditions and transforms resolve paths against:
// "input.*", "variables.*" and "step_results.<step_id>.*".
func (c ExecutionContext) Data() map[string]any {
	return map[string]any{
		"input":        c.Input,
		"variables":    c.Variables,
		"step_results": c.StepResults,
	}
}
