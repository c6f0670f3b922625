package workflow

import (
	"log/slog"
	"sort"

	"github.com/kazihq/zapflow/pkg/models"
)

// TriggerMatcher matches fired trigger events against workflow trigger
// declarations.
type TriggerMatcher struct {
	logger *slog.Logger
}

// MatchResult pairs a workflow with the trigger that matched.
type MatchResult struct {
	Workflow       *models.Workflow
	MatchedTrigger *models.WorkflowTrigger
}

func NewTriggerMatcher(logger *slog.Logger) *TriggerMatcher {
	return &TriggerMatcher{logger: logger.With("module", "trigger_matcher")}
}

// Match returns the active workflows reacting to the event, ordered by
// workflow ID so one trigger always spawns tasks in a stable order. Priority
// never influences match order, only worker scheduling.
func (tm *TriggerMatcher) Match(workflows []*models.Workflow, eventType, source string) []MatchResult {
	results := make([]MatchResult, 0)

	for _, workflow := range workflows {
		if !workflow.Runnable() {
			continue
		}

		for _, trigger := range workflow.Triggers {
			if trigger.Matches(eventType, source) {
				results = append(results, MatchResult{Workflow: workflow, MatchedTrigger: trigger})

				tm.logger.Debug("Matched workflow",
					"workflow_id", workflow.ID, "trigger_id", trigger.ID,
					"event_type", eventType, "source", source)

				break
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Workflow.ID < results[j].Workflow.ID
	})

	return results
}
