package pipeline

import (
	"time"

	"brandforge/internal/types"
)

// RunStatus is the overall state of one generation run.
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run can make no further progress
// without operator action.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunCancelled
}

// Run tracks one campaign generation run. A RunHandle (the ID) is
// returned by StartRun; all mutation happens inside the orchestrator.
type Run struct {
	ID         string
	CampaignID string
	Brief      types.CampaignBrief
	Guardrail  types.GuardrailConfig // Snapshot captured at run start
	Status     RunStatus
	Steps      []types.StepStatus // One entry per types.StepOrder, in order
	StartedAt  time.Time
	FinishedAt time.Time

	// done is closed when the current execution leg finishes. RetryStep
	// starts a new leg with a fresh channel.
	done chan struct{}
}

// newStepTable builds the pending status table for a fresh run.
func newStepTable() []types.StepStatus {
	steps := make([]types.StepStatus, len(types.StepOrder))
	for i, step := range types.StepOrder {
		steps[i] = types.StepStatus{Step: step, State: types.StepPending}
	}
	return steps
}

// snapshot returns a deep copy safe to hand to callers.
func (r *Run) snapshot() Run {
	out := *r
	out.Steps = append([]types.StepStatus(nil), r.Steps...)
	out.Guardrail = r.Guardrail.Clone()
	out.done = nil
	return out
}

// firstIncomplete returns the index of the first step that has not
// completed, or len(Steps) when all are done. With halt-on-failure
// semantics a failed step is always the first incomplete one.
func (r *Run) firstIncomplete() int {
	for i, s := range r.Steps {
		if s.State != types.StepCompleted {
			return i
		}
	}
	return len(r.Steps)
}

// CompletedSteps reports how many leading pipeline steps the stored
// version history already covers. Regeneration appends versions whose
// origin step can precede the furthest step reached, so the maximum
// origin across all versions decides, not the latest version's.
func CompletedSteps(versions []types.ArtifactVersion) int {
	furthest := -1
	for _, v := range versions {
		if idx := types.StepIndex(v.OriginStep); idx > furthest {
			furthest = idx
		}
	}
	return furthest + 1
}

// Progress is the advisory progress snapshot emitted between steps.
type Progress struct {
	CampaignID      string               `json:"campaign_id"`
	RunID           string               `json:"run_id"`
	Step            types.GenerationStep `json:"step"`
	State           types.StepState      `json:"state"`
	StepProgress    int                  `json:"step_progress"`
	CompletedSteps  int                  `json:"completed_steps"`
	TotalSteps      int                  `json:"total_steps"`
	OverallProgress float64              `json:"overall_progress"`
}

// Event is emitted on run and step transitions.
type Event struct {
	Type       string               `json:"type"` // run_started, run_resumed, step_started, step_completed, step_failed, step_retried, run_completed, run_failed, run_cancelled, sections_regenerated
	Timestamp  time.Time            `json:"timestamp"`
	CampaignID string               `json:"campaign_id"`
	RunID      string               `json:"run_id,omitempty"`
	Step       types.GenerationStep `json:"step,omitempty"`
	Message    string               `json:"message"`
}
