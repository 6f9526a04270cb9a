package store

import "time"

// WorkflowStatus represents the lifecycle state of a workflow task.
type WorkflowStatus string

const (
	StatusQueued    WorkflowStatus = "QUEUED"
	StatusRunning   WorkflowStatus = "RUNNING"
	StatusCompleted WorkflowStatus = "COMPLETED"
	StatusFailed    WorkflowStatus = "FAILED"
)

// Phase is one stage of the chimera pipeline. A task enters at
// PhaseTestGeneration and advances strictly forward until it reaches
// PhaseComplete, or jumps to PhaseFailed from anywhere.
type Phase string

const (
	PhaseTestGeneration Phase = "E2E_TEST_GENERATION"
	PhaseImplementation Phase = "CODE_IMPLEMENTATION"
	PhaseReview         Phase = "REVIEW"
	PhaseDeployment     Phase = "STAGING_DEPLOYMENT"
	PhaseValidation     Phase = "E2E_VALIDATION"
	PhaseComplete       Phase = "COMPLETE"
	PhaseFailed         Phase = "FAILED"
)

// pipelineOrder is the fixed forward order of the pipeline.
var pipelineOrder = []Phase{
	PhaseTestGeneration,
	PhaseImplementation,
	PhaseReview,
	PhaseDeployment,
	PhaseValidation,
	PhaseComplete,
}

// Next returns the immediate successor in the pipeline, or false when the
// phase is terminal (or unknown).
func (p Phase) Next() (Phase, bool) {
	for i, ph := range pipelineOrder {
		if ph == p && i+1 < len(pipelineOrder) {
			return pipelineOrder[i+1], true
		}
	}
	return "", false
}

// Terminal reports whether the phase ends the pipeline.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// WorkflowTask is the persisted unit of work: one feature request moving
// through the pipeline.
type WorkflowTask struct {
	ID         string         `json:"id"`
	Feature    string         `json:"feature_description"`
	TargetURL  string         `json:"target_url"`
	Priority   int            `json:"priority"` // higher is served first
	Status     WorkflowStatus `json:"status"`
	Phase      Phase          `json:"current_phase"`
	Context    map[string]any `json:"workflow_context"` // append-only phase outputs
	RetryCount int            `json:"retry_count"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ClaimedAt  *time.Time     `json:"claimed_at,omitempty"` // set when a worker admits the task
}

// Event represents something that happened to a workflow task.
type Event struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Type      string    `json:"event_type"` // enqueued, admitted, phase_advanced, completed, failed, retried
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
