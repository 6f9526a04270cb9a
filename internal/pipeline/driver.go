// Package pipeline contains the phase state machine. The Driver executes
// exactly one phase step per invocation: it looks up the agent capability
// for the task's current phase, invokes it, and reports either the next
// phase plus a context patch or a failure. All state lives in the task
// record, so a restarted executor resumes from the persisted phase with no
// extra recovery logic.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/chimeradev/chimera/internal/agent"
	"github.com/chimeradev/chimera/internal/store"
)

// Step is the successful outcome of one phase execution.
type Step struct {
	Next  store.Phase
	Patch map[string]any
}

// PermanentError marks a failure that must not be retried: a rejected
// review, failed validation, or a broken pipeline contract. The task goes
// straight to FAILED.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string { return e.Reason }

// IsPermanent reports whether err rules out a retry.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Driver dispatches each phase to its agent capability.
type Driver struct {
	registry *agent.Registry
}

// NewDriver creates a driver over the given registry.
func NewDriver(reg *agent.Registry) *Driver {
	return &Driver{registry: reg}
}

// Run executes the task's current phase and returns the transition to
// persist. Errors are retryable unless IsPermanent reports otherwise.
func (d *Driver) Run(ctx context.Context, task *store.WorkflowTask) (Step, error) {
	switch task.Phase {
	case store.PhaseTestGeneration:
		return d.generateTest(ctx, task)
	case store.PhaseImplementation:
		return d.implementFeature(ctx, task)
	case store.PhaseReview:
		return d.reviewPR(ctx, task)
	case store.PhaseDeployment:
		return d.deployToStaging(ctx, task)
	case store.PhaseValidation:
		return d.executeTest(ctx, task)
	default:
		return Step{}, &PermanentError{Reason: fmt.Sprintf("no step for phase %s", task.Phase)}
	}
}

func (d *Driver) generateTest(ctx context.Context, task *store.WorkflowTask) (Step, error) {
	tester, err := d.registry.Tester()
	if err != nil {
		return Step{}, &PermanentError{Reason: err.Error()}
	}

	res, err := tester.GenerateTest(ctx, task.Feature, task.TargetURL)
	if err != nil {
		return Step{}, fmt.Errorf("generate test: %w", err)
	}
	if !res.Succeeded() {
		return Step{}, fmt.Errorf("generate test: agent reported %s: %s", res.Status, res.Detail)
	}

	return Step{
		Next:  store.PhaseImplementation,
		Patch: map[string]any{"test_path": res.TestPath},
	}, nil
}

func (d *Driver) implementFeature(ctx context.Context, task *store.WorkflowTask) (Step, error) {
	coder, err := d.registry.Coder()
	if err != nil {
		return Step{}, &PermanentError{Reason: err.Error()}
	}

	testPath, err := contextString(task, "test_path")
	if err != nil {
		return Step{}, err
	}

	res, err := coder.ImplementFeature(ctx, testPath, task.Feature)
	if err != nil {
		return Step{}, fmt.Errorf("implement feature: %w", err)
	}
	if !res.Succeeded() {
		return Step{}, fmt.Errorf("implement feature: agent reported %s: %s", res.Status, res.Detail)
	}

	return Step{
		Next: store.PhaseReview,
		Patch: map[string]any{
			"pr_id":      res.PRID,
			"commit_sha": res.CommitSHA,
		},
	}, nil
}

func (d *Driver) reviewPR(ctx context.Context, task *store.WorkflowTask) (Step, error) {
	reviewer, err := d.registry.Reviewer()
	if err != nil {
		return Step{}, &PermanentError{Reason: err.Error()}
	}

	prID, err := contextString(task, "pr_id")
	if err != nil {
		return Step{}, err
	}

	res, err := reviewer.ReviewPR(ctx, prID)
	if err != nil {
		return Step{}, fmt.Errorf("review pr %s: %w", prID, err)
	}
	if !res.Succeeded() {
		return Step{}, fmt.Errorf("review pr %s: agent reported %s: %s", prID, res.Status, res.Detail)
	}

	// An explicit rejection is a decision, not a transient error.
	if res.Decision != agent.DecisionApproved {
		return Step{}, &PermanentError{Reason: fmt.Sprintf("pr %s rejected by review", prID)}
	}

	return Step{
		Next:  store.PhaseDeployment,
		Patch: map[string]any{"review_decision": res.Decision},
	}, nil
}

func (d *Driver) deployToStaging(ctx context.Context, task *store.WorkflowTask) (Step, error) {
	deployer, err := d.registry.Deployer()
	if err != nil {
		return Step{}, &PermanentError{Reason: err.Error()}
	}

	commitSHA, err := contextString(task, "commit_sha")
	if err != nil {
		return Step{}, err
	}

	res, err := deployer.DeployToStaging(ctx, commitSHA)
	if err != nil {
		return Step{}, fmt.Errorf("deploy %s: %w", commitSHA, err)
	}
	if !res.Succeeded() {
		return Step{}, fmt.Errorf("deploy %s: agent reported %s: %s", commitSHA, res.Status, res.Detail)
	}

	return Step{
		Next:  store.PhaseValidation,
		Patch: map[string]any{"staging_url": res.StagingURL},
	}, nil
}

func (d *Driver) executeTest(ctx context.Context, task *store.WorkflowTask) (Step, error) {
	tester, err := d.registry.Tester()
	if err != nil {
		return Step{}, &PermanentError{Reason: err.Error()}
	}

	testPath, err := contextString(task, "test_path")
	if err != nil {
		return Step{}, err
	}
	stagingURL, err := contextString(task, "staging_url")
	if err != nil {
		return Step{}, err
	}

	res, err := tester.ExecuteTest(ctx, testPath, stagingURL)
	if err != nil {
		return Step{}, fmt.Errorf("execute test: %w", err)
	}
	if !res.Succeeded() {
		return Step{}, fmt.Errorf("execute test: agent reported %s: %s", res.Status, res.Detail)
	}

	// A clean run with failing tests is a verdict on the feature.
	if !res.TestsPassed {
		return Step{}, &PermanentError{Reason: "e2e validation failed against staging"}
	}

	return Step{
		Next:  store.PhaseComplete,
		Patch: map[string]any{"tests_passed": true},
	}, nil
}

// contextString reads a value an earlier phase was required to store. A
// missing value means the pipeline contract was broken, so the error is
// permanent.
func contextString(task *store.WorkflowTask, key string) (string, error) {
	v, ok := task.Context[key]
	if !ok {
		return "", &PermanentError{Reason: fmt.Sprintf("context missing %q at phase %s", key, task.Phase)}
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", &PermanentError{Reason: fmt.Sprintf("context %q is empty at phase %s", key, task.Phase)}
	}
	return s, nil
}
