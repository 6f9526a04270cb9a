package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/chimeradev/chimera/internal/agent"
	"github.com/chimeradev/chimera/internal/store"
)

// stubTester implements agent.Tester with pluggable behavior.
type stubTester struct {
	generate func(feature, url string) (*agent.Result, error)
	execute  func(testPath, stagingURL string) (*agent.Result, error)
}

func (s stubTester) GenerateTest(ctx context.Context, feature, url string) (*agent.Result, error) {
	return s.generate(feature, url)
}

func (s stubTester) ExecuteTest(ctx context.Context, testPath, stagingURL string) (*agent.Result, error) {
	return s.execute(testPath, stagingURL)
}

type stubCoder func(testPath, feature string) (*agent.Result, error)

func (s stubCoder) ImplementFeature(ctx context.Context, testPath, feature string) (*agent.Result, error) {
	return s(testPath, feature)
}

type stubReviewer func(prID string) (*agent.Result, error)

func (s stubReviewer) ReviewPR(ctx context.Context, prID string) (*agent.Result, error) {
	return s(prID)
}

type stubDeployer func(commitSHA string) (*agent.Result, error)

func (s stubDeployer) DeployToStaging(ctx context.Context, commitSHA string) (*agent.Result, error) {
	return s(commitSHA)
}

// happyRegistry wires stubs that succeed at every phase.
func happyRegistry() *agent.Registry {
	r := agent.NewRegistry()
	r.RegisterTester(stubTester{
		generate: func(feature, url string) (*agent.Result, error) {
			return &agent.Result{Status: agent.StatusSuccess, TestPath: "tests/feature.spec.ts"}, nil
		},
		execute: func(testPath, stagingURL string) (*agent.Result, error) {
			return &agent.Result{Status: agent.StatusSuccess, TestsPassed: true}, nil
		},
	})
	r.RegisterCoder(stubCoder(func(testPath, feature string) (*agent.Result, error) {
		return &agent.Result{Status: agent.StatusSuccess, PRID: "42", CommitSHA: "abc123"}, nil
	}))
	r.RegisterReviewer(stubReviewer(func(prID string) (*agent.Result, error) {
		return &agent.Result{Status: agent.StatusSuccess, Decision: agent.DecisionApproved}, nil
	}))
	r.RegisterDeployer(stubDeployer(func(commitSHA string) (*agent.Result, error) {
		return &agent.Result{Status: agent.StatusSuccess, StagingURL: "https://staging.example.com"}, nil
	}))
	return r
}

func taskAt(phase store.Phase, ctx map[string]any) *store.WorkflowTask {
	if ctx == nil {
		ctx = map[string]any{}
	}
	return &store.WorkflowTask{
		ID:        "wf-1",
		Feature:   "Add login",
		TargetURL: "https://app.example.com",
		Phase:     phase,
		Context:   ctx,
	}
}

func TestDriver_FullPipelineOrder(t *testing.T) {
	d := NewDriver(happyRegistry())

	task := taskAt(store.PhaseTestGeneration, nil)
	wantOrder := []store.Phase{
		store.PhaseImplementation,
		store.PhaseReview,
		store.PhaseDeployment,
		store.PhaseValidation,
		store.PhaseComplete,
	}

	for _, want := range wantOrder {
		step, err := d.Run(context.Background(), task)
		if err != nil {
			t.Fatalf("phase %s: %v", task.Phase, err)
		}
		if step.Next != want {
			t.Fatalf("phase %s: expected next %s, got %s", task.Phase, want, step.Next)
		}
		// Apply the transition the way the executor would.
		task.Phase = step.Next
		for k, v := range step.Patch {
			if _, exists := task.Context[k]; !exists {
				task.Context[k] = v
			}
		}
	}

	for _, key := range []string{"test_path", "pr_id", "commit_sha", "staging_url", "tests_passed"} {
		if _, ok := task.Context[key]; !ok {
			t.Errorf("context missing %q after full run: %v", key, task.Context)
		}
	}
}

func TestDriver_ReviewRejectedIsPermanent(t *testing.T) {
	r := happyRegistry()
	r.RegisterReviewer(stubReviewer(func(prID string) (*agent.Result, error) {
		return &agent.Result{Status: agent.StatusSuccess, Decision: agent.DecisionRejected}, nil
	}))
	d := NewDriver(r)

	_, err := d.Run(context.Background(), taskAt(store.PhaseReview, map[string]any{"pr_id": "42"}))
	if err == nil {
		t.Fatal("expected error for rejected review")
	}
	if !IsPermanent(err) {
		t.Errorf("rejection must not be retried: %v", err)
	}
}

func TestDriver_ValidationFailureIsPermanent(t *testing.T) {
	r := happyRegistry()
	r.RegisterTester(stubTester{
		generate: func(feature, url string) (*agent.Result, error) {
			return &agent.Result{Status: agent.StatusSuccess}, nil
		},
		execute: func(testPath, stagingURL string) (*agent.Result, error) {
			return &agent.Result{Status: agent.StatusSuccess, TestsPassed: false}, nil
		},
	})
	d := NewDriver(r)

	ctx := map[string]any{"test_path": "t.spec.ts", "staging_url": "https://staging"}
	_, err := d.Run(context.Background(), taskAt(store.PhaseValidation, ctx))
	if !IsPermanent(err) {
		t.Errorf("failed validation must not be retried: %v", err)
	}
}

func TestDriver_AgentErrorIsTransient(t *testing.T) {
	r := happyRegistry()
	r.RegisterCoder(stubCoder(func(testPath, feature string) (*agent.Result, error) {
		return nil, errors.New("connection reset")
	}))
	d := NewDriver(r)

	_, err := d.Run(context.Background(), taskAt(store.PhaseImplementation, map[string]any{"test_path": "t.spec.ts"}))
	if err == nil {
		t.Fatal("expected error")
	}
	if IsPermanent(err) {
		t.Errorf("agent call failure should be retryable: %v", err)
	}
}

func TestDriver_MissingContextIsPermanent(t *testing.T) {
	d := NewDriver(happyRegistry())

	_, err := d.Run(context.Background(), taskAt(store.PhaseImplementation, nil))
	if !IsPermanent(err) {
		t.Errorf("missing context is a contract violation: %v", err)
	}
}

func TestDriver_TerminalPhaseHasNoStep(t *testing.T) {
	d := NewDriver(happyRegistry())

	_, err := d.Run(context.Background(), taskAt(store.PhaseComplete, nil))
	if !IsPermanent(err) {
		t.Errorf("expected permanent error for terminal phase, got %v", err)
	}
}
