package agent

import (
	"context"
	"testing"
)

type fakeReviewer struct{}

func (fakeReviewer) ReviewPR(ctx context.Context, prID string) (*Result, error) {
	return &Result{Status: StatusSuccess, Decision: DecisionApproved}, nil
}

func TestRegistry_MissingRoles(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Tester(); err == nil {
		t.Error("expected error for missing tester")
	}
	if _, err := r.Coder(); err == nil {
		t.Error("expected error for missing coder")
	}
	if _, err := r.Reviewer(); err == nil {
		t.Error("expected error for missing reviewer")
	}
	if _, err := r.Deployer(); err == nil {
		t.Error("expected error for missing deployer")
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	r.RegisterReviewer(fakeReviewer{})

	rev, err := r.Reviewer()
	if err != nil {
		t.Fatalf("Reviewer: %v", err)
	}
	res, err := rev.ReviewPR(context.Background(), "42")
	if err != nil {
		t.Fatalf("ReviewPR: %v", err)
	}
	if res.Decision != DecisionApproved {
		t.Errorf("expected approved, got %s", res.Decision)
	}
}

func TestResult_Succeeded(t *testing.T) {
	if (&Result{Status: StatusFailure}).Succeeded() {
		t.Error("failure should not report success")
	}
	if !(&Result{Status: StatusSuccess}).Succeeded() {
		t.Error("success should report success")
	}
	var nilRes *Result
	if nilRes.Succeeded() {
		t.Error("nil result should not report success")
	}
}
