// Package agent defines the capability interfaces the pipeline invokes per
// phase, the registry that maps logical roles to implementations, and an
// exec-based adapter that shells out to external agent commands.
package agent

import (
	"context"
	"fmt"
)

// Result statuses reported by agents.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Review decisions reported by the guardian agent.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Result is the structured outcome of one agent capability call. Status is
// always set; the remaining fields are phase-specific outputs.
type Result struct {
	Status      string `json:"status"` // success or failure
	TestPath    string `json:"test_path,omitempty"`
	PRID        string `json:"pr_id,omitempty"`
	CommitSHA   string `json:"commit_sha,omitempty"`
	StagingURL  string `json:"staging_url,omitempty"`
	Decision    string `json:"decision,omitempty"` // review: approved or rejected
	TestsPassed bool   `json:"tests_passed,omitempty"`
	Detail      string `json:"detail,omitempty"` // free-form diagnostic text
}

// Succeeded reports whether the agent considered the call successful.
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// Tester generates end-to-end tests and executes them against a deployment.
type Tester interface {
	GenerateTest(ctx context.Context, feature, targetURL string) (*Result, error)
	ExecuteTest(ctx context.Context, testPath, stagingURL string) (*Result, error)
}

// Coder implements a feature against a previously generated test.
type Coder interface {
	ImplementFeature(ctx context.Context, testPath, feature string) (*Result, error)
}

// Reviewer reviews a pull request and renders an approval decision.
type Reviewer interface {
	ReviewPR(ctx context.Context, prID string) (*Result, error)
}

// Deployer deploys a commit to the staging environment.
type Deployer interface {
	DeployToStaging(ctx context.Context, commitSHA string) (*Result, error)
}

// Registry maps the pipeline's logical roles to capability implementations.
// It is constructed once at process start and passed by reference into the
// executor; there is no process-wide instance.
type Registry struct {
	tester   Tester
	coder    Coder
	reviewer Reviewer
	deployer Deployer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) RegisterTester(t Tester)     { r.tester = t }
func (r *Registry) RegisterCoder(c Coder)       { r.coder = c }
func (r *Registry) RegisterReviewer(v Reviewer) { r.reviewer = v }
func (r *Registry) RegisterDeployer(d Deployer) { r.deployer = d }

// Tester returns the registered test agent.
func (r *Registry) Tester() (Tester, error) {
	if r.tester == nil {
		return nil, fmt.Errorf("no e2e-tester-agent registered")
	}
	return r.tester, nil
}

// Coder returns the registered coder agent.
func (r *Registry) Coder() (Coder, error) {
	if r.coder == nil {
		return nil, fmt.Errorf("no coder-agent registered")
	}
	return r.coder, nil
}

// Reviewer returns the registered guardian agent.
func (r *Registry) Reviewer() (Reviewer, error) {
	if r.reviewer == nil {
		return nil, fmt.Errorf("no guardian-agent registered")
	}
	return r.reviewer, nil
}

// Deployer returns the registered deployment agent.
func (r *Registry) Deployer() (Deployer, error) {
	if r.deployer == nil {
		return nil, fmt.Errorf("no deployment-agent registered")
	}
	return r.deployer, nil
}
