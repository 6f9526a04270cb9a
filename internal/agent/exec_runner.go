package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chimeradev/chimera/internal/config"
)

// ExecAgent invokes an external agent command (claude, gemini, a deploy
// script, etc.) once per capability call. The action name and its inputs are
// appended as arguments; the result is read from the line-oriented format
// on stdout (see ParseResult).
//
// For example, with cmd="chimera-tester" the generate_test capability runs:
//
//	chimera-tester generate_test feature=<text> target_url=<url>
type ExecAgent struct {
	name string
	cfg  config.Agent
}

// NewExecAgent creates an adapter around the configured agent command.
func NewExecAgent(name string, cfg config.Agent) *ExecAgent {
	return &ExecAgent{name: name, cfg: cfg}
}

// Name returns the agent's configured name.
func (a *ExecAgent) Name() string { return a.name }

// GenerateTest asks the agent to produce an e2e test for the feature.
func (a *ExecAgent) GenerateTest(ctx context.Context, feature, targetURL string) (*Result, error) {
	return a.invoke(ctx, "generate_test",
		"feature="+feature,
		"target_url="+targetURL,
	)
}

// ImplementFeature asks the agent to implement the feature against the test.
func (a *ExecAgent) ImplementFeature(ctx context.Context, testPath, feature string) (*Result, error) {
	return a.invoke(ctx, "implement_feature",
		"test_path="+testPath,
		"feature="+feature,
	)
}

// ReviewPR asks the agent to review the pull request.
func (a *ExecAgent) ReviewPR(ctx context.Context, prID string) (*Result, error) {
	return a.invoke(ctx, "review_pr", "pr_id="+prID)
}

// DeployToStaging asks the agent to deploy the commit to staging.
func (a *ExecAgent) DeployToStaging(ctx context.Context, commitSHA string) (*Result, error) {
	return a.invoke(ctx, "deploy_to_staging", "commit_sha="+commitSHA)
}

// ExecuteTest asks the agent to run the test against the staging deployment.
func (a *ExecAgent) ExecuteTest(ctx context.Context, testPath, stagingURL string) (*Result, error) {
	return a.invoke(ctx, "execute_test",
		"test_path="+testPath,
		"staging_url="+stagingURL,
	)
}

// invoke spawns the agent process for one capability call.
func (a *ExecAgent) invoke(ctx context.Context, action string, inputs ...string) (*Result, error) {
	args := make([]string, len(a.cfg.Args))
	copy(args, a.cfg.Args)
	args = append(args, action)
	args = append(args, inputs...)

	if a.cfg.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(a.cfg.TimeoutSec)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, a.cfg.Cmd, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("agent %s %s timed out", a.name, action)
		}
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return nil, fmt.Errorf("agent %s %s: %s", a.name, action, stderrStr)
		}
		return nil, fmt.Errorf("agent %s %s: %w", a.name, action, err)
	}

	res := ParseResult(stdout.String())
	return &res, nil
}

// CommandAvailable checks if the agent command exists in PATH.
func CommandAvailable(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}
