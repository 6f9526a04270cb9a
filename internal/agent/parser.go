package agent

import "strings"

// ParseResult extracts a structured Result from agent output.
// Expected format, one field per line:
//
//	STATUS: success
//	TEST_PATH: tests/e2e/login.spec.ts
//	DECISION: approved
//	TESTS_PASSED: true
//
// Unknown lines are ignored so agents can interleave free-form output. A
// missing STATUS is treated as failure.
func ParseResult(output string) Result {
	res := Result{Status: StatusFailure}

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "STATUS":
			if strings.EqualFold(value, StatusSuccess) || strings.EqualFold(value, "passed") {
				res.Status = StatusSuccess
			} else {
				res.Status = StatusFailure
			}
		case "TEST_PATH":
			res.TestPath = value
		case "PR_ID":
			res.PRID = value
		case "COMMIT_SHA":
			res.CommitSHA = value
		case "STAGING_URL":
			res.StagingURL = value
		case "DECISION":
			if strings.EqualFold(value, DecisionApproved) {
				res.Decision = DecisionApproved
			} else if strings.EqualFold(value, DecisionRejected) {
				res.Decision = DecisionRejected
			}
		case "TESTS_PASSED":
			res.TestsPassed = strings.EqualFold(value, "true") || strings.EqualFold(value, "yes")
		case "DETAIL":
			res.Detail = value
		}
	}

	return res
}
