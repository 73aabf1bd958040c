package model

// CheckStatus represents the status of a preflight check.
type CheckStatus string

const (
	// CheckStatusOK indicates the check passed.
	CheckStatusOK CheckStatus = "ok"
	// CheckStatusWarning indicates the check passed with a warning (e.g. advisory resource limits).
	CheckStatusWarning CheckStatus = "warning"
	// CheckStatusError indicates the check failed.
	CheckStatusError CheckStatus = "error"
)

// CheckResult represents the result of a single preflight check.
type CheckResult struct {
	ID        string      // Unique identifier for the check (e.g., "docker_reachable").
	Component string      // Component that performed the check (e.g., "engine", "limits").
	Message   string      // Human-readable description of the result.
	Status    CheckStatus // Status of the check.
}

// CountByStatus counts check results by status.
func CountByStatus(results []CheckResult) (ok, warnings, errors int) {
	return countStatus(results, CheckStatusOK), countStatus(results, CheckStatusWarning), countStatus(results, CheckStatusError)
}

func countStatus(results []CheckResult, status CheckStatus) int {
	n := 0
	for _, r := range results {
		if r.Status == status {
			n++
		}
	}
	return n
}
