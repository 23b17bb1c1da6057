package model

import "fmt"

const (
	StatusPending      = "pending"
	StatusSkippedInput = "skipped_missing_input"
	StatusLaunched     = "launched"
	StatusSucceeded    = "succeeded"
	StatusFailed       = "failed"
	StatusKilled       = "killed"
)

var allowedTransitions = map[string]map[string]bool{
	"": {
		StatusPending: true,
	},
	StatusPending: {
		StatusPending:      true,
		StatusSkippedInput: true,
		StatusLaunched:     true,
		StatusFailed:       true, // launch never happened (exec or log setup error)
	},
	StatusLaunched: {
		StatusLaunched:  true,
		StatusSucceeded: true,
		StatusFailed:    true,
		StatusKilled:    true,
	},
	StatusSkippedInput: {
		StatusSkippedInput: true,
	},
	StatusSucceeded: {
		StatusSucceeded: true,
	},
	StatusFailed: {
		StatusFailed: true,
	},
	StatusKilled: {
		StatusKilled: true,
	},
}

func IsKnownStatus(status string) bool {
	_, ok := allowedTransitions[status]
	return ok
}

// IsTerminal reports whether a job in this status can never change again.
func IsTerminal(status string) bool {
	switch status {
	case StatusSkippedInput, StatusSucceeded, StatusFailed, StatusKilled:
		return true
	default:
		return false
	}
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionJobStatus(job *Job, toStatus string, reason string) error {
	from := job.Status
	if !CanTransition(from, toStatus) {
		return fmt.Errorf("invalid job status transition: %q -> %q (job_id=%s index=%d)", from, toStatus, job.JobID, job.Index)
	}
	job.Status = toStatus
	job.Reason = reason
	return nil
}
