package model

import "testing"

func TestCanTransition_AllowsExpectedPaths(t *testing.T) {
	cases := []struct {
		from string
		to   string
	}{
		{"", StatusPending},
		{StatusPending, StatusSkippedInput},
		{StatusPending, StatusLaunched},
		{StatusPending, StatusFailed},
		{StatusLaunched, StatusSucceeded},
		{StatusLaunched, StatusFailed},
		{StatusLaunched, StatusKilled},
	}

	for _, tc := range cases {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be allowed", tc.from, tc.to)
		}
	}
}

func TestCanTransition_RejectsInvalidPaths(t *testing.T) {
	cases := []struct {
		from string
		to   string
	}{
		{StatusPending, StatusSucceeded},
		{StatusPending, StatusKilled},
		{StatusSkippedInput, StatusLaunched},
		{StatusSucceeded, StatusLaunched},
		{StatusFailed, StatusLaunched},
		{StatusKilled, StatusLaunched},
		{"not_a_state", StatusPending},
	}

	for _, tc := range cases {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be rejected", tc.from, tc.to)
		}
	}
}

func TestTransitionJobStatus_BlocksIllegalTransition(t *testing.T) {
	job := Job{
		JobID:  "job-1",
		Index:  1,
		Status: StatusPending,
	}

	if err := TransitionJobStatus(&job, StatusSucceeded, ""); err == nil {
		t.Fatalf("expected illegal transition error")
	}
	if job.Status != StatusPending {
		t.Fatalf("status changed on rejected transition: %s", job.Status)
	}
}

func TestTransitionJobStatus_RecordsReason(t *testing.T) {
	job := Job{
		JobID:  "job-2",
		Index:  2,
		Status: StatusPending,
	}

	if err := TransitionJobStatus(&job, StatusSkippedInput, "input_not_found"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if job.Status != StatusSkippedInput {
		t.Fatalf("unexpected status: %s", job.Status)
	}
	if job.Reason != "input_not_found" {
		t.Fatalf("unexpected reason: %q", job.Reason)
	}
}
