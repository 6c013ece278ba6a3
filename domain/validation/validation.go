// Package validation holds the validation-run aggregate and hook results.
package validation

import (
	"fmt"
	"time"

	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/infrastructure/errors"
)

// RunStatus is the lifecycle state of a validation run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunRejected  RunStatus = "rejected"
	RunFailed    RunStatus = "failed"
)

// HookStatus is the outcome of a single hook execution.
type HookStatus string

const (
	HookPassed   HookStatus = "passed"
	HookRejected HookStatus = "rejected"
	HookFailed   HookStatus = "failed"
)

// ProgressEntry is one line of a hook's progress.jsonl.
type ProgressEntry struct {
	Step    string `json:"step,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HookResult records the outcome of one hook execution.
type HookResult struct {
	HookName        string                   `json:"hook_name"`
	Status          HookStatus               `json:"status"`
	Features        []map[string]interface{} `json:"features,omitempty"`
	RejectionReason string                   `json:"rejection_reason,omitempty"`
	ErrorMessage    string                   `json:"error_message,omitempty"`
	Progress        []ProgressEntry          `json:"progress,omitempty"`
	DurationSeconds float64                  `json:"duration_seconds"`
}

// Run is the validation-run aggregate: status plus the ordered hook results.
type Run struct {
	SRN         srn.SRN      `json:"srn"`
	Status      RunStatus    `json:"status"`
	Results     []HookResult `json:"results"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
}

// NewRun creates a pending run.
func NewRun(runSRN srn.SRN) (*Run, error) {
	if runSRN.Kind != srn.KindValidationRun {
		return nil, errors.Validation(fmt.Sprintf("validation run requires a val SRN, got %s", runSRN.Kind))
	}
	return &Run{SRN: runSRN, Status: RunPending}, nil
}

// Start transitions the run to running. Only a pending run may start.
func (r *Run) Start(now time.Time) error {
	if r.Status != RunPending {
		return errors.InvalidState(fmt.Sprintf("validation run %s is %s, expected pending", r.SRN, r.Status))
	}
	r.Status = RunRunning
	t := now.UTC()
	r.StartedAt = &t
	return nil
}

// Complete finalizes the run from its hook results. The first rejected or
// failed result, in hook order, makes the run rejected or failed
// respectively; otherwise it is completed.
func (r *Run) Complete(results []HookResult, now time.Time) error {
	if r.Status != RunRunning {
		return errors.InvalidState(fmt.Sprintf("validation run %s is %s, expected running", r.SRN, r.Status))
	}
	r.Results = results
	r.Status = RunCompleted
	for _, res := range results {
		switch res.Status {
		case HookRejected:
			r.Status = RunRejected
		case HookFailed:
			r.Status = RunFailed
		}
		if r.Status != RunCompleted {
			break
		}
	}
	t := now.UTC()
	r.CompletedAt = &t
	return nil
}

// Terminal reports whether the run has reached a final status.
func (r *Run) Terminal() bool {
	switch r.Status {
	case RunCompleted, RunRejected, RunFailed:
		return true
	}
	return false
}

// FailureReasons collects the human-readable reasons from rejected and
// failed hook results, in hook order.
func (r *Run) FailureReasons() []string {
	var reasons []string
	for _, res := range r.Results {
		switch res.Status {
		case HookRejected:
			reason := res.RejectionReason
			if reason == "" {
				reason = fmt.Sprintf("hook %s rejected the record", res.HookName)
			}
			reasons = append(reasons, reason)
		case HookFailed:
			msg := res.ErrorMessage
			if msg == "" {
				msg = fmt.Sprintf("hook %s failed", res.HookName)
			}
			reasons = append(reasons, msg)
		}
	}
	return reasons
}
