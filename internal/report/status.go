package report

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a step, job or pipeline.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Exit details distinguishing failure classes from a plain non-zero exit.
const (
	DetailCancelled = "cancelled"
	DetailTimeout   = "timeout"
	DetailDryRun    = "dry run"
)

// ErrTransition is returned when an outcome is moved along an edge the state
// machine does not allow.
var ErrTransition = errors.New("invalid status transition")

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	if s == "" {
		return string(StatusPending)
	}
	return string(s)
}

// Outcome is the status of one step, job or pipeline. The zero value is
// pending. Once terminal it is immutable.
type Outcome struct {
	Status     Status    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

func (o *Outcome) current() Status {
	if o.Status == "" {
		return StatusPending
	}
	return o.Status
}

// Start moves a pending outcome to running.
func (o *Outcome) Start(now time.Time) error {
	if cur := o.current(); cur != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, cur, StatusRunning)
	}
	o.Status = StatusRunning
	o.StartedAt = now
	return nil
}

// Finish moves a running outcome to succeeded or failed.
func (o *Outcome) Finish(status Status, detail string, now time.Time) error {
	cur := o.current()
	if cur != StatusRunning || (status != StatusSucceeded && status != StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, cur, status)
	}
	o.Status = status
	o.Detail = detail
	o.FinishedAt = now
	return nil
}

// Skip moves a pending outcome directly to skipped.
func (o *Outcome) Skip(detail string) error {
	if cur := o.current(); cur != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, cur, StatusSkipped)
	}
	o.Status = StatusSkipped
	o.Detail = detail
	return nil
}

// Duration is the time between start and finish, zero while incomplete.
func (o Outcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}
