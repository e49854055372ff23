package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/kingrea/campus/internal/portal"
)

// StatusUpdater records one session's status. portal.Client satisfies it.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, update portal.StatusUpdate) error
}

// Logger matches logbook.Logbook's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Policy decides what happens after a session fails to update.
type Policy int

const (
	// PolicyBestEffort keeps going and reports every failure.
	PolicyBestEffort Policy = iota
	// PolicyStopOnError leaves the remaining sessions untouched.
	PolicyStopOnError
)

func (p Policy) String() string {
	if p == PolicyStopOnError {
		return "stop-on-error"
	}
	return "best-effort"
}

// ParsePolicy accepts "best-effort" or "stop-on-error".
func ParsePolicy(value string) (Policy, error) {
	switch value {
	case "", "best-effort":
		return PolicyBestEffort, nil
	case "stop-on-error":
		return PolicyStopOnError, nil
	}
	return PolicyBestEffort, fmt.Errorf("attendance: unknown policy %q", value)
}

// OutcomeState is the fate of one session in a batch.
type OutcomeState string

const (
	OutcomeOK      OutcomeState = "ok"
	OutcomeFailed  OutcomeState = "failed"
	OutcomeSkipped OutcomeState = "skipped"
)

// Outcome records what happened to one session.
type Outcome struct {
	TimetableID int
	State       OutcomeState
	Err         error
}

// BatchResult lists one outcome per requested session, in request order.
type BatchResult struct {
	Outcomes []Outcome
}

func (r BatchResult) count(state OutcomeState) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

// Succeeded counts updated sessions.
func (r BatchResult) Succeeded() int { return r.count(OutcomeOK) }

// Failed counts sessions whose update was rejected or lost.
func (r BatchResult) Failed() int { return r.count(OutcomeFailed) }

// Skipped counts sessions never attempted.
func (r BatchResult) Skipped() int { return r.count(OutcomeSkipped) }

// Attempted counts sessions a request was sent for.
func (r BatchResult) Attempted() int { return r.Succeeded() + r.Failed() }

// Total is the number of requested sessions.
func (r BatchResult) Total() int { return len(r.Outcomes) }

// BatchError reports a batch that did not fully succeed. It unwraps to the
// first failure so callers can test for portal.ErrUnauthorized.
type BatchError struct {
	Result BatchResult
	Cause  error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("attendance: %d of %d status updates did not succeed: %v",
		e.Result.Total()-e.Result.Succeeded(), e.Result.Total(), e.Cause)
}

func (e *BatchError) Unwrap() error {
	return e.Cause
}

// Submitter applies a submission one session at a time, in order.
type Submitter struct {
	updater StatusUpdater
	policy  Policy
	logger  Logger
}

// SubmitterOption customizes a Submitter.
type SubmitterOption func(*Submitter)

// WithPolicy sets the partial-failure policy.
func WithPolicy(p Policy) SubmitterOption {
	return func(s *Submitter) { s.policy = p }
}

// WithLogger records each update to l.
func WithLogger(l Logger) SubmitterOption {
	return func(s *Submitter) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSubmitter wraps updater.
func NewSubmitter(updater StatusUpdater, opts ...SubmitterOption) *Submitter {
	s := &Submitter{updater: updater, policy: PolicyBestEffort, logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Policy returns the configured partial-failure policy.
func (s *Submitter) Policy() Policy { return s.policy }

// Submit sends one status update per session. Requests are sequential and
// follow sub.TimetableIDs order. An unauthorized response or a cancelled
// context always ends the batch; other failures end it only under
// PolicyStopOnError. Sessions left unsent are reported as skipped.
func (s *Submitter) Submit(ctx context.Context, userID int, sub Submission) (BatchResult, error) {
	result := BatchResult{Outcomes: make([]Outcome, 0, len(sub.TimetableIDs))}
	var cause error
	for i, id := range sub.TimetableIDs {
		if err := ctx.Err(); err != nil {
			if cause == nil {
				cause = err
			}
			result.Outcomes = append(result.Outcomes, skipped(sub.TimetableIDs[i:])...)
			break
		}
		err := s.updater.UpdateStatus(ctx, portal.StatusUpdate{
			UserID:      userID,
			TimetableID: id,
			Status:      sub.Type.Status(),
			Reason:      sub.Reason,
		})
		if err == nil {
			s.logger.Printf("status %s recorded for session %d", sub.Type, id)
			result.Outcomes = append(result.Outcomes, Outcome{TimetableID: id, State: OutcomeOK})
			continue
		}
		s.logger.Printf("status %s for session %d failed: %v", sub.Type, id, err)
		result.Outcomes = append(result.Outcomes, Outcome{TimetableID: id, State: OutcomeFailed, Err: err})
		if cause == nil {
			cause = err
		}
		if s.policy == PolicyStopOnError || fatal(err) {
			result.Outcomes = append(result.Outcomes, skipped(sub.TimetableIDs[i+1:])...)
			break
		}
	}
	if cause != nil {
		return result, &BatchError{Result: result, Cause: cause}
	}
	return result, nil
}

func fatal(err error) bool {
	return portal.IsUnauthorized(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func skipped(ids []int) []Outcome {
	out := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		out = append(out, Outcome{TimetableID: id, State: OutcomeSkipped})
	}
	return out
}
