package attendance

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kingrea/campus/internal/portal"
)

type recordingUpdater struct {
	calls []portal.StatusUpdate
	fail  map[int]error
	after func(n int)
}

func (r *recordingUpdater) UpdateStatus(_ context.Context, update portal.StatusUpdate) error {
	r.calls = append(r.calls, update)
	if r.after != nil {
		r.after(len(r.calls))
	}
	return r.fail[update.TimetableID]
}

func (r *recordingUpdater) ids() []int {
	out := make([]int, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.TimetableID)
	}
	return out
}

func states(result BatchResult) []OutcomeState {
	out := make([]OutcomeState, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		out = append(out, o.State)
	}
	return out
}

var lateSubmission = Submission{Type: TypeLate, Reason: "電車遅延", TimetableIDs: []int{1, 2, 3}}

func TestSubmitSendsSequentiallyInOrder(t *testing.T) {
	updater := &recordingUpdater{}
	result, err := NewSubmitter(updater).Submit(context.Background(), 42, lateSubmission)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !reflect.DeepEqual(updater.ids(), []int{1, 2, 3}) {
		t.Fatalf("order = %v", updater.ids())
	}
	for _, call := range updater.calls {
		if call.UserID != 42 || call.Status != portal.StatusLate || call.Reason != "電車遅延" {
			t.Fatalf("unexpected update %+v", call)
		}
	}
	if result.Succeeded() != 3 || result.Total() != 3 {
		t.Fatalf("result = %+v", result)
	}
}

func TestBestEffortContinuesPastFailures(t *testing.T) {
	boom := &portal.APIError{Op: "update status", Status: 500}
	updater := &recordingUpdater{fail: map[int]error{2: boom}}
	result, err := NewSubmitter(updater).Submit(context.Background(), 1, lateSubmission)
	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("Submit() = %v, want *BatchError", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("BatchError must unwrap to the first failure")
	}
	if got := states(result); !reflect.DeepEqual(got, []OutcomeState{OutcomeOK, OutcomeFailed, OutcomeOK}) {
		t.Fatalf("states = %v", got)
	}
	if len(updater.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(updater.calls))
	}
}

func TestStopOnErrorSkipsRemaining(t *testing.T) {
	updater := &recordingUpdater{fail: map[int]error{2: &portal.NetworkError{Op: "update status", Err: errors.New("reset")}}}
	result, err := NewSubmitter(updater, WithPolicy(PolicyStopOnError)).Submit(context.Background(), 1, lateSubmission)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got := states(result); !reflect.DeepEqual(got, []OutcomeState{OutcomeOK, OutcomeFailed, OutcomeSkipped}) {
		t.Fatalf("states = %v", got)
	}
	if result.Attempted() != 2 || result.Skipped() != 1 {
		t.Fatalf("attempted %d skipped %d", result.Attempted(), result.Skipped())
	}
}

func TestUnauthorizedAlwaysStops(t *testing.T) {
	updater := &recordingUpdater{fail: map[int]error{1: portal.ErrUnauthorized}}
	result, err := NewSubmitter(updater).Submit(context.Background(), 1, lateSubmission)
	if !portal.IsUnauthorized(err) {
		t.Fatalf("Submit() = %v, want unauthorized", err)
	}
	if len(updater.calls) != 1 || result.Skipped() != 2 {
		t.Fatalf("calls %d skipped %d", len(updater.calls), result.Skipped())
	}
}

func TestCancelledContextSkipsRest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	updater := &recordingUpdater{after: func(n int) {
		if n == 1 {
			cancel()
		}
	}}
	result, err := NewSubmitter(updater).Submit(ctx, 1, lateSubmission)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit() = %v, want context.Canceled", err)
	}
	if got := states(result); !reflect.DeepEqual(got, []OutcomeState{OutcomeOK, OutcomeSkipped, OutcomeSkipped}) {
		t.Fatalf("states = %v", got)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("stop-on-error"); err != nil || p != PolicyStopOnError {
		t.Fatalf("ParsePolicy = %v, %v", p, err)
	}
	if _, err := ParsePolicy("retry"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
