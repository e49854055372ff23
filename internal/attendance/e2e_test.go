package attendance_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kingrea/campus/internal/attendance"
	"github.com/kingrea/campus/internal/portal"
	"github.com/kingrea/campus/internal/sandbox"
	"github.com/kingrea/campus/internal/session"
)

func TestLateApplicationAgainstSandbox(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 30, 0, 0, time.Local)
	clock := func() time.Time { return now }
	srv := sandbox.NewServer(sandbox.Settings{}, sandbox.WithClock(clock))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	store, err := session.Open(filepath.Join(t.TempDir(), "session.json"), session.WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	client, err := portal.NewClient(ts.URL+"/api", store)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.LoginWithGoogle(context.Background(), "dev:"+sandbox.DemoEmail); err != nil {
		t.Fatalf("login: %v", err)
	}

	ctrl := attendance.NewController(client, attendance.NewForm(now))
	if err := ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := ctrl.Edit(func(f *attendance.Form) error {
		return f.SetType(attendance.TypeLate)
	}); err != nil {
		t.Fatal(err)
	}
	snap := ctrl.Snapshot()
	if len(snap.Sessions) == 0 {
		t.Fatalf("no sessions on 2024-06-01")
	}
	target := snap.Sessions[0].ID
	if _, err := ctrl.Edit(func(f *attendance.Form) error {
		f.SetReason("電車遅延")
		return f.Toggle(target)
	}); err != nil {
		t.Fatal(err)
	}

	report, err := ctrl.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	updates := srv.Updates()
	if len(updates) != 1 {
		t.Fatalf("status updates = %d, want exactly 1", len(updates))
	}
	got := updates[0]
	if got.TimetableID != target || got.Status != portal.StatusLate || got.Reason != "電車遅延" {
		t.Fatalf("update = %+v", got)
	}
	if report.Message != attendance.MessageSubmitted || !report.SummaryRefreshed {
		t.Fatalf("report = %+v", report)
	}
	summary := ctrl.Snapshot().Summary
	if summary == nil || summary.Late != 1 || summary.Total != 1 {
		t.Fatalf("summary after submit = %+v", summary)
	}
}
