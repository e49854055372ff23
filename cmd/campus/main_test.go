package main

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/campus/internal/attendance"
	"github.com/kingrea/campus/internal/portal"
	"github.com/kingrea/campus/internal/sandbox"
)

func newSandbox(t *testing.T) *sandbox.Server {
	t.Helper()
	srv := sandbox.NewServer(sandbox.Settings{}, sandbox.WithSecret([]byte("cli-test")))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Setenv("CAMPUS_API_URL", ts.URL+"/api")
	return srv
}

func runCLI(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--home", home}, args...))
	err := root.Execute()
	return out.String(), err
}

func mustRunCLI(t *testing.T, home string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, home, args...)
	if err != nil {
		t.Fatalf("campus %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestLoginAndWhoami(t *testing.T) {
	newSandbox(t)
	home := t.TempDir()
	if _, err := runCLI(t, home, "whoami"); err == nil || !strings.Contains(err.Error(), portal.MessageUnauthorized) {
		t.Fatalf("whoami without session = %v", err)
	}
	out := mustRunCLI(t, home, "login", "--id-token", "dev:"+sandbox.DemoEmail)
	if !strings.Contains(out, sandbox.DemoEmail) {
		t.Fatalf("login output = %q", out)
	}
	out = mustRunCLI(t, home, "whoami")
	if !strings.Contains(out, "山田 太郎") {
		t.Fatalf("whoami output = %q", out)
	}
	mustRunCLI(t, home, "logout")
	if _, err := runCLI(t, home, "whoami"); err == nil {
		t.Fatalf("whoami after logout should fail")
	}
}

func TestApplyLateForOnePeriod(t *testing.T) {
	srv := newSandbox(t)
	home := t.TempDir()
	mustRunCLI(t, home, "login", "--id-token", "dev:"+sandbox.DemoEmail)

	out := mustRunCLI(t, home, "apply", "--type", "遅刻", "--date", "2024-06-03", "--period", "1", "--reason", "電車遅延")
	if !strings.Contains(out, attendance.MessageSubmitted) {
		t.Fatalf("apply output = %q", out)
	}
	updates := srv.Updates()
	if len(updates) != 1 {
		t.Fatalf("status updates = %d, want 1", len(updates))
	}
	want := sandbox.SessionID(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), 0)
	if updates[0].TimetableID != want || updates[0].Status != portal.StatusLate || updates[0].Reason != "電車遅延" {
		t.Fatalf("update = %+v, want session %d", updates[0], want)
	}
}

func TestApplyExcusedCoversEveryClassInRange(t *testing.T) {
	srv := newSandbox(t)
	home := t.TempDir()
	mustRunCLI(t, home, "login", "--id-token", "dev:"+sandbox.DemoEmail)

	mustRunCLI(t, home, "apply", "--type", "公欠", "--date", "2024-06-03", "--end", "2024-06-04", "--category", "面接")
	updates := srv.Updates()
	// Monday has four classes for major 1 and Tuesday three.
	if len(updates) != 7 {
		t.Fatalf("status updates = %d, want 7", len(updates))
	}
	for _, u := range updates {
		if u.Status != portal.StatusExcused || u.Reason != "公欠: 面接" {
			t.Fatalf("update = %+v", u)
		}
	}
}

func TestApplyValidationFailsWithoutRequests(t *testing.T) {
	srv := newSandbox(t)
	home := t.TempDir()
	mustRunCLI(t, home, "login", "--id-token", "dev:"+sandbox.DemoEmail)

	_, err := runCLI(t, home, "apply", "--type", "欠席", "--date", "2024-06-03", "--period", "2")
	if err == nil || err.Error() != attendance.MessageReasonRequired {
		t.Fatalf("apply without reason = %v", err)
	}
	if n := len(srv.Updates()); n != 0 {
		t.Fatalf("validation failure sent %d updates", n)
	}
}

func TestApplyRejectsEndDateForSingleDayTypes(t *testing.T) {
	newSandbox(t)
	home := t.TempDir()
	_, err := runCLI(t, home, "apply", "--type", "遅刻", "--date", "2024-06-03", "--end", "2024-06-04")
	if err == nil || !strings.Contains(err.Error(), "--end") {
		t.Fatalf("expected --end rejection, got %v", err)
	}
}

func TestApplyRejectsSelectionInDateMode(t *testing.T) {
	srv := newSandbox(t)
	home := t.TempDir()
	mustRunCLI(t, home, "login", "--id-token", "dev:"+sandbox.DemoEmail)

	_, err := runCLI(t, home, "apply", "--type", "公欠", "--date", "2024-06-03", "--category", "面接", "--period", "1")
	if err == nil || !strings.Contains(err.Error(), "--mode period") {
		t.Fatalf("expected --mode period hint, got %v", err)
	}
	if n := len(srv.Updates()); n != 0 {
		t.Fatalf("rejected apply sent %d updates", n)
	}

	mustRunCLI(t, home, "apply", "--type", "公欠", "--date", "2024-06-03", "--mode", "period", "--category", "面接", "--period", "1")
	if n := len(srv.Updates()); n != 1 {
		t.Fatalf("period mode updates = %d, want 1", n)
	}
}
