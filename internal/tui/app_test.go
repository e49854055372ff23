package tui

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/campus/internal/attendance"
	"github.com/kingrea/campus/internal/config"
	"github.com/kingrea/campus/internal/logbook"
	"github.com/kingrea/campus/internal/portal"
	"github.com/kingrea/campus/internal/sandbox"
	"github.com/kingrea/campus/internal/session"
)

// Monday 2024-06-03, between the first and second period.
var testNow = time.Date(2024, 6, 3, 10, 0, 0, 0, time.Local)

type testEnv struct {
	srv    *sandbox.Server
	client *portal.Client
	store  *session.Store
	app    *App
}

func newTestEnv(t *testing.T, loggedIn bool) *testEnv {
	t.Helper()
	clock := func() time.Time { return testNow }
	srv := sandbox.NewServer(sandbox.Settings{}, sandbox.WithClock(clock), sandbox.WithSecret([]byte("tui-test")))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	homeDir := t.TempDir()
	if err := config.InitHomeDir(homeDir); err != nil {
		t.Fatalf("init home: %v", err)
	}
	cfg, err := config.Load(homeDir)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	store, err := session.Open(cfg.SessionPath(), session.WithClock(clock))
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	client, err := portal.NewClient(ts.URL+"/api", store)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if loggedIn {
		if _, err := client.LoginWithGoogle(context.Background(), "dev:"+sandbox.DemoEmail); err != nil {
			t.Fatalf("login: %v", err)
		}
	}
	lb, err := logbook.New(filepath.Join(homeDir, "logs", "campus.log"))
	if err != nil {
		t.Fatalf("logbook: %v", err)
	}
	app := NewApp(cfg, client, lb, WithClock(clock))
	t.Cleanup(app.Close)
	app.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return &testEnv{srv: srv, client: client, store: store, app: app}
}

// runCommands feeds every message produced by cmd back into the app. Batches
// are expanded; commands that do not finish promptly (ticks, the session
// watcher) are dropped.
func runCommands(t *testing.T, model tea.Model, cmd tea.Cmd) *App {
	t.Helper()
	app, ok := model.(*App)
	if !ok {
		t.Fatalf("unexpected model type: %T", model)
	}
	queue := []tea.Cmd{cmd}
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 200 {
			t.Fatalf("command loop did not settle")
		}
		next := queue[0]
		queue = queue[1:]
		if next == nil {
			continue
		}
		msg := runWithTimeout(next, time.Second)
		if msg == nil || isCursorBlink(msg) {
			continue
		}
		if batch, ok := msg.(tea.BatchMsg); ok {
			queue = append(queue, batch...)
			continue
		}
		nextModel, nextCmd := app.Update(msg)
		app, ok = nextModel.(*App)
		if !ok {
			t.Fatalf("unexpected model type: %T", nextModel)
		}
		queue = append(queue, nextCmd)
	}
	return app
}

// isCursorBlink reports text input blink messages, which re-arm forever.
func isCursorBlink(msg tea.Msg) bool {
	return strings.HasPrefix(fmt.Sprintf("%T", msg), "cursor.")
}

func runWithTimeout(cmd tea.Cmd, timeout time.Duration) tea.Msg {
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()
	select {
	case msg := <-done:
		return msg
	case <-time.After(timeout):
		return nil
	}
}

func press(t *testing.T, app *App, keys ...string) *App {
	t.Helper()
	for _, key := range keys {
		var msg tea.KeyMsg
		switch key {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "space":
			msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
		}
		model, cmd := app.Update(msg)
		app = runCommands(t, model, cmd)
	}
	return app
}

func openMenu(t *testing.T, app *App, title string) *App {
	t.Helper()
	for i, item := range app.mainMenu.Items() {
		if item.(menuItem).title == title {
			app.mainMenu.Select(i)
			return press(t, app, "enter")
		}
	}
	t.Fatalf("menu item %q not found", title)
	return app
}

func TestLoginReachesMainMenu(t *testing.T) {
	env := newTestEnv(t, false)
	app := env.app
	if app.state != stateLogin {
		t.Fatalf("expected login screen without a session, got %d", app.state)
	}
	app = press(t, app, "enter")
	if app.login.err != messageCredentialRequired {
		t.Fatalf("blank credential error = %q", app.login.err)
	}
	app = press(t, app, "dev:"+sandbox.DemoEmail, "enter")
	if app.state != stateMainMenu {
		t.Fatalf("expected main menu after login, got %d", app.state)
	}
	if app.user == nil || app.user.Email != sandbox.DemoEmail {
		t.Fatalf("status board user = %+v", app.user)
	}
	if app.summary == nil {
		t.Fatalf("summary not loaded")
	}
	if app.unread != 3 {
		t.Fatalf("unread = %d, want 3", app.unread)
	}
	if !strings.Contains(app.View(), "出席率") {
		t.Fatalf("board should show the attendance rate")
	}
}

func TestRejectedCredentialStaysOnLogin(t *testing.T) {
	env := newTestEnv(t, false)
	app := press(t, env.app, "not-a-token", "enter")
	if app.state != stateLogin {
		t.Fatalf("expected to stay on login, got %d", app.state)
	}
	if app.login.err == "" || app.login.busy {
		t.Fatalf("expected visible login error, got %+v", app.login)
	}
}

func TestNewStudentMustSelectMajor(t *testing.T) {
	env := newTestEnv(t, false)
	app := press(t, env.app, "dev:new.student@example.ac.jp", "enter")
	if app.state != stateMajorSelect || !app.major.required {
		t.Fatalf("expected required major selection, got state %d", app.state)
	}
	app = press(t, app, "esc")
	if app.state != stateMajorSelect {
		t.Fatalf("esc must not skip a required major selection")
	}
	app = press(t, app, "down", "enter")
	if app.state != stateMainMenu {
		t.Fatalf("expected main menu after choosing a major, got %d", app.state)
	}
	if app.user == nil || app.user.MajorID == nil || *app.user.MajorID != 2 {
		t.Fatalf("major not saved: %+v", app.user)
	}
}

func TestTimetableWeekNavigation(t *testing.T) {
	env := newTestEnv(t, true)
	app := runCommands(t, env.app, env.app.Init())
	app = openMenu(t, app, menuTimetable)
	view := app.timetable
	if view == nil || app.state != stateTimetable {
		t.Fatalf("timetable not opened")
	}
	if got := view.week.Start.Format(portal.DateLayout); got != "2024-06-03" {
		t.Fatalf("week start = %s", got)
	}
	// Major 1 sees 4+3+4+3+3 sessions from Monday to Friday.
	if len(view.entries) != 17 {
		t.Fatalf("entries = %d, want 17", len(view.entries))
	}
	if len(view.majors) != 2 {
		t.Fatalf("majors = %d, want 2", len(view.majors))
	}
	if view.entries[0].Date != "2024-06-03" || view.entries[0].Period != 1 {
		t.Fatalf("first entry = %+v", view.entries[0])
	}

	app = press(t, app, "l")
	if got := app.timetable.week.Start.Format(portal.DateLayout); got != "2024-06-10" {
		t.Fatalf("next week start = %s", got)
	}
	if app.timetable.entries[0].Date != "2024-06-10" {
		t.Fatalf("entries not reloaded for next week: %+v", app.timetable.entries[0])
	}

	app = press(t, app, "t", "m", "m")
	if app.timetable.majorID != 2 {
		t.Fatalf("major after two cycles = %d, want 2", app.timetable.majorID)
	}
	found := false
	for _, e := range app.timetable.entries {
		if e.SubjectName == "ネットワーク構築" {
			found = true
		}
		if e.SubjectName == "Webアプリ開発" {
			t.Fatalf("major 2 timetable must not list major 1 classes")
		}
	}
	if !found {
		t.Fatalf("major 2 timetable missing its own classes")
	}
}

func TestStaleTimetableResponseIsDropped(t *testing.T) {
	env := newTestEnv(t, true)
	app := runCommands(t, env.app, env.app.Init())
	app = openMenu(t, app, menuTimetable)
	view := app.timetable
	_ = view.load()
	app = runCommands(t, app, view.load())
	want := len(view.entries)
	model, _ := app.Update(timetableLoadedMsg{gen: view.gen - 1})
	app = model.(*App)
	if len(app.timetable.entries) != want {
		t.Fatalf("stale response replaced entries")
	}
}

func TestApplyLateSubmitsOneSession(t *testing.T) {
	env := newTestEnv(t, true)
	app := runCommands(t, env.app, env.app.Init())
	app = openMenu(t, app, menuApply)
	snap := app.apply.ctrl.Snapshot()
	if snap.Type != attendance.TypeExcused || !snap.SelectionLocked {
		t.Fatalf("expected 公欠 in date mode by default, got %+v", snap)
	}
	if len(snap.Selected) != len(snap.Sessions) || len(snap.Sessions) != 4 {
		t.Fatalf("date mode should select all 4 Monday sessions, got %d of %d", len(snap.Selected), len(snap.Sessions))
	}

	app = press(t, app, "t", "t")
	snap = app.apply.ctrl.Snapshot()
	if snap.Type != attendance.TypeLate || len(snap.Selected) != 0 {
		t.Fatalf("expected 遅刻 with an empty selection, got %s %v", snap.Type, snap.Selected)
	}
	target := snap.Sessions[0].ID

	app = press(t, app, "space", "e", "電車遅延", "enter")
	if app.apply.editing {
		t.Fatalf("enter should close the reason input")
	}
	app = press(t, app, "s")
	if app.apply.message != attendance.MessageSubmitted {
		t.Fatalf("message = %q", app.apply.message)
	}
	updates := env.srv.Updates()
	if len(updates) != 1 {
		t.Fatalf("status updates = %d, want 1", len(updates))
	}
	if updates[0].TimetableID != target || updates[0].Status != portal.StatusLate || updates[0].Reason != "電車遅延" {
		t.Fatalf("update = %+v", updates[0])
	}
	if app.summary == nil || app.summary.Late != 1 {
		t.Fatalf("status board summary not refreshed: %+v", app.summary)
	}
}

func TestApplyViewListsSessions(t *testing.T) {
	env := newTestEnv(t, true)
	app := runCommands(t, env.app, env.app.Init())
	app = openMenu(t, app, menuApply)
	view := app.apply.View()
	for _, e := range app.apply.ctrl.Snapshot().Sessions {
		line := fmt.Sprintf("%d限 %s", e.Period, e.SubjectName)
		if !strings.Contains(view, line) {
			t.Fatalf("apply view missing %q:\n%s", line, view)
		}
	}
	if !strings.Contains(view, "種別:") || !strings.Contains(view, "s: 送信") {
		t.Fatalf("apply view missing form header or help:\n%s", view)
	}
}

func TestApplyValidationNeverReachesPortal(t *testing.T) {
	env := newTestEnv(t, true)
	app := runCommands(t, env.app, env.app.Init())
	app = openMenu(t, app, menuApply)
	app = press(t, app, "t", "s")
	if app.apply.message != attendance.MessageReasonRequired || !app.apply.failed {
		t.Fatalf("message = %q", app.apply.message)
	}
	if n := len(env.srv.Updates()); n != 0 {
		t.Fatalf("validation failure sent %d updates", n)
	}
}

func TestApplyLockedSelectionRejectsToggle(t *testing.T) {
	env := newTestEnv(t, true)
	app := runCommands(t, env.app, env.app.Init())
	app = openMenu(t, app, menuApply)
	app = press(t, app, "space")
	if app.apply.message != messageSelectionLocked {
		t.Fatalf("message = %q", app.apply.message)
	}
	app = press(t, app, "]")
	snap := app.apply.ctrl.Snapshot()
	if got := snap.Start.Format(portal.DateLayout); got != "2024-06-04" {
		t.Fatalf("start = %s", got)
	}
	// Tuesday has three sessions for every major.
	if len(snap.Sessions) != 3 || len(snap.Selected) != 3 {
		t.Fatalf("sessions after reload = %d selected %d", len(snap.Sessions), len(snap.Selected))
	}
}

func TestNotificationsMarkRead(t *testing.T) {
	env := newTestEnv(t, true)
	app := runCommands(t, env.app, env.app.Init())
	app = openMenu(t, app, menuNotifications)
	if len(app.notifications.items) != 3 {
		t.Fatalf("notifications = %d, want 3", len(app.notifications.items))
	}
	app = press(t, app, "enter")
	if !app.notifications.items[0].IsRead {
		t.Fatalf("first notification should be read")
	}
	if app.unread != 2 {
		t.Fatalf("unread = %d, want 2", app.unread)
	}
	app = press(t, app, "esc")
	if app.state != stateMainMenu || app.notifications != nil {
		t.Fatalf("esc should return to the main menu")
	}
}

func TestUnauthorizedReturnsToLogin(t *testing.T) {
	env := newTestEnv(t, true)
	app := runCommands(t, env.app, env.app.Init())
	// A token signed by another server is rejected with 401.
	other := sandbox.NewServer(sandbox.Settings{}, sandbox.WithClock(func() time.Time { return testNow }), sandbox.WithSecret([]byte("other")))
	forged, err := other.IssueToken(sandbox.Student{Sub: "dev:" + sandbox.DemoEmail, Email: sandbox.DemoEmail}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if err := env.store.Save(forged); err != nil {
		t.Fatalf("save: %v", err)
	}
	app = openMenu(t, app, menuTimetable)
	if app.state != stateLogin {
		t.Fatalf("expected login screen after 401, got %d", app.state)
	}
	if app.login.notice != portal.MessageUnauthorized {
		t.Fatalf("notice = %q", app.login.notice)
	}
	if env.store.LoggedIn() {
		t.Fatalf("401 must clear the stored token")
	}
}

func TestLogoutFromAnotherProcess(t *testing.T) {
	env := newTestEnv(t, true)
	app := env.app
	if app.state != stateMainMenu {
		t.Fatalf("expected main menu with a stored session")
	}
	if err := env.store.Clear(""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	msg := runWithTimeout(app.watchSession(), time.Second)
	if msg == nil {
		t.Fatalf("session watcher did not report the logout")
	}
	model, _ := app.Update(msg)
	app = model.(*App)
	if app.state != stateLogin {
		t.Fatalf("expected login screen after logout, got %d", app.state)
	}
}
