package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/campus/internal/attendance"
	"github.com/kingrea/campus/internal/portal"
	"github.com/kingrea/campus/internal/timetable"
)

const (
	messageSelectionLocked = "日付指定では授業を個別に選べません"
	messageExcusedOnly     = "公欠のときだけ指定できます"
)

type applyView struct {
	app     *App
	ctrl    *attendance.Controller
	reason  textinput.Model
	editing bool
	cursor  int
	opened  bool
	busy    bool
	message string
	failed  bool
}

type applyOpenedMsg struct{ err error }

type applyReloadedMsg struct{ err error }

type applySubmittedMsg struct {
	report attendance.Report
	err    error
}

func newApplyView(app *App) *applyView {
	kind, err := attendance.ParseApplicationType(app.config.DefaultApplicationType())
	if err != nil {
		kind = attendance.TypeExcused
	}
	form := attendance.NewForm(app.clock(),
		attendance.WithType(kind),
		attendance.WithCategories(app.config.ExcusedReasons()),
	)
	ctrl := attendance.NewController(app.client, form, attendance.WithControllerLogger(app.logbook))
	reason := textinput.New()
	reason.Placeholder = "理由を入力"
	reason.Prompt = "理由: "
	reason.CharLimit = 200
	return &applyView{app: app, ctrl: ctrl, reason: reason}
}

func (v *applyView) Init() tea.Cmd {
	ctrl := v.ctrl
	ctx, cancel := v.app.requestContext()
	return func() tea.Msg {
		defer cancel()
		return applyOpenedMsg{err: ctrl.Open(ctx)}
	}
}

func (v *applyView) reload() tea.Cmd {
	ctrl := v.ctrl
	ctx, cancel := v.app.requestContext()
	return func() tea.Msg {
		defer cancel()
		return applyReloadedMsg{err: ctrl.Reload(ctx)}
	}
}

func (v *applyView) submit() tea.Cmd {
	if v.busy {
		return nil
	}
	v.busy = true
	v.failed = false
	v.message = attendance.MessageSubmitting
	ctrl := v.ctrl
	ctx, cancel := v.app.requestContext()
	return func() tea.Msg {
		defer cancel()
		report, err := ctrl.Submit(ctx)
		return applySubmittedMsg{report: report, err: err}
	}
}

func (v *applyView) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case applyOpenedMsg:
		if msg.err != nil {
			return v.fail("Open application form", msg.err)
		}
		v.opened = true
		v.syncSummary()
		return nil
	case applyReloadedMsg:
		if msg.err != nil {
			return v.fail("Reload sessions", msg.err)
		}
		v.clampCursor()
		return nil
	case applySubmittedMsg:
		return v.handleSubmitted(msg)
	case tea.KeyMsg:
		if v.editing {
			return v.updateReason(msg)
		}
		return v.handleKey(msg)
	}
	if v.editing {
		var cmd tea.Cmd
		v.reason, cmd = v.reason.Update(msg)
		return cmd
	}
	return nil
}

func (v *applyView) handleSubmitted(msg applySubmittedMsg) tea.Cmd {
	v.busy = false
	v.message = msg.report.Message
	v.failed = msg.err != nil
	result := msg.report.Result
	if msg.report.SummaryRefreshed {
		v.syncSummary()
	}
	if msg.err == nil {
		v.app.logInfo("Application %s submitted for %d session(s)", msg.report.Submission.Type, result.Total())
		v.reason.SetValue(v.ctrl.Snapshot().Reason)
		return v.reload()
	}
	if _, ok := attendance.AsValidationError(msg.err); ok {
		return nil
	}
	if errors.Is(msg.err, attendance.ErrNotOpened) {
		v.message = "プロフィールを読み込み中です"
		return nil
	}
	for _, o := range result.Outcomes {
		if o.State == attendance.OutcomeFailed {
			v.app.logWarn("Status update for session %d failed: %v", o.TimetableID, o.Err)
		}
	}
	if portal.IsUnauthorized(msg.err) {
		return v.app.handleError("Submit application", msg.err)
	}
	v.app.logError("Submit application: %v", msg.err)
	if result.Attempted() > 0 {
		return v.reload()
	}
	return nil
}

func (v *applyView) fail(op string, err error) tea.Cmd {
	v.failed = true
	v.message = portal.UserMessage(err)
	return v.app.handleError(op, err)
}

// syncSummary copies the controller's summary to the status board.
func (v *applyView) syncSummary() {
	snap := v.ctrl.Snapshot()
	if snap.Summary != nil {
		v.app.summary = snap.Summary
	}
	if snap.User.UserID != 0 && v.app.user == nil {
		user := snap.User
		v.app.user = &user
	}
}

func (v *applyView) handleKey(msg tea.KeyMsg) tea.Cmd {
	snap := v.ctrl.Snapshot()
	switch msg.String() {
	case "t":
		next := nextType(snap.Type)
		return v.edit(func(f *attendance.Form) error { return f.SetType(next) })
	case "m":
		mode := attendance.ModePeriod
		if snap.Mode == attendance.ModePeriod {
			mode = attendance.ModeDate
		}
		return v.edit(func(f *attendance.Form) error { return f.SetMode(mode) })
	case "c":
		next := nextCategory(snap.Categories, snap.Category)
		return v.edit(func(f *attendance.Form) error { return f.SetReasonCategory(next) })
	case "[", "]":
		day := shiftDay(snap.Start, msg.String() == "]")
		return v.edit(func(f *attendance.Form) error {
			f.SetStartDate(day)
			return nil
		})
	case "{", "}":
		day := shiftDay(snap.End, msg.String() == "}")
		return v.edit(func(f *attendance.Form) error { return f.SetEndDate(day) })
	case "up", "k":
		if v.cursor > 0 {
			v.cursor--
		}
	case "down", "j":
		if v.cursor < len(snap.Sessions)-1 {
			v.cursor++
		}
	case " ", "x":
		if v.cursor >= len(snap.Sessions) {
			return nil
		}
		id := snap.Sessions[v.cursor].ID
		return v.edit(func(f *attendance.Form) error { return f.Toggle(id) })
	case "e":
		if snap.Type == attendance.TypeExcused && !snap.NeedsFreeText {
			v.message = "理由は区分から選んでください (c)"
			return nil
		}
		v.editing = true
		v.reason.SetValue(snap.Reason)
		v.reason.CursorEnd()
		return v.reason.Focus()
	case "s":
		return v.submit()
	}
	return nil
}

func (v *applyView) updateReason(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEnter, tea.KeyEsc:
		v.editing = false
		v.reason.Blur()
		return nil
	}
	var cmd tea.Cmd
	v.reason, cmd = v.reason.Update(msg)
	value := v.reason.Value()
	_, _ = v.ctrl.Edit(func(f *attendance.Form) error {
		f.SetReason(value)
		return nil
	})
	return cmd
}

// edit applies fn and reloads the sessions when the date range moved.
func (v *applyView) edit(fn func(*attendance.Form) error) tea.Cmd {
	needsReload, err := v.ctrl.Edit(fn)
	if err != nil {
		v.failed = true
		v.message = describeFormError(err)
		return nil
	}
	v.failed = false
	v.message = ""
	v.clampCursor()
	if needsReload {
		v.cursor = 0
		return v.reload()
	}
	return nil
}

func (v *applyView) clampCursor() {
	n := len(v.ctrl.Snapshot().Sessions)
	if v.cursor >= n {
		v.cursor = max(0, n-1)
	}
}

func describeFormError(err error) string {
	switch {
	case errors.Is(err, attendance.ErrSelectionLocked):
		return messageSelectionLocked
	case errors.Is(err, attendance.ErrExcusedOnly):
		return messageExcusedOnly
	case errors.Is(err, attendance.ErrUnknownType):
		return attendance.MessageUnknownType
	}
	return err.Error()
}

func nextType(current attendance.ApplicationType) attendance.ApplicationType {
	types := attendance.ApplicationTypes
	for i, t := range types {
		if t == current {
			return types[(i+1)%len(types)]
		}
	}
	return types[0]
}

func nextCategory(categories []string, current string) string {
	if len(categories) == 0 {
		return current
	}
	for i, c := range categories {
		if c == current {
			return categories[(i+1)%len(categories)]
		}
	}
	return categories[0]
}

func shiftDay(day time.Time, forward bool) time.Time {
	if forward {
		return day.AddDate(0, 0, 1)
	}
	return day.AddDate(0, 0, -1)
}

func (v *applyView) View() string {
	snap := v.ctrl.Snapshot()
	lines := []string{titleStyle.Render("出欠申請"), ""}

	types := make([]string, 0, len(attendance.ApplicationTypes))
	for _, t := range attendance.ApplicationTypes {
		if t == snap.Type {
			types = append(types, activeStyle.Render("["+string(t)+"]"))
		} else {
			types = append(types, mutedStyle.Render(string(t)))
		}
	}
	lines = append(lines, "種別: "+strings.Join(types, " "))

	if snap.Type == attendance.TypeExcused {
		lines = append(lines, "指定方法: "+snap.Mode.Label())
		lines = append(lines, fmt.Sprintf("期間: %s 〜 %s",
			snap.Start.Format(portal.DateLayout), snap.End.Format(portal.DateLayout)))
		lines = append(lines, "区分: "+snap.Category)
	} else {
		lines = append(lines, "日付: "+snap.Start.Format(portal.DateLayout))
	}
	if snap.Type != attendance.TypeExcused || snap.NeedsFreeText {
		if v.editing {
			lines = append(lines, v.reason.View())
		} else {
			reason := snap.Reason
			if strings.TrimSpace(reason) == "" {
				reason = mutedStyle.Render("(未入力)")
			}
			lines = append(lines, "理由: "+reason)
		}
	}

	lines = append(lines, "")
	lines = append(lines, v.renderSessions(snap)...)

	if v.message != "" {
		style := activeStyle
		if v.failed {
			style = errorStyle
		}
		lines = append(lines, "", style.Render(v.message))
	}
	lines = append(lines, "", mutedStyle.Render(v.help(snap)))
	return strings.Join(lines, "\n")
}

func (v *applyView) renderSessions(snap attendance.Snapshot) []string {
	header := "授業"
	switch {
	case snap.SelectionLocked:
		header += mutedStyle.Render(" (期間内の全授業)")
	case snap.SingleSelect:
		header += mutedStyle.Render(" (1つ選択)")
	}
	lines := []string{header}
	switch {
	case !v.opened || snap.Loading && len(snap.Sessions) == 0:
		return append(lines, mutedStyle.Render("  読み込み中..."))
	case len(snap.Sessions) == 0:
		return append(lines, mutedStyle.Render("  授業がありません"))
	}
	for i, e := range snap.Sessions {
		box := "[ ]"
		if snap.IsSelected(e.ID) {
			box = activeStyle.Render("[x]")
		}
		label := e.Date
		if day, err := e.Day(); err == nil {
			label = timetable.Label(day)
		}
		lines = append(lines, fmt.Sprintf("%s%s %s %d限 %s", cursorMark(i == v.cursor), box, label, e.Period, e.SubjectName))
	}
	return lines
}

func (v *applyView) help(snap attendance.Snapshot) string {
	if v.editing {
		return "enter: 確定 · esc: 閉じる"
	}
	parts := []string{"t: 種別", "[/]: 開始日"}
	if snap.Type == attendance.TypeExcused {
		parts = append(parts, "{/}: 終了日", "m: 指定方法", "c: 区分")
	}
	if !snap.SelectionLocked {
		parts = append(parts, "space: 選択")
	}
	parts = append(parts, "e: 理由", "s: 送信", "esc: 戻る")
	return strings.Join(parts, " · ")
}
