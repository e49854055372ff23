package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/campus/internal/portal"
	"github.com/kingrea/campus/internal/timetable"
)

type timetableView struct {
	app     *App
	week    timetable.Week
	majorID int // 0 shows the student's own major
	majors  []portal.Major
	entries []portal.TimetableEntry
	cursor  int
	loading bool
	gen     int
	err     string
}

type timetableLoadedMsg struct {
	gen     int
	majors  []portal.Major
	entries []portal.TimetableEntry
	err     error
}

type attendDoneMsg struct {
	entry  portal.TimetableEntry
	result portal.AttendResult
	err    error
}

func newTimetableView(app *App) *timetableView {
	return &timetableView{app: app, week: timetable.WeekOf(app.clock())}
}

func (v *timetableView) Init() tea.Cmd {
	return v.load()
}

// load fetches the majors and the displayed week concurrently. Responses for
// an older week or major are dropped.
func (v *timetableView) load() tea.Cmd {
	v.gen++
	v.loading = true
	v.err = ""
	gen := v.gen
	query := v.week.Query(v.majorID)
	client := v.app.client
	ctx, cancel := v.app.requestContext()
	return func() tea.Msg {
		defer cancel()
		var msg timetableLoadedMsg
		msg.gen = gen
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			majors, err := client.Majors(gctx)
			msg.majors = majors
			return err
		})
		g.Go(func() error {
			entries, err := client.Timetable(gctx, query)
			msg.entries = entries
			return err
		})
		msg.err = g.Wait()
		return msg
	}
}

func (v *timetableView) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case timetableLoadedMsg:
		if msg.gen != v.gen {
			return nil
		}
		v.loading = false
		if msg.err != nil {
			v.err = portal.UserMessage(msg.err)
			return v.app.handleError("Timetable load", msg.err)
		}
		v.majors = msg.majors
		v.entries = v.order(msg.entries)
		if v.cursor >= len(v.entries) {
			v.cursor = max(0, len(v.entries)-1)
		}
		return nil
	case attendDoneMsg:
		if msg.err != nil {
			return v.app.handleError("Attend "+msg.entry.SubjectName, msg.err)
		}
		v.app.logInfo("Attend · %s %d限 → %s", msg.entry.Date, msg.entry.Period, msg.result.Status)
		v.app.statusMsg = fmt.Sprintf("%s: %s (%s)", msg.entry.SubjectName, msg.result.Message, msg.result.Status)
		return v.load()
	case tea.KeyMsg:
		switch msg.String() {
		case "left", "h":
			v.week = v.week.Prev()
			v.cursor = 0
			return v.load()
		case "right", "l":
			v.week = v.week.Next()
			v.cursor = 0
			return v.load()
		case "t":
			v.week = timetable.WeekOf(v.app.clock())
			v.cursor = 0
			return v.load()
		case "m":
			v.majorID = v.nextMajor()
			v.cursor = 0
			return v.load()
		case "up", "k":
			if v.cursor > 0 {
				v.cursor--
			}
		case "down", "j":
			if v.cursor < len(v.entries)-1 {
				v.cursor++
			}
		case "a":
			return v.attend()
		}
	}
	return nil
}

// order flattens entries into display order: day by day, then by period.
func (v *timetableView) order(entries []portal.TimetableEntry) []portal.TimetableEntry {
	byDay := timetable.ByDay(entries)
	out := make([]portal.TimetableEntry, 0, len(entries))
	for _, day := range v.week.Days() {
		out = append(out, byDay[day.Format(portal.DateLayout)]...)
	}
	return out
}

// nextMajor cycles own major → each listed major → own major.
func (v *timetableView) nextMajor() int {
	if len(v.majors) == 0 {
		return 0
	}
	if v.majorID == 0 {
		return v.majors[0].ID
	}
	for i, m := range v.majors {
		if m.ID == v.majorID && i+1 < len(v.majors) {
			return v.majors[i+1].ID
		}
	}
	return 0
}

func (v *timetableView) majorLabel() string {
	if v.majorID == 0 {
		return "自分の専攻"
	}
	for _, m := range v.majors {
		if m.ID == v.majorID {
			return m.Name
		}
	}
	return fmt.Sprintf("専攻 %d", v.majorID)
}

func (v *timetableView) attend() tea.Cmd {
	if len(v.entries) == 0 {
		return nil
	}
	userID := v.app.userID()
	if userID == 0 {
		v.app.statusMsg = "プロフィールを読み込み中です"
		return nil
	}
	entry := v.entries[v.cursor]
	client := v.app.client
	ctx, cancel := v.app.requestContext()
	return func() tea.Msg {
		defer cancel()
		result, err := client.Attend(ctx, userID, entry.ID)
		return attendDoneMsg{entry: entry, result: result, err: err}
	}
}

func (v *timetableView) View() string {
	title := fmt.Sprintf("時間割 · %s 〜 %s · %s",
		timetable.Label(v.week.Start), timetable.Label(v.week.DisplayEnd()), v.majorLabel())
	lines := []string{titleStyle.Render(title), ""}
	switch {
	case v.loading && len(v.entries) == 0:
		lines = append(lines, mutedStyle.Render("読み込み中..."))
	case v.err != "":
		lines = append(lines, errorStyle.Render(v.err))
	default:
		byDay := timetable.ByDay(v.entries)
		index := 0
		for _, day := range v.week.Days() {
			lines = append(lines, activeStyle.Render(timetable.Label(day)))
			dayEntries := byDay[day.Format(portal.DateLayout)]
			if len(dayEntries) == 0 {
				lines = append(lines, mutedStyle.Render("    授業なし"))
			}
			for _, e := range dayEntries {
				lines = append(lines, cursorMark(index == v.cursor)+formatEntry(e))
				index++
			}
		}
	}
	lines = append(lines, "", mutedStyle.Render("←/→: 週移動 · t: 今週 · m: 専攻切替 · ↑/↓: 選択 · a: 出席登録 · esc: 戻る"))
	return strings.Join(lines, "\n")
}

func formatEntry(e portal.TimetableEntry) string {
	line := fmt.Sprintf("%d限 %s-%s %s (%s)", e.Period, e.StartTime, e.EndTime, e.SubjectName, e.TeacherName)
	if e.AttendanceStatus != nil {
		line += " " + renderStatus(string(*e.AttendanceStatus))
	}
	return line
}
