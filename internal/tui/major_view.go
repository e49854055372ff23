package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/campus/internal/portal"
)

type majorView struct {
	app      *App
	majors   []portal.Major
	cursor   int
	required bool
	loading  bool
	saving   bool
	err      string
}

type majorsLoadedMsg struct {
	majors []portal.Major
	err    error
}

type majorSavedMsg struct {
	major portal.Major
	err   error
}

func newMajorView(app *App, required bool) *majorView {
	return &majorView{app: app, required: required, loading: true}
}

func (v *majorView) Init() tea.Cmd {
	if v.app.user != nil && len(v.app.user.AvailableMajors) > 0 {
		majors := append([]portal.Major(nil), v.app.user.AvailableMajors...)
		return func() tea.Msg { return majorsLoadedMsg{majors: majors} }
	}
	client := v.app.client
	ctx, cancel := v.app.requestContext()
	return func() tea.Msg {
		defer cancel()
		majors, err := client.Majors(ctx)
		return majorsLoadedMsg{majors: majors, err: err}
	}
}

func (v *majorView) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case majorsLoadedMsg:
		v.loading = false
		if msg.err != nil {
			v.err = portal.UserMessage(msg.err)
			return v.app.handleError("Load majors", msg.err)
		}
		v.majors = msg.majors
		if v.app.user != nil && v.app.user.MajorID != nil {
			for i, m := range v.majors {
				if m.ID == *v.app.user.MajorID {
					v.cursor = i
				}
			}
		}
		return nil
	case majorSavedMsg:
		v.saving = false
		if msg.err != nil {
			v.err = portal.UserMessage(msg.err)
			return v.app.handleError("Set major", msg.err)
		}
		v.app.logInfo("Major set to %s", msg.major.Name)
		v.app.statusMsg = "専攻を「" + msg.major.Name + "」に設定しました"
		_, cmd := v.app.returnToMainMenu()
		return cmd
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if v.cursor > 0 {
				v.cursor--
			}
		case "down", "j":
			if v.cursor < len(v.majors)-1 {
				v.cursor++
			}
		case "enter":
			return v.save()
		}
	}
	return nil
}

func (v *majorView) save() tea.Cmd {
	if v.saving || v.cursor >= len(v.majors) {
		return nil
	}
	v.saving = true
	v.err = ""
	major := v.majors[v.cursor]
	client := v.app.client
	ctx, cancel := v.app.requestContext()
	return func() tea.Msg {
		defer cancel()
		return majorSavedMsg{major: major, err: client.SetMajor(ctx, major.ID)}
	}
}

func (v *majorView) View() string {
	lines := []string{titleStyle.Render("専攻選択"), ""}
	if v.required {
		lines = append(lines, warningStyle.Render("専攻を選択してください"), "")
	}
	switch {
	case v.loading:
		lines = append(lines, mutedStyle.Render("読み込み中..."))
	case len(v.majors) == 0:
		lines = append(lines, mutedStyle.Render("選択できる専攻がありません"))
	}
	for i, m := range v.majors {
		lines = append(lines, cursorMark(i == v.cursor)+m.Name)
	}
	if v.saving {
		lines = append(lines, "", mutedStyle.Render("保存中..."))
	}
	if v.err != "" {
		lines = append(lines, "", errorStyle.Render(v.err))
	}
	help := "↑/↓: 選択 · enter: 決定"
	if !v.required {
		help += " · esc: 戻る"
	}
	lines = append(lines, "", mutedStyle.Render(help))
	return strings.Join(lines, "\n")
}
