package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/campus/internal/portal"
)

const messageCredentialRequired = "Google の ID トークンを入力してください"

type loginView struct {
	app    *App
	input  textinput.Model
	notice string
	err    string
	busy   bool
}

type loginResultMsg struct {
	result portal.LoginResult
	err    error
}

func newLoginView(app *App, notice string) *loginView {
	input := textinput.New()
	input.Placeholder = "Google ID トークン (サンドボックスでは dev:<email>)"
	input.Prompt = "› "
	input.CharLimit = 4096
	input.Focus()
	return &loginView{app: app, input: input, notice: notice}
}

func (v *loginView) Init() tea.Cmd {
	return textinput.Blink
}

func (v *loginView) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case loginResultMsg:
		v.busy = false
		if msg.err != nil {
			v.app.logWarn("Login failed: %v", msg.err)
			v.err = portal.UserMessage(msg.err)
			return nil
		}
		return v.app.onLoggedIn(msg.result)
	case tea.KeyMsg:
		if msg.Type == tea.KeyEnter {
			if v.busy {
				return nil
			}
			credential := strings.TrimSpace(v.input.Value())
			if credential == "" {
				v.err = messageCredentialRequired
				return nil
			}
			v.busy = true
			v.err = ""
			return v.submit(credential)
		}
	}
	var cmd tea.Cmd
	v.input, cmd = v.input.Update(msg)
	return cmd
}

func (v *loginView) submit(credential string) tea.Cmd {
	client := v.app.client
	ctx, cancel := v.app.requestContext()
	return func() tea.Msg {
		defer cancel()
		result, err := client.LoginWithGoogle(ctx, credential)
		return loginResultMsg{result: result, err: err}
	}
}

func (v *loginView) View() string {
	lines := []string{titleStyle.Render("ログイン"), ""}
	if v.notice != "" {
		lines = append(lines, warningStyle.Render(v.notice), "")
	}
	lines = append(lines,
		bodyStyle.Render("Google アカウントの ID トークンを貼り付けて Enter を押してください。"),
		"",
		v.input.View(),
	)
	switch {
	case v.busy:
		lines = append(lines, "", mutedStyle.Render("ログイン中..."))
	case v.err != "":
		lines = append(lines, "", errorStyle.Render(v.err))
	}
	lines = append(lines, "", mutedStyle.Render("enter: ログイン · ctrl+c: 終了"))
	return strings.Join(lines, "\n")
}

// onLoggedIn moves to the main menu once the token is stored.
func (a *App) onLoggedIn(result portal.LoginResult) tea.Cmd {
	a.logInfo("Signed in as %s", result.User.Email)
	a.state = stateMainMenu
	a.login = nil
	a.statusMsg = result.User.Name + " としてログインしました"
	return a.fetchStatusSnapshot()
}
