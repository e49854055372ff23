// internal/tui/app.go
//
// This is the terminal UI of campus. It uses bubbletea, which follows The Elm
// Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// Every portal request runs inside a tea.Cmd and comes back as a message, so
// Update never blocks on the network.

package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/campus/internal/attendance"
	"github.com/kingrea/campus/internal/config"
	"github.com/kingrea/campus/internal/logbook"
	"github.com/kingrea/campus/internal/portal"
	"github.com/kingrea/campus/internal/session"
)

// appState represents which "screen" we're on
type appState int

const (
	stateLogin         appState = iota // Credential prompt
	stateMainMenu                      // Main menu with the status board
	stateTimetable                     // Weekly timetable
	stateApply                         // Attendance application form
	stateSummary                       // Attendance summary
	stateNotifications                 // Notification list
	stateMajorSelect                   // Major picker
)

const (
	boardRefreshInterval = 30 * time.Second
	notificationLimit    = 50
)

// Main menu entries.
const (
	menuTimetable     = "時間割"
	menuApply         = "出欠申請"
	menuSummary       = "出席状況"
	menuNotifications = "お知らせ"
	menuMajor         = "専攻選択"
	menuLogout        = "ログアウト"
)

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithClock overrides the clock deciding "today" for the timetable and the
// application form.
func WithClock(clock func() time.Time) AppOption {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// App is the main application model
type App struct {
	state   appState
	config  *config.Config
	client  *portal.Client
	logbook *logbook.Logbook
	clock   func() time.Time

	mainMenu  list.Model
	statusMsg string

	// Window size (we get this from bubbletea)
	width  int
	height int

	// Screens; nil until first opened
	login         *loginView
	timetable     *timetableView
	apply         *applyView
	notifications *notificationsView
	major         *majorView

	// Status board data
	user      *portal.User
	summary   *portal.AttendanceSummary
	unread    int
	expiresAt time.Time
	boardErr  string

	sessionEvents chan session.Change
	unsubscribe   func()
}

// menuItem implements list.Item interface for our menu items
type menuItem struct {
	title string
	desc  string
}

func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }
func (i menuItem) FilterValue() string { return i.title }

// statusRefreshMsg carries a fresh status board snapshot.
type statusRefreshMsg struct {
	user      *portal.User
	summary   *portal.AttendanceSummary
	unread    int
	expiresAt time.Time
	err       error
}

// sessionChangedMsg is delivered when the stored token changes, including
// logins and logouts from another campus process.
type sessionChangedMsg struct {
	change session.Change
}

// NewApp creates a new App instance
func NewApp(cfg *config.Config, client *portal.Client, lb *logbook.Logbook, opts ...AppOption) *App {
	mainMenu := list.New(buildMainMenu(), list.NewDefaultDelegate(), 0, 0)
	mainMenu.Title = "◆ CAMPUS"
	mainMenu.SetShowStatusBar(false)
	mainMenu.SetFilteringEnabled(false)

	app := &App{
		state:         stateMainMenu,
		config:        cfg,
		client:        client,
		logbook:       lb,
		clock:         time.Now,
		mainMenu:      mainMenu,
		sessionEvents: make(chan session.Change, 8),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	app.unsubscribe = client.Session().Subscribe(func(change session.Change) {
		select {
		case app.sessionEvents <- change:
		default:
		}
	})
	if !client.Session().LoggedIn() {
		app.state = stateLogin
		app.login = newLoginView(app, "")
	}
	lb.Info("Session opened · %s", cfg.BaseURL())
	return app
}

// buildMainMenu creates the main menu items
func buildMainMenu() []list.Item {
	return []list.Item{
		menuItem{title: menuTimetable, desc: "週ごとの授業と出席登録"},
		menuItem{title: menuApply, desc: "公欠・欠席・遅刻・早退の申請"},
		menuItem{title: menuSummary, desc: "出席率と科目別の内訳"},
		menuItem{title: menuNotifications, desc: "学校からのお知らせ"},
		menuItem{title: menuMajor, desc: "専攻の変更"},
		menuItem{title: menuLogout, desc: "保存されたセッションを削除"},
	}
}

// Close releases the session subscription.
func (a *App) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

func (a *App) logInfo(format string, args ...any) {
	a.logbook.Info(format, args...)
}

func (a *App) logWarn(format string, args ...any) {
	a.logbook.Warn(format, args...)
}

func (a *App) logError(format string, args ...any) {
	a.logbook.Error(format, args...)
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	if a.state == stateLogin {
		return tea.Batch(a.watchSession(), a.login.Init())
	}
	return tea.Batch(a.watchSession(), a.fetchStatusSnapshot())
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.mainMenu.SetSize(max(0, msg.Width-6), max(0, msg.Height-10))
		return a, nil

	case statusRefreshMsg:
		return a, a.handleStatusRefresh(msg)

	case sessionChangedMsg:
		return a, tea.Batch(a.handleSessionChange(msg.change), a.watchSession())

	case loginResultMsg:
		if a.login != nil {
			return a, a.login.Update(msg)
		}
		return a, nil

	case timetableLoadedMsg, attendDoneMsg:
		if a.timetable != nil {
			return a, a.timetable.Update(msg)
		}
		return a, nil

	case applyOpenedMsg, applyReloadedMsg, applySubmittedMsg:
		if a.apply != nil {
			return a, a.apply.Update(msg)
		}
		return a, nil

	case notificationsLoadedMsg, notificationReadMsg:
		if a.notifications != nil {
			return a, a.notifications.Update(msg)
		}
		return a, nil

	case majorsLoadedMsg, majorSavedMsg:
		if a.major != nil {
			return a, a.major.Update(msg)
		}
		return a, nil

	case tea.KeyMsg:
		key := msg.String()
		if key == "ctrl+c" {
			return a, tea.Quit
		}
		if !a.capturingText() {
			switch key {
			case "q":
				if a.state == stateMainMenu {
					return a, tea.Quit
				}
			case "esc":
				if a.state != stateMainMenu && a.state != stateLogin && !a.majorRequired() {
					return a.returnToMainMenu()
				}
			case "r":
				if a.state == stateMainMenu || a.state == stateSummary {
					a.statusMsg = "状態を更新しています..."
					return a, a.fetchStatusSnapshot()
				}
			case "enter":
				if a.state == stateMainMenu {
					return a.handleMainMenuSelection()
				}
			}
		}
	}

	var cmd tea.Cmd
	switch a.state {
	case stateLogin:
		cmd = a.login.Update(msg)
	case stateMainMenu:
		a.mainMenu, cmd = a.mainMenu.Update(msg)
	case stateTimetable:
		cmd = a.timetable.Update(msg)
	case stateApply:
		cmd = a.apply.Update(msg)
	case stateNotifications:
		cmd = a.notifications.Update(msg)
	case stateMajorSelect:
		cmd = a.major.Update(msg)
	}
	return a, cmd
}

// capturingText reports whether key presses belong to a text input.
func (a *App) capturingText() bool {
	switch a.state {
	case stateLogin:
		return true
	case stateApply:
		return a.apply != nil && a.apply.editing
	}
	return false
}

func (a *App) majorRequired() bool {
	return a.state == stateMajorSelect && a.major != nil && a.major.required
}

// handleMainMenuSelection processes menu item selection
func (a *App) handleMainMenuSelection() (tea.Model, tea.Cmd) {
	item, ok := a.mainMenu.SelectedItem().(menuItem)
	if !ok {
		return a, nil
	}
	a.logInfo("Menu · %s selected", item.title)
	a.statusMsg = ""
	switch item.title {
	case menuTimetable:
		a.state = stateTimetable
		a.timetable = newTimetableView(a)
		return a, a.timetable.Init()
	case menuApply:
		a.state = stateApply
		a.apply = newApplyView(a)
		return a, a.apply.Init()
	case menuSummary:
		a.state = stateSummary
		return a, a.fetchStatusSnapshot()
	case menuNotifications:
		a.state = stateNotifications
		a.notifications = newNotificationsView(a)
		return a, a.notifications.Init()
	case menuMajor:
		return a, a.openMajorSelect(false)
	case menuLogout:
		if err := a.client.Logout(); err != nil {
			a.logError("Logout failed: %v", err)
			a.statusMsg = portal.UserMessage(err)
			return a, nil
		}
		a.logInfo("Logged out")
		return a, a.requireLogin("ログアウトしました")
	}
	return a, nil
}

func (a *App) openMajorSelect(required bool) tea.Cmd {
	a.state = stateMajorSelect
	a.major = newMajorView(a, required)
	return a.major.Init()
}

// returnToMainMenu transitions back to the main menu
func (a *App) returnToMainMenu() (tea.Model, tea.Cmd) {
	a.state = stateMainMenu
	a.timetable = nil
	a.apply = nil
	a.notifications = nil
	a.major = nil
	return a, a.fetchStatusSnapshot()
}

// requireLogin drops every screen and shows the credential prompt with
// notice. Calling it again while logged out only updates the notice.
func (a *App) requireLogin(notice string) tea.Cmd {
	if a.state == stateLogin && a.login != nil {
		if notice != "" {
			a.login.notice = notice
		}
		return nil
	}
	a.state = stateLogin
	a.timetable = nil
	a.apply = nil
	a.notifications = nil
	a.major = nil
	a.user = nil
	a.summary = nil
	a.unread = 0
	a.expiresAt = time.Time{}
	a.boardErr = ""
	a.statusMsg = ""
	a.login = newLoginView(a, notice)
	return a.login.Init()
}

// handleError routes a failed request: unauthorized errors end the session,
// everything else becomes a transient status message.
func (a *App) handleError(op string, err error) tea.Cmd {
	if portal.IsUnauthorized(err) {
		a.logWarn("%s: %v", op, err)
		return a.requireLogin(portal.UserMessage(err))
	}
	a.logError("%s: %v", op, err)
	a.statusMsg = portal.UserMessage(err)
	return nil
}

func (a *App) handleStatusRefresh(msg statusRefreshMsg) tea.Cmd {
	if a.state == stateLogin {
		return nil
	}
	if msg.err != nil {
		if portal.IsUnauthorized(msg.err) {
			return a.handleError("Status refresh", msg.err)
		}
		a.boardErr = portal.UserMessage(msg.err)
		return a.scheduleStatusRefresh()
	}
	a.boardErr = ""
	a.user = msg.user
	a.summary = msg.summary
	a.unread = msg.unread
	a.expiresAt = msg.expiresAt
	if a.statusMsg == "状態を更新しています..." {
		a.statusMsg = ""
	}
	if a.user != nil && a.user.NeedsMajorSelection && a.state == stateMainMenu {
		return tea.Batch(a.openMajorSelect(true), a.scheduleStatusRefresh())
	}
	return a.scheduleStatusRefresh()
}

func (a *App) handleSessionChange(change session.Change) tea.Cmd {
	a.logInfo("Session %s %s", change.Kind, change.Reason)
	switch change.Kind {
	case session.ChangeLogout:
		return a.requireLogin("ログアウトしました")
	case session.ChangeInvalidated:
		if change.Reason == "expired" {
			return a.requireLogin(portal.MessageExpired)
		}
		return a.requireLogin(portal.MessageUnauthorized)
	case session.ChangeExternal:
		if !a.client.Session().LoggedIn() {
			return a.requireLogin(portal.MessageUnauthorized)
		}
		if a.state == stateLogin {
			a.state = stateMainMenu
			a.login = nil
			a.statusMsg = "別のウィンドウでログインしました"
		}
		return a.fetchStatusSnapshot()
	}
	return nil
}

// watchSession waits for the next session change.
func (a *App) watchSession() tea.Cmd {
	events := a.sessionEvents
	return func() tea.Msg {
		return sessionChangedMsg{change: <-events}
	}
}

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	rightWidth := max(32, width/3)
	leftWidth := width - rightWidth - 4
	if leftWidth < 40 {
		leftWidth = width - 4
	}
	if leftWidth < 20 {
		leftWidth = width
		rightWidth = 0
	}
	if a.state == stateMainMenu {
		a.mainMenu.SetSize(max(20, leftWidth-4), max(10, a.height-10))
	}
	var content string
	switch a.state {
	case stateLogin:
		content = a.login.View()
	case stateMainMenu:
		content = a.mainMenu.View()
	case stateTimetable:
		content = a.timetable.View()
	case stateApply:
		content = a.apply.View()
	case stateSummary:
		content = a.renderSummary(leftWidth - 4)
	case stateNotifications:
		content = a.notifications.View()
	case stateMajorSelect:
		content = a.major.View()
	}
	return a.renderStatusBoard(content, leftWidth, rightWidth)
}

func (a *App) renderLogPanel() string {
	lines, _ := a.logbook.Tail(8)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := titleStyle.Render(fmt.Sprintf("LOG · %s", fileName))
	body := bodyStyle.Render(strings.Join(lines, "\n"))
	return boxStyle.Render(fmt.Sprintf("%s\n%s", head, body))
}

func (a *App) renderStatusBoard(mainContent string, leftWidth, rightWidth int) string {
	header := headerStyle.Render("◆ CAMPUS")
	leftBox := boxStyle.Width(max(20, leftWidth)).Render(mainContent)
	var body string
	if rightWidth > 0 && a.state != stateLogin {
		rightBox := boxStyle.Width(max(20, rightWidth)).Render(a.renderAccountPanel(rightWidth - 4))
		body = lipgloss.JoinHorizontal(lipgloss.Top, leftBox, rightBox)
	} else {
		body = leftBox
	}
	sections := []string{header, body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := mutedStyle.MarginTop(1).Render(a.statusMsg)
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderAccountPanel(width int) string {
	lines := []string{titleStyle.Render("ACCOUNT")}
	if a.user == nil {
		lines = append(lines, mutedStyle.Render("読み込み中..."))
	} else {
		lines = append(lines, a.user.Name, mutedStyle.Render(a.user.Email))
		if name := a.majorName(); name != "" {
			lines = append(lines, "専攻: "+name)
		}
	}
	if !a.expiresAt.IsZero() {
		left := a.expiresAt.Sub(a.clock())
		lines = append(lines, mutedStyle.Render("セッション残り "+humanizeDuration(left)))
	}
	if a.summary != nil {
		rate := attendance.OverallRate(*a.summary)
		line := fmt.Sprintf("出席率 %.1f%%", rate)
		if attendance.AtRisk(rate, a.config.WarningRate()) {
			line = warningStyle.Render(line + " " + attendance.WarningLabel)
		}
		lines = append(lines, "", line)
	}
	if a.unread > 0 {
		lines = append(lines, fmt.Sprintf("未読のお知らせ %d件", a.unread))
	}
	if a.boardErr != "" {
		lines = append(lines, "", errorStyle.Render(a.boardErr))
	}
	return lipgloss.NewStyle().Width(max(10, width)).Render(strings.Join(lines, "\n"))
}

func (a *App) majorName() string {
	if a.user == nil || a.user.MajorID == nil {
		return ""
	}
	for _, m := range a.user.AvailableMajors {
		if m.ID == *a.user.MajorID {
			return m.Name
		}
	}
	return ""
}

func (a *App) fetchStatusSnapshot() tea.Cmd {
	return func() tea.Msg {
		return a.buildStatusSnapshot()
	}
}

func (a *App) scheduleStatusRefresh() tea.Cmd {
	return tea.Tick(boardRefreshInterval, func(time.Time) tea.Msg {
		return a.buildStatusSnapshot()
	})
}

// buildStatusSnapshot loads the profile and then the summary and
// notifications concurrently.
func (a *App) buildStatusSnapshot() statusRefreshMsg {
	ctx, cancel := a.requestContext()
	defer cancel()
	user, err := a.client.Me(ctx)
	if err != nil {
		return statusRefreshMsg{err: err}
	}
	var (
		summary       portal.AttendanceSummary
		notifications []portal.Notification
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := a.client.Summary(gctx, user.UserID)
		summary = s
		return err
	})
	g.Go(func() error {
		n, err := a.client.Notifications(gctx, notificationLimit)
		notifications = n
		return err
	})
	if err := g.Wait(); err != nil {
		return statusRefreshMsg{err: err}
	}
	msg := statusRefreshMsg{user: &user, summary: &summary}
	for _, n := range notifications {
		if !n.IsRead {
			msg.unread++
		}
	}
	if claims, err := a.client.Session().Claims(); err == nil {
		msg.expiresAt = claims.ExpiresAt
	}
	return msg
}

// requestContext bounds one round of portal calls. Each request is also
// limited by the client's own timeout.
func (a *App) requestContext() (context.Context, context.CancelFunc) {
	timeout := a.config.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), 3*timeout)
}

func (a *App) userID() int {
	if a.user == nil {
		return 0
	}
	return a.user.UserID
}

func humanizeDuration(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
