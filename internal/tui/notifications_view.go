package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/campus/internal/portal"
)

type notificationsView struct {
	app     *App
	items   []portal.Notification
	cursor  int
	loading bool
	err     string
}

type notificationsLoadedMsg struct {
	items []portal.Notification
	err   error
}

type notificationReadMsg struct {
	id  int
	err error
}

func newNotificationsView(app *App) *notificationsView {
	return &notificationsView{app: app, loading: true}
}

func (v *notificationsView) Init() tea.Cmd {
	client := v.app.client
	ctx, cancel := v.app.requestContext()
	return func() tea.Msg {
		defer cancel()
		items, err := client.Notifications(ctx, notificationLimit)
		return notificationsLoadedMsg{items: items, err: err}
	}
}

func (v *notificationsView) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case notificationsLoadedMsg:
		v.loading = false
		if msg.err != nil {
			v.err = portal.UserMessage(msg.err)
			return v.app.handleError("Load notifications", msg.err)
		}
		v.items = msg.items
		v.syncUnread()
		return nil
	case notificationReadMsg:
		if msg.err != nil {
			return v.app.handleError("Mark notification read", msg.err)
		}
		for i := range v.items {
			if v.items[i].ID == msg.id {
				v.items[i].IsRead = true
			}
		}
		v.syncUnread()
		return nil
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if v.cursor > 0 {
				v.cursor--
			}
		case "down", "j":
			if v.cursor < len(v.items)-1 {
				v.cursor++
			}
		case "enter", " ":
			return v.markRead()
		}
	}
	return nil
}

func (v *notificationsView) markRead() tea.Cmd {
	if v.cursor >= len(v.items) || v.items[v.cursor].IsRead {
		return nil
	}
	id := v.items[v.cursor].ID
	client := v.app.client
	ctx, cancel := v.app.requestContext()
	return func() tea.Msg {
		defer cancel()
		return notificationReadMsg{id: id, err: client.MarkNotificationRead(ctx, id)}
	}
}

func (v *notificationsView) syncUnread() {
	unread := 0
	for _, n := range v.items {
		if !n.IsRead {
			unread++
		}
	}
	v.app.unread = unread
}

func (v *notificationsView) View() string {
	lines := []string{titleStyle.Render("お知らせ"), ""}
	switch {
	case v.loading:
		lines = append(lines, mutedStyle.Render("読み込み中..."))
	case v.err != "":
		lines = append(lines, errorStyle.Render(v.err))
	case len(v.items) == 0:
		lines = append(lines, mutedStyle.Render("お知らせはありません"))
	}
	for i, n := range v.items {
		mark := activeStyle.Render("●")
		text := n.Message
		if n.IsRead {
			mark = mutedStyle.Render("○")
			text = mutedStyle.Render(text)
		}
		line := cursorMark(i == v.cursor) + mark + " " + text
		if n.CreatedAt != nil {
			line += mutedStyle.Render(" · " + *n.CreatedAt)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", mutedStyle.Render("↑/↓: 選択 · enter: 既読にする · esc: 戻る"))
	return strings.Join(lines, "\n")
}
