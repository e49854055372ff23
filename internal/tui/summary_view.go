package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/campus/internal/attendance"
	"github.com/kingrea/campus/internal/portal"
)

const historyRows = 10

func (a *App) renderSummary(width int) string {
	lines := []string{titleStyle.Render("出席状況"), ""}
	if a.summary == nil {
		lines = append(lines, mutedStyle.Render("読み込み中..."))
		return strings.Join(lines, "\n")
	}
	s := *a.summary
	threshold := a.config.WarningRate()
	rate := attendance.OverallRate(s)
	overall := fmt.Sprintf("出席率 %.1f%% (授業 %d コマ)", rate, s.Total)
	if attendance.AtRisk(rate, threshold) {
		overall = warningStyle.Render(overall + " " + attendance.WarningLabel)
	}
	lines = append(lines, overall)

	counts := make([]string, 0, len(portal.AllStatuses))
	for _, status := range portal.AllStatuses {
		counts = append(counts, fmt.Sprintf("%s %d", renderStatus(string(status)), s.Count(status)))
	}
	lines = append(lines, strings.Join(counts, "  "), "")

	if len(s.SubjectSummary) > 0 {
		lines = append(lines, activeStyle.Render("科目別"))
		nameWidth := 0
		for _, subject := range s.SubjectSummary {
			nameWidth = max(nameWidth, lipgloss.Width(subject.SubjectName))
		}
		for _, subject := range s.SubjectSummary {
			subjectRate := attendance.SubjectRate(subject)
			pad := strings.Repeat(" ", nameWidth-lipgloss.Width(subject.SubjectName))
			row := fmt.Sprintf("  %s%s  %5.1f%%  出%d 欠%d 遅%d 早%d 公%d / %d",
				subject.SubjectName, pad, subjectRate,
				subject.Present, subject.Absent, subject.Late, subject.Early, subject.PublicAbsent, subject.Total)
			if attendance.AtRisk(subjectRate, threshold) {
				row = warningStyle.Render(row + " " + attendance.WarningLabel)
			}
			lines = append(lines, row)
		}
		lines = append(lines, "")
	}

	lines = append(lines, activeStyle.Render("最近の記録"))
	if len(s.RecentHistory) == 0 {
		lines = append(lines, mutedStyle.Render("  記録はありません"))
	}
	for i, h := range s.RecentHistory {
		if i == historyRows {
			break
		}
		row := fmt.Sprintf("  %s %d限 %s %s", h.Date, h.Period, h.SubjectName, renderStatus(string(h.Status)))
		if h.Reason != nil && *h.Reason != "" {
			row += mutedStyle.Render(" · " + *h.Reason)
		}
		lines = append(lines, row)
	}
	lines = append(lines, "", mutedStyle.Render("r: 更新 · esc: 戻る"))
	return lipgloss.NewStyle().Width(max(20, width)).Render(strings.Join(lines, "\n"))
}
