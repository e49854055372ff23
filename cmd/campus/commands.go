package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/kingrea/campus/internal/attendance"
	"github.com/kingrea/campus/internal/portal"
	"github.com/kingrea/campus/internal/sandbox"
	"github.com/kingrea/campus/internal/timetable"
)

type envFunc func() *env

var tableBorder = lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorder).
		Headers(headers...)
}

func parseDate(value string) (time.Time, error) {
	day, err := time.ParseInLocation(portal.DateLayout, strings.TrimSpace(value), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", value)
	}
	return day, nil
}

func newLoginCommand(current envFunc) *cobra.Command {
	var idToken, accessToken string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a portal session",
		Long: "Exchange a Google ID token for a portal access token, or store an access token directly.\n" +
			"Against the sandbox the ID token is dev:<email>.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			out := cmd.OutOrStdout()
			switch {
			case accessToken != "":
				if err := e.store.Save(accessToken); err != nil {
					return err
				}
				claims, err := e.store.Claims()
				if err != nil {
					return err
				}
				e.log.Info("Stored access token for %s", claims.Email)
				fmt.Fprintf(out, "Stored session for %s (expires %s)\n", claims.Email, claims.ExpiresAt.Local().Format(time.DateTime))
				return nil
			case idToken != "":
				result, err := e.client.LoginWithGoogle(cmd.Context(), idToken)
				if err != nil {
					return userError(err)
				}
				e.log.Info("Signed in as %s", result.User.Email)
				fmt.Fprintf(out, "Signed in as %s <%s>\n", result.User.Name, result.User.Email)
				return nil
			}
			return errors.New("one of --id-token or --access-token is required")
		},
	}
	cmd.Flags().StringVar(&idToken, "id-token", "", "Google ID token (dev:<email> on the sandbox)")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "portal access token")
	cmd.MarkFlagsMutuallyExclusive("id-token", "access-token")
	return cmd
}

func newLogoutCommand(current envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			if err := e.client.Logout(); err != nil {
				return err
			}
			e.log.Info("Logged out")
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCommand(current envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in student",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			user, err := e.client.Me(cmd.Context())
			if err != nil {
				return userError(err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s <%s> (user %d)\n", user.Name, user.Email, user.UserID)
			if user.MajorID != nil {
				fmt.Fprintf(out, "major: %d\n", *user.MajorID)
			}
			if user.NeedsMajorSelection {
				fmt.Fprintln(out, "major not selected: run `campus major set ID`")
			}
			if claims, err := e.store.Claims(); err == nil && !claims.ExpiresAt.IsZero() {
				fmt.Fprintf(out, "session expires %s\n", claims.ExpiresAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}

func newTimetableCommand(current envFunc) *cobra.Command {
	var week string
	var majorID int
	cmd := &cobra.Command{
		Use:   "timetable",
		Short: "Print the classes of a week",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			day := time.Now()
			if week != "" {
				parsed, err := parseDate(week)
				if err != nil {
					return err
				}
				day = parsed
			}
			w := timetable.WeekOf(day)
			entries, err := e.client.Timetable(cmd.Context(), w.Query(majorID))
			if err != nil {
				return userError(err)
			}
			writeTimetable(cmd.OutOrStdout(), w, entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&week, "week", "", "any date in the week to show (YYYY-MM-DD, default this week)")
	cmd.Flags().IntVar(&majorID, "major", 0, "major ID (default: your own)")
	return cmd
}

func writeTimetable(w io.Writer, week timetable.Week, entries []portal.TimetableEntry) {
	byDay := timetable.ByDay(entries)
	t := newTable("ID", "日付", "時限", "時間", "科目", "教員", "出欠")
	for _, day := range week.Days() {
		for _, e := range byDay[day.Format(portal.DateLayout)] {
			status := ""
			if e.AttendanceStatus != nil {
				status = string(*e.AttendanceStatus)
			}
			t.Row(strconv.Itoa(e.ID), timetable.Label(day), strconv.Itoa(e.Period),
				e.StartTime+"-"+e.EndTime, e.SubjectName, e.TeacherName, status)
		}
	}
	fmt.Fprintf(w, "%s 〜 %s\n", timetable.Label(week.Start), timetable.Label(week.DisplayEnd()))
	fmt.Fprintln(w, t.Render())
}

func newSummaryCommand(current envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print the attendance summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			user, err := e.client.Me(cmd.Context())
			if err != nil {
				return userError(err)
			}
			summary, err := e.client.Summary(cmd.Context(), user.UserID)
			if err != nil {
				return userError(err)
			}
			writeSummary(cmd.OutOrStdout(), summary, e.cfg.WarningRate())
			return nil
		},
	}
}

func writeSummary(w io.Writer, s portal.AttendanceSummary, threshold float64) {
	rate := attendance.OverallRate(s)
	line := fmt.Sprintf("出席率 %.1f%% (授業 %d コマ)", rate, s.Total)
	if attendance.AtRisk(rate, threshold) {
		line += " " + attendance.WarningLabel
	}
	fmt.Fprintln(w, line)
	counts := make([]string, 0, len(portal.AllStatuses))
	for _, status := range portal.AllStatuses {
		counts = append(counts, fmt.Sprintf("%s %d", status, s.Count(status)))
	}
	fmt.Fprintln(w, strings.Join(counts, "  "))

	if len(s.SubjectSummary) > 0 {
		t := newTable("科目", "出席率", "出席", "欠席", "遅刻", "早退", "公欠", "合計", "")
		for _, sub := range s.SubjectSummary {
			subRate := attendance.SubjectRate(sub)
			flag := ""
			if attendance.AtRisk(subRate, threshold) {
				flag = attendance.WarningLabel
			}
			t.Row(sub.SubjectName, fmt.Sprintf("%.1f%%", subRate),
				strconv.Itoa(sub.Present), strconv.Itoa(sub.Absent), strconv.Itoa(sub.Late),
				strconv.Itoa(sub.Early), strconv.Itoa(sub.PublicAbsent), strconv.Itoa(sub.Total), flag)
		}
		fmt.Fprintln(w, t.Render())
	}
	if len(s.RecentHistory) > 0 {
		t := newTable("日付", "時限", "科目", "状態", "理由")
		for _, h := range s.RecentHistory {
			reason := ""
			if h.Reason != nil {
				reason = *h.Reason
			}
			t.Row(h.Date, strconv.Itoa(h.Period), h.SubjectName, string(h.Status), reason)
		}
		fmt.Fprintln(w, t.Render())
	}
}

type applyOptions struct {
	kind     string
	date     string
	end      string
	mode     string
	sessions []int
	periods  []int
	category string
	reason   string
	policy   string
}

func newApplyCommand(current envFunc) *cobra.Command {
	var opts applyOptions
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Submit an attendance application (公欠/欠席/遅刻/早退)",
		Example: "  campus apply --type 遅刻 --date 2024-06-01 --period 1 --reason 電車遅延\n" +
			"  campus apply --type 公欠 --date 2024-06-03 --end 2024-06-05 --category 面接",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), current(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.kind, "type", "", "公欠, 欠席, 遅刻 or 早退 (default from config)")
	f.StringVar(&opts.date, "date", "", "start date YYYY-MM-DD (default today)")
	f.StringVar(&opts.end, "end", "", "end date for 公欠")
	f.StringVar(&opts.mode, "mode", "date", "公欠 selection: date (every class) or period")
	f.IntSliceVar(&opts.sessions, "session", nil, "timetable ID to include (repeatable)")
	f.IntSliceVar(&opts.periods, "period", nil, "period on the start date to include (repeatable)")
	f.StringVar(&opts.category, "category", "", "公欠 reason category")
	f.StringVar(&opts.reason, "reason", "", "free-text reason")
	f.StringVar(&opts.policy, "policy", attendance.PolicyBestEffort.String(), "best-effort or stop-on-error")
	return cmd
}

func runApply(ctx context.Context, e *env, out io.Writer, opts applyOptions) error {
	kindValue := opts.kind
	if kindValue == "" {
		kindValue = e.cfg.DefaultApplicationType()
	}
	kind, err := attendance.ParseApplicationType(kindValue)
	if err != nil {
		return err
	}
	policy, err := attendance.ParsePolicy(opts.policy)
	if err != nil {
		return err
	}
	start := time.Now()
	if opts.date != "" {
		if start, err = parseDate(opts.date); err != nil {
			return err
		}
	}

	form := attendance.NewForm(start,
		attendance.WithType(kind),
		attendance.WithCategories(e.cfg.ExcusedReasons()),
	)
	if opts.end != "" {
		end, err := parseDate(opts.end)
		if err != nil {
			return err
		}
		if err := form.SetEndDate(end); err != nil {
			return fmt.Errorf("--end: %w", err)
		}
	}
	if kind == attendance.TypeExcused {
		mode, err := attendance.ParseSelectionMode(opts.mode)
		if err != nil {
			return err
		}
		if err := form.SetMode(mode); err != nil {
			return err
		}
		if opts.category != "" {
			if err := form.SetReasonCategory(opts.category); err != nil {
				return err
			}
		}
	}
	if form.SelectionLocked() && (len(opts.sessions) > 0 || len(opts.periods) > 0) {
		return errors.New("--session/--period require --mode period")
	}
	form.SetReason(opts.reason)

	ctrl := attendance.NewController(e.client, form,
		attendance.WithControllerLogger(e.log),
		attendance.WithSubmitterOptions(attendance.WithPolicy(policy)),
	)
	if err := ctrl.Open(ctx); err != nil {
		return userError(err)
	}
	if _, err := ctrl.Edit(func(f *attendance.Form) error {
		if f.SelectionLocked() {
			return nil
		}
		for _, id := range opts.sessions {
			if !f.IsSelected(id) || f.SingleSelect() {
				if err := f.Toggle(id); err != nil {
					return err
				}
			}
		}
		return f.SelectPeriods(opts.periods...)
	}); err != nil {
		return err
	}

	report, err := ctrl.Submit(ctx)
	writeReport(out, ctrl.Snapshot(), report)
	if err != nil {
		if _, ok := attendance.AsValidationError(err); ok {
			return errors.New(report.Message)
		}
		return fmt.Errorf("%s: %w", report.Message, err)
	}
	return nil
}

func writeReport(w io.Writer, snap attendance.Snapshot, report attendance.Report) {
	if len(report.Result.Outcomes) > 0 {
		names := make(map[int]portal.TimetableEntry, len(snap.Sessions))
		for _, s := range snap.Sessions {
			names[s.ID] = s
		}
		t := newTable("ID", "授業", "結果")
		for _, o := range report.Result.Outcomes {
			label := strconv.Itoa(o.TimetableID)
			if s, ok := names[o.TimetableID]; ok {
				label = fmt.Sprintf("%s %d限 %s", s.Date, s.Period, s.SubjectName)
			}
			result := string(o.State)
			if o.Err != nil {
				result += ": " + portal.UserMessage(o.Err)
			}
			t.Row(strconv.Itoa(o.TimetableID), label, result)
		}
		fmt.Fprintln(w, t.Render())
	}
	if report.Message != "" {
		fmt.Fprintln(w, report.Message)
	}
	if report.SummaryRefreshed && snap.Summary != nil {
		fmt.Fprintf(w, "出席率 %.1f%%\n", attendance.OverallRate(*snap.Summary))
	}
}

func newAttendCommand(current envFunc) *cobra.Command {
	var sessionID int
	cmd := &cobra.Command{
		Use:   "attend",
		Short: "Register attendance for a class after the gate entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			if sessionID <= 0 {
				return errors.New("--session is required")
			}
			user, err := e.client.Me(cmd.Context())
			if err != nil {
				return userError(err)
			}
			result, err := e.client.Attend(cmd.Context(), user.UserID, sessionID)
			if err != nil {
				return userError(err)
			}
			e.log.Info("Attend · session %d → %s", sessionID, result.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", result.Message, result.Status)
			return nil
		},
	}
	cmd.Flags().IntVar(&sessionID, "session", 0, "timetable ID")
	return cmd
}

func newNotificationsCommand(current envFunc) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := current().client.Notifications(cmd.Context(), limit)
			if err != nil {
				return userError(err)
			}
			t := newTable("ID", "", "お知らせ", "日時")
			for _, n := range items {
				mark := "●"
				if n.IsRead {
					mark = "○"
				}
				created := ""
				if n.CreatedAt != nil {
					created = *n.CreatedAt
				}
				t.Row(strconv.Itoa(n.ID), mark, n.Message, created)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of notifications")
	cmd.AddCommand(&cobra.Command{
		Use:   "read ID",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid notification ID %q", args[0])
			}
			if err := current().client.MarkNotificationRead(cmd.Context(), id); err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %d read\n", id)
			return nil
		},
	})
	return cmd
}

func newMajorCommand(current envFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "major",
		Short: "List or change your major",
		RunE: func(cmd *cobra.Command, args []string) error {
			majors, err := current().client.Majors(cmd.Context())
			if err != nil {
				return userError(err)
			}
			t := newTable("ID", "専攻")
			for _, m := range majors {
				t.Row(strconv.Itoa(m.ID), m.Name)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set ID",
		Short: "Select your major",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid major ID %q", args[0])
			}
			e := current()
			if err := e.client.SetMajor(cmd.Context(), id); err != nil {
				return userError(err)
			}
			e.log.Info("Major set to %d", id)
			fmt.Fprintf(cmd.OutOrStdout(), "Major set to %d\n", id)
			return nil
		},
	})
	return cmd
}

func newSandboxCommand(current envFunc) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run a local in-memory portal for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			settings, err := sandbox.SettingsFromConfig(e.cfg)
			if err != nil {
				return err
			}
			if port > 0 {
				settings.Port = port
			}
			srv := sandbox.NewServer(settings, sandbox.WithLogger(e.log))
			if err := srv.Start(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sandbox listening on %s\n", srv.BaseURL())
			fmt.Fprintf(out, "login with: campus login --id-token dev:%s\n", sandbox.DemoEmail)
			fmt.Fprintf(out, "demo card IDm: %s\n", sandbox.DemoCard)
			<-cmd.Context().Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}

// userError turns a portal error into the message shown in the UI, keeping
// the cause for errors.Is.
func userError(err error) error {
	return fmt.Errorf("%s: %w", portal.UserMessage(err), err)
}
