// cmd/campus/main.go
//
// This is the entry point for the campus CLI.
// Running `campus` with no arguments launches the terminal UI; the
// subcommands expose the same portal operations for scripts.
//
// Flow:
// 1. Resolve the home directory (--home, CAMPUS_HOME or ~/.campus)
// 2. Load config.yaml, .env and the environment overrides
// 3. Open the logbook and the persisted session, then build the portal client

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/campus/internal/config"
	"github.com/kingrea/campus/internal/logbook"
	"github.com/kingrea/campus/internal/portal"
	"github.com/kingrea/campus/internal/session"
	"github.com/kingrea/campus/internal/tui"
)

const appVersion = "0.3.0"

// env holds everything a command needs once the home directory is known.
type env struct {
	cfg    *config.Config
	log    *logbook.Logbook
	store  *session.Store
	client *portal.Client
}

func newEnv(home string) (*env, error) {
	homeDir, err := config.ResolveHome(home)
	if err != nil {
		return nil, err
	}
	if err := config.InitHomeDir(homeDir); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", homeDir, err)
	}
	cfg, err := config.Load(homeDir)
	if err != nil {
		return nil, err
	}
	lb, err := logbook.New(cfg.LogPath())
	if err != nil {
		return nil, err
	}
	store, err := session.Open(cfg.SessionPath())
	if err != nil {
		return nil, err
	}
	client, err := portal.NewClient(cfg.BaseURL(), store,
		portal.WithTimeout(cfg.Timeout()),
		portal.WithLogger(lb),
	)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: lb, store: store, client: client}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		home string
		e    *env
	)
	root := &cobra.Command{
		Use:           "campus",
		Short:         "Terminal client for the student portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			e, err = newEnv(home)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app := tui.NewApp(e.cfg, e.client, e.log)
			defer app.Close()
			// tea.NewProgram creates a new bubbletea application
			p := tea.NewProgram(app, tea.WithAltScreen())
			// Run blocks until the user quits
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run TUI: %w", err)
			}
			return nil
		},
	}
	root.Version = appVersion
	root.SetVersionTemplate("campus v{{.Version}}\n")
	root.PersistentFlags().StringVar(&home, "home", "", "campus home directory (default ~/.campus or $CAMPUS_HOME)")

	current := func() *env { return e }
	root.AddCommand(
		newLoginCommand(current),
		newLogoutCommand(current),
		newWhoamiCommand(current),
		newTimetableCommand(current),
		newSummaryCommand(current),
		newApplyCommand(current),
		newAttendCommand(current),
		newNotificationsCommand(current),
		newMajorCommand(current),
		newSandboxCommand(current),
	)
	return root
}
