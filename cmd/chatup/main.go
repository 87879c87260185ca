// cmd/chatup/main.go
//
// This is the entry point for the chatup CLI.
// Running `chatup` with no arguments opens the chat TUI for the signed-in
// user. Subcommands cover login, logout, one-shot sends, history listing
// and a local development server.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/chatup/internal/config"
	"github.com/kingrea/chatup/internal/logging"
	"github.com/kingrea/chatup/internal/manager"
	"github.com/kingrea/chatup/internal/tui"
)

var (
	// Global flags
	verbose bool
	apiURL  string

	// Set up in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

var (
	resumeFlag bool
	freshFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "chatup",
	Short: "Terminal chat client",
	Long: `chatup is a terminal client for the chat service.

Run without arguments to open the chat interface. Launching again within the
resume window continues the last conversation; otherwise a new chat starts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		home, err := config.ResolveHome()
		if err != nil {
			return err
		}
		if err := config.InitHomeDir(home); err != nil {
			return fmt.Errorf("initialize %s: %w", home, err)
		}
		cfg, err = config.NewConfig(home)
		if err != nil {
			return err
		}
		if apiURL != "" {
			if err := cfg.SetBaseURL(apiURL); err != nil {
				return err
			}
		}
		logger, err = logging.New(cfg.LogsDir(), verbose)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runInteractiveChat,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Write debug entries to the log file")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Chat service base URL (overrides config.yaml)")
	rootCmd.Flags().BoolVar(&resumeFlag, "resume", false, "Continue the previous session regardless of the resume window")
	rootCmd.Flags().BoolVar(&freshFlag, "fresh", false, "Start a new chat regardless of the resume window")
	rootCmd.MarkFlagsMutuallyExclusive("resume", "fresh")

	rootCmd.AddCommand(loginCmd, logoutCmd, historyCmd, sendCmd, serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openManager opens local state and requires a signed-in user.
func openManager(requireLogin bool) (*manager.Manager, error) {
	mgr, err := manager.Open(cfg, manager.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if requireLogin && !mgr.LoggedIn() {
		mgr.Close()
		return nil, errors.New("not logged in; run `chatup login` first")
	}
	return mgr, nil
}

// startSession decides between resuming and starting fresh, then binds the
// session for this launch.
func startSession(ctx context.Context, mgr *manager.Manager) error {
	continuation := resumeFlag
	if !resumeFlag && !freshFlag {
		detected, err := mgr.DetectContinuation(ctx)
		if err != nil {
			logger.Warn("detect continuation", zap.Error(err))
		}
		continuation = detected
	}
	logger.Info("session start", zap.Bool("continuation", continuation))
	return mgr.Start(ctx, continuation)
}

func runInteractiveChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, err := openManager(true)
	if err != nil {
		return err
	}
	defer mgr.Close()
	if err := startSession(ctx, mgr); err != nil {
		return err
	}
	app, err := tui.NewApp(mgr, tui.WithContext(ctx))
	if err != nil {
		return err
	}
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run TUI: %w", err)
	}
	if app.LoggedOut() {
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out. Local history was cleared.")
		return nil
	}
	if err := mgr.Touch(context.Background()); err != nil {
		logger.Warn("touch session", zap.Error(err))
	}
	return nil
}
