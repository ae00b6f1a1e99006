package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harrisonrobin/aide/pkg/auth"
	"github.com/harrisonrobin/aide/pkg/config"
	"github.com/harrisonrobin/aide/pkg/google"
	"github.com/harrisonrobin/aide/pkg/logging"
	"github.com/harrisonrobin/aide/pkg/orgmode"
	"github.com/harrisonrobin/aide/pkg/server"
	"github.com/harrisonrobin/aide/pkg/taskstore"
	"github.com/harrisonrobin/aide/pkg/taskwarrior"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile  string
	logLevel string
	calendar string
)

var rootCmd = &cobra.Command{
	Use:   "aide",
	Short: "Personal assistant for tasks, calendar and email",
	Long: `aide classifies what you ask with a language model and acts on your
task list, your Google Calendar or your mailbox. Anything else is answered
as a free-form question.

Configuration is read from $HOME/.config/aide/config.yaml and AIDE_*
environment variables (for example AIDE_LLM_API_KEY).`,
	SilenceUsage: true,
	RunE:         runChat,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive console session (default)",
	RunE:  runChat,
}

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Answer a single query and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	RunE:  runServe,
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authenticate with Google Calendar, replacing any cached token",
	RunE:  runAuth,
}

var setCalendarCmd = &cobra.Command{
	Use:   "set-calendar <name>",
	Short: "Set the default Google Calendar name",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetCalendar,
}

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Drop and recreate the task database",
	RunE:  runInitDB,
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import tasks from other tools",
}

var importTaskwarriorCmd = &cobra.Command{
	Use:   "taskwarrior [filter...]",
	Short: "Import Taskwarrior tasks (runs `task <filter> export`)",
	RunE:  runImportTaskwarrior,
}

var importOrgCmd = &cobra.Command{
	Use:   "org <file.org>...",
	Short: "Import TODO headlines from Org-mode files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImportOrg,
}

var fromStdin bool

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/aide/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().StringVar(&calendar, "calendar", "", "Google Calendar name (overrides config)")

	importTaskwarriorCmd.Flags().BoolVar(&fromStdin, "stdin", false, "read exported JSON from stdin instead of running task")

	rootCmd.AddCommand(chatCmd, askCmd, serveCmd, authCmd, setCalendarCmd, initDBCmd, importCmd)
	importCmd.AddCommand(importTaskwarriorCmd, importOrgCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger every command uses.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if calendar != "" {
		cfg.Calendar.Name = calendar
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := buildApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return runREPL(cmd.Context(), a.manager, os.Stdin, os.Stdout)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := buildApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// An ambiguous reference is resolved with a number read from stdin.
	return askOnce(cmd.Context(), a.manager, strings.Join(args, " "), os.Stdin, os.Stdout)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := buildApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := server.NewSessions(cfg.Server.SessionTTL)
	if err != nil {
		return fmt.Errorf("failed to create session cache: %w", err)
	}
	defer sessions.Close()

	return server.New(a.manager, sessions, logger).ListenAndServe(cmd.Context(), cfg.Server.Addr)
}

func runAuth(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	dir, err := config.GetXdgHome()
	if err != nil {
		return fmt.Errorf("could not find path to configuration directory: %w", err)
	}
	authenticator := auth.New(dir, logger)
	if err := authenticator.Reset(); err != nil {
		return err
	}
	client, err := google.NewClient(cmd.Context(), authenticator, cfg.Calendar.Name, cfg.Calendar.TimeZone, logger)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if _, err := client.ListUpcoming(cmd.Context(), 1); err != nil {
		return fmt.Errorf("authenticated but could not read calendar %q: %w", cfg.Calendar.Name, err)
	}
	fmt.Printf("Authentication successful! Token saved to %s\n", authenticator.TokenPath())
	return nil
}

func runSetCalendar(_ *cobra.Command, args []string) error {
	if err := config.SetCalendarName(cfgFile, args[0]); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}
	fmt.Printf("Default calendar set to: %s\n", args[0])
	return nil
}

func runInitDB(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := taskstore.Open(cmd.Context(), cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Reset(cmd.Context()); err != nil {
		return err
	}
	fmt.Printf("Task database initialised at %s\n", cfg.Database.Path)
	return nil
}

func runImportTaskwarrior(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var tasks []taskwarrior.Task
	if fromStdin {
		tasks, err = taskwarrior.Decode(os.Stdin)
	} else {
		tasks, err = taskwarrior.NewClient().Export(cmd.Context(), args)
	}
	if err != nil {
		return err
	}

	store, err := taskstore.Open(cmd.Context(), cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sum, err := taskwarrior.Import(cmd.Context(), store, tasks, logger)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d tasks (%d skipped)\n", sum.Imported, sum.Skipped)
	return nil
}

func runImportOrg(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := taskstore.Open(cmd.Context(), cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := orgmode.ImportFiles(cmd.Context(), store, args, logger)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d tasks\n", n)
	return nil
}
