package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/stellarlinkco/remindme/internal/config"
	"github.com/stellarlinkco/remindme/internal/cron"
	"github.com/stellarlinkco/remindme/internal/gateway"
	"github.com/stellarlinkco/remindme/internal/logging"
	"github.com/stellarlinkco/remindme/internal/reminder"
	"github.com/stellarlinkco/remindme/internal/store"
	"github.com/stellarlinkco/remindme/internal/todo"
)

var rootCmd = &cobra.Command{
	Use:   "remindme",
	Short: "remindme - conversational task list with deadline reminders",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; only a malformed file is an error.
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the bot (channels + reminder scheduler)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directories",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show remindme status",
	RunE:  runStatus,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Print the reminders a sweep would send (dry run)",
	RunE:  runSweep,
}

var sweepDateFlag string

func init() {
	sweepCmd.Flags().StringVarP(&sweepDateFlag, "date", "d", "", "day to evaluate as yyyy-mm-dd (default today)")

	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token not set. Run 'remindme onboard' or set REMINDME_TELEGRAM_TOKEN")
	}

	logger := logging.New(cmd.ErrOrStderr(), cfg.Log)
	gw, err := gateway.NewWithOptions(cfg, gateway.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(cmd.Context())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, dir := range []string{filepath.Dir(cfg.Storage.DBPath), filepath.Dir(config.CronStorePath())} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}

	fmt.Fprintf(out, "Data dir ready: %s\n", filepath.Dir(cfg.Storage.DBPath))
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your Telegram bot token\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set REMINDME_TELEGRAM_TOKEN environment variable")
	fmt.Fprintln(out, "  3. Run 'remindme gateway' to start the bot")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Telegram: enabled=%v token=%s\n", cfg.Telegram.Enabled, maskToken(cfg.Telegram.Token))
	fmt.Fprintf(out, "WebUI: enabled=%v addr=%s:%d\n", cfg.WebUI.Enabled, cfg.WebUI.Host, cfg.WebUI.Port)
	fmt.Fprintf(out, "Storage: %s %s\n", cfg.Storage.Driver, cfg.Storage.DBPath)

	if cfg.Storage.Driver != "memory" {
		if _, err := os.Stat(cfg.Storage.DBPath); err != nil {
			fmt.Fprintln(out, "Database: not found (run 'remindme onboard' or start the gateway)")
		} else if err := printCounts(cmd.Context(), out, cfg.Storage); err != nil {
			fmt.Fprintf(out, "Database: error (%v)\n", err)
		}
	}

	loc, _ := cfg.Reminders.Location()
	fmt.Fprintf(out, "Reminders: enabled=%v schedule=%q timezone=%s channel=%s\n",
		cfg.Reminders.Enabled, cfg.Reminders.Schedule, loc, cfg.Reminders.Channel)

	svc := cron.NewService(config.CronStorePath(), loc, logging.Discard())
	if err := svc.Load(); err != nil {
		fmt.Fprintf(out, "Reminder job: error (%v)\n", err)
		return nil
	}
	job, ok := svc.FindJob(gateway.ReminderJobName)
	switch {
	case !ok:
		fmt.Fprintln(out, "Reminder job: not registered yet")
	case job.LastRun().IsZero():
		fmt.Fprintf(out, "Reminder job: enabled=%v never run\n", job.Enabled)
	default:
		fmt.Fprintf(out, "Reminder job: enabled=%v last run %s (%s) %s\n",
			job.Enabled, job.LastRun().In(loc).Format(time.DateTime), job.State.LastStatus, job.State.LastResult)
	}
	return nil
}

func printCounts(ctx context.Context, out io.Writer, cfg config.StorageConfig) error {
	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	users, tasks, err := st.Counts(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Database: %d users, %d tasks\n", users, tasks)
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	loc, err := cfg.Reminders.Location()
	if err != nil {
		return err
	}

	today := time.Now().In(loc)
	if sweepDateFlag != "" {
		d, err := todo.ParseDate(sweepDateFlag)
		if err != nil {
			return fmt.Errorf("parse --date: %w", err)
		}
		today = d
	}

	st, err := store.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	notes, err := reminder.NewSweeper(st, logging.Discard()).Sweep(cmd.Context(), today)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sweep for %s: %d due\n", todo.FormatDate(todo.Date(today)), len(notes))
	for _, n := range notes {
		fmt.Fprintf(out, "  [%s] chat=%d task=%d %s\n", n.Kind, n.ChatID, n.TaskID, n.Text)
	}
	return nil
}

func maskToken(token string) string {
	switch {
	case token == "":
		return "not set"
	case len(token) > 8:
		return token[:4] + "..." + token[len(token)-4:]
	default:
		return "set"
	}
}
