package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/openbadge/attendd/internal/agent"
	"github.com/openbadge/attendd/internal/config"
)

var runForeground bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the station agent until interrupted",
	Long: `Start the agent loop: accept scans, watch the roster file, probe
connectivity, and auto-sync pending scans. On SIGINT/SIGTERM the agent
drains pending scans, writes the day report, and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bootLog := stderrLogger()
		cfg, err := loadConfig(bootLog)
		if err != nil {
			return err
		}

		log, closeLog := daemonLogger(cfg)
		defer closeLog()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := agent.New(ctx, cfg, log)
		if err != nil {
			return err
		}

		// Mirror agent signals onto stdout so a wrapping process manager or
		// operator terminal sees transitions without tailing the log.
		go func() {
			for sig := range a.Signals() {
				switch sig.Kind {
				case agent.SignalConnection:
					fmt.Printf("[connectivity] ok=%t %s\n", sig.Connection.OK, sig.Connection.Message)
				case agent.SignalSyncStage:
					fmt.Printf("[shutdown] stage=%s ok=%t %s\n", sig.Stage.Stage, sig.Stage.OK, sig.Stage.Message)
				case agent.SignalDuplicate:
					fmt.Printf("[duplicate] badge=%s blocked=%t\n", sig.Duplicate.BadgeID, sig.Duplicate.Blocked)
				}
			}
		}()

		return a.Run(ctx)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runForeground, "foreground", false, "log to stderr instead of the rotating log file")
}

// daemonLogger builds the agent logger: a size-capped rotating file, or
// stderr with --foreground.
func daemonLogger(cfg *config.Config) (*slog.Logger, func()) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if runForeground {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), func() {}
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	log := slog.New(slog.NewTextHandler(rotator, &slog.HandlerOptions{Level: level}))
	return log, func() { _ = rotator.Close() }
}
