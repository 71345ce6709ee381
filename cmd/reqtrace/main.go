package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/funnyzak/reqtrace/internal/config"
	"github.com/funnyzak/reqtrace/internal/daemon"
	"github.com/funnyzak/reqtrace/internal/logger"
	"github.com/funnyzak/reqtrace/internal/printer"
	"github.com/funnyzak/reqtrace/internal/protocol"
	"github.com/funnyzak/reqtrace/internal/storage"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// app carries the state shared by every command of one invocation.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	log    logger.Logger
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "reqtrace",
		Short: "Local control-plane daemon and CLI for captured HTTP traffic",
		Long: `reqtrace stores intercepted request/response records in an embedded SQLite
database and serves them to local clients over a Unix domain socket.

Start the daemon with "reqtrace daemon", then inspect traffic with
"reqtrace list", "reqtrace show <id>", "reqtrace search" and "reqtrace query".
`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.loadConfig,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Configuration file path")
	flags.String("dir", "", "Daemon state directory (default .reqtrace)")
	flags.String("socket", "", "Control socket path (default <dir>/control.sock)")
	flags.String("db", "", "SQLite store path (default <dir>/requests.db)")
	flags.Duration("timeout", 0, "Client call timeout")
	flags.StringP("output", "o", "", "Output mode (table, json, yaml)")
	flags.Bool("no-color", false, "Disable colored output")
	flags.StringP("log-level", "l", "", "Log level (trace, debug, info, warn, error, fatal, panic)")
	flags.String("log-format", "", "Log format (console, json)")
	flags.Bool("log-file-enable", false, "Enable file logging")
	flags.String("log-file-path", "", "Log file path")
	flags.Int("log-file-max-size", 0, "Maximum size of a single log file (MB)")
	flags.Int("log-file-max-backups", 0, "Maximum number of old log files to retain")
	flags.Int("log-file-max-age", 0, "Maximum retention days for old log files")
	flags.Bool("log-file-compress", false, "Whether to compress old log files")

	bindFlags(a.v, flags, map[string]string{
		"daemon.dir":                    "dir",
		"daemon.socket_path":            "socket",
		"storage.path":                  "db",
		"client.timeout":                "timeout",
		"output.mode":                   "output",
		"log.level":                     "log-level",
		"log.format":                    "log-format",
		"log.file_logging.enable":       "log-file-enable",
		"log.file_logging.path":         "log-file-path",
		"log.file_logging.max_size_mb":  "log-file-max-size",
		"log.file_logging.max_backups":  "log-file-max-backups",
		"log.file_logging.max_age_days": "log-file-max-age",
		"log.file_logging.compress":     "log-file-compress",
	})

	rootCmd.AddCommand(
		a.daemonCmd(),
		a.pingCmd(),
		a.statusCmd(),
		a.sessionsCmd(),
		a.listCmd(),
		a.showCmd(),
		a.countCmd(),
		a.clearCmd(),
		a.searchCmd(),
		a.queryCmd(),
		a.callCmd(),
		a.exportCmd(),
		a.versionCmd(),
	)
	return rootCmd
}

// bindFlags binds flags to viper keys so that flags override config file
// and environment values.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if flag := flags.Lookup(name); flag != nil {
			_ = v.BindPFlag(key, flag)
		}
	}
}

func (a *app) loadConfig(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadConfig(configPath, a.v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		cfg.Output.Color = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a.cfg = cfg
	a.log = logger.NewLogger(&cfg.Log)
	return nil
}

func (a *app) client() *protocol.Client {
	return protocol.NewClient(a.cfg.Daemon.SocketPath, a.cfg.Client.Timeout)
}

func (a *app) printer() printer.Printer {
	return printer.New(a.cfg.Output.Mode, a.stdout, &a.cfg.Output, a.log)
}

// clientError turns transport failures into the hint users need.
func (a *app) clientError(err error) error {
	switch {
	case err == nil:
		return nil
	case protocol.IsDaemonNotRunning(err):
		return errors.New("daemon is not running (start it with `reqtrace daemon`)")
	case protocol.IsTransport(err):
		return fmt.Errorf("daemon is not running (start it with `reqtrace daemon`): %w", err)
	case errors.Is(err, protocol.ErrTimeout):
		return fmt.Errorf("daemon did not answer in time: %w", err)
	default:
		return err
	}
}

func (a *app) daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the capture store daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE:  a.runDaemon,
	}
	cmd.Flags().Duration("prune-interval", 0, "Background retention sweep interval (0 disables)")
	cmd.Flags().Int("max-records", 0, "Keep at most this many requests (0 = unlimited)")
	cmd.Flags().Duration("retention", 0, "Drop requests older than this (0 = keep forever)")
	cmd.Flags().Int("max-frame-bytes", 0, "Largest accepted protocol frame in bytes")
	bindFlags(a.v, cmd.Flags(), map[string]string{
		"daemon.prune_interval":    "prune-interval",
		"storage.max_records":      "max-records",
		"storage.retention":        "retention",
		"protocol.max_frame_bytes": "max-frame-bytes",
	})
	return cmd
}

func (a *app) runDaemon(cmd *cobra.Command, _ []string) error {
	printStartupBanner(a.stdout, a.cfg)
	a.log.Info("reqtrace daemon starting",
		"version", version,
		"dir", a.cfg.Daemon.Dir,
		"socket", a.cfg.Daemon.SocketPath,
		"store", a.cfg.Storage.Path,
		"log_level", a.cfg.Log.Level,
	)

	d, err := daemon.New(a.cfg, a.log, version)
	if err != nil {
		var migErr *storage.MigrationError
		switch {
		case errors.As(err, &migErr):
			a.log.Error("Store migration failed", "version", migErr.Version, "step", migErr.Name, "error", migErr.Err)
		case errors.Is(err, storage.ErrSchemaTooNew):
			a.log.Error("Store was written by a newer reqtrace; upgrade before starting", "error", err)
		case errors.Is(err, storage.ErrStoreLocked):
			a.log.Error("Another daemon already owns this store", "store", a.cfg.Storage.Path)
		}
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	return d.Run(cmd.Context())
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "reqtrace version %s\n", version)
			fmt.Fprintf(a.stdout, "Commit: %s\n", commit)
			fmt.Fprintf(a.stdout, "Built: %s\n", buildDate)
			fmt.Fprintf(a.stdout, "Schema version: %d\n", storage.SchemaVersion())
		},
	}
}

func printStartupBanner(w io.Writer, cfg *config.Config) {
	titleLine := fmt.Sprintf("reqtrace v%s", version)
	subtitleLine := "Capture Store Daemon"

	var lines []string
	lines = append(lines, fmt.Sprintf("Socket:        %s", cfg.Daemon.SocketPath))
	lines = append(lines, fmt.Sprintf("Store:         %s", cfg.Storage.Path))
	lines = append(lines, fmt.Sprintf("Schema:        v%d", storage.SchemaVersion()))
	lines = append(lines, fmt.Sprintf("Log Level:     %s", cfg.Log.Level))

	lines = append(lines, "")
	retention := "Keep forever"
	if cfg.Storage.Retention > 0 {
		retention = cfg.Storage.Retention.String()
	}
	lines = append(lines, fmt.Sprintf("Retention:     %s", retention))
	maxRecords := "Unlimited"
	if cfg.Storage.MaxRecords > 0 {
		maxRecords = fmt.Sprintf("%d", cfg.Storage.MaxRecords)
	}
	lines = append(lines, fmt.Sprintf("Max Records:   %s", maxRecords))
	if cfg.Daemon.PruneInterval > 0 {
		lines = append(lines, fmt.Sprintf("   └─ Sweep every %s", cfg.Daemon.PruneInterval))
	}

	lines = append(lines, "")
	if cfg.Log.FileLogging.Enable {
		compress := "Disabled"
		if cfg.Log.FileLogging.Compress {
			compress = "Enabled"
		}
		lines = append(lines, "File Logging:  Enabled")
		lines = append(lines, fmt.Sprintf("   └─ %s (%dMB, %d backups, %d days, compress: %s)",
			cfg.Log.FileLogging.Path,
			cfg.Log.FileLogging.MaxSizeMB,
			cfg.Log.FileLogging.MaxBackups,
			cfg.Log.FileLogging.MaxAgeDays,
			compress))
	} else {
		lines = append(lines, "File Logging:  Disabled")
	}

	lines = append(lines, "", "(Press Ctrl+C to stop)")

	maxLength := runewidth.StringWidth(titleLine)
	for _, line := range lines {
		if w := runewidth.StringWidth(line); w > maxLength {
			maxLength = w
		}
	}
	boxWidth := maxLength + 4
	if boxWidth < 50 {
		boxWidth = 50
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
	printBoxContent(w, titleLine, boxWidth, true)
	printBoxContent(w, subtitleLine, boxWidth, true)
	fmt.Fprintf(w, "├%s┤\n", strings.Repeat("─", boxWidth-2))
	for _, line := range lines {
		printBoxContent(w, line, boxWidth, false)
	}
	fmt.Fprintf(w, "└%s┘\n", strings.Repeat("─", boxWidth-2))
	fmt.Fprintln(w)
}

// printBoxContent prints one padded line between the box borders
func printBoxContent(w io.Writer, content string, boxWidth int, center bool) {
	padding := boxWidth - 2 - runewidth.StringWidth(content)
	if padding < 0 {
		padding = 0
	}

	var leftPad, rightPad string
	if center {
		leftPad = strings.Repeat(" ", padding/2)
		rightPad = strings.Repeat(" ", padding-padding/2)
	} else {
		leftPad = "  "
		rightPad = strings.Repeat(" ", max(padding-2, 0))
	}

	fmt.Fprintf(w, "│%s%s%s│\n", leftPad, content, rightPad)
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
