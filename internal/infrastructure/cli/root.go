package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	projectPath string
	logLevel    string
	logFormat   string
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "plangrid",
	Version: Version,
	Short:   "Collaborative project plans as a task tree and a grid",
	Long: `plangrid keeps a hierarchical project plan in sync between people
editing it as a task tree and people editing it as a spreadsheet-like grid.
Parent progress, cost and end dates roll up from their subtasks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() error {
	err := RootCmd.Execute()
	if err != nil {
		printError(RootCmd.ErrOrStderr(), err)
	}
	return err
}

func printError(w io.Writer, err error) {
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		_, _ = fmt.Fprintf(w, "Error: %s\n", cliErr.Error())
		if cliErr.Hint != "" {
			_, _ = fmt.Fprintf(w, "Hint: %s\n", cliErr.Hint)
		}
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
}

// setupLogging installs the default slog handler. Flags win over config.
func setupLogging(cmd *cobra.Command) error {
	level, format := logLevel, logFormat
	if level == "" || format == "" {
		if root, err := getProjectRoot(); err == nil {
			if cfg, err := loadConfig(root); err == nil {
				if level == "" {
					level = cfg.Log.Level
				}
				if format == "" {
					format = cfg.Log.Format
				}
			}
		}
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(orDefault(level, "info"))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(orDefault(format, "text")) {
	case "json":
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	case "text":
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	default:
		return fmt.Errorf("invalid log format %q: expected text or json", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func orDefault(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&projectPath, "dir", "C", "", "Workspace directory (default: current directory)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	RootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")
	RootCmd.SetVersionTemplate(fmt.Sprintf("plangrid %s (commit %s, built %s)\n", Version, Commit, Date))
	RootCmd.SetErr(os.Stderr)
}
