package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/denismitr/pado/internal/ctxlog"
	"github.com/denismitr/pado/settings"
	"github.com/denismitr/pado/transporter"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Env is what commands need from the outside world.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
	// Settings loads the pado settings, settings.Load when nil.
	Settings func() (*settings.Settings, error)
	// Runner executes ssh and rsync, transporter.ExecRunner when nil.
	Runner transporter.Runner
	// ConfigFs holds the transporter config file, the OS filesystem when nil.
	ConfigFs afero.Fs
	// ConfigFile overrides the transporter config file location.
	ConfigFile string
}

func (e *Env) settings() (*settings.Settings, error) {
	if e.Settings != nil {
		return e.Settings()
	}
	return settings.Load()
}

func (e *Env) runner() transporter.Runner {
	if e.Runner != nil {
		return e.Runner
	}
	return transporter.ExecRunner{}
}

func (e *Env) configFs() afero.Fs {
	if e.ConfigFs != nil {
		return e.ConfigFs
	}
	return afero.NewOsFs()
}

func (e *Env) configFile() (string, error) {
	if e.ConfigFile != "" {
		return e.ConfigFile, nil
	}
	return transporter.DefaultConfigFile()
}

func (e *Env) printf(format string, args ...interface{}) {
	fmt.Fprintf(e.Stdout, format, args...)
}

func (e *Env) println(args ...interface{}) {
	fmt.Fprintln(e.Stdout, args...)
}

// Execute runs cmd with args. Usage problems map to exit code 2, other
// failures to the code of an ExitError or 1.
func Execute(ctx context.Context, cmd *cobra.Command, args []string) error {
	// cobra falls back to os.Args for nil args
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return nil
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	if isUsageError(err) {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	return &ExitError{Code: 1, Message: "ERROR: " + err.Error()}
}

// isUsageError recognizes the flag and argument errors cobra returns as plain errors.
func isUsageError(err error) bool {
	msg := err.Error()
	for _, p := range []string{"unknown command", "unknown flag", "unknown shorthand flag", "flag needs an argument", "invalid argument", "accepts ", "requires at least", "required flag"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
}

// newLogger creates a text or json logger writing to w.
func newLogger(level slog.Level, format string, w io.Writer) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
}

// withLogger stores logger in the context of cmd, subcommands inherit it.
func withLogger(cmd *cobra.Command, logger *slog.Logger) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(ctxlog.WithLogger(ctx, logger))
}
