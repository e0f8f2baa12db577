package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ideaverse/ideaverse-cli/internal/api"
	"github.com/ideaverse/ideaverse-cli/internal/config"
	"github.com/ideaverse/ideaverse-cli/internal/refresh"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagBaseURL    string
	flagTokenStore string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Resolved

// skipConfigCommands lists commands that must run without a valid config,
// so that a broken config file can still be replaced.
var skipConfigCommands = map[string]bool{
	"ideaverse config init": true,
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ideaverse",
		Short:   "IdeaVerse command-line client",
		Long:    "Log in to IdeaVerse, inspect the session, and call the API with automatic token refresh.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "API root, e.g. http://localhost:8000/api")
	cmd.PersistentFlags().StringVar(&flagTokenStore, "token-store", "", "token storage: file, sqlite or memory")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newAPICmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer override
// chain and stores the result in resolvedCfg for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	// Only pass flags the user explicitly set, so env and file values survive.
	if cmd.Flags().Changed("base-url") {
		cli.BaseURL = &flagBaseURL
	}

	if cmd.Flags().Changed("token-store") {
		cli.TokenStore = &flagTokenStore
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. Logs go to w (stderr in
// production).
func buildLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	// Config-based settings (lower priority than CLI flags).
	if resolvedCfg != nil {
		switch resolvedCfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = resolvedCfg.Logging.LogFormat
	}

	// CLI flags override config (highest priority).
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// isTerminal reports whether w is a terminal. Anything that is not an
// *os.File (buffers in tests, pipes wrapped by callers) is not.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newHTTPClient returns an HTTP client with the configured request timeout.
// Prevents hung connections from blocking CLI commands indefinitely.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: resolvedCfg.Network.Timeout()}
}

// exitOnError prints a user-friendly error message to stderr and exits.
// Errors that end the session get a hint about logging in again.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if needsLogin(err) {
		fmt.Fprintln(os.Stderr, "Run 'ideaverse login' to sign in.")
	}

	os.Exit(1)
}

// needsLogin reports whether err means the stored session is gone.
func needsLogin(err error) bool {
	return errors.Is(err, api.ErrSessionExpired) ||
		errors.Is(err, refresh.ErrRefreshFailed) ||
		errors.Is(err, refresh.ErrNoRefreshToken) ||
		errors.Is(err, errNotLoggedIn)
}
