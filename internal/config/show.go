package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all four override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.Path)

	ew.printf("[server]\n")
	ew.printf("  base_url        = %q\n", r.Server.BaseURL)
	ew.printf("\n")

	ew.printf("[auth]\n")
	ew.printf("  token_store     = %q\n", r.Auth.TokenStore)

	if r.Auth.TokenPath != "" {
		ew.printf("  token_path      = %q\n", r.Auth.TokenPath)
	}

	ew.printf("\n")

	ew.printf("[network]\n")
	ew.printf("  request_timeout = %q\n", r.Network.RequestTimeout)
	ew.printf("  user_agent      = %q\n", r.Network.UserAgent)
	ew.printf("\n")

	ew.printf("[logging]\n")
	ew.printf("  log_level       = %q\n", r.Logging.LogLevel)
	ew.printf("  log_format      = %q\n", r.Logging.LogFormat)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
