package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ideaverse/ideaverse-cli/internal/session"
	"github.com/ideaverse/ideaverse-cli/internal/tokenstore"
	"github.com/ideaverse/ideaverse-cli/internal/tokenwatch"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the session current and report sign-in changes",
		Long: `Restore the session, then re-check it every time the stored tokens change,
for example when another ideaverse process logs in or out. Prints one line
per change of the signed-in user. Stops on SIGINT or SIGTERM.`,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	logger := buildLogger(cmd.ErrOrStderr())

	if resolvedCfg.Auth.TokenStore == tokenstore.KindMemory {
		return errors.New("watch needs a persistent token store (file or sqlite)")
	}

	a, err := newApp(logger, session.NavigatorFunc(func(r session.Route) {
		logger.Debug("navigation", slog.String("route", string(r)))
	}))
	if err != nil {
		return err
	}
	defer closeApp(a, cmd.ErrOrStderr())

	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	rep := &stateReporter{w: cmd.OutOrStdout(), json: flagJSON, logger: logger}
	unsubscribe := a.session.Subscribe(rep.report)
	defer unsubscribe()

	a.session.RefreshAuthState(ctx)

	w := tokenwatch.New(resolvedCfg.Auth.TokenPath, func() {
		// Another process rewrote the tokens: drop the cache and re-check.
		a.store.Invalidate()
		a.session.RefreshAuthState(ctx)
	}, logger)

	if err := w.Run(ctx); err != nil {
		return err
	}

	logger.Info("watch stopped")

	return nil
}

// stateReporter prints a line whenever the signed-in user changes. Loading
// transitions and repeated identical states are not printed.
type stateReporter struct {
	w      io.Writer
	json   bool
	logger *slog.Logger

	mu      sync.Mutex
	printed bool
	lastID  string
}

// watchEvent is the JSON schema for one `watch --json` line.
type watchEvent struct {
	Authenticated bool          `json:"authenticated"`
	User          *whoamiOutput `json:"user,omitempty"`
}

func (r *stateReporter) report(st session.State) {
	if st.Loading {
		return
	}

	id := ""
	if st.User != nil {
		id = st.User.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.printed && id == r.lastID {
		return
	}

	r.printed = true
	r.lastID = id

	if r.json {
		ev := watchEvent{Authenticated: st.IsAuthenticated}
		if st.User != nil {
			ev.User = &whoamiOutput{
				ID:          st.User.ID,
				Email:       st.User.Email,
				Username:    st.User.Username,
				FullName:    st.User.FullName,
				DisplayName: st.User.DisplayName(),
			}
		}

		if err := writeJSONLine(r.w, ev); err != nil {
			r.logger.Warn("writing watch event", slog.String("error", err.Error()))
		}

		return
	}

	if st.User == nil {
		fmt.Fprintln(r.w, "signed out")
		return
	}

	fmt.Fprintf(r.w, "signed in as %s (%s)\n", st.User.DisplayName(), st.User.Email)
}

// writeJSONLine writes v as a single line of JSON.
func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
