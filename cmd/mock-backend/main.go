// Local stand-in for the IdeaVerse auth API, for trying the CLI without a
// real server.
//
// Usage: go run ./cmd/mock-backend --addr :8000 --email ada@example.com --password s3cret
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ideaverse/ideaverse-cli/testutil"
)

func main() {
	addr := flag.String("addr", "localhost:8000", "listen address")
	prefix := flag.String("prefix", "/api", "path prefix the API is served under")
	email := flag.String("email", "demo@example.com", "email of the seeded account")
	password := flag.String("password", "demo", "password of the seeded account")
	username := flag.String("username", "demo", "username of the seeded account")
	fullName := flag.String("full-name", "Demo User", "full name of the seeded account")
	accessTTL := flag.Duration("access-ttl", testutil.DefaultAccessTTL, "lifetime of issued access tokens")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(logger, *addr, *prefix, *accessTTL, *email, *password, *username, *fullName); err != nil {
		fmt.Fprintf(os.Stderr, "mock-backend: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, addr, prefix string, ttl time.Duration, email, password, username, fullName string) error {
	backend := testutil.NewMockBackend()
	backend.SetAccessTTL(ttl)
	user := backend.AddUser(email, password, username, fullName)

	var handler http.Handler = backend.Handler()

	prefix = strings.TrimSuffix(prefix, "/")
	if prefix != "" {
		handler = http.StripPrefix(prefix, handler)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           logRequests(logger, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)

	go func() {
		errc <- srv.ListenAndServe()
	}()

	logger.Info("mock backend listening",
		slog.String("base_url", "http://"+addr+prefix),
		slog.String("email", user.Email),
		slog.String("user_id", user.ID),
		slog.Duration("access_ttl", ttl),
	)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	logger.Info("mock backend stopped")

	return nil
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, req)

		logger.Info("request",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", rec.status),
			slog.String("request_id", req.Header.Get("X-Request-ID")),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}
