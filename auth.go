package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ideaverse/ideaverse-cli/internal/api"
)

var (
	flagEmail    string
	flagPassword string
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Exchange email and password for a token pair and store it.

Without --password the password is read from stdin (prompted for on a terminal).`,
		RunE: runLogin,
	}

	cmd.Flags().StringVar(&flagEmail, "email", "", "account email")
	cmd.Flags().StringVar(&flagPassword, "password", "", "account password (read from stdin if omitted)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and remove stored tokens",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user",
		Long: `Restore the session from stored tokens and print the user.

An expired access token is refreshed once on the way.`,
		RunE: runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger(cmd.ErrOrStderr())

	password := flagPassword
	if password == "" {
		var err error

		password, err = readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
	}

	a, err := newApp(logger, nil)
	if err != nil {
		return err
	}
	defer closeApp(a, cmd.ErrOrStderr())

	if err := a.session.Login(cmd.Context(), flagEmail, password); err != nil {
		var ve *api.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("login failed: %s", ve.Message)
		}

		return err
	}

	user := a.session.User()
	if user == nil {
		return errors.New("login failed: no session was established")
	}

	statusf(cmd.ErrOrStderr(), "Logged in as %s.\n", user.DisplayName())

	return nil
}

// readPassword reads one line from in. The prompt is shown only when in is
// a terminal, so piped input stays silent.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && isTerminal(f) {
		fmt.Fprint(prompt, "Password: ")
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}

	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("reading password: no password given")
	}

	return password, nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	logger := buildLogger(cmd.ErrOrStderr())

	a, err := newApp(logger, nil)
	if err != nil {
		return err
	}
	defer closeApp(a, cmd.ErrOrStderr())

	a.session.Logout(cmd.Context())

	statusf(cmd.ErrOrStderr(), "Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	FullName    string `json:"full_name,omitempty"`
	DisplayName string `json:"display_name"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	logger := buildLogger(cmd.ErrOrStderr())

	a, err := newApp(logger, nil)
	if err != nil {
		return err
	}
	defer closeApp(a, cmd.ErrOrStderr())

	if !a.session.RefreshAuthState(cmd.Context()) {
		return errNotLoggedIn
	}

	user := a.session.User()
	out := cmd.OutOrStdout()

	if flagJSON {
		return printJSON(out, whoamiOutput{
			ID:          user.ID,
			Email:       user.Email,
			Username:    user.Username,
			FullName:    user.FullName,
			DisplayName: user.DisplayName(),
		})
	}

	printWhoamiText(out, user)

	return nil
}

func printWhoamiText(w io.Writer, user *api.User) {
	fmt.Fprintf(w, "User:     %s (%s)\n", user.DisplayName(), user.Email)
	fmt.Fprintf(w, "Username: %s\n", user.Username)
	fmt.Fprintf(w, "ID:       %s\n", user.ID)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
