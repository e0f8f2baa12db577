package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var flagData string

func newAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api METHOD PATH",
		Short: "Make an authenticated API request",
		Long: `Send a request to the IdeaVerse API with the stored access token and
print the response body.

An expired access token is refreshed once and the request resent. PATH is
relative to the configured base URL, e.g. /ideas. Use --data - to read the
JSON body from stdin.`,
		Example: `  ideaverse api GET /ideas
  ideaverse api POST /ideas --data '{"title":"Graph RAG for lab notes"}'`,
		Args: cobra.ExactArgs(2),
		RunE: runAPI,
	}

	cmd.Flags().StringVarP(&flagData, "data", "d", "", "JSON request body, or - for stdin")

	return cmd
}

func runAPI(cmd *cobra.Command, args []string) error {
	method := strings.ToUpper(args[0])
	path := args[1]

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	body, err := requestBody(cmd.InOrStdin())
	if err != nil {
		return err
	}

	logger := buildLogger(cmd.ErrOrStderr())

	a, err := newApp(logger, nil)
	if err != nil {
		return err
	}
	defer closeApp(a, cmd.ErrOrStderr())

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	resp, err := a.client.Do(cmd.Context(), method, path, rdr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	logger.Debug("api response", slog.Int("status", resp.StatusCode))

	return writeResponse(cmd.OutOrStdout(), resp)
}

// requestBody returns the --data payload, nil when absent. The payload must
// be valid JSON so that typos fail before anything is sent.
func requestBody(stdin io.Reader) ([]byte, error) {
	if flagData == "" {
		return nil, nil
	}

	data := []byte(flagData)

	if flagData == "-" {
		var err error

		data, err = io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("--data is not valid JSON")
	}

	return data, nil
}

// writeResponse copies the body to w, indenting it when it is JSON. A 204
// prints nothing.
func writeResponse(w io.Writer, resp *http.Response) error {
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var buf bytes.Buffer
	if json.Indent(&buf, data, "", "  ") == nil {
		buf.WriteByte('\n')
		_, err = buf.WriteTo(w)
	} else {
		_, err = w.Write(data)
	}

	if err != nil {
		return fmt.Errorf("writing response: %w", err)
	}

	return nil
}
