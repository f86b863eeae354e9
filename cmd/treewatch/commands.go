package main

import (
	"bufio"
	"fmt"
	"net/http"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch PATH",
	Short: "Start watching a directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, http.MethodPost, "/api/v1/watch", map[string]any{"path": absPath(args[0])})
	},
}

var watchDelCmd = &cobra.Command{
	Use:   "watch-del PATH",
	Short: "Stop watching a directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, http.MethodPost, "/api/v1/watch-del", map[string]any{"path": absPath(args[0])})
	},
}

var watchListCmd = &cobra.Command{
	Use:   "watch-list",
	Short: "List watched roots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runCommand(cmd, http.MethodGet, "/api/v1/watch-list", nil)
	},
}

var clockCmd = &cobra.Command{
	Use:   "clock ROOT",
	Short: "Print the current clock of a root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"root": absPath(args[0])}
		addSyncTimeout(cmd, body)
		return runCommand(cmd, http.MethodPost, "/api/v1/clock", body)
	},
}

var sinceCmd = &cobra.Command{
	Use:   "since ROOT CURSOR",
	Short: "List what changed after a clock or named cursor",
	Long: `List what changed under ROOT after CURSOR.

CURSOR is a clock (c:<epoch>:<seq>) or a named cursor (n:<name>). A named
cursor that was never used, or a clock the daemon can no longer answer
incrementally, yields a full listing with is_fresh_instance set.

With --wait, an empty answer is held until something changes or the wait
elapses.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"root": absPath(args[0]), "cursor": args[1]}
		addSyncTimeout(cmd, body)
		if wait, _ := cmd.Flags().GetDuration("wait"); wait > 0 {
			body["wait_timeout"] = wait.String()
		}
		return runCommand(cmd, http.MethodPost, "/api/v1/since", body)
	},
}

var findCmd = &cobra.Command{
	Use:   "find ROOT [PATTERN...]",
	Short: "List existing files matching glob patterns",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"root": absPath(args[0]), "patterns": args[1:]}
		addSyncTimeout(cmd, body)
		return runCommand(cmd, http.MethodPost, "/api/v1/find", body)
	},
}

var logCmd = &cobra.Command{
	Use:   "log LEVEL MESSAGE...",
	Short: "Write a message to the daemon log",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"level": args[0], "message": strings.Join(args[1:], " ")}
		return runCommand(cmd, http.MethodPost, "/api/v1/log", body)
	},
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe ROOT",
	Short: "Stream changes under a root until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := url.Values{"root": {absPath(args[0])}}
		if since, _ := cmd.Flags().GetString("since"); since != "" {
			query.Set("since", since)
		}
		return streamEvents(cmd, "/api/v1/subscribe?"+query.Encode())
	},
}

func init() {
	for _, cmd := range []*cobra.Command{clockCmd, sinceCmd, findCmd} {
		cmd.Flags().String("sync-timeout", "", "sync-to-now timeout, 0 to skip (default: daemon setting)")
	}
	sinceCmd.Flags().Duration("wait", 0, "hold an empty answer until something changes, up to this long")
	subscribeCmd.Flags().String("since", "", "start from this cursor instead of now")

	rootCmd.AddCommand(watchCmd, watchDelCmd, watchListCmd, clockCmd, sinceCmd, findCmd, logCmd, subscribeCmd)
}

func runCommand(cmd *cobra.Command, method, path string, body any) error {
	out, err := newClient(addrFlag).call(cmd.Context(), method, path, body)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), outputFlag, out)
}

func addSyncTimeout(cmd *cobra.Command, body map[string]any) {
	if v, _ := cmd.Flags().GetString("sync-timeout"); v != "" {
		body["sync_timeout"] = v
	}
}

// absPath resolves relative paths against the client's working directory,
// which the daemon does not share.
func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// streamEvents prints each event of a subscription stream as it arrives.
func streamEvents(cmd *cobra.Command, path string) error {
	c := newClient(addrFlag)
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return errorFrom(resp.StatusCode, data)
	}

	var eventType string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if eventType == "heartbeat" {
				continue
			}
			ev, err := decodeJSON([]byte(strings.TrimPrefix(line, "data: ")))
			if err != nil {
				return err
			}
			if err := render(cmd.OutOrStdout(), outputFlag, ev); err != nil {
				return err
			}
			if eventType == "cancelled" {
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil && cmd.Context().Err() == nil {
		return fmt.Errorf("stream: %w", err)
	}
	return nil
}
