package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/benaskins/devdeck/internal/api"
	"github.com/benaskins/devdeck/internal/events"
	"github.com/benaskins/devdeck/internal/manager"
	"github.com/benaskins/devdeck/internal/relay"
	"github.com/benaskins/devdeck/internal/workspace"
)

func dialSocket(ctx context.Context, _, _ string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", defaultSocketPath())
}

func apiClient() *http.Client {
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{DialContext: dialSocket},
	}
}

func apiDo(method, path string, body, v any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, "http://devdeck"+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := apiClient().Do(req)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is devdeck daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
		return fmt.Errorf("API error %d: %s", resp.StatusCode, data)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func apiGet(path string, v any) error { return apiDo(http.MethodGet, path, nil, v) }

func apiPost(path string, body, v any) error { return apiDo(http.MethodPost, path, body, v) }

// streamEvents prints events from the daemon until ctx is done or stop
// returns true.
func streamEvents(ctx context.Context, query url.Values, stop func(events.Event) bool) error {
	conn, err := dialEvents(ctx, query)
	if err != nil {
		return err
	}
	return readEvents(ctx, conn, stop)
}

func dialEvents(ctx context.Context, query url.Values) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		NetDialContext:   dialSocket,
		HandshakeTimeout: 10 * time.Second,
	}
	u := url.URL{Scheme: "ws", Host: "devdeck", Path: "/v1/events", RawQuery: query.Encode()}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w (is devdeck daemon running?)", err)
	}
	return conn, nil
}

func readEvents(ctx context.Context, conn *websocket.Conn, stop func(events.Event) bool) error {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	color := useColor()
	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("reading events: %w", err)
		}
		fmt.Println(formatEvent(ev, color))
		if stop != nil && stop(ev) {
			return nil
		}
	}
}

func parsePID(s string) (int, error) {
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	return pid, nil
}

var startCmd = &cobra.Command{
	Use:   "start <dir>",
	Short: "Start a project's dev server in the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		var resp api.StartResponse
		if err := apiPost("/v1/projects/start", api.StartRequest{Dir: dir}, &resp); err != nil {
			return err
		}
		fmt.Println(resp.PID)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <pid>...",
	Short: "Stop dev servers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, arg := range args {
			pid, err := parsePID(arg)
			if err != nil {
				return err
			}
			var result map[string]string
			if err := apiPost(fmt.Sprintf("/v1/projects/%d/stop", pid), nil, &result); err != nil {
				fmt.Fprintf(os.Stderr, "%d: %v\n", pid, err)
				continue
			}
			fmt.Printf("%d: %s\n", pid, result["status"])
		}
		return nil
	},
}

var psCmd = &cobra.Command{
	Use:     "ps",
	Aliases: []string{"status"},
	Short:   "List dev servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		var procs []manager.ProcessState
		if err := apiGet("/v1/projects", &procs); err != nil {
			return err
		}
		if len(procs) == 0 {
			fmt.Println("No projects running")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PID\tSTATE\tPORT\tUPTIME\tDIR")
		for _, p := range procs {
			state := "starting"
			uptime := time.Since(p.StartedAt).Truncate(time.Second).String()
			switch {
			case p.ExitCode != nil:
				state = fmt.Sprintf("exited(%d)", *p.ExitCode)
				uptime = "-"
			case !p.Running:
				state = "stopping"
			case p.Ready || p.Port == 0:
				state = "running"
			}
			port := "-"
			if p.Port > 0 {
				port = strconv.Itoa(p.Port)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", p.PID, state, port, uptime, p.Dir)
		}
		return w.Flush()
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <pid>",
	Short: "Show recent output of a dev server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("lines")
		follow, _ := cmd.Flags().GetBool("follow")

		var lines []relay.Line
		if err := apiGet(fmt.Sprintf("/v1/projects/%d/logs?n=%d", pid, n), &lines); err != nil {
			return err
		}
		color := useColor()
		for _, l := range lines {
			if l.Kind == relay.Stderr {
				fmt.Fprintln(os.Stderr, formatLine(l, color))
				continue
			}
			fmt.Println(l.Text)
		}
		if !follow {
			return nil
		}

		ctx, cancel := signalContext()
		defer cancel()
		q := url.Values{"pid": {strconv.Itoa(pid)}}
		return streamEvents(ctx, q, func(ev events.Event) bool { return ev.Kind == events.ProjectExit })
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream daemon events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		return streamEvents(ctx, nil, nil)
	},
}

var detectCmd = &cobra.Command{
	Use:   "detect <dir>",
	Short: "Show a project's framework, package manager and dependencies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		var info struct {
			Framework string `json:"framework"`
			Runtime   string `json:"runtime"`
			Packages  []struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"packages"`
		}
		if err := apiGet("/v1/detect?dir="+url.QueryEscape(dir), &info); err != nil {
			return err
		}
		fmt.Printf("Framework: %s\nRuntime:   %s\n", info.Framework, info.Runtime)
		if len(info.Packages) == 0 {
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\nPACKAGE\tVERSION")
		for _, p := range info.Packages {
			fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Version)
		}
		return w.Flush()
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List projects in the projects folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []workspace.Entry
		if err := apiGet("/v1/workspace", &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No projects")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tFRAMEWORK\tPATH")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, e.Framework, e.Path)
		}
		return w.Flush()
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <dir>",
	Short: "Delete a project folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if err := apiDo(http.MethodDelete, "/v1/workspace", api.PathRequest{Path: dir}, nil); err != nil {
			return err
		}
		fmt.Println("deleted", dir)
		return nil
	},
}

func init() {
	logsCmd.Flags().IntP("lines", "n", 50, "number of lines to show")
	logsCmd.Flags().BoolP("follow", "f", false, "stream new output until the process exits")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(rmCmd)
}
