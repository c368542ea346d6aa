//go:build !windows

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/benaskins/devdeck/internal/events"
	"github.com/benaskins/devdeck/internal/manager"
	"github.com/benaskins/devdeck/internal/pkgmgr"
	"github.com/benaskins/devdeck/internal/relay"
)

type testEnv struct {
	srv      *Server
	client   *http.Client
	sockPath string
	bus      *events.Bus
	mgr      *manager.Manager
	projects string
}

// setupTestServer starts a server whose projects are launched with the
// command returned by launch.
func setupTestServer(t *testing.T, launch func(dir string) (string, error)) *testEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := events.NewBus()
	m := manager.New(ctx, nil, manager.WithEvents(bus), manager.WithLaunchCommand(launch))
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		m.Shutdown(sctx)
	})

	projects := t.TempDir()
	srv := NewServer(ctx, m,
		WithEvents(bus),
		WithTasks(pkgmgr.NewRunner(bus, nil)),
		WithProjectsDir(projects),
		WithEditor("true"),
		WithAllowedOrigins("tauri://localhost"),
	)

	// Unix socket paths are length-limited; keep it short
	sockDir, err := os.MkdirTemp("", "dd")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(sockDir) })
	sockPath := filepath.Join(sockDir, "api.sock")

	go srv.ListenUnix(sockPath)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	for i := 0; i < 50; i++ {
		if conn, err := net.Dial("unix", sockPath); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", sockPath)
			},
		},
	}

	return &testEnv{srv: srv, client: client, sockPath: sockPath, bus: bus, mgr: m, projects: projects}
}

func fixed(line string) func(string) (string, error) {
	return func(string) (string, error) { return line, nil }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, "http://devdeck"+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// send posts a raw body with the given headers, as a browser form or fetch would.
func (e *testEnv) send(t *testing.T, method, path, contentType, origin, body string) int {
	t.Helper()
	req, err := http.NewRequest(method, "http://devdeck"+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t, fixed("true"))

	var result map[string]any
	if code := env.do(t, "GET", "/v1/health", nil, &result); code != 200 {
		t.Errorf("expected 200, got %d", code)
	}
	if result["status"] != "ok" {
		t.Errorf("expected status ok, got %v", result["status"])
	}
}

func TestStartListStop(t *testing.T) {
	env := setupTestServer(t, fixed("sleep 30"))
	dir := t.TempDir()

	var started StartResponse
	if code := env.do(t, "POST", "/v1/projects/start", StartRequest{Dir: dir}, &started); code != http.StatusAccepted {
		t.Fatalf("start: expected 202, got %d", code)
	}
	if started.PID <= 0 {
		t.Fatalf("pid = %d", started.PID)
	}

	var procs []manager.ProcessState
	env.do(t, "GET", "/v1/projects", nil, &procs)
	if len(procs) != 1 || procs[0].PID != started.PID || !procs[0].Running || procs[0].Dir != dir {
		t.Errorf("projects = %+v", procs)
	}

	path := fmt.Sprintf("/v1/projects/%d/stop", started.PID)
	if code := env.do(t, "POST", path, nil, nil); code != http.StatusAccepted {
		t.Errorf("stop: expected 202, got %d", code)
	}
	if env.mgr.Registry().Len() != 0 {
		t.Errorf("registry len = %d after stop", env.mgr.Registry().Len())
	}

	// stopping again is a no-op
	if code := env.do(t, "POST", path, nil, nil); code != http.StatusAccepted {
		t.Errorf("second stop: expected 202, got %d", code)
	}
}

func TestStartErrors(t *testing.T) {
	env := setupTestServer(t, fixed(""))

	if code := env.do(t, "POST", "/v1/projects/start", StartRequest{}, nil); code != http.StatusBadRequest {
		t.Errorf("missing dir: got %d", code)
	}
	if code := env.do(t, "POST", "/v1/projects/start", StartRequest{Dir: t.TempDir()}, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("empty command: got %d, want 422", code)
	}
	if code := env.do(t, "POST", "/v1/projects/abc/stop", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad pid: got %d", code)
	}
}

func TestProjectLogs(t *testing.T) {
	env := setupTestServer(t, fixed(`sh -c "echo one; echo two"`))

	var started StartResponse
	env.do(t, "POST", "/v1/projects/start", StartRequest{Dir: t.TempDir()}, &started)

	var lines []relay.Line
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		lines = nil
		env.do(t, "GET", fmt.Sprintf("/v1/projects/%d/logs?n=1", started.PID), nil, &lines)
		if len(lines) == 1 && lines[0].Text == "two" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(lines) != 1 || lines[0].Text != "two" {
		t.Errorf("logs = %+v, want [two]", lines)
	}

	if code := env.do(t, "GET", "/v1/projects/999999/logs", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown pid logs: got %d", code)
	}
}

func TestDetect(t *testing.T) {
	env := setupTestServer(t, fixed("true"))
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"dependencies":{"nuxt":"3.0.0"}}`), 0644)
	os.WriteFile(filepath.Join(dir, "yarn.lock"), nil, 0644)

	var info struct {
		Framework string `json:"framework"`
		Runtime   string `json:"runtime"`
	}
	if code := env.do(t, "GET", "/v1/detect?dir="+dir, nil, &info); code != 200 {
		t.Fatalf("detect: got %d", code)
	}
	if info.Framework != "Nuxt.js" || info.Runtime != "yarn" {
		t.Errorf("info = %+v", info)
	}

	if code := env.do(t, "GET", "/v1/detect?dir="+t.TempDir(), nil, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("detect without manifest: got %d", code)
	}
}

func TestWorkspaceListAndDelete(t *testing.T) {
	env := setupTestServer(t, fixed("true"))
	site := filepath.Join(env.projects, "site")
	os.MkdirAll(site, 0755)
	os.WriteFile(filepath.Join(site, "package.json"), []byte(`{"dependencies":{"react":"18"}}`), 0644)

	var entries []map[string]string
	env.do(t, "GET", "/v1/workspace", nil, &entries)
	if len(entries) != 1 || entries[0]["name"] != "site" || entries[0]["framework"] != "React" {
		t.Errorf("entries = %v", entries)
	}

	if code := env.do(t, "DELETE", "/v1/workspace", PathRequest{Path: site}, nil); code != 200 {
		t.Errorf("delete: got %d", code)
	}
	if code := env.do(t, "DELETE", "/v1/workspace", PathRequest{Path: site}, nil); code != http.StatusNotFound {
		t.Errorf("second delete: got %d", code)
	}
}

func TestWorkspaceDeleteOutsideProjects(t *testing.T) {
	env := setupTestServer(t, fixed("true"))
	outside := t.TempDir()

	for _, path := range []string{outside, env.projects, filepath.Join(env.projects, "..")} {
		if code := env.do(t, "DELETE", "/v1/workspace", PathRequest{Path: path}, nil); code != http.StatusForbidden {
			t.Errorf("delete %s: got %d, want 403", path, code)
		}
	}
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("folder outside the workspace was removed: %v", err)
	}
}

func TestDepsValidation(t *testing.T) {
	env := setupTestServer(t, fixed("true"))

	// no lock file and no runtime given
	body := pkgmgr.Task{Action: pkgmgr.Add, Dir: t.TempDir(), Name: "zod"}
	if code := env.do(t, "POST", "/v1/deps", body, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("undetectable runtime: got %d", code)
	}

	body.Runtime = "bun"
	if code := env.do(t, "POST", "/v1/deps", body, nil); code != http.StatusBadRequest {
		t.Errorf("unsupported runtime: got %d", code)
	}

	create := CreateRequest{Runtime: "npm", Framework: "svelte", Name: "x"}
	if code := env.do(t, "POST", "/v1/create", create, nil); code != http.StatusBadRequest {
		t.Errorf("unsupported framework: got %d", code)
	}
}

func TestOpenAndEdit(t *testing.T) {
	env := setupTestServer(t, fixed("true"))
	var opened, edited []string
	env.srv.openBrowser = func(path string) error {
		opened = append(opened, path)
		return nil
	}
	env.srv.launchEditor = func(editor, path string) error {
		if editor == "broken" {
			return errors.New("not found")
		}
		edited = append(edited, editor+" "+path)
		return nil
	}

	if code := env.do(t, "POST", "/v1/open", PathRequest{Path: "/p"}, nil); code != 200 {
		t.Errorf("open: got %d", code)
	}
	if code := env.do(t, "POST", "/v1/edit", PathRequest{Path: "/p"}, nil); code != 200 {
		t.Errorf("edit: got %d", code)
	}
	if code := env.do(t, "POST", "/v1/edit", PathRequest{Path: "/p", Editor: "broken"}, nil); code != http.StatusInternalServerError {
		t.Errorf("broken editor: got %d", code)
	}
	if code := env.do(t, "POST", "/v1/open", PathRequest{}, nil); code != http.StatusBadRequest {
		t.Errorf("open without path: got %d", code)
	}

	if len(opened) != 1 || opened[0] != "/p" {
		t.Errorf("opened = %v", opened)
	}
	if len(edited) != 1 || edited[0] != "true /p" {
		t.Errorf("edited = %v, want default editor", edited)
	}
}

func TestEditRejectsCrossSiteRequests(t *testing.T) {
	env := setupTestServer(t, fixed("true"))
	marker := filepath.Join(t.TempDir(), "launched")
	body := fmt.Sprintf(`{"editor":"touch","path":%q}`, marker)

	tests := []struct {
		name        string
		contentType string
		origin      string
		want        int
	}{
		{"plain text", "text/plain", "", http.StatusUnsupportedMediaType},
		{"form", "application/x-www-form-urlencoded", "", http.StatusUnsupportedMediaType},
		{"no content type", "", "", http.StatusUnsupportedMediaType},
		{"foreign origin plain text", "text/plain", "http://evil.example", http.StatusForbidden},
		{"foreign origin json", "application/json", "http://evil.example", http.StatusForbidden},
	}
	for _, tt := range tests {
		if code := env.send(t, "POST", "/v1/edit", tt.contentType, tt.origin, body); code != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, code, tt.want)
		}
	}
	for _, path := range []string{"/v1/deps", "/v1/create", "/v1/projects/start"} {
		if code := env.send(t, "POST", path, "text/plain", "http://evil.example", `{}`); code != http.StatusForbidden {
			t.Errorf("%s: got %d, want 403", path, code)
		}
	}

	time.Sleep(200 * time.Millisecond)
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Errorf("editor ran for a rejected request: %v", err)
	}
}

func TestAllowedOriginAccepted(t *testing.T) {
	env := setupTestServer(t, fixed("true"))
	var edited []string
	env.srv.launchEditor = func(editor, path string) error {
		edited = append(edited, path)
		return nil
	}

	code := env.send(t, "POST", "/v1/edit", "application/json; charset=utf-8", "tauri://localhost", `{"path":"/p"}`)
	if code != http.StatusOK {
		t.Errorf("allowed origin: got %d, want 200", code)
	}
	if len(edited) != 1 {
		t.Errorf("edited = %v", edited)
	}
}

func TestEventStreamRejectsForeignOrigin(t *testing.T) {
	env := setupTestServer(t, fixed("true"))

	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return net.Dial("unix", env.sockPath)
		},
		HandshakeTimeout: 2 * time.Second,
	}
	_, resp, err := dialer.Dial("ws://devdeck/v1/events", http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}

	conn, _, err := dialer.Dial("ws://devdeck/v1/events", http.Header{"Origin": {"tauri://localhost"}})
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()
}

func TestEventStream(t *testing.T) {
	env := setupTestServer(t, fixed(`sh -c "sleep 0.2; echo hello"`))

	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return net.Dial("unix", env.sockPath)
		},
		HandshakeTimeout: 2 * time.Second,
	}
	conn, _, err := dialer.Dial("ws://devdeck/v1/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.bus.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	var started StartResponse
	env.do(t, "POST", "/v1/projects/start", StartRequest{Dir: t.TempDir()}, &started)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var sawOutput bool
	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v (output seen: %v)", err, sawOutput)
		}
		if ev.PID != started.PID {
			continue
		}
		if ev.Kind == events.ProjectOutput && ev.Line == "hello" {
			sawOutput = true
		}
		if ev.Kind == events.ProjectExit {
			break
		}
	}
	if !sawOutput {
		t.Error("output event not streamed before exit")
	}
}

func TestEventStreamUnsubscribesOnClose(t *testing.T) {
	env := setupTestServer(t, fixed("true"))

	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return net.Dial("unix", env.sockPath)
		},
	}
	conn, _, err := dialer.Dial("ws://devdeck/v1/events?pid=1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.bus.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for env.bus.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := env.bus.Subscribers(); n != 0 {
		t.Errorf("subscribers = %d after client closed", n)
	}
}
