package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/coco/internal/store"
	"github.com/mesh-intelligence/coco/pkg/coco"
	"github.com/mesh-intelligence/coco/pkg/types"
)

const zooTypes = `[
	{"name": "Animal"},
	{"name": "Dog", "parents": ["Animal"], "dynamic_properties": {
		"mood": {"type": "symbol", "values": ["calm", "angry"]}
	}},
	{"name": "Cat", "parents": ["Animal"]}
]`

const zooItems = `[
	{"id": "rex", "type": "Dog", "data": {"legs": 4}},
	{"id": "tom", "type": "Cat", "data": {"legs": 3}}
]`

// zoo is a coco server double for command tests.
type zoo struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn

	mu        sync.Mutex
	published map[string]string
	queries   []string
}

func newZoo(t *testing.T) *zoo {
	t.Helper()
	z := &zoo{published: make(map[string]string), conns: make(chan *websocket.Conn, 4)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /types", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, zooTypes)
	})
	mux.HandleFunc("GET /items", func(w http.ResponseWriter, r *http.Request) {
		z.mu.Lock()
		z.queries = append(z.queries, r.URL.RawQuery)
		z.mu.Unlock()
		if r.URL.Query().Get("type") == "Cat" {
			io.WriteString(w, `[{"id":"tom","type":"Cat"}]`)
			return
		}
		io.WriteString(w, zooItems)
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"message":"bad credentials"}`)
			return
		}
		io.WriteString(w, `{"token":"tok-cli"}`)
	})
	mux.HandleFunc("POST /data/{id}", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		z.mu.Lock()
		z.published[r.PathValue("id")] = string(body)
		z.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/coco", func(w http.ResponseWriter, r *http.Request) {
		conn, err := z.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		z.conns <- conn
		go func() {
			for {
				_, frame, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var msg struct {
					MsgType string `json:"msg_type"`
				}
				if json.Unmarshal(frame, &msg) == nil && msg.MsgType == types.MsgLogin {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"msg_type":"login"}`))
				}
			}
		}()
	})
	z.srv = httptest.NewServer(mux)
	t.Cleanup(z.srv.Close)
	return z
}

// lockedBuffer is a bytes.Buffer safe for a command writing from
// listener goroutines while the test reads it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// env is an isolated pair of config and data directories.
type env struct {
	configDir string
	dataDir   string
}

func newEnv(t *testing.T) env {
	t.Helper()
	root := t.TempDir()
	return env{configDir: filepath.Join(root, "config"), dataDir: filepath.Join(root, "data")}
}

func (e env) command(stdin string, args ...string) (*lockedBuffer, func(context.Context) error) {
	out := &lockedBuffer{}
	root := newRootCmd(&app{newClient: coco.New})
	root.SetArgs(append([]string{"--config-dir", e.configDir, "--data-dir", e.dataDir}, args...))
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	return out, func(ctx context.Context) error { return root.ExecuteContext(ctx) }
}

func (e env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runWithInput(t, "", args...)
}

func (e env) runWithInput(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out, execute := e.command(stdin, args...)
	err := execute(context.Background())
	return out.String(), err
}

func (e env) initialize(t *testing.T, args ...string) {
	t.Helper()
	_, err := e.run(t, append([]string{"init"}, args...)...)
	require.NoError(t, err)
}

func TestVersionCmd(t *testing.T) {
	out, err := newEnv(t).run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "coco v"+coco.Version)
	assert.Contains(t, out, "module: "+coco.ModulePath)
	assert.Contains(t, out, "property kinds: bool, float, int, item, json, string, symbol\n")
}

func TestInitCmd(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "init", "--host", "http://kennel.test:8080", "--has-users")
	require.NoError(t, err)
	assert.Contains(t, out, "coco initialized")
	assert.FileExists(t, filepath.Join(e.dataDir, store.DatabaseFile))

	data, err := os.ReadFile(filepath.Join(e.configDir, "config.yaml"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# coco client configuration"))
	var written configFile
	require.NoError(t, yaml.Unmarshal(data, &written))
	assert.Equal(t, "http://kennel.test:8080", written.Host)
	assert.True(t, written.HasUsers)
	assert.Equal(t, e.dataDir, written.DataDir)
	assert.Equal(t, "1m0s", written.ReconnectDelay)

	// An existing config survives a plain init.
	_, err = e.run(t, "init", "--host", "http://other.test")
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(e.configDir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "kennel.test")

	out, err = e.run(t, "--json", "init", "--host", "http://other.test", "--force")
	require.NoError(t, err)
	var result map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "http://other.test", result["host"])
	assert.Equal(t, e.configDir, result["config_dir"])
}

func TestInitRejectsInvalidHost(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "init", "--host", "kennel.test")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrHostInvalid)
	assert.Equal(t, exitUserError, exitCode(err))
	assert.NoFileExists(t, filepath.Join(e.configDir, "config.yaml"))
}

func TestCommandsWithoutHost(t *testing.T) {
	_, err := newEnv(t).run(t, "types")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrHostEmpty)
	assert.Contains(t, err.Error(), "coco init")
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestEnvironmentOverridesHost(t *testing.T) {
	z := newZoo(t)
	e := newEnv(t)
	e.initialize(t, "--host", "http://unreachable.invalid")
	t.Setenv("COCO_HOST", z.srv.URL)

	out, err := e.run(t, "types")
	require.NoError(t, err)
	assert.Contains(t, out, "Dog")
}

func TestTypesCmd(t *testing.T) {
	z := newZoo(t)
	e := newEnv(t)
	e.initialize(t, "--host", z.srv.URL)

	out, err := e.run(t, "types")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"NAME", "PARENTS", "INSTANCES", "DYNAMIC"}, strings.Fields(lines[0]))
	assert.Contains(t, out, "Dog")
	assert.Regexp(t, `Dog\s+Animal\s+1\s+mood`, out)

	out, err = e.run(t, "types", "Dog")
	require.NoError(t, err)
	var dog map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &dog))
	assert.Equal(t, "Dog", dog["name"])

	_, err = e.run(t, "types", "Unicorn")
	assert.ErrorIs(t, err, types.ErrUnknownType)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestTypesCmdCached(t *testing.T) {
	z := newZoo(t)
	e := newEnv(t)
	e.initialize(t, "--host", z.srv.URL)

	_, err := e.run(t, "types", "--cached")
	assert.ErrorIs(t, err, types.ErrNoSnapshot)

	_, err = e.run(t, "types")
	require.NoError(t, err)
	z.srv.Close()

	out, err := e.run(t, "--json", "types", "--cached")
	require.NoError(t, err)
	var all []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	assert.Len(t, all, 3)
}

func TestItemsCmd(t *testing.T) {
	z := newZoo(t)
	e := newEnv(t)
	e.initialize(t, "--host", z.srv.URL)

	tests := []struct {
		name    string
		args    []string
		wantIDs []string
	}{
		{name: "all", args: nil, wantIDs: []string{"rex", "tom"}},
		{name: "by type", args: []string{"--type", "Dog"}, wantIDs: []string{"rex"}},
		{name: "by ancestor", args: []string{"--type", "Animal"}, wantIDs: []string{"rex", "tom"}},
		{name: "where", args: []string{"--where", "properties.legs > 3"}, wantIDs: []string{"rex"}},
		{name: "where on type name", args: []string{"--where", `type == "Cat"`}, wantIDs: []string{"tom"}},
		{name: "type and where", args: []string{"--type", "Cat", "--where", "properties.legs > 3"}, wantIDs: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.run(t, append([]string{"--json", "items"}, tt.args...)...)
			require.NoError(t, err)
			var items []struct {
				ID string `json:"id"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &items))
			var ids []string
			for _, item := range items {
				ids = append(ids, item.ID)
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)
		})
	}
}

func TestItemsCmdText(t *testing.T) {
	z := newZoo(t)
	e := newEnv(t)
	e.initialize(t, "--host", z.srv.URL)

	out, err := e.run(t, "items")
	require.NoError(t, err)
	assert.Regexp(t, `rex\s+Dog\s+-`, out)
	assert.Regexp(t, `tom\s+Cat\s+-`, out)
}

func TestItemsCmdErrors(t *testing.T) {
	z := newZoo(t)
	e := newEnv(t)
	e.initialize(t, "--host", z.srv.URL)

	tests := []struct {
		name    string
		args    []string
		wantErr error
		wantMsg string
	}{
		{name: "invalid expression", args: []string{"--where", "legs >"}, wantErr: types.ErrInvalidQuery},
		{name: "unknown type", args: []string{"--type", "Unicorn"}, wantErr: types.ErrUnknownType},
		{name: "bad filter", args: []string{"--filter", "type"}, wantMsg: "expected key=value"},
		{name: "filter with where", args: []string{"--filter", "type=Cat", "--where", "true"}, wantMsg: "cannot be combined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.run(t, append([]string{"items"}, tt.args...)...)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			assert.Equal(t, exitUserError, exitCode(err))
		})
	}
}

func TestItemsCmdServerFilter(t *testing.T) {
	z := newZoo(t)
	e := newEnv(t)
	e.initialize(t, "--host", z.srv.URL)

	out, err := e.run(t, "items", "--filter", "type=Cat")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"tom","type":"Cat"}]`, out)
	z.mu.Lock()
	defer z.mu.Unlock()
	assert.Equal(t, []string{"type=Cat"}, z.queries)
}

func TestPublishCmd(t *testing.T) {
	z := newZoo(t)
	e := newEnv(t)
	e.initialize(t, "--host", z.srv.URL)

	out, err := e.run(t, "publish", "rex", `{"mood":"calm"}`)
	require.NoError(t, err)
	assert.Equal(t, "published data for rex\n", out)
	z.mu.Lock()
	assert.JSONEq(t, `{"mood":"calm"}`, z.published["rex"])
	z.mu.Unlock()

	payload := filepath.Join(t.TempDir(), "reading.json")
	require.NoError(t, os.WriteFile(payload, []byte(`{"mood":"angry"}`), 0o644))
	_, err = e.run(t, "publish", "rex", "@"+payload)
	require.NoError(t, err)
	z.mu.Lock()
	assert.JSONEq(t, `{"mood":"angry"}`, z.published["rex"])
	z.mu.Unlock()
}

func TestPublishCmdRejects(t *testing.T) {
	z := newZoo(t)
	e := newEnv(t)
	e.initialize(t, "--host", z.srv.URL)

	tests := []struct {
		name    string
		item    string
		payload string
		wantErr error
	}{
		{name: "value outside domain", item: "rex", payload: `{"mood":"sleepy"}`, wantErr: types.ErrInvalidValue},
		{name: "unknown item", item: "ghost", payload: `{}`, wantErr: types.ErrUnknownItem},
		{name: "not json", item: "rex", payload: `{mood`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.run(t, "publish", tt.item, tt.payload)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, exitUserError, exitCode(err))
		})
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	assert.Empty(t, z.published)
}

func TestLoginAndLogoutCmds(t *testing.T) {
	z := newZoo(t)
	e := newEnv(t)
	e.initialize(t, "--host", z.srv.URL, "--has-users")

	out, err := e.runWithInput(t, "secret\n", "login", "-u", "ann")
	require.NoError(t, err)
	assert.Equal(t, "logged in as ann\n", out)

	db := store.NewSQLite()
	require.NoError(t, db.Attach(e.dataDir))
	token, err := db.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-cli", token)
	require.NoError(t, db.Detach())

	_, err = e.run(t, "logout")
	require.NoError(t, err)
	require.NoError(t, db.Attach(e.dataDir))
	_, err = db.Token()
	assert.ErrorIs(t, err, types.ErrNoToken)
	require.NoError(t, db.Detach())
}

func TestLoginCmdErrors(t *testing.T) {
	z := newZoo(t)

	t.Run("bad password", func(t *testing.T) {
		e := newEnv(t)
		e.initialize(t, "--host", z.srv.URL, "--has-users")
		_, err := e.run(t, "login", "-u", "ann", "-p", "wrong")
		var httpErr *types.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
		assert.Equal(t, exitUserError, exitCode(err))
	})

	t.Run("server without users", func(t *testing.T) {
		e := newEnv(t)
		e.initialize(t, "--host", z.srv.URL)
		_, err := e.run(t, "login", "-u", "ann", "-p", "secret")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has_users")
	})

	t.Run("empty password", func(t *testing.T) {
		e := newEnv(t)
		e.initialize(t, "--host", z.srv.URL, "--has-users")
		_, err := e.runWithInput(t, "\n", "login", "-u", "ann")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "password is required")
	})
}

func TestWatchCmd(t *testing.T) {
	z := newZoo(t)
	e := newEnv(t)
	e.initialize(t, "--host", z.srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, execute := e.command("", "watch")
	done := make(chan error, 1)
	go func() { done <- execute(ctx) }()

	var conn *websocket.Conn
	select {
	case conn = <-z.conns:
	case err := <-done:
		t.Fatalf("watch exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch never opened the channel")
	}
	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "connected") }, 5*time.Second, 10*time.Millisecond)

	frame := `{"msg_type":"new_data","id":"rex","value":{"data":{"mood":"angry"},"timestamp":1000}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), `value_changed rex {"mood":"angry"}`)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}

func TestWatchCmdNotLoggedIn(t *testing.T) {
	z := newZoo(t)
	e := newEnv(t)
	e.initialize(t, "--host", z.srv.URL, "--has-users")

	_, err := e.run(t, "watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestWatcherJSONLines(t *testing.T) {
	var buf bytes.Buffer
	w := &watcher{out: &buf, jsonMode: true}
	w.ConnectionEstablished()
	w.ConnectionFailed(errors.New("dial refused"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"event":"connected"}`, lines[0])
	assert.JSONEq(t, `{"event":"connection_failed","detail":"dial refused"}`, lines[1])
}

func TestParseFilters(t *testing.T) {
	got, err := parseFilters([]string{"type=Dog", "owner=ann=admin", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"type": "Dog", "owner": "ann=admin", "empty": ""}, got)

	for _, bad := range []string{"noequals", "=value"} {
		_, err := parseFilters([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestDecodePayload(t *testing.T) {
	files := map[string]string{"ok.json": `{"a":1}`, "bad.json": `{`}
	read := func(name string) ([]byte, error) {
		data, ok := files[name]
		if !ok {
			return nil, os.ErrNotExist
		}
		return []byte(data), nil
	}

	tests := []struct {
		name    string
		arg     string
		want    string
		wantErr bool
	}{
		{name: "inline", arg: `{"mood":"calm"}`, want: `{"mood":"calm"}`},
		{name: "file", arg: "@ok.json", want: `{"a":1}`},
		{name: "invalid inline", arg: `{mood`, wantErr: true},
		{name: "invalid file", arg: "@bad.json", wantErr: true},
		{name: "missing file", arg: "@nope.json", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePayload(tt.arg, read)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, exitUserError, exitCode(err))
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: exitSuccess},
		{name: "user error", err: userError("bad flag"), want: exitUserError},
		{name: "system error", err: sysError("disk full"), want: exitSysError},
		{name: "wrapped exit error", err: fmt.Errorf("run: %w", sysError("disk")), want: exitSysError},
		{name: "client http error", err: &types.HTTPError{StatusCode: 404}, want: exitUserError},
		{name: "server http error", err: &types.HTTPError{StatusCode: 503}, want: exitSysError},
		{name: "transport error", err: fmt.Errorf("fetch: %w", types.ErrTransport), want: exitSysError},
		{name: "other", err: errors.New("boom"), want: exitUserError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
