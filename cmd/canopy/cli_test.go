package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/canopy/internal/agent"
	"github.com/hpungsan/canopy/internal/config"
	"github.com/hpungsan/canopy/internal/db"
	"github.com/hpungsan/canopy/internal/ops"
	"github.com/hpungsan/canopy/internal/workspace"
)

// testEnv opens a session over a temporary database.
type testEnv struct {
	*env
	store workspace.Store
}

func setupTestEnv(t *testing.T, opts ...workspace.Option) *testEnv {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true

	l := logrus.New()
	l.SetOutput(io.Discard)
	log := logrus.NewEntry(l)

	store := db.NewStore(database)
	sess, err := workspace.Open(context.Background(), store, cfg, append([]workspace.Option{workspace.WithLogger(log)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close(context.Background()) })

	return &testEnv{env: &env{sess: sess, cfg: cfg, log: log}, store: store}
}

// runCLI runs args against e with stdin (when non-nil) and returns stdout.
func runCLI(t *testing.T, e *env, stdin *string, args ...string) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	if stdin != nil {
		oldStdin := os.Stdin
		stdinR, stdinW, err := os.Pipe()
		require.NoError(t, err)
		os.Stdin = stdinR
		defer func() { os.Stdin = oldStdin }()
		go func() {
			_, _ = stdinW.WriteString(*stdin)
			stdinW.Close()
		}()
	}

	outCh := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		outCh <- buf.String()
	}()

	runErr := newCLIApp(e).Run(append([]string{"canopy"}, args...))
	w.Close()
	return <-outCh, runErr
}

func input(s string) *string { return &s }

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), "output: %s", out)
	return v
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want bool
	}{
		{"no args", []string{"canopy"}, false},
		{"tree", []string{"canopy", "tree"}, true},
		{"serve", []string{"canopy", "serve", "--port", "9000"}, true},
		{"help flag", []string{"canopy", "--help"}, true},
		{"version flag", []string{"canopy", "-v"}, true},
		{"unknown", []string{"canopy", "undo"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := os.Args
			defer func() { os.Args = old }()
			os.Args = tt.args
			require.Equal(t, tt.want, isCLIMode())
		})
	}
}

func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want bool
	}{
		{"no args", []string{"canopy"}, false},
		{"help", []string{"canopy", "help"}, true},
		{"-h", []string{"canopy", "-h"}, true},
		{"--version", []string{"canopy", "--version"}, true},
		{"command", []string{"canopy", "cat"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := os.Args
			defer func() { os.Args = old }()
			os.Args = tt.args
			require.Equal(t, tt.want, isHelpOrVersion())
		})
	}
}

func TestReadStdinWithLimit(t *testing.T) {
	oldStdin := os.Stdin
	defer func() { os.Stdin = oldStdin }()

	feed := func(s string) {
		r, w, err := os.Pipe()
		require.NoError(t, err)
		os.Stdin = r
		go func() {
			_, _ = w.WriteString(s)
			w.Close()
		}()
	}

	feed("  keep surrounding space\n")
	got, err := readStdin(64)
	require.NoError(t, err)
	require.Equal(t, "  keep surrounding space\n", got)

	feed(strings.Repeat("x", 65))
	_, err = readStdin(64)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds 64 bytes")
}

func TestCLITree(t *testing.T) {
	te := setupTestEnv(t)

	out, err := runCLI(t, te.env, nil, "tree")
	require.NoError(t, err)
	nodes := decode[[]nodeOutput](t, out)
	require.Len(t, nodes, 3)
	require.Equal(t, "root", nodes[0].ID)
	require.Equal(t, "README.md", nodes[1].Path)
	require.Equal(t, "root", nodes[2].ParentID)

	out, err = runCLI(t, te.env, nil, "tree", "--search", "MAIN")
	require.NoError(t, err)
	nodes = decode[[]nodeOutput](t, out)
	require.Len(t, nodes, 1)
	require.Equal(t, "main.js", nodes[0].Name)
}

func TestCLINewWriteCat(t *testing.T) {
	te := setupTestEnv(t)

	out, err := runCLI(t, te.env, input("body { margin: 0 }\n"), "new", "style.css")
	require.NoError(t, err)
	id := decode[changeOutput](t, out).ID
	require.NotEmpty(t, id)

	out, err = runCLI(t, te.env, nil, "cat", "style.css")
	require.NoError(t, err)
	require.Equal(t, "body { margin: 0 }\n", out)

	_, err = runCLI(t, te.env, input("p {}"), "write", id)
	require.NoError(t, err)

	// The After hook flushes, so a fresh session sees the change.
	reopened, err := workspace.Open(context.Background(), te.store, te.cfg)
	require.NoError(t, err)
	defer reopened.Close(context.Background())
	n, err := reopened.Lookup("style.css")
	require.NoError(t, err)
	require.Equal(t, "p {}", n.Content)
	require.Equal(t, 3, te.sess.HistoryState().Len)
}

func TestCLIFolders(t *testing.T) {
	te := setupTestEnv(t)

	out, err := runCLI(t, te.env, nil, "mkdir", "src")
	require.NoError(t, err)
	src := decode[changeOutput](t, out).ID

	_, err = runCLI(t, te.env, nil, "mkdir", "--parent", "src", "lib")
	require.NoError(t, err)

	_, err = runCLI(t, te.env, nil, "mv", "main.js", "src/lib")
	require.NoError(t, err)
	require.Equal(t, "src/lib/main.js", te.sess.Snapshot().Path("mainjs"))

	_, err = runCLI(t, te.env, nil, "rename", "src", "app")
	require.NoError(t, err)
	require.Equal(t, "app/lib/main.js", te.sess.Snapshot().Path("mainjs"))

	out, err = runCLI(t, te.env, nil, "rm", src)
	require.NoError(t, err)
	require.Len(t, decode[changeOutput](t, out).Affected, 3)
	require.Nil(t, te.sess.Snapshot().Get("mainjs"))

	_, err = runCLI(t, te.env, nil, "mv", "README.md", "README.md")
	require.Error(t, err)
	require.Contains(t, err.Error(), "[INVALID_REQUEST]")
}

func TestCLIApply(t *testing.T) {
	te := setupTestEnv(t)
	batch := `{"operations":[{"path":"main.js","content":"run()","action":"update"},{"path":"index.html","content":"<h1>hi</h1>","action":"create"}]}`

	t.Run("dry run", func(t *testing.T) {
		out, err := runCLI(t, te.env, input(batch), "apply", "--dry-run")
		require.NoError(t, err)
		diffs := decode[[]ops.FileDiff](t, out)
		require.Len(t, diffs, 2)
		require.False(t, diffs[0].Create)
		require.True(t, diffs[1].Create)
		require.Equal(t, 1, te.sess.HistoryState().Len)
	})

	t.Run("apply", func(t *testing.T) {
		out, err := runCLI(t, te.env, input(batch), "apply")
		require.NoError(t, err)
		affected := decode[changeOutput](t, out).Affected
		require.Len(t, affected, 2)
		require.Equal(t, "mainjs", affected[0])
		require.Equal(t, "run()", te.sess.Snapshot().Get("mainjs").Content)
		require.Equal(t, 2, te.sess.HistoryState().Len)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := runCLI(t, te.env, input(`[{"path":"a.js","action":"delete"}]`), "apply")
		require.Error(t, err)
		require.Contains(t, err.Error(), "[INVALID_REQUEST]")

		_, err = runCLI(t, te.env, input(`not json`), "apply")
		require.Error(t, err)
	})
}

func TestCLIImport(t *testing.T) {
	te := setupTestEnv(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "notes.txt")
	b := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(a, []byte("todo"), 0600))
	require.NoError(t, os.WriteFile(b, []byte("x,y\n1,2\n"), 0600))

	out, err := runCLI(t, te.env, nil, "import", a, b)
	require.NoError(t, err)
	ids := decode[changeOutput](t, out).Affected
	require.Len(t, ids, 2)

	snap := te.sess.Snapshot()
	require.Equal(t, "notes.txt", snap.Get(ids[0]).Name)
	require.Equal(t, "x,y\n1,2\n", snap.Get(ids[1]).Content)

	_, err = runCLI(t, te.env, nil, "import", filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
}

func TestCLIExportRestore(t *testing.T) {
	te := setupTestEnv(t)
	path := filepath.Join(t.TempDir(), "backup.json")

	out, err := runCLI(t, te.env, nil, "export", "--path", path)
	require.NoError(t, err)
	exported := decode[ops.ExportOutput](t, out)
	require.Equal(t, path, exported.Path)
	require.Equal(t, 3, exported.Nodes)

	_, err = runCLI(t, te.env, nil, "rm", "main.js")
	require.NoError(t, err)
	require.Nil(t, te.sess.Snapshot().Get("mainjs"))

	out, err = runCLI(t, te.env, nil, "restore", path)
	require.NoError(t, err)
	require.Equal(t, 3, decode[map[string]int](t, out)["nodes"])
	require.NotNil(t, te.sess.Snapshot().Get("mainjs"))

	// Restore is recorded and can be undone.
	require.True(t, te.sess.Undo())
	require.Nil(t, te.sess.Snapshot().Get("mainjs"))
}

func TestCLIPreview(t *testing.T) {
	te := setupTestEnv(t)
	batch := `[{"path":"index.html","content":"<body><script src=\"main.js\"></script></body>"}]`
	_, err := runCLI(t, te.env, input(batch), "apply")
	require.NoError(t, err)

	want := `<body><script>console.log("Canopy engine online.");</script></body>`

	out, err := runCLI(t, te.env, nil, "preview")
	require.NoError(t, err)
	require.Equal(t, want, out)

	path := filepath.Join(t.TempDir(), "preview.html")
	out, err = runCLI(t, te.env, nil, "preview", "--out", path)
	require.NoError(t, err)
	require.Equal(t, "index.html", decode[map[string]any](t, out)["entry_name"])
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, want, string(data))

	_, err = runCLI(t, te.env, nil, "preview", "--out", filepath.Join(t.TempDir(), "preview.txt"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "[INVALID_REQUEST]")

	// The tree is unchanged by composing.
	require.Equal(t, 2, te.sess.HistoryState().Len)
}

func TestCLIPreview_ActiveFallback(t *testing.T) {
	te := setupTestEnv(t)

	out, err := runCLI(t, te.env, nil, "preview", "main.js")
	require.NoError(t, err)
	require.Equal(t, `console.log("Canopy engine online.");`, out)
	require.Equal(t, "mainjs", te.sess.Active())
}

func TestCLIAsk(t *testing.T) {
	var got agent.Request
	producer := agent.ProducerFunc(func(_ context.Context, req agent.Request) (*agent.Response, error) {
		got = req
		return &agent.Response{
			Reasoning:  "Added a stylesheet.",
			Operations: []ops.FileOperation{{Path: "style.css", Content: "body{}", Action: ops.ActionCreate}},
		}, nil
	})
	te := setupTestEnv(t, workspace.WithProducer(producer))

	t.Run("propose only", func(t *testing.T) {
		out, err := runCLI(t, te.env, nil, "ask", "--tag", "README.md", "style", "@main.js")
		require.NoError(t, err)
		res := decode[askOutput](t, out)
		require.Equal(t, "Added a stylesheet.", res.Message.Content)
		require.Len(t, res.Message.Operations, 1)
		require.Empty(t, res.Affected)
		require.Len(t, got.Tagged, 2)
		require.Nil(t, te.sess.Snapshot().FindFileByName("style.css"))
	})

	t.Run("apply", func(t *testing.T) {
		out, err := runCLI(t, te.env, nil, "ask", "--apply", "style it")
		require.NoError(t, err)
		res := decode[askOutput](t, out)
		require.Len(t, res.Affected, 1)
		require.NotNil(t, te.sess.Snapshot().FindFileByName("style.css"))
		require.Len(t, te.sess.Chat(), 4)
	})

	t.Run("empty prompt", func(t *testing.T) {
		_, err := runCLI(t, te.env, nil, "ask", "@main.js")
		require.Error(t, err)
		require.Contains(t, err.Error(), "[INVALID_REQUEST]")
	})
}

func TestCLIErrors(t *testing.T) {
	te := setupTestEnv(t)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"cat unknown", []string{"cat", "nope.txt"}, "[NOT_FOUND]"},
		{"cat folder", []string{"cat", "root"}, "[INVALID_REQUEST]"},
		{"cat no ref", []string{"cat"}, "[INVALID_REQUEST]"},
		{"new no name", []string{"new"}, "[INVALID_REQUEST]"},
		{"new into file", []string{"new", "--parent", "main.js", "a.js"}, "[INVALID_REQUEST]"},
		{"rename missing arg", []string{"rename", "main.js"}, "[INVALID_REQUEST]"},
		{"restore no path", []string{"restore"}, "[INVALID_REQUEST]"},
		{"ask without agent", []string{"ask", "hello"}, "[AGENT_UNAVAILABLE]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, te.env, input(""), tt.args...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.code)
		})
	}
}
