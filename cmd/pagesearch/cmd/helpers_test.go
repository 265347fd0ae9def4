package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// testEnv isolates a CLI run: a private home, XDG config dir, working
// directory and data directory, with no PAGESEARCH_* overrides.
type testEnv struct {
	t       *testing.T
	home    string
	dataDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	for _, key := range []string{
		"PAGESEARCH_DATA_DIR", "PAGESEARCH_PROVIDER", "PAGESEARCH_ENDPOINT", "PAGESEARCH_API_KEY",
		"PAGESEARCH_MODEL", "PAGESEARCH_DIMENSIONS", "PAGESEARCH_CHUNK_SIZE", "PAGESEARCH_CHUNK_OVERLAP",
		"PAGESEARCH_WORKERS", "PAGESEARCH_LEXICAL_BACKEND", "PAGESEARCH_RRF_CONSTANT", "PAGESEARCH_TELEMETRY", "PAGESEARCH_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	t.Chdir(home)
	return &testEnv{t: t, home: home, dataDir: filepath.Join(home, "data")}
}

// run executes the CLI with stdin and returns what it wrote to stdout.
func (e *testEnv) run(stdin string, args ...string) (string, error) {
	e.t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--data-dir", e.dataDir}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) mustRun(stdin string, args ...string) string {
	e.t.Helper()
	out, err := e.run(stdin, args...)
	require.NoError(e.t, err, out)
	return out
}

func (e *testEnv) indexPage(url, title, text string) string {
	e.t.Helper()
	return e.mustRun(text, "index", "--url", url, "--title", title)
}

func (e *testEnv) status() statusJSON {
	e.t.Helper()
	var st statusJSON
	require.NoError(e.t, json.Unmarshal([]byte(e.mustRun("", "status", "--format", "json")), &st))
	return st
}

func (e *testEnv) search(query string, args ...string) searchResponseJSON {
	e.t.Helper()
	var resp searchResponseJSON
	out := e.mustRun("", append([]string{"search", "--format", "json"}, append(args, query)...)...)
	require.NoError(e.t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

const (
	foxURL  = "https://example.com/fox"
	foxText = "The quick brown fox jumps over the lazy dog. Foxes are small omnivorous mammals " +
		"with a pointed snout and a bushy tail, found on every continent except Antarctica."
	catURL  = "https://example.com/cat"
	catText = "Cats are carnivorous mammals kept as pets for thousands of years. They sleep " +
		"most of the day and hunt small prey at dusk."
)
