package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/pagesearch/internal/config"
)

func TestWatchCmd_IndexesUntilInputEnds(t *testing.T) {
	// Given: two visits on stdin
	env := newTestEnv(t)
	input := strings.Join([]string{
		`{"url": "https://example.com/fox", "title": "Foxes", "text": "` + foxText + `"}`,
		`{"url": "https://example.com/cat", "title": "Cats", "text": "` + catText + `"}`,
	}, "\n")

	// When: running watch until stdin is exhausted
	out := env.mustRun(input, "watch")

	// Then: both pages are indexed and the job summary is printed
	assert.Contains(t, out, "Indexing")
	assert.Contains(t, out, foxURL)
	assert.Contains(t, out, catURL)
	assert.Equal(t, 2, env.status().Pages)
}

func TestWatchCmd_WatchesUserConfig(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun("", "config", "init")

	out := env.mustRun("", "watch")

	assert.Contains(t, out, "Watching "+config.GetUserConfigPath())
}

func TestWatchCmd_MalformedInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("{oops\n", "watch")

	require.Error(t, err)
}

func TestWatchedConfigPath(t *testing.T) {
	newTestEnv(t)

	configPath = ""
	assert.Empty(t, watchedConfigPath())

	configPath = "/tmp/explicit.yaml"
	t.Cleanup(func() { configPath = "" })
	assert.Equal(t, "/tmp/explicit.yaml", watchedConfigPath())
}
