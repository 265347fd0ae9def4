package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSavedCmd_TogglesAndChecks(t *testing.T) {
	// Given: an indexed page
	env := newTestEnv(t)
	env.indexPage(foxURL, "Foxes", foxText)

	// When/Then: toggling flips the flag and --check leaves it alone
	assert.Contains(t, env.mustRun("", "saved", foxURL), "is saved")
	assert.Contains(t, env.mustRun("", "saved", "--check", foxURL), "is saved")
	assert.Contains(t, env.mustRun("", "saved", foxURL), "is not saved")
	assert.Contains(t, env.mustRun("", "saved", "--check", foxURL), "is not saved")
}

func TestSavedCmd_UnknownURLCreatesEntry(t *testing.T) {
	env := newTestEnv(t)

	out := env.mustRun("", "saved", "https://example.com/later")

	assert.Contains(t, out, "is saved")
	st := env.status()
	assert.Equal(t, 1, st.Pages)
	assert.Equal(t, 1, st.SavedPages)
}
