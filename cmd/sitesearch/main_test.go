package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRequiresQuery(t *testing.T) {
	app := newCLI()
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}
	err := app.Run([]string{"sitesearch", "--env-file", "missing.env", "search"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query")
}

func TestSetupRejectsMissingConfig(t *testing.T) {
	app := newCLI()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"sitesearch", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "search", "-q", "fox"})
	require.ErrorContains(t, err, "load config")
}

func TestSearchOnEmptyIndex(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("SITESEARCH_LOGGING_LEVEL=error\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SITESEARCH_LOGGING_LEVEL") })

	out := &bytes.Buffer{}
	app := newCLI()
	app.Writer = out
	require.NoError(t, app.Run([]string{"sitesearch", "--env-file", envFile, "search", "-q", "foxes"}))

	var body struct {
		Result bool              `json:"result"`
		Count  int               `json:"count"`
		Data   []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.True(t, body.Result)
	assert.Zero(t, body.Count)
	assert.Empty(t, body.Data)
	assert.Equal(t, "error", os.Getenv("SITESEARCH_LOGGING_LEVEL"))
}

func TestCrawlWithoutSites(t *testing.T) {
	out := &bytes.Buffer{}
	app := newCLI()
	app.Writer = out
	require.NoError(t, app.Run([]string{"sitesearch", "--env-file", "missing.env", "crawl"}))
	assert.Empty(t, out.String())
}
