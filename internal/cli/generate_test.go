package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCommand_Idempotent(t *testing.T) {
	db := filepath.Join(t.TempDir(), "storygate.db")

	out, err := execute(t, nil, "generate", "--db", db, "--date", testDate)
	require.NoError(t, err)
	assert.Equal(t, "Published 2024-01-01: 5 new of 5 stories\n", out)

	out, err = execute(t, nil, "generate", "--db", db, "--date", testDate)
	require.NoError(t, err)
	assert.Equal(t, "Published 2024-01-01: 0 new of 5 stories\n", out)
}

func TestGenerateCommand_Templates(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "storygate.db")
	tpl := filepath.Join(dir, "lineup.yaml")
	require.NoError(t, os.WriteFile(tpl, []byte(`templates:
  - position: 0
    title: Morning
    content: The first cup.
`), 0644))

	out, err := execute(t, nil, "generate", "--db", db, "--date", testDate, "--templates", tpl, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Date     string `json:"date"`
			Total    int    `json:"total"`
			Inserted int    `json:"inserted"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, testDate, resp.Data.Date)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Inserted)
}

func TestGenerateCommand_Errors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "storygate.db")

	_, err := execute(t, nil, "generate", "--db", db, "--date", "01/02/2024")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, nil, "generate", "--db", db, "--templates", "/nonexistent/lineup.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load templates")
}

func TestGenerateCommand_DefaultsToToday(t *testing.T) {
	db := filepath.Join(t.TempDir(), "storygate.db")
	buf := &bytes.Buffer{}
	opts := &GenerateOptions{
		RootOptions: &RootOptions{Format: "text", Database: db},
		Now:         func() time.Time { return time.Date(2025, 3, 9, 23, 30, 0, 0, time.FixedZone("PST", -8*3600)) },
	}
	cmd := NewGenerateCommand(opts.RootOptions)
	cmd.SetOut(buf)
	cmd.SetContext(context.Background())
	require.NoError(t, runGenerate(opts, cmd))
	// 23:30 PST is already the next day in UTC.
	assert.Contains(t, buf.String(), "Published 2025-03-10")
}

func TestStoriesCommand(t *testing.T) {
	db, _ := seededDB(t)

	out, err := execute(t, nil, "stories", "--db", db, "--date", testDate)
	require.NoError(t, err)
	assert.Contains(t, out, "0  free")
	assert.Contains(t, out, "The Crystal Cave")
	assert.Contains(t, out, "4  subscription")
	assert.Contains(t, out, "The Phoenix Gate")

	out, err = execute(t, nil, "stories", "--db", db, "--date", "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, "No stories published for 2024-01-02.\n", out)
}

func TestStoriesCommand_JSON(t *testing.T) {
	db, _ := seededDB(t)

	out, err := execute(t, nil, "stories", "--db", db, "--date", testDate, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data []storyRow `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 5)
	for i, row := range resp.Data {
		assert.Equal(t, i, row.Position)
	}
	assert.Equal(t, "ad", string(resp.Data[2].Tier))
}

func TestStoriesCommand_MissingDatabase(t *testing.T) {
	_, err := execute(t, nil, "stories", "--db", filepath.Join(t.TempDir(), "missing.db"), "--date", testDate)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}
