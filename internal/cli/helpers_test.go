package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/storygate/internal/store"
	"github.com/roach88/storygate/internal/story"
)

const testDate = "2024-01-01"

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// seededDB publishes the built-in lineup for testDate and returns the
// database path and the stories by position.
func seededDB(t *testing.T) (string, []story.Story) {
	t.Helper()
	db := filepath.Join(t.TempDir(), "storygate.db")
	out, err := execute(t, nil, "generate", "--db", db, "--date", testDate)
	require.NoError(t, err)
	require.True(t, strings.Contains(out, "5 new of 5"), out)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	stories, err := st.ListForDate(context.Background(), testDate)
	require.NoError(t, err)
	require.Len(t, stories, story.CohortSize)
	return db, stories
}
