package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/roach88/storygate/internal/story"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestCohort builds a cohort with content-addressed IDs.
func createTestCohort(t *testing.T, date string, n int) []story.Story {
	t.Helper()
	stories := make([]story.Story, n)
	for i := range stories {
		title := fmt.Sprintf("Story %d", i)
		id, err := story.ID(date, i, title)
		if err != nil {
			t.Fatalf("story.ID() failed: %v", err)
		}
		stories[i] = story.Story{
			ID:          id,
			PublishDate: date,
			Position:    i,
			Title:       title,
			Content:     fmt.Sprintf("Body of story %d", i),
		}
	}
	return stories
}
