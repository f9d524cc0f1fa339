package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storygate/internal/story"
)

func TestPutCohort_InsertsAndLists(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	cohort := createTestCohort(t, "2024-01-01", 5)

	n, err := s.PutCohort(ctx, cohort)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err := s.ListForDate(ctx, "2024-01-01")
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, st := range got {
		assert.Equal(t, i, st.Position)
		assert.Equal(t, cohort[i], st)
	}
}

func TestPutCohort_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	cohort := createTestCohort(t, "2024-01-01", 5)

	_, err := s.PutCohort(ctx, cohort)
	require.NoError(t, err)

	n, err := s.PutCohort(ctx, cohort)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "regenerating the same cohort must not duplicate stories")

	got, err := s.ListForDate(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestPutCohort_PositionCollisionAbortsBatch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, err := s.PutCohort(ctx, createTestCohort(t, "2024-01-01", 2))
	require.NoError(t, err)

	clash := story.Story{ID: "other", PublishDate: "2024-01-01", Position: 1, Title: "Other", Content: "x"}
	fresh := story.Story{ID: "fresh", PublishDate: "2024-01-01", Position: 2, Title: "Fresh", Content: "y"}
	_, err = s.PutCohort(ctx, []story.Story{fresh, clash})
	require.Error(t, err)

	got, err := s.ListForDate(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.Len(t, got, 2, "failed batch must roll back")
}

func TestPutCohort_RequiresID(t *testing.T) {
	s := createTestStore(t)
	_, err := s.PutCohort(context.Background(), []story.Story{{PublishDate: "2024-01-01"}})
	require.Error(t, err)
}

func TestListForDate_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	got, err := s.ListForDate(context.Background(), "1999-12-31")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestReadStory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	cohort := createTestCohort(t, "2024-01-01", 3)
	_, err := s.PutCohort(ctx, cohort)
	require.NoError(t, err)

	got, err := s.ReadStory(ctx, cohort[2].ID)
	require.NoError(t, err)
	assert.Equal(t, cohort[2], got)

	_, err = s.ReadStory(ctx, "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestDates_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for _, d := range []string{"2024-01-01", "2024-01-03", "2024-01-02"} {
		_, err := s.PutCohort(ctx, createTestCohort(t, d, 1))
		require.NoError(t, err)
	}

	dates, err := s.Dates(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-03", "2024-01-02"}, dates)
}
