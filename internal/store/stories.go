package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/storygate/internal/story"
)

// PutCohort writes stories in a single transaction and returns how many
// rows were new. Stories whose ID already exists are silently skipped.
//
// A different story at an already-taken (publish_date, position) violates
// the UNIQUE constraint and aborts the whole batch.
func (s *Store) PutCohort(ctx context.Context, stories []story.Story) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("put cohort: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	now := time.Now().UTC().Format(time.RFC3339Nano)
	inserted := 0
	for _, st := range stories {
		if st.ID == "" {
			return 0, fmt.Errorf("put cohort: story at position %d has no id", st.Position)
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO stories (id, publish_date, position, title, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, st.ID, st.PublishDate, st.Position, st.Title, st.Content, now)
		if err != nil {
			return 0, fmt.Errorf("put cohort: insert %s: %w", st.ID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("put cohort: rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("put cohort: commit: %w", err)
	}
	return inserted, nil
}

// ListForDate returns the cohort published on date, ordered by position.
// Returns an empty slice (not nil) if nothing was published that day.
func (s *Store) ListForDate(ctx context.Context, date string) ([]story.Story, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, publish_date, position, title, content
		FROM stories
		WHERE publish_date = ?
		ORDER BY position ASC, id COLLATE BINARY ASC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	stories := []story.Story{}
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return stories, nil
}

// ReadStory retrieves a single story by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadStory(ctx context.Context, id string) (story.Story, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, publish_date, position, title, content
		FROM stories
		WHERE id = ?
	`, id)
	return scanStory(row)
}

// Dates returns the most recent publish dates, newest first.
func (s *Store) Dates(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT publish_date
		FROM stories
		ORDER BY publish_date DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer rows.Close()

	dates := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dates: %w", err)
	}
	return dates, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(r rowScanner) (story.Story, error) {
	var st story.Story
	if err := r.Scan(&st.ID, &st.PublishDate, &st.Position, &st.Title, &st.Content); err != nil {
		if err == sql.ErrNoRows {
			return story.Story{}, err
		}
		return story.Story{}, fmt.Errorf("scan story: %w", err)
	}
	return st, nil
}
