package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/storygate/internal/story"
)

// RecordUnlock appends an unlock for (user, story).
// Uses ON CONFLICT DO NOTHING - the first grant for a pair wins and a
// duplicate write is silently ignored.
//
// Note: The story referenced by StoryID must exist (foreign key constraint).
func (s *Store) RecordUnlock(ctx context.Context, u story.Unlock) error {
	if u.UserID == "" || u.StoryID == "" {
		return fmt.Errorf("record unlock: user and story ids are required")
	}
	if !u.Method.Valid() {
		return fmt.Errorf("record unlock: invalid method %q", u.Method)
	}
	at := u.UnlockedAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unlocks (user_id, story_id, method, unlocked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, story_id) DO NOTHING
	`, u.UserID, u.StoryID, string(u.Method), at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record unlock: %w", err)
	}
	return nil
}

// ListUnlocks returns every unlock of userID, oldest first.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListUnlocks(ctx context.Context, userID string) ([]story.Unlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, story_id, method, unlocked_at
		FROM unlocks
		WHERE user_id = ?
		ORDER BY unlocked_at ASC, story_id COLLATE BINARY ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query unlocks: %w", err)
	}
	defer rows.Close()

	unlocks := []story.Unlock{}
	for rows.Next() {
		var (
			u      story.Unlock
			method string
			at     string
		)
		if err := rows.Scan(&u.UserID, &u.StoryID, &method, &at); err != nil {
			return nil, fmt.Errorf("scan unlock: %w", err)
		}
		if u.Method, err = story.ParseMethod(method); err != nil {
			return nil, fmt.Errorf("scan unlock: %w", err)
		}
		if u.UnlockedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("scan unlock: parse unlocked_at: %w", err)
		}
		unlocks = append(unlocks, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unlocks: %w", err)
	}
	return unlocks, nil
}

// Unlocks returns every unlock of userID keyed by story ID.
func (s *Store) Unlocks(ctx context.Context, userID string) (map[string]story.Unlock, error) {
	list, err := s.ListUnlocks(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]story.Unlock, len(list))
	for _, u := range list {
		out[u.StoryID] = u
	}
	return out, nil
}
