// Package store provides SQLite-backed durable storage for the story catalog
// and the unlock ledger.
//
// Tables:
//   - stories: published stories, one row per (publish_date, position)
//   - unlocks: append-once grants, one row per (user_id, story_id)
//
// # Idempotency
//
// Story IDs are content-addressed, so writing the same cohort twice is a
// no-op (ON CONFLICT DO NOTHING). Unlock writes are append-once: the first
// grant for a pair wins and later writes are silently ignored, which keeps
// unlocks sticky.
//
// # Deterministic Query Results
//
// Cohort queries order by position ASC, id ASC COLLATE BINARY. Unlock queries
// order by unlocked_at ASC, story_id ASC COLLATE BINARY.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Unlocks must reference a published story
//
// Timestamps are stored as RFC 3339 UTC strings with nanoseconds.
package store
