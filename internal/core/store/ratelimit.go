package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faultline/faultline/internal/core"
)

// GetLimiterState returns the limiter state stored under key, or nil when none
// has been written.
func (s *Store) GetLimiterState(ctx context.Context, key string) (*core.LimiterState, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("limiter key is required")
	}

	var raw string
	row := s.DB.QueryRowContext(ctx, `SELECT state FROM rate_limiters WHERE key = ?`, key)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limiter: %w", err)
	}

	var state core.LimiterState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode rate limiter %s: %w", key, err)
	}
	return &state, nil
}

// UpdateLimiterState upserts the limiter state under key.
func (s *Store) UpdateLimiterState(ctx context.Context, key string, state *core.LimiterState) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("limiter key is required")
	}
	if state == nil {
		return errors.New("rate limit state is required")
	}

	doc := *state
	doc.PersistenceFile = key
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode rate limiter: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO rate_limiters (key, state, sent_count, triggered, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			state = excluded.state,
			sent_count = excluded.sent_count,
			triggered = excluded.triggered,
			updated_at = excluded.updated_at
	`, key, string(data), len(doc.SentNotifications), boolToInt(doc.Triggered), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("store rate limiter: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
