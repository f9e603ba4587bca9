package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faultline/faultline/internal/core"
)

// LimiterEntry is one stored limiter row.
type LimiterEntry struct {
	Key       string
	State     core.LimiterState
	UpdatedAt time.Time
}

// LimiterQuery selects limiter rows for admin commands.
type LimiterQuery struct {
	All    bool
	Key    string
	Prefix string
}

func (q LimiterQuery) Validate() error {
	if q.All || strings.TrimSpace(q.Key) != "" || strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --key, or --prefix")
}

func (q LimiterQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if key := strings.TrimSpace(q.Key); key != "" {
		return "WHERE key = ?", []any{key}, nil
	}
	return "WHERE key LIKE ?", []any{strings.TrimSpace(q.Prefix) + "%"}, nil
}

func (s *Store) ListLimiterStates(ctx context.Context, q LimiterQuery) ([]LimiterEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, state, updated_at
		FROM rate_limiters
		%s
		ORDER BY key
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list rate limiters: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []LimiterEntry{}
	for rows.Next() {
		var (
			key       string
			raw       string
			updatedAt int64
		)
		if err := rows.Scan(&key, &raw, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan rate limiters: %w", err)
		}

		var state core.LimiterState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, fmt.Errorf("decode rate limiter %s: %w", key, err)
		}
		entries = append(entries, LimiterEntry{Key: key, State: state, UpdatedAt: time.Unix(updatedAt, 0).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate limiters: %w", err)
	}
	return entries, nil
}

func (s *Store) CountLimiterStates(ctx context.Context, q LimiterQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	var count int
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM rate_limiters %s`, where), args...)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate limiters: %w", err)
	}
	return count, nil
}

func (s *Store) ResetLimiterStates(ctx context.Context, q LimiterQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM rate_limiters %s`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate limiters: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rate limiters: %w", err)
	}
	return affected, nil
}
