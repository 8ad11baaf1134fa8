package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoWork is returned by ClaimNext when no eligible Test is waiting.
var ErrNoWork = errors.New("store: no work available")

// ClaimNext implements spec.md §4.3.2/§4.3.3's claim_next: atomically picks
// the highest-(priority DESC, id ASC) waiting Test in queue, sets its
// start_time, and returns its id. Each backend uses the locking primitive
// spec.md names for it (§4.3.3):
//
//   - sqlite: the store opens at most one connection (see Open), so the
//     surrounding transaction already serializes every writer; no extra
//     row lock is needed.
//   - postgres: SELECT ... FOR UPDATE SKIP LOCKED, so two concurrent
//     claimers never block on each other or double-claim the same row.
//   - mysql: plain SELECT ... FOR UPDATE. InnoDB has no SKIP LOCKED before
//     8.0, so a second claimer blocks until the first's transaction
//     commits, then re-evaluates the WHERE clause and picks the next row.
//
// A claimed Test is never re-dispatched even if its worker crashes
// (invariant 7, spec.md §3): there is deliberately no stale-claim sweep.
//
// maxConcurrent caps the number of Tests already claimed but not yet
// finished (start_time set, progress < 100) on queue: once that count
// reaches maxConcurrent, ClaimNext returns ErrNoWork even if more Tests
// are waiting, until one of the running Tests finishes or maxConcurrent
// is raised. maxConcurrent <= 0 means unlimited.
func (s *Store) ClaimNext(ctx context.Context, queue, maxConcurrent int) (string, error) {
	switch s.dialect.name {
	case "sqlite":
		return s.claimNextSerialized(ctx, queue, maxConcurrent)
	case "postgres":
		return s.claimNextLocked(ctx, queue, maxConcurrent, "FOR UPDATE SKIP LOCKED")
	case "mysql":
		return s.claimNextLocked(ctx, queue, maxConcurrent, "FOR UPDATE")
	default:
		return "", fmt.Errorf("store: claim_next: unknown dialect %q", s.dialect.name)
	}
}

func (s *Store) runningCount(ctx context.Context, tx *sql.Tx, queue int) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM test_results
		WHERE queue = %s AND start_time IS NOT NULL AND progress < 100`, s.ph(1)), queue).Scan(&n)
	return n, err
}

func (s *Store) claimNextSerialized(ctx context.Context, queue, maxConcurrent int) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if maxConcurrent > 0 {
		running, err := s.runningCount(ctx, tx, queue)
		if err != nil {
			return "", fmt.Errorf("store: claim_next running count: %w", err)
		}
		if running >= maxConcurrent {
			return "", ErrNoWork
		}
	}

	var id string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT hash_id FROM test_results
		WHERE queue = %s AND start_time IS NULL
		ORDER BY priority DESC, id ASC LIMIT 1`, s.ph(1)), queue).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoWork
	}
	if err != nil {
		return "", fmt.Errorf("store: claim_next select: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE test_results SET start_time = %s WHERE hash_id = %s`,
		s.ph(1), s.ph(2)), formatTime(time.Now()), id); err != nil {
		return "", fmt.Errorf("store: claim_next update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) claimNextLocked(ctx context.Context, queue, maxConcurrent int, lockClause string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if maxConcurrent > 0 {
		running, err := s.runningCount(ctx, tx, queue)
		if err != nil {
			return "", fmt.Errorf("store: claim_next running count: %w", err)
		}
		if running >= maxConcurrent {
			return "", ErrNoWork
		}
	}

	var id string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT hash_id FROM test_results
		WHERE queue = %s AND start_time IS NULL
		ORDER BY priority DESC, id ASC LIMIT 1 `+lockClause, s.ph(1)), queue).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoWork
	}
	if err != nil {
		return "", fmt.Errorf("store: claim_next select: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE test_results SET start_time = %s WHERE hash_id = %s`,
		s.ph(1), s.ph(2)), formatTime(time.Now()), id); err != nil {
		return "", fmt.Errorf("store: claim_next update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}
