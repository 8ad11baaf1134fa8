// Package store implements C3: the polymorphic, durable job store behind
// the three interchangeable SQL backends spec.md §4.3 names. Operation
// semantics (reuse-window dedup, monotone progress, at-most-one open batch
// per user, claim-once dispatch) are identical across backends; only DDL
// syntax, placeholder style, and the claim_next locking primitive vary
// (isolated in dialect.go/sqlite.go/postgres.go/mysql.go).
//
// Grounded on internal/db/{db,migrations,jobs}.go in the teacher.
package store

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zonemaster/broker/internal/fingerprint"
	"github.com/zonemaster/broker/internal/models"
)

// ErrNotFound is returned by ReadTest and similar lookups when no row
// matches.
var ErrNotFound = errors.New("store: not found")

// ErrOpenBatch is the user-error CreateBatch returns when the user already
// has an open batch (invariant 5, spec.md §3).
type ErrOpenBatch struct {
	BatchID      int64
	CreationTime time.Time
}

func (e *ErrOpenBatch) Error() string { return "Batch job still running" }

// ErrBadCredentials is the user-error CreateBatch/VerifyUser-backed flows
// return for a missing/mismatched username+api-key pair.
var ErrBadCredentials = errors.New("invalid username or api key")

// ErrNotClaimed is StoreResults's internal error when a Test's start_time
// has never been set (spec.md §4.3.2).
var ErrNotClaimed = errors.New("store: test has not been claimed")

// Engine names the three interchangeable backends (spec.md §4.3).
type Engine string

const (
	EngineSQLite   Engine = "sqlite"
	EnginePostgres Engine = "postgres"
	EngineMySQL    Engine = "mysql"
)

// Store is the concrete, dialect-parameterized implementation of the C3
// contract (spec.md §4.3.2).
type Store struct {
	db      *sql.DB
	dialect *dialect
	engine  Engine
}

// Open connects to the named engine's dsn, applies pragmas where relevant,
// and runs all pending migrations.
func Open(engine Engine, dsn string) (*Store, error) {
	var driverName string
	var d *dialect
	switch engine {
	case EngineSQLite:
		driverName, d = sqliteDriverName, sqliteDialect
	case EnginePostgres:
		driverName, d = postgresDriverName, postgresDialect
	case EngineMySQL:
		driverName, d = mysqlDriverName, mysqlDialect
	default:
		return nil, fmt.Errorf("store: unknown engine %q", engine)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", engine, err)
	}
	if engine == EngineSQLite {
		// modernc.org/sqlite serializes writes through the connection, not
		// through a server lock manager; one open connection in WAL mode
		// is how the teacher's internal/db/db.go gets safe concurrent
		// reads without a write race.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: apply pragmas: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", engine, err)
	}
	if err := Migrate(db, d); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: d, engine: engine}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ph(i int) string { return s.dialect.placeholder(i) }

// insertReturningID runs an INSERT and returns the new row's id, using
// RETURNING on dialects that need it (Postgres) and sql.Result.LastInsertId
// on the others.
func (s *Store) insertReturningID(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	if s.dialect.returningIDClause != "" {
		var id int64
		err := tx.QueryRowContext(ctx, query+" "+s.dialect.returningIDClause, args...).Scan(&id)
		return id, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// CreateTest implements spec.md §4.3.2's create_test. params must already
// be normalized (internal/fingerprint.Normalize); CreateTest computes the
// fingerprint itself so that the reuse lookup and the stored row always
// agree.
//
// The first insert attempt for a fresh row uses id = testIDOf(fp), matching
// spec.md §5's description of two concurrent create_test calls for the same
// fingerprint colliding on hash_id and one of them finding the other's
// committed row via the retry's lookup branch. A collision whose retry
// still decides to insert (the lookup found an old, no-longer-reusable row
// for the same fingerprint, not a concurrent winner) is a permanent
// collision against a dead row, not a race: fingerprint is the reuse key,
// hash_id only needs to be unique per row, so that retry mixes in random
// entropy before inserting again.
func (s *Store) CreateTest(ctx context.Context, params models.Params, priority, queue int, reuseWindow time.Duration) (string, error) {
	fp := fingerprintOf(params)
	id := testIDOf(fp)
	for attempt := 0; attempt < 3; attempt++ {
		gotID, err := s.createTestOnce(ctx, params, fp, id, priority, queue, reuseWindow)
		if err == nil {
			return gotID, nil
		}
		if s.dialect.isUniqueViolation(err, "hash_id") {
			nextID, rerr := randomizedTestID(fp)
			if rerr != nil {
				return "", rerr
			}
			id = nextID
			continue
		}
		return "", err
	}
	return "", fmt.Errorf("store: create_test: exhausted retries on hash_id collision")
}

func (s *Store) createTestOnce(ctx context.Context, params models.Params, fp uint64, id string, priority, queue int, reuseWindow time.Duration) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: create_test begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT hash_id, creation_time, progress FROM test_results WHERE fingerprint = %s ORDER BY id DESC LIMIT 1`,
		s.ph(1)), int64(fp))
	var existingID, createdAtStr string
	var progress int
	switch err := row.Scan(&existingID, &createdAtStr, &progress); err {
	case nil:
		createdAt, perr := parseTime(createdAtStr)
		if perr != nil {
			return "", fmt.Errorf("store: parse creation_time: %w", perr)
		}
		if progress < 100 || time.Since(createdAt) <= reuseWindow {
			if err := tx.Commit(); err != nil {
				return "", err
			}
			return existingID, nil
		}
	case sql.ErrNoRows:
		// fall through to insert
	default:
		return "", fmt.Errorf("store: create_test lookup: %w", err)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("store: marshal params: %w", err)
	}
	undelegated := len(params.NameServers) > 0 || len(params.DSInfo) > 0
	now := formatTime(time.Now())
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO test_results (hash_id, fingerprint, domain, batch_id, creation_time, progress, params, undelegated, priority, queue)
		 VALUES (%s, %s, %s, NULL, %s, 0, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8)),
		id, int64(fp), params.Domain, now, string(paramsJSON), boolDBValue(s.dialect, undelegated), priority, queue)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: create_test commit: %w", err)
	}
	return id, nil
}

// ReadTest implements spec.md §4.3.2's read_test. It never fails if the id
// exists: if progress < 100, Results is empty and Params reflects the
// in-flight submission (invariant 4).
func (s *Store) ReadTest(ctx context.Context, testID string) (models.Test, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, hash_id, fingerprint, domain, batch_id, creation_time, start_time, end_time, progress, params, results, undelegated, priority, queue
		 FROM test_results WHERE hash_id = %s`, s.ph(1)), testID)
	return scanTest(row)
}

func scanTest(row *sql.Row) (models.Test, error) {
	var t models.Test
	var batchID sql.NullInt64
	var createdAt string
	var startTime, endTime sql.NullString
	var paramsJSON string
	var resultsJSON sql.NullString
	var undelegatedRaw any
	var fp int64

	if err := row.Scan(&t.SeqID, &t.ID, &fp, &t.Domain, &batchID, &createdAt, &startTime, &endTime,
		&t.Progress, &paramsJSON, &resultsJSON, &undelegatedRaw, &t.Priority, &t.Queue); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Test{}, ErrNotFound
		}
		return models.Test{}, fmt.Errorf("store: scan test: %w", err)
	}
	t.Fingerprint = uint64(fp)
	if batchID.Valid {
		v := batchID.Int64
		t.BatchID = &v
	}
	ts, err := parseTime(createdAt)
	if err != nil {
		return models.Test{}, fmt.Errorf("store: parse creation_time: %w", err)
	}
	t.CreatedAt = ts
	if startTime.Valid {
		v, err := parseTime(startTime.String)
		if err != nil {
			return models.Test{}, fmt.Errorf("store: parse start_time: %w", err)
		}
		t.StartTime = &v
	}
	if endTime.Valid {
		v, err := parseTime(endTime.String)
		if err != nil {
			return models.Test{}, fmt.Errorf("store: parse end_time: %w", err)
		}
		t.EndTime = &v
	}
	if err := json.Unmarshal([]byte(paramsJSON), &t.Params); err != nil {
		return models.Test{}, fmt.Errorf("store: unmarshal params: %w", err)
	}
	t.Undelegated = truthyDBValue(undelegatedRaw)
	if t.Progress >= 100 && resultsJSON.Valid {
		if err := json.Unmarshal([]byte(resultsJSON.String), &t.Results); err != nil {
			return models.Test{}, fmt.Errorf("store: unmarshal results: %w", err)
		}
	}
	return t, nil
}

// SetProgress implements spec.md §4.3.2's set_progress: a monotonic write
// (p < current is a silent no-op, not an error); p == 100 atomically sets
// end_time and stores results in the same statement.
func (s *Store) SetProgress(ctx context.Context, testID string, p int, results []models.ResultEntry) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("store: progress out of range: %d", p)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT progress FROM test_results WHERE hash_id = %s`, s.ph(1)), testID).
		Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if p <= current {
		return tx.Commit() // no-op per invariant 3, not an error
	}
	if p == 100 {
		resultsJSON, err := json.Marshal(withoutDebugLevels(results))
		if err != nil {
			return fmt.Errorf("store: marshal results: %w", err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE test_results SET progress = %s, end_time = %s, results = %s WHERE hash_id = %s`,
			s.ph(1), s.ph(2), s.ph(3), s.ph(4)),
			100, formatTime(time.Now()), string(resultsJSON), testID); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE test_results SET progress = %s WHERE hash_id = %s`, s.ph(1), s.ph(2)), p, testID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// StoreResults implements spec.md §4.3.2's store_results: rejected
// (internal error) if the Test has never been claimed.
func (s *Store) StoreResults(ctx context.Context, testID string, results []models.ResultEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var startTime sql.NullString
	if err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT start_time FROM test_results WHERE hash_id = %s`, s.ph(1)), testID).
		Scan(&startTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if !startTime.Valid {
		return ErrNotClaimed
	}
	resultsJSON, err := json.Marshal(withoutDebugLevels(results))
	if err != nil {
		return fmt.Errorf("store: marshal results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE test_results SET results = %s WHERE hash_id = %s`,
		s.ph(1), s.ph(2)), string(resultsJSON), testID); err != nil {
		return err
	}
	return tx.Commit()
}

// History implements spec.md §4.3.2's history.
func (s *Store) History(ctx context.Context, domain string, offset, limit int, filter models.HistoryFilter) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT hash_id, creation_time, progress, results, undelegated FROM test_results WHERE domain = ` + s.ph(1)
	args := []any{domain}
	switch filter {
	case models.HistoryDelegated:
		args = append(args, boolDBValue(s.dialect, false))
		query += fmt.Sprintf(` AND undelegated = %s`, s.ph(len(args)))
	case models.HistoryUndelegated:
		args = append(args, boolDBValue(s.dialect, true))
		query += fmt.Sprintf(` AND undelegated = %s`, s.ph(len(args)))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY creation_time DESC LIMIT %s OFFSET %s`, s.ph(len(args)-1), s.ph(len(args)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var hashID, createdAt string
		var progress int
		var resultsJSON sql.NullString
		var undelegatedRaw any
		if err := rows.Scan(&hashID, &createdAt, &progress, &resultsJSON, &undelegatedRaw); err != nil {
			return nil, fmt.Errorf("store: scan history row: %w", err)
		}
		ts, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse creation_time: %w", err)
		}
		entry := models.HistoryEntry{ID: hashID, CreatedAt: ts, Undelegated: truthyDBValue(undelegatedRaw), OverallResult: "ok"}
		if progress >= 100 && resultsJSON.Valid {
			var results []models.ResultEntry
			if err := json.Unmarshal([]byte(resultsJSON.String), &results); err != nil {
				return nil, fmt.Errorf("store: unmarshal history results: %w", err)
			}
			entry.OverallResult = maxSeverity(results).OverallResult()
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// withoutDebugLevels drops entries whose level lies outside INFO..CRITICAL
// (the engine's DEBUG levels), so they are never stored.
func withoutDebugLevels(results []models.ResultEntry) []models.ResultEntry {
	var out []models.ResultEntry
	for _, r := range results {
		if r.Level >= models.SeverityInfo && r.Level <= models.SeverityCritical {
			out = append(out, r)
		}
	}
	return out
}

func maxSeverity(results []models.ResultEntry) models.Severity {
	max := models.SeverityInfo
	for _, r := range results {
		if r.Level > max {
			max = r.Level
		}
	}
	return max
}

// CreateBatch implements spec.md §4.3.2's create_batch: verify credentials,
// verify no open batch exists, insert the batch, and insert one Test per
// domain, all in one transaction (invariant 5, spec.md §5).
func (s *Store) CreateBatch(ctx context.Context, username, apiKey string, testParams models.Params, domains []string, priority, queue int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var storedKey string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT api_key FROM users WHERE username = %s`, s.ph(1)), username).Scan(&storedKey)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && storedKey != apiKey) {
		return 0, ErrBadCredentials
	}
	if err != nil {
		return 0, err
	}

	var openBatchID int64
	var openCreatedAt string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT b.id, b.creation_time FROM batch_jobs b
		WHERE b.username = %s
		AND EXISTS (SELECT 1 FROM test_results t WHERE t.batch_id = b.id AND t.progress < 100)
		ORDER BY b.id DESC LIMIT 1`, s.ph(1)), username).Scan(&openBatchID, &openCreatedAt)
	if err == nil {
		createdAt, perr := parseTime(openCreatedAt)
		if perr != nil {
			return 0, perr
		}
		return 0, &ErrOpenBatch{BatchID: openBatchID, CreationTime: createdAt}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	now := formatTime(time.Now())
	batchID, err := s.insertReturningID(ctx, tx, fmt.Sprintf(`INSERT INTO batch_jobs (username, creation_time) VALUES (%s, %s)`,
		s.ph(1), s.ph(2)), username, now)
	if err != nil {
		return 0, fmt.Errorf("store: insert batch: %w", err)
	}

	for _, domain := range domains {
		p := testParams
		p.Domain = domain
		fp := fingerprintOf(p)
		paramsJSON, err := json.Marshal(p)
		if err != nil {
			return 0, fmt.Errorf("store: marshal batch test params: %w", err)
		}
		undelegated := len(p.NameServers) > 0 || len(p.DSInfo) > 0
		if err := s.insertBatchTestRow(ctx, tx, fp, domain, batchID, now, string(paramsJSON),
			boolDBValue(s.dialect, undelegated), priority, queue); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return batchID, nil
}

// insertBatchTestRow inserts one domain's row for CreateBatch, retrying up
// to 3 times on a hash_id collision the same way CreateTest does: the first
// attempt uses the deterministic testIDOf(fp), later attempts fold in
// randomizedTestID(fp). CreateBatch holds all domains in one outer
// transaction, so a failed INSERT would otherwise abort that whole
// transaction on Postgres; each attempt is bounded by its own SAVEPOINT so
// only the failed insert rolls back, not the batch_jobs row or the domains
// already inserted.
func (s *Store) insertBatchTestRow(ctx context.Context, tx *sql.Tx, fp uint64, domain string, batchID int64, now, paramsJSON string, undelegated any, priority, queue int) error {
	id := testIDOf(fp)
	const savepoint = "batch_test_row"
	for attempt := 0; attempt < 3; attempt++ {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return fmt.Errorf("store: savepoint: %w", err)
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO test_results (hash_id, fingerprint, domain, batch_id, creation_time, progress, params, undelegated, priority, queue)
			 VALUES (%s, %s, %s, %s, %s, 0, %s, %s, %s, %s)`,
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9)),
			id, int64(fp), domain, batchID, now, paramsJSON, undelegated, priority, queue)
		if err == nil {
			_, relErr := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint)
			return relErr
		}
		if !s.dialect.isUniqueViolation(err, "hash_id") {
			return err
		}
		if _, rerr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rerr != nil {
			return fmt.Errorf("store: rollback to savepoint: %w", rerr)
		}
		nextID, rerr := randomizedTestID(fp)
		if rerr != nil {
			return rerr
		}
		id = nextID
	}
	return fmt.Errorf("store: create_batch: exhausted retries on hash_id collision for %s", domain)
}

// BatchStatus implements spec.md §4.3.2's batch_status.
func (s *Store) BatchStatus(ctx context.Context, batchID int64) (models.BatchStatus, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT hash_id, progress FROM test_results WHERE batch_id = %s`, s.ph(1)), batchID)
	if err != nil {
		return models.BatchStatus{}, err
	}
	defer rows.Close()
	var status models.BatchStatus
	for rows.Next() {
		var id string
		var progress int
		if err := rows.Scan(&id, &progress); err != nil {
			return models.BatchStatus{}, err
		}
		if progress >= 100 {
			status.NbFinished++
			status.FinishedTestIDs = append(status.FinishedTestIDs, id)
		} else {
			status.NbRunning++
		}
	}
	return status, rows.Err()
}

// AddUser implements spec.md §4.3.2's add_user: idempotent, normalized to
// {0, 1} regardless of whether the backend surfaces a unique violation as
// an exception or a row count. A username that already exists with a
// different key also returns (0, nil) at this layer — distinguishing that
// from the same-pair no-op is the caller's job (spec.md §4.3.2), typically
// via a follow-up VerifyUser call.
func (s *Store) AddUser(ctx context.Context, username, apiKey string) (int, error) {
	_, err := s.userAPIKey(ctx, username)
	if err == nil {
		return 0, nil // already exists, same or different key: idempotent no-op
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO users (username, api_key) VALUES (%s, %s)`,
		s.ph(1), s.ph(2)), username, apiKey)
	if err != nil {
		if s.dialect.isUniqueViolation(err, "username") {
			return 0, nil // lost the race to a concurrent insert
		}
		return 0, err
	}
	return 1, nil
}

func (s *Store) userAPIKey(ctx context.Context, username string) (string, error) {
	var apiKey string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT api_key FROM users WHERE username = %s`, s.ph(1)), username).Scan(&apiKey)
	return apiKey, err
}

// VerifyUser implements spec.md §4.3.2's verify_user: constant-time
// comparison against the stored key.
func (s *Store) VerifyUser(ctx context.Context, username, apiKey string) (bool, error) {
	stored, err := s.userAPIKey(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(apiKey)) == 1, nil
}

func fingerprintOf(p models.Params) uint64 { return fingerprint.Fingerprint(p) }

func testIDOf(fp uint64) string { return fingerprint.TestID(fp) }

// randomizedTestID derives a hash_id distinct from testIDOf(fp) alone by
// folding in 8 random bytes, for the retry path after a non-concurrent
// hash_id collision (a dead row sharing the fingerprint). fp still
// participates so the id space stays within fingerprint.TestID's domain;
// the random component is what guarantees a fresh row gets a fresh id.
func randomizedTestID(fp uint64) (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("store: generate hash_id entropy: %w", err)
	}
	nonce := binary.BigEndian.Uint64(buf[:])
	return fingerprint.TestID(fp ^ nonce), nil
}

func boolDBValue(d *dialect, v bool) any {
	if d.boolType == "BOOLEAN" {
		return v
	}
	if v {
		return 1
	}
	return 0
}

func truthyDBValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case []byte:
		return len(t) == 1 && (t[0] == '1' || t[0] == 1)
	default:
		return false
	}
}
