package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonemaster/broker/internal/fingerprint"
	"github.com/zonemaster/broker/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(EngineSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleParams(domain string) models.Params {
	return fingerprint.Normalize(models.Params{Domain: domain, Profile: "default"})
}

func TestCreateTest_DedupsIdenticalParams(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.CreateTest(ctx, sampleParams("example.com"), 10, 0, time.Hour)
	require.NoError(t, err)

	id2, err := s.CreateTest(ctx, sampleParams("example.com"), 10, 0, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestCreateTest_ReissuesAfterReuseWindowOnceFinished(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.CreateTest(ctx, sampleParams("example.org"), 10, 0, 0)
	require.NoError(t, err)
	require.NoError(t, s.SetProgress(ctx, id1, 100, nil))

	id2, err := s.CreateTest(ctx, sampleParams("example.org"), 10, 0, 0)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}

func TestSetProgress_IsMonotone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTest(ctx, sampleParams("example.net"), 10, 0, time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.SetProgress(ctx, id, 50, nil))
	require.NoError(t, s.SetProgress(ctx, id, 20, nil)) // no-op, not an error

	test, err := s.ReadTest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 50, test.Progress)
}

func TestSetProgress_Completion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTest(ctx, sampleParams("example.net"), 10, 0, time.Hour)
	require.NoError(t, err)

	results := []models.ResultEntry{{Module: "dns", Tag: "OK", Level: models.SeverityInfo, Timestamp: 1}}
	require.NoError(t, s.SetProgress(ctx, id, 100, results))

	test, err := s.ReadTest(ctx, id)
	require.NoError(t, err)
	assert.True(t, test.Finished())
	assert.NotNil(t, test.EndTime)
	require.Len(t, test.Results, 1)
	assert.Equal(t, "OK", test.Results[0].Tag)
}

func TestStoreResults_RequiresClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTest(ctx, sampleParams("example.net"), 10, 0, time.Hour)
	require.NoError(t, err)

	err = s.StoreResults(ctx, id, []models.ResultEntry{{Module: "dns", Tag: "OK"}})
	assert.ErrorIs(t, err, ErrNotClaimed)

	claimedID, err := s.ClaimNext(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, id, claimedID)

	assert.NoError(t, s.StoreResults(ctx, id, []models.ResultEntry{{Module: "dns", Tag: "OK"}}))
}

func TestClaimNext_NeverReturnsSameTestTwice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTest(ctx, sampleParams("claim-once.example"), 10, 0, time.Hour)
	require.NoError(t, err)

	first, err := s.ClaimNext(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, id, first)

	_, err = s.ClaimNext(ctx, 0, 0)
	assert.ErrorIs(t, err, ErrNoWork)
}

func TestClaimNext_PrefersHigherPriority(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low, err := s.CreateTest(ctx, sampleParams("low.example"), 1, 0, time.Hour)
	require.NoError(t, err)
	high, err := s.CreateTest(ctx, sampleParams("high.example"), 100, 0, time.Hour)
	require.NoError(t, err)

	claimed, err := s.ClaimNext(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, high, claimed)

	claimed, err = s.ClaimNext(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, low, claimed)
}

func TestClaimNext_RespectsMaxConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateTest(ctx, sampleParams("a.example"), 10, 0, time.Hour)
	require.NoError(t, err)
	second, err := s.CreateTest(ctx, sampleParams("b.example"), 10, 0, time.Hour)
	require.NoError(t, err)

	first, err := s.ClaimNext(ctx, 0, 1)
	require.NoError(t, err)

	_, err = s.ClaimNext(ctx, 0, 1)
	assert.ErrorIs(t, err, ErrNoWork, "running count already at max_concurrent=1")

	require.NoError(t, s.SetProgress(ctx, first, 100, nil))

	claimed, err := s.ClaimNext(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, second, claimed, "slot freed once the first test finished")
}

func TestCreateBatch_RejectsBadCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.AddUser(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.CreateBatch(ctx, "alice", "wrong", sampleParams(""), []string{"a.example"}, 10, 0)
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestCreateBatch_RejectsSecondOpenBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddUser(ctx, "bob", "secret")
	require.NoError(t, err)

	_, err = s.CreateBatch(ctx, "bob", "secret", sampleParams(""), []string{"a.example", "b.example"}, 10, 0)
	require.NoError(t, err)

	_, err = s.CreateBatch(ctx, "bob", "secret", sampleParams(""), []string{"c.example"}, 10, 0)
	var openErr *ErrOpenBatch
	assert.ErrorAs(t, err, &openErr)
}

func TestCreateBatch_ReissuesIdOnFingerprintCollision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	existingID, err := s.CreateTest(ctx, sampleParams("collide.example"), 10, 0, time.Hour)
	require.NoError(t, err)

	_, err = s.AddUser(ctx, "erin", "secret")
	require.NoError(t, err)

	batchID, err := s.CreateBatch(ctx, "erin", "secret", sampleParams(""), []string{"collide.example"}, 10, 0)
	require.NoError(t, err)

	status, err := s.BatchStatus(ctx, batchID)
	require.NoError(t, err)
	require.Equal(t, 1, status.NbRunning+status.NbFinished)

	rows, err := s.db.QueryContext(ctx, `SELECT hash_id FROM test_results WHERE batch_id = ?`, batchID)
	require.NoError(t, err)
	defer rows.Close()
	var batchTestID string
	require.True(t, rows.Next())
	require.NoError(t, rows.Scan(&batchTestID))

	assert.NotEqual(t, existingID, batchTestID, "batch row must not collide with the pre-existing same-fingerprint row's id")
}

func TestBatchStatus_TracksFinishedTests(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddUser(ctx, "carol", "secret")
	require.NoError(t, err)

	batchID, err := s.CreateBatch(ctx, "carol", "secret", sampleParams(""), []string{"x.example", "y.example"}, 10, 0)
	require.NoError(t, err)

	status, err := s.BatchStatus(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.NbRunning)
	assert.Equal(t, 0, status.NbFinished)

	id, err := s.ClaimNext(ctx, 0, 0)
	require.NoError(t, err)
	require.NoError(t, s.SetProgress(ctx, id, 100, nil))

	status, err = s.BatchStatus(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.NbRunning)
	assert.Equal(t, 1, status.NbFinished)
	assert.Contains(t, status.FinishedTestIDs, id)
}

func TestAddUser_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.AddUser(ctx, "dave", "key1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.AddUser(ctx, "dave", "key1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	ok, err := s.VerifyUser(ctx, "dave", "key1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddUser_DifferentKeyIsANoOpCallerMustDetect(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.AddUser(ctx, "dave", "key1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// AddUser itself normalizes both the same-pair and conflicting-pair
	// cases to (0, nil); spec.md §4.3.2 leaves distinguishing them to the
	// caller, via a follow-up VerifyUser check against the stored key.
	n, err = s.AddUser(ctx, "dave", "key2")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	ok, err := s.VerifyUser(ctx, "dave", "key1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.VerifyUser(ctx, "dave", "key2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyUser_RejectsUnknownUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.VerifyUser(ctx, "nobody", "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistory_FiltersByUndelegated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	delegated := sampleParams("delegated.example")
	undelegated := sampleParams("delegated.example")
	undelegated.NameServers = []models.NameServer{{NS: "ns1.example.", IP: "192.0.2.1"}}

	_, err := s.CreateTest(ctx, delegated, 10, 0, time.Hour)
	require.NoError(t, err)
	_, err = s.CreateTest(ctx, undelegated, 10, 0, time.Hour)
	require.NoError(t, err)

	all, err := s.History(ctx, "delegated.example", 0, 10, models.HistoryAll)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	undel, err := s.History(ctx, "delegated.example", 0, 10, models.HistoryUndelegated)
	require.NoError(t, err)
	assert.Len(t, undel, 1)
}

func TestReadTest_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReadTest(context.Background(), "0000000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}
