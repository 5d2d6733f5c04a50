package buckets

import (
	"testing"
	"time"

	"nexus-api/internal/shared"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) (*UsageCache, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewUsageCache(zap.NewNop().Sugar(), db), mock
}

func rec(id string) *shared.RequestRecord {
	return &shared.RequestRecord{
		RequestID:    id,
		CallerID:     "user_1",
		Model:        "m",
		ChargedCents: 2,
		Completed:    true,
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestFlushWhenLastRequestFinishes(t *testing.T) {
	c, mock := newTestCache(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_request").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO daily_usage").
		WithArgs("2026-01-02", "user_1", "m", 1, 2, 0, 0, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c.AddInFlightToBucket("user_1")
	c.AddRequestToBucket("user_1", rec("req_1"))
	c.Shutdown()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestBucketHeldWhileRequestsInFlight(t *testing.T) {
	c, mock := newTestCache(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_request").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO daily_usage").
		WithArgs("2026-01-02", "user_1", "m", 2, 4, 0, 0, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c.AddInFlightToBucket("user_1")
	c.AddInFlightToBucket("user_1")
	c.AddRequestToBucket("user_1", rec("req_1"))

	c.mu.Lock()
	b := c.buckets["user_1"]
	held := b != nil && len(b.records) == 1 && b.timer != nil
	c.mu.Unlock()
	if !held {
		t.Fatalf("bucket should wait for the second request")
	}

	c.AddRequestToBucket("user_1", rec("req_2"))
	c.Shutdown()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRemovedInFlightWritesNothing(t *testing.T) {
	c, mock := newTestCache(t)

	c.AddInFlightToBucket("user_1")
	c.RemoveInFlightFromBucket("user_1")
	c.Shutdown()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no statements expected: %v", err)
	}
	if d := c.Flush("missing"); d != 0 {
		t.Fatalf("flushing an unknown caller should be a no-op, got %v", d)
	}
}

func TestFlushWhileKilledAsksForRetry(t *testing.T) {
	c, _ := newTestCache(t)
	c.mu.Lock()
	c.getBucket("user_1")
	c.killedBuckets["user_1"] = &bucket{}
	c.mu.Unlock()

	if d := c.Flush("user_1"); d != shared.BucketRetryDelay {
		t.Fatalf("expected retry delay, got %v", d)
	}
}
