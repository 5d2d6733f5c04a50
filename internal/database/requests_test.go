package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"nexus-api/internal/shared"

	"github.com/DATA-DOG/go-sqlmock"
)

func record(id, model string, cents int64, canceled bool) *shared.RequestRecord {
	return &shared.RequestRecord{
		RequestID:       id,
		CallerID:        "user_1",
		IdentitySource:  "verified",
		Mode:            "tutor",
		Model:           model,
		Stream:          true,
		ChargedCents:    cents,
		TimeToFirstByte: 200 * time.Millisecond,
		TotalTime:       2 * time.Second,
		Completed:       !canceled,
		Canceled:        canceled,
		CreatedAt:       time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC),
	}
}

func TestSaveRequestsAggregates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	records := map[string]*shared.RequestRecord{
		"req_b": record("req_b", "openai/gpt-4o-mini", 2, true),
		"req_a": record("req_a", "openai/gpt-4o-mini", 2, false),
	}
	created := records["req_a"].CreatedAt

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_request").
		WithArgs(
			"req_a", "user_1", "verified", "tutor", "openai/gpt-4o-mini", true, int64(2), int64(200), int64(2000), true, false, created,
			"req_b", "user_1", "verified", "tutor", "openai/gpt-4o-mini", true, int64(2), int64(200), int64(2000), false, true, created,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO daily_usage").
		WithArgs("2026-03-01", "user_1", "openai/gpt-4o-mini", uint64(2), int64(4), uint64(1), int64(200), int64(2000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	err = ExecuteTransaction(ctx, db, []func(*sql.Tx) error{
		func(tx *sql.Tx) error { return SaveRequests(ctx, tx, records) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveRequestsEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()
	ctx := context.Background()
	err = ExecuteTransaction(ctx, db, []func(*sql.Tx) error{
		func(tx *sql.Tx) error { return SaveRequests(ctx, tx, nil) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no statements expected: %v", err)
	}
}

func TestExecuteTransactionRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_request").WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	ctx := context.Background()
	records := map[string]*shared.RequestRecord{"req_a": record("req_a", "m", 2, false)}
	err = ExecuteTransaction(ctx, db, []func(*sql.Tx) error{
		func(tx *sql.Tx) error { return SaveRequests(ctx, tx, records) },
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
