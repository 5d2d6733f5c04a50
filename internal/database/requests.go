// Package database defines the insertions and transactions to the database
package database

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"strings"

	"nexus-api/internal/shared"
)

type DailyUsage struct {
	Date             string
	CallerID         string
	Model            string
	RequestCount     uint64
	ChargedCents     int64
	CanceledRequests uint64
	TimeToFirstByte  int64
	TotalTime        int64
}

func dailyKey(date, callerID, model string) string {
	return date + "|" + callerID + "|" + model
}

// SaveRequests writes the request ledger rows and folds them into the
// per-day usage aggregate. Rows are written in request id order.
func SaveRequests(ctx context.Context, tx *sql.Tx, records map[string]*shared.RequestRecord) error {
	if len(records) == 0 {
		return nil
	}

	requestSQLStr := `INSERT INTO chat_request (
            request_id, caller_id, identity_source, mode, model, stream,
            charged_cents, time_to_first_byte, total_time, completed, canceled, created_at
        ) VALUES`

	usageSQLStr := `INSERT INTO daily_usage (
		date, caller_id, model, request_count, charged_cents, canceled_requests, time_to_first_byte, total_time
	) VALUES`

	aggregated := make(map[string]*DailyUsage)
	requestVals := []any{}
	usageVals := []any{}

	for _, id := range slices.Sorted(maps.Keys(records)) {
		r := records[id]
		date := r.CreatedAt.UTC().Format("2006-01-02")
		key := dailyKey(date, r.CallerID, r.Model)
		if _, ok := aggregated[key]; !ok {
			aggregated[key] = &DailyUsage{Date: date, CallerID: r.CallerID, Model: r.Model}
		}
		existing := aggregated[key]
		existing.RequestCount++
		existing.ChargedCents += r.ChargedCents
		if r.Canceled {
			existing.CanceledRequests++
		} else {
			existing.TimeToFirstByte += r.TimeToFirstByte.Milliseconds()
			existing.TotalTime += r.TotalTime.Milliseconds()
		}

		requestSQLStr += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?),"
		requestVals = append(requestVals,
			id, r.CallerID, r.IdentitySource, r.Mode, r.Model, r.Stream,
			r.ChargedCents, r.TimeToFirstByte.Milliseconds(), r.TotalTime.Milliseconds(),
			r.Completed, r.Canceled, r.CreatedAt,
		)
	}

	for _, key := range slices.Sorted(maps.Keys(aggregated)) {
		val := aggregated[key]
		usageSQLStr += "(?, ?, ?, ?, ?, ?, ?, ?),"
		usageVals = append(usageVals, val.Date, val.CallerID, val.Model, val.RequestCount, val.ChargedCents, val.CanceledRequests, val.TimeToFirstByte, val.TotalTime)
	}

	requestSQLStr = strings.TrimSuffix(requestSQLStr, ",")
	usageSQLStr = strings.TrimSuffix(usageSQLStr, ",")
	usageSQLStr += ` ON DUPLICATE KEY UPDATE
		request_count = request_count + VALUES(request_count),
		charged_cents = charged_cents + VALUES(charged_cents),
		canceled_requests = canceled_requests + VALUES(canceled_requests),
		time_to_first_byte = time_to_first_byte + VALUES(time_to_first_byte),
		total_time = total_time + VALUES(total_time)`

	if _, err := tx.ExecContext(ctx, requestSQLStr, requestVals...); err != nil {
		return fmt.Errorf("failed to save requests: %w", err)
	}
	if _, err := tx.ExecContext(ctx, usageSQLStr, usageVals...); err != nil {
		return fmt.Errorf("failed to save daily usage: %w", err)
	}
	return nil
}

// ExecuteTransaction executes one transaction with one or multiple database executions.
func ExecuteTransaction(ctx context.Context, writeDB *sql.DB, fns []func(*sql.Tx) error) error {
	tx, err := writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, fn := range fns {
		if err := fn(tx); err != nil {
			return fmt.Errorf("failed to execute transaction function: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
