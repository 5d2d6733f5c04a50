// Package credits keeps the per-caller prepaid usage balance in redis.
//
// Reads and debits are plain GET / SET. Two concurrent debits for the same
// caller can race and under-count; exact accounting is not a goal here.
// Every failure path returns the default record so callers can fail open.
package credits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"nexus-api/internal/metrics"
	"nexus-api/internal/shared"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Store struct {
	redis        redis.Cmdable
	log          *zap.SugaredLogger
	defaultLimit int64
}

func NewStore(client redis.Cmdable, log *zap.SugaredLogger, defaultLimitCents int64) *Store {
	if defaultLimitCents <= 0 {
		defaultLimitCents = shared.DefaultLimitCents
	}
	return &Store{redis: client, log: log, defaultLimit: defaultLimitCents}
}

func Key(callerID string) string {
	return shared.CreditsKeyPrefix + callerID
}

func (s *Store) Default() shared.UsageRecord {
	return shared.UsageRecord{UsedCents: 0, LimitCents: s.defaultLimit}
}

// IsExhausted reports whether the caller has used up their limit.
func IsExhausted(record shared.UsageRecord) bool {
	return record.UsedCents >= record.LimitCents
}

// Get returns the stored record or the default one. A non-nil error means
// the store could not be read; the returned record is still usable.
func (s *Store) Get(ctx context.Context, callerID string) (shared.UsageRecord, error) {
	raw, err := s.redis.Get(ctx, Key(callerID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return s.Default(), nil
	case err != nil:
		metrics.StoreErrors.WithLabelValues("get").Inc()
		return s.Default(), errors.Join(shared.ErrStoreRead, err)
	}
	return s.decode(callerID, raw), nil
}

// Debit adds cents to the caller's usage, capped at their limit, and
// returns the record that was written.
func (s *Store) Debit(ctx context.Context, callerID string, cents int64) (shared.UsageRecord, error) {
	record, err := s.Get(ctx, callerID)
	if err != nil {
		return record, err
	}
	if cents < 0 {
		cents = 0
	}
	record.UsedCents = min(record.UsedCents+cents, record.LimitCents)

	payload, err := json.Marshal(record)
	if err != nil {
		return record, fmt.Errorf("failed marshalling usage record: %w", err)
	}
	if err := s.redis.Set(ctx, Key(callerID), payload, 0).Err(); err != nil {
		metrics.StoreErrors.WithLabelValues("set").Inc()
		return record, errors.Join(shared.ErrStoreWrite, err)
	}
	metrics.DebitedCents.Add(float64(cents))
	return record, nil
}

func (s *Store) decode(callerID string, raw string) shared.UsageRecord {
	var stored struct {
		UsedCents  any `json:"usedCents"`
		LimitCents any `json:"limitCents"`
	}
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.log.Warnw("Unparsable usage record, using defaults", "caller_id", callerID, "error", err)
		metrics.StoreErrors.WithLabelValues("decode").Inc()
		return s.Default()
	}
	record := shared.UsageRecord{
		UsedCents:  toCents(stored.UsedCents),
		LimitCents: toCents(stored.LimitCents),
	}
	if record.UsedCents < 0 {
		record.UsedCents = 0
	}
	if record.LimitCents <= 0 {
		record.LimitCents = s.defaultLimit
	}
	return record
}

// toCents accepts numbers and numeric strings; anything else counts as zero.
func toCents(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		var f float64
		if _, err := fmt.Sscan(n, &f); err == nil {
			return int64(f)
		}
	}
	return 0
}
