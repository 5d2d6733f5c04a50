// Package buckets batches completed chat requests per caller before they are
// written to the request ledger
package buckets

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"nexus-api/internal/database"
	"nexus-api/internal/metrics"
	"nexus-api/internal/shared"

	"go.uber.org/zap"
)

type UsageCache struct {
	buckets       map[string]*bucket
	killedBuckets map[string]*bucket
	mu            sync.Mutex
	flushes       sync.WaitGroup
	log           *zap.SugaredLogger
	db            *sql.DB
}

type bucket struct {
	mu           sync.Mutex
	callerID     string
	chargedCents int64
	records      map[string]*shared.RequestRecord
	inflight     uint64
	timer        *time.Timer
}

func NewUsageCache(log *zap.SugaredLogger, db *sql.DB) *UsageCache {
	return &UsageCache{
		db:            db,
		log:           log,
		buckets:       map[string]*bucket{},
		killedBuckets: map[string]*bucket{},
	}
}

// Shutdown waits for every in-flight request to be recorded, then flushes all
// buckets.
func (c *UsageCache) Shutdown() {
	c.log.Info("Shutting down usage cache")
	for {
		c.mu.Lock()
		total := uint64(0)
		for _, b := range c.buckets {
			if b.timer != nil {
				b.timer.Stop()
			}
			total += b.inflight
		}
		c.mu.Unlock()
		if total == 0 {
			break
		}
		time.Sleep(1 * time.Second)
	}
	c.flushes.Wait()

	c.mu.Lock()
	callerIDs := make([]string, 0, len(c.buckets))
	for id := range c.buckets {
		callerIDs = append(callerIDs, id)
	}
	c.mu.Unlock()

	wg := sync.WaitGroup{}
	for _, id := range callerIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Flush(id)
		}()
	}
	wg.Wait()
}

func (c *UsageCache) AddInFlightToBucket(callerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.getBucket(callerID)
	b.addInflight()
}

func (c *UsageCache) RemoveInFlightFromBucket(callerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.getBucket(callerID)
	b.decInflight()
}

func (b *bucket) addInflight() {
	b.mu.Lock()
	b.inflight++
	b.mu.Unlock()
}

func (b *bucket) decInflight() {
	b.mu.Lock()
	if b.inflight > 0 {
		b.inflight--
	}
	b.mu.Unlock()
}

// AddRequestToBucket records a finished request. It also releases the
// in-flight slot taken when the request was dispatched.
func (c *UsageCache) AddRequestToBucket(callerID string, rec *shared.RequestRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.getBucket(callerID)
	b.decInflight()
	b.addRequest(c, rec)
}

func (b *bucket) addRequest(c *UsageCache, rec *shared.RequestRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// First record in a fresh bucket arms the timer
	if len(b.records) == 0 && b.timer == nil {
		c.log.Debugw("Registering flush for bucket", "caller_id", b.callerID)
		callerID := b.callerID
		b.timer = time.AfterFunc(shared.BucketFlushInterval, func() {
			c.flushWithRetry(callerID)
		})
	}
	b.records[rec.RequestID] = rec
	b.chargedCents += rec.ChargedCents

	if b.inflight >= 1 && b.timer != nil {
		return
	}

	c.log.Debugw("Executing flush from no more inflights", "caller_id", b.callerID)
	if b.timer != nil {
		if ok := b.timer.Stop(); !ok {
			c.log.Debugw("Flush is already executed", "caller_id", b.callerID)
			return
		}
	}

	c.flushes.Add(1)
	callerID := b.callerID
	go func() {
		defer c.flushes.Done()
		c.flushWithRetry(callerID)
	}()
}

func (c *UsageCache) flushWithRetry(callerID string) {
	retry := c.Flush(callerID)
	for retry != 0 {
		c.log.Warnw("Flush requested retry, waiting...", "caller_id", callerID)
		time.Sleep(retry)
		retry = c.Flush(callerID)
	}
}

// getBucket must be called with c.mu held
func (c *UsageCache) getBucket(callerID string) *bucket {
	b, ok := c.buckets[callerID]
	if !ok {
		b = &bucket{records: map[string]*shared.RequestRecord{}, callerID: callerID}
		c.buckets[callerID] = b
	}
	return b
}

// Flush writes the caller's bucket to the ledger. A non-zero return asks the
// caller to try again after that delay because another flush for the same
// caller is running.
func (c *UsageCache) Flush(callerID string) time.Duration {
	c.mu.Lock()
	b, ok := c.buckets[callerID]
	if !ok {
		c.mu.Unlock()
		return 0
	}

	if _, ok = c.killedBuckets[callerID]; ok {
		c.mu.Unlock()
		return shared.BucketRetryDelay
	}
	c.killedBuckets[callerID] = b
	delete(c.buckets, callerID)
	b.mu.Lock()
	if b.inflight != 0 {
		c.buckets[callerID] = &bucket{
			callerID: callerID,
			inflight: b.inflight,
			records:  map[string]*shared.RequestRecord{},
		}
	}
	b.mu.Unlock()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.killedBuckets, callerID)
		c.mu.Unlock()
	}()

	if len(b.records) == 0 {
		return 0
	}

	var err error
	for attempt := range shared.MaxFlushRetries {
		if attempt > 0 {
			time.Sleep(shared.FlushRetryBackoff)
		}
		ctx := context.Background()
		err = database.ExecuteTransaction(ctx, c.db, []func(*sql.Tx) error{
			func(tx *sql.Tx) error {
				return database.SaveRequests(ctx, tx, b.records)
			},
		})
		if err == nil {
			c.log.Infow("Flushed bucket", "caller_id", callerID, "charged_cents", b.chargedCents, "requests", len(b.records))
			return 0
		}
		c.log.Errorw("Failed to save requests", "caller_id", callerID, "attempt", attempt+1, "error", err)
	}

	c.log.Errorw("Dropping ledger bucket after retries", "caller_id", callerID, "requests", len(b.records), "error", err)
	metrics.ErrorCount.WithLabelValues("ledger", "save_requests").Inc()
	return 0
}
