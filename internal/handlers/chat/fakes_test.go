package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"nexus-api/internal/prompts"
	"nexus-api/internal/shared"
	"nexus-api/internal/upstream"

	"go.uber.org/zap"
)

type fakeMeter struct {
	mu       sync.Mutex
	records  map[string]shared.UsageRecord
	getErr   error
	debitErr error
	debits   []string
}

func newFakeMeter() *fakeMeter {
	return &fakeMeter{records: map[string]shared.UsageRecord{}}
}

func (m *fakeMeter) Default() shared.UsageRecord {
	return shared.UsageRecord{UsedCents: 0, LimitCents: shared.DefaultLimitCents}
}

func (m *fakeMeter) Get(_ context.Context, callerID string) (shared.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return m.Default(), m.getErr
	}
	if r, ok := m.records[callerID]; ok {
		return r, nil
	}
	return m.Default(), nil
}

func (m *fakeMeter) Debit(ctx context.Context, callerID string, cents int64) (shared.UsageRecord, error) {
	if ctx.Err() != nil {
		return shared.UsageRecord{}, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debits = append(m.debits, callerID)
	if m.debitErr != nil {
		return m.Default(), m.debitErr
	}
	r, ok := m.records[callerID]
	if !ok {
		r = m.Default()
	}
	r.UsedCents = min(r.UsedCents+cents, r.LimitCents)
	m.records[callerID] = r
	return r, nil
}

type fakeCompleter struct {
	mu      sync.Mutex
	calls   []upstream.Outbound
	err     error
	respond func(out upstream.Outbound) *http.Response
}

func (c *fakeCompleter) Complete(_ context.Context, out upstream.Outbound) (*http.Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, out)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.respond != nil {
		return c.respond(out), nil
	}
	return textResponse("application/json", `{"id":"x"}`), nil
}

func (c *fakeCompleter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeRecorder struct {
	mu       sync.Mutex
	inflight map[string]int
	records  []*shared.RequestRecord
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{inflight: map[string]int{}}
}

func (r *fakeRecorder) AddInFlightToBucket(callerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight[callerID]++
}

func (r *fakeRecorder) RemoveInFlightFromBucket(callerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight[callerID]--
}

func (r *fakeRecorder) AddRequestToBucket(callerID string, rec *shared.RequestRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight[callerID]--
	r.records = append(r.records, rec)
}

func textResponse(contentType, body string) *http.Response {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

var errStoreDown = errors.New("store down")

func newTestHandler(meter Meter, completer Completer, recorder Recorder) *Handler {
	router := upstream.NewRouter(prompts.Default(), upstream.RouterConfig{})
	return NewHandler(meter, router, completer, recorder, zap.NewNop().Sugar(), Config{})
}
