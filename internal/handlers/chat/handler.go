// Package chat owns the lifecycle of a chat request: quota check, upstream
// dispatch, debit and delivery of the response to the client.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"nexus-api/internal/credits"
	"nexus-api/internal/identity"
	"nexus-api/internal/metrics"
	"nexus-api/internal/shared"
	"nexus-api/internal/upstream"

	"go.uber.org/zap"
)

type Meter interface {
	Get(ctx context.Context, callerID string) (shared.UsageRecord, error)
	Debit(ctx context.Context, callerID string, cents int64) (shared.UsageRecord, error)
	Default() shared.UsageRecord
}

type Completer interface {
	Complete(ctx context.Context, out upstream.Outbound) (*http.Response, error)
}

// Recorder receives a record of every accepted request.
type Recorder interface {
	AddInFlightToBucket(callerID string)
	RemoveInFlightFromBucket(callerID string)
	AddRequestToBucket(callerID string, rec *shared.RequestRecord)
}

type Config struct {
	RequestCostCents int64
}

type Handler struct {
	meter    Meter
	router   *upstream.Router
	upstream Completer
	recorder Recorder
	log      *zap.SugaredLogger
	cost     int64
}

func NewHandler(meter Meter, router *upstream.Router, completer Completer, recorder Recorder, log *zap.SugaredLogger, cfg Config) *Handler {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if cfg.RequestCostCents <= 0 {
		cfg.RequestCostCents = shared.DefaultRequestCostCents
	}
	return &Handler{
		meter:    meter,
		router:   router,
		upstream: completer,
		recorder: recorder,
		log:      log,
		cost:     cfg.RequestCostCents,
	}
}

// Credits returns the caller's balance. Anonymous callers and store
// failures get the default record.
func (h *Handler) Credits(ctx context.Context, caller identity.Caller) (shared.UsageRecord, error) {
	if caller.Anonymous() {
		return h.meter.Default(), nil
	}
	return h.meter.Get(ctx, caller.ID)
}

// CheckQuota rejects callers whose balance is exhausted. A store failure
// lets the request through.
func (h *Handler) CheckQuota(ctx context.Context, callerID string) (shared.UsageRecord, error) {
	record, err := h.meter.Get(ctx, callerID)
	if err != nil {
		h.log.Warnw("Credits read failed, allowing request", "caller_id", callerID, "error", err)
		return record, nil
	}
	if credits.IsExhausted(record) {
		metrics.QuotaRejections.Inc()
		return record, shared.ErrRechargeRequired
	}
	return record, nil
}

// ParseRequest decodes a chat request body.
func ParseRequest(body []byte) (shared.ChatRequest, error) {
	var req shared.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return req, errors.Join(shared.ErrInvalidJSON, err)
	}
	return req, nil
}

type DispatchInput struct {
	RequestID string
	Caller    identity.Caller
	Request   shared.ChatRequest
}

// Dispatch is an accepted upstream response waiting to be delivered.
type Dispatch struct {
	Response  *http.Response
	Outbound  upstream.Outbound
	Mode      string
	RequestID string
	Caller    identity.Caller
	Usage     shared.UsageRecord
	Charged   int64
	StartTime time.Time
}

// Tutor reports whether the response must be split into reasoning and
// content events.
func (d *Dispatch) Tutor() bool {
	return d.Outbound.Stream && d.Mode == shared.ModeTutor
}

// Dispatch builds and sends the upstream request and debits the caller once
// the upstream has accepted it. Errors returned here mean nothing has been
// written to the client yet.
func (h *Handler) Dispatch(ctx context.Context, input DispatchInput) (*Dispatch, error) {
	start := time.Now()
	callerID := input.Caller.MeterID()
	out := h.router.Build(input.Request)

	h.recorder.AddInFlightToBucket(callerID)
	res, err := h.upstream.Complete(ctx, out)
	if err != nil {
		h.recorder.RemoveInFlightFromBucket(callerID)
		metrics.RequestCount.WithLabelValues(shared.ModeLabel(input.Request.Mode), "upstream_error").Inc()
		return nil, err
	}

	d := &Dispatch{
		Response:  res,
		Outbound:  out,
		Mode:      input.Request.Mode,
		RequestID: input.RequestID,
		Caller:    input.Caller,
		StartTime: start,
	}

	// Debit must land even if the client disconnects mid-stream
	usage, err := h.meter.Debit(context.WithoutCancel(ctx), callerID, h.cost)
	if err != nil {
		h.log.Warnw("Failed debiting credits, continuing", "caller_id", callerID, "error", err)
	} else {
		d.Charged = h.cost
	}
	d.Usage = usage
	return d, nil
}

type noopRecorder struct{}

func (noopRecorder) AddInFlightToBucket(string) {}

func (noopRecorder) RemoveInFlightFromBucket(string) {}

func (noopRecorder) AddRequestToBucket(string, *shared.RequestRecord) {}
