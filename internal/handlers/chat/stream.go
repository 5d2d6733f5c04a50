package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"nexus-api/internal/demux"
	"nexus-api/internal/metrics"
	"nexus-api/internal/shared"

	openai "github.com/sashabaranov/go-openai"
)

// Delivery describes how the response reached the client.
type Delivery struct {
	TimeToFirstByte time.Duration
	Completed       bool
	Canceled        bool
	Events          map[demux.Channel]int
}

// Deliver writes the upstream response to w and closes the upstream body.
// Once it is called the status line has been sent, so the returned error is
// for logging only.
func (h *Handler) Deliver(ctx context.Context, w http.ResponseWriter, d *Dispatch) (*Delivery, error) {
	defer func() {
		if closeErr := d.Response.Body.Close(); closeErr != nil {
			h.log.Debugw("Failed to close upstream body", "error", closeErr)
		}
	}()

	out := &Delivery{}
	var err error
	switch {
	case d.Tutor():
		out.Events = map[demux.Channel]int{}
		err = h.streamTutor(ctx, w, d, out)
	case d.Outbound.Stream:
		err = h.passthroughStream(w, d, out)
	default:
		err = h.passthroughJSON(w, d, out)
	}

	out.Completed = err == nil
	out.Canceled = ctx.Err() != nil || errors.Is(err, shared.ErrClientGone)
	h.finish(d, out, err)
	return out, err
}

func (h *Handler) finish(d *Dispatch, out *Delivery, err error) {
	mode := shared.ModeLabel(d.Mode)
	total := time.Since(d.StartTime)
	status := "success"
	switch {
	case out.Canceled:
		status = "canceled"
		metrics.CanceledRequests.WithLabelValues(mode).Inc()
	case err != nil:
		status = "stream_error"
		metrics.ErrorCount.WithLabelValues(mode, "deliver").Inc()
	}
	metrics.RequestCount.WithLabelValues(mode, status).Inc()
	metrics.RequestDuration.WithLabelValues(d.Outbound.Model, mode).Observe(total.Seconds())
	if out.TimeToFirstByte > 0 {
		metrics.TimeToFirstByte.WithLabelValues(d.Outbound.Model, mode).Observe(out.TimeToFirstByte.Seconds())
	}

	h.recorder.AddRequestToBucket(d.Caller.MeterID(), &shared.RequestRecord{
		RequestID:       d.RequestID,
		CallerID:        d.Caller.MeterID(),
		IdentitySource:  string(d.Caller.Source),
		Mode:            d.Mode,
		Model:           d.Outbound.Model,
		Stream:          d.Outbound.Stream,
		ChargedCents:    d.Charged,
		TimeToFirstByte: out.TimeToFirstByte,
		TotalTime:       total,
		Completed:       out.Completed,
		Canceled:        out.Canceled,
		CreatedAt:       d.StartTime,
	})
}

func (h *Handler) passthroughJSON(w http.ResponseWriter, d *Dispatch, out *Delivery) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	out.TimeToFirstByte = time.Since(d.StartTime)
	if _, err := io.Copy(w, d.Response.Body); err != nil {
		return errors.Join(shared.ErrFailedReadingResponse, err)
	}
	return nil
}

func setupSSEHeaders(w http.ResponseWriter, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// passthroughStream forwards upstream bytes unmodified, flushing after each
// read.
func (h *Handler) passthroughStream(w http.ResponseWriter, d *Dispatch, out *Delivery) error {
	contentType := d.Response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/event-stream"
	}
	setupSSEHeaders(w, contentType)
	flush(w)

	buf := make([]byte, shared.StreamCopyBufBytes)
	for {
		n, readErr := d.Response.Body.Read(buf)
		if n > 0 {
			if out.TimeToFirstByte == 0 {
				out.TimeToFirstByte = time.Since(d.StartTime)
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return errors.Join(shared.ErrClientGone, err)
			}
			flush(w)
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return errors.Join(shared.ErrFailedReadingResponse, readErr)
		}
	}
}

// streamTutor re-encodes the upstream stream as reasoning / content events.
// A producer goroutine parses upstream lines into a bounded channel; this
// goroutine drains it into the client, so a slow client stalls upstream
// reads instead of growing a queue.
func (h *Handler) streamTutor(ctx context.Context, w http.ResponseWriter, d *Dispatch, out *Delivery) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan demux.Event, shared.StreamEventBuffer)
	pumpErr := make(chan error, 1)
	go func() {
		defer close(events)
		pumpErr <- PumpTutorStream(ctx, d.Response.Body, events)
	}()

	setupSSEHeaders(w, "text/event-stream")
	flush(w)

	var writeErr error
	for ev := range events {
		if writeErr != nil {
			continue
		}
		if err := writeEvent(w, ev); err != nil {
			writeErr = errors.Join(shared.ErrClientGone, err)
			cancel()
			// unblock a pending upstream read
			_ = d.Response.Body.Close()
			continue
		}
		if out.TimeToFirstByte == 0 {
			out.TimeToFirstByte = time.Since(d.StartTime)
		}
		out.Events[ev.Type]++
		metrics.DemuxEvents.WithLabelValues(string(ev.Type)).Inc()
	}

	err := <-pumpErr
	if writeErr != nil {
		return writeErr
	}
	return err
}

func writeEvent(w http.ResponseWriter, ev demux.Event) error {
	var buf bytes.Buffer
	buf.WriteString("data: ")
	enc := json.NewEncoder(&buf)
	// Model text is full of tags; keep them readable on the wire
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return err
	}
	// Encode already ended the payload with one newline
	buf.WriteByte('\n')
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	flush(w)
	return nil
}

// PumpTutorStream reads upstream SSE lines, feeds each text delta to a
// demultiplexer and sends the classified events to out. At end of stream
// the demultiplexer is flushed so no buffered text is dropped. It stops
// early when ctx is canceled.
func PumpTutorStream(ctx context.Context, body io.Reader, out chan<- demux.Event) error {
	stopped := false
	d := demux.New(func(ev demux.Event) {
		if stopped {
			return
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			stopped = true
		}
	})

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), shared.MaxSSELineBytes)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delta, ok := ExtractDelta(scanner.Text()); ok {
			d.Feed(delta)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return errors.Join(shared.ErrFailedReadingResponse, err)
	}
	d.Flush()
	return nil
}

// ExtractDelta returns the content delta carried by one SSE line. Lines that
// are not data lines, the [DONE] sentinel and JSON that does not parse are
// skipped; providers split frames mid-object and that is expected.
func ExtractDelta(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	data = strings.TrimPrefix(data, " ")
	if data == "[DONE]" {
		return "", false
	}
	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", false
	}
	if len(chunk.Choices) == 0 {
		return "", false
	}
	content := chunk.Choices[0].Delta.Content
	return content, content != ""
}
