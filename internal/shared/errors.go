package shared

import (
	"errors"
	"fmt"
)

// RequestError is used when we want a specific error message and StatusCode.
// Routers look for it with errors.As; anything else in the chain is only
// context for logging.
type RequestError struct {
	StatusCode int
	Code       string
	Err        error
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("status %d: err %v", r.StatusCode, r.Err)
}

func (r *RequestError) Unwrap() error {
	return r.Err
}

var (
	ErrInvalidJSON         = &RequestError{Err: errors.New("Invalid JSON"), StatusCode: 400}
	ErrRechargeRequired    = &RequestError{Err: errors.New("Monthly cap reached."), StatusCode: 402, Code: "RECHARGE_REQUIRED"}
	ErrNotFound            = &RequestError{Err: errors.New("Not found"), StatusCode: 404}
	ErrUpstreamUnavailable = &RequestError{Err: errors.New("upstream request failed"), StatusCode: 502}

	ErrInternalServerError = &RequestError{Err: errors.New("internal server error"), StatusCode: 500}
	ErrMissingAuth         = &RequestError{Err: errors.New("missing authorization header"), StatusCode: 401}
	ErrInvalidFormat       = &RequestError{Err: errors.New("invalid authentication format"), StatusCode: 401}

	ErrFailedUpstreamReq         = &MetricsError{Msg: "failed to send http request to upstream", Code: "upstream_http_err"}
	ErrFailedUpstreamReqFromCode = &MetricsError{Msg: "upstream responded with non-2xx", Code: "upstream_http_status_err"}
	ErrFailedReadingResponse     = &MetricsError{Msg: "failed to read upstream response", Code: "upstream_response_err"}
	ErrClientGone                = &MetricsError{Msg: "client stopped reading stream", Code: "client_write_err"}
	ErrStoreRead                 = &MetricsError{Msg: "credits store read failed", Code: "store_read_err"}
	ErrStoreWrite                = &MetricsError{Msg: "credits store write failed", Code: "store_write_err"}
)

type MetricsError struct {
	Msg  string
	Code string
}

func (m *MetricsError) Error() string {
	return m.String()
}

func (m *MetricsError) String() string {
	return m.Msg
}
