package shared

import (
	"encoding/json"
	"time"
)

// ChatMessage keeps content as raw JSON so that plain strings and typed
// part arrays reach the upstream untouched.
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Name    string          `json:"name,omitempty"`
}

// ContentPart is the subset of a typed content part the gateway inspects.
type ContentPart struct {
	Type string `json:"type"`
}

type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	Model    string        `json:"model,omitempty"`
	Stream   bool          `json:"stream,omitempty"`
	Mode     string        `json:"mode,omitempty"`
}

type UsageRecord struct {
	UsedCents  int64 `json:"usedCents"`
	LimitCents int64 `json:"limitCents"`
}

type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type CodedErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RequestRecord is what the ledger stores for every accepted chat request.
type RequestRecord struct {
	RequestID       string
	CallerID        string
	IdentitySource  string
	Mode            string
	Model           string
	Stream          bool
	ChargedCents    int64
	TimeToFirstByte time.Duration
	TotalTime       time.Duration
	Completed       bool
	Canceled        bool
	CreatedAt       time.Time
}
