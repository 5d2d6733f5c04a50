package shared

import "time"

// HTTP Client Configuration
const (
	DefaultHTTPTimeout     = 10 * time.Minute
	DefaultDialTimeout     = 2 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	JWKSInitTimeout        = 5 * time.Second
	JWKSRetryInterval      = 30 * time.Second
)

// Upstream Configuration
const (
	DefaultUpstreamURL  = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel        = "openai/gpt-4o-mini"
	DefaultVisionModel  = "google/gemini-2.0-flash-exp"
	MaxUpstreamErrBytes = 64 << 10
)

// Credits Configuration
const (
	DefaultLimitCents       = 500
	DefaultRequestCostCents = 2
	CreditsKeyPrefix        = "credits:"
	AnonymousCallerID       = "anonymous"
)

// Streaming Configuration
const (
	StreamEventBuffer  = 16
	MaxSSELineBytes    = 1 << 20
	StreamCopyBufBytes = 32 << 10
)

// Bucket Configuration
const (
	BucketFlushInterval = 1 * time.Minute
	BucketRetryDelay    = 30 * time.Second
	MaxFlushRetries     = 3
	FlushRetryBackoff   = 5 * time.Second
)

// Modes
const (
	ModeTutor = "tutor"
)
