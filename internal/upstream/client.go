package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nexus-api/internal/metrics"
	"nexus-api/internal/shared"

	"go.uber.org/zap"
)

// UpstreamError is a non-2xx answer from the provider. Status and body are
// handed back to the caller as-is.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

type ClientConfig struct {
	URL    string
	APIKey string
}

type Client struct {
	url          string
	apiKey       string
	log          *zap.SugaredLogger
	httpClients  map[string]*http.Client
	clientsMutex sync.RWMutex
}

func NewClient(cfg ClientConfig, log *zap.SugaredLogger) *Client {
	if cfg.URL == "" {
		cfg.URL = shared.DefaultUpstreamURL
	}
	return &Client{
		url:         cfg.URL,
		apiKey:      cfg.APIKey,
		log:         log,
		httpClients: make(map[string]*http.Client),
	}
}

func (c *Client) getHTTPClient(rawURL string) *http.Client {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		c.log.Warnw("Failed to parse upstream URL, using full URL as key", "url", rawURL, "error", err)
		parsedURL = &url.URL{Host: rawURL}
	}
	host := parsedURL.Host

	c.clientsMutex.RLock()
	if client, exists := c.httpClients[host]; exists {
		c.clientsMutex.RUnlock()
		return client
	}
	c.clientsMutex.RUnlock()

	c.clientsMutex.Lock()
	defer c.clientsMutex.Unlock()

	if client, exists := c.httpClients[host]; exists {
		return client
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: shared.DefaultDialTimeout,
		}).DialContext,
		TLSHandshakeTimeout: shared.DefaultDialTimeout,
		DisableKeepAlives:   false,
		ForceAttemptHTTP2:   true,
	}
	client := &http.Client{Transport: tr, Timeout: shared.DefaultHTTPTimeout}

	c.httpClients[host] = client
	c.log.Infow("Created new HTTP client for host", "host", host)

	return client
}

// Complete sends the outbound request. On success the caller owns the
// response body. A non-2xx answer is returned as *UpstreamError with the body
// already read and closed.
func (c *Client) Complete(ctx context.Context, out Outbound) (*http.Response, error) {
	body, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Join(shared.ErrInternalServerError, err)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Join(shared.ErrInternalServerError, err)
	}
	r.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if out.Stream {
		r.Header.Set("Accept", "text/event-stream")
	}

	start := time.Now()
	res, err := c.getHTTPClient(c.url).Do(r)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("transport").Inc()
		return nil, errors.Join(shared.ErrUpstreamUnavailable, shared.ErrFailedUpstreamReq, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		defer res.Body.Close()
		errBody, readErr := io.ReadAll(io.LimitReader(res.Body, shared.MaxUpstreamErrBytes))
		if readErr != nil {
			c.log.Warnw("Failed reading upstream error body", "error", readErr)
		}
		metrics.UpstreamErrors.WithLabelValues(fmt.Sprintf("%d", res.StatusCode)).Inc()
		c.log.Warnw("Upstream responded with non-2xx",
			"status_code", res.StatusCode,
			"model", out.Model,
			"http_duration_ms", time.Since(start).Milliseconds())
		return nil, errors.Join(&UpstreamError{StatusCode: res.StatusCode, Body: string(errBody)}, shared.ErrFailedUpstreamReqFromCode)
	}
	return res, nil
}
