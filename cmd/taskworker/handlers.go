package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nullcrew/taskforge/task"
)

// webhookClient is shaped after the teacher's job executor transport:
// bounded idle connections, TLS 1.2 floor, capped redirects. Per-task
// deadlines come from the context the engine already sets up around
// TimeoutMS; this client carries only a generous outer safety net.
var webhookClient = &http.Client{
	Timeout: 5 * time.Minute,
	Transport: &http.Transport{
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	},
	CheckRedirect: func(_ *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("stopped after 10 redirects")
		}
		return nil
	},
}

type webhookParams struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// callWebhook is the single general-purpose handler this worker
// registers: it issues the HTTP request described by params and treats
// any status of 300 or above as a task failure. A failed task is not
// retried; RetryOnTimeoutCount applies only after a lease expiry, and
// RepeatAfterMS schedules the next occurrence whether the call failed or
// succeeded.
func callWebhook(ctx context.Context, params any, handle *task.TaskHandle) (any, error) {
	p, err := decodeParams[webhookParams](params)
	if err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}
	method := p.Method
	if method == "" {
		method = http.MethodPost
	}

	result, err := handle.RecordSideEffect(ctx, "http_call", map[string]any{"method": method, "url": p.URL}, func(ctx context.Context) (any, error) {
		var bodyReader io.Reader
		if p.Body != "" {
			bodyReader = strings.NewReader(p.Body)
		}

		req, err := http.NewRequestWithContext(ctx, method, p.URL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("webhook: build request: %w", err)
		}
		for k, v := range p.Headers {
			req.Header.Set(k, v)
		}

		resp, err := webhookClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("webhook: do request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 300 {
			return map[string]any{"statusCode": resp.StatusCode}, fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
		}
		return map[string]any{"statusCode": resp.StatusCode}, nil
	})
	return result, err
}

// sweepStaleLogs is a housekeeping handler: it doesn't need params and
// exists mainly to give the registry a second, non-HTTP handler to
// exercise RegisterTree's nested-namespace walk.
func sweepStaleLogs(_ context.Context, _ any, handle *task.TaskHandle) (any, error) {
	handle.Log("stale log sweep ran", nil)
	return nil, nil
}

func handlerTree() map[string]any {
	return map[string]any{
		"webhook": map[string]any{
			"call": task.Handler(callWebhook),
		},
		"maintenance": map[string]any{
			"sweepStaleLogs": task.Handler(sweepStaleLogs),
		},
	}
}

// decodeParams accepts params either already typed (a handler invoked
// directly in-process, e.g. from a test) or as the map[string]any a
// document store decode produces, re-marshaling the latter through
// encoding/json into T rather than pulling in a reflection helper.
func decodeParams[T any](params any) (T, error) {
	var out T
	switch v := params.(type) {
	case T:
		return v, nil
	case nil:
		return out, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return out, fmt.Errorf("decode params: %w", err)
		}
		if err := json.Unmarshal(b, &out); err != nil {
			return out, fmt.Errorf("decode params: %w", err)
		}
		return out, nil
	}
}
