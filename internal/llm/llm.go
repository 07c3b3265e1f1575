// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm abstracts the Generative AI provider behind a small Client
// interface. Stages render their own prompts and decode structured JSON
// replies; the client only moves text. A missing credential yields a client
// whose every call fails with types.ErrProviderUnavailable so that stages can
// fall back to their deterministic heuristics.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/pdiddy/report-engine/pkg/types"
)

// Request is one completion call.
type Request struct {
	// Stage names the calling stage; used for logging and by Script.
	Stage string

	// System is the system prompt.
	System string

	// Prompt is the user message.
	Prompt string

	// MaxTokens overrides the client default when positive.
	MaxTokens int
}

// Client sends a prompt and returns the model's text reply.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// New returns a Claude client for cfg, or an Unavailable client when no API
// key is configured.
func New(cfg types.AIConfig, httpClient *http.Client) Client {
	if cfg.APIKey == "" {
		return Unavailable{Reason: "no API key configured"}
	}
	return &Claude{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		MaxTokens:  cfg.MaxTokens,
		MaxRetries: cfg.MaxRetries,
		Client:     httpClient,
	}
}

// Available reports whether c can reach a provider at all.
func Available(c Client) bool {
	if c == nil {
		return false
	}
	_, unavailable := c.(Unavailable)
	return !unavailable
}

// Unavailable is a Client with no provider behind it.
type Unavailable struct {
	Reason string
}

// Complete always fails with types.ErrProviderUnavailable.
func (u Unavailable) Complete(context.Context, Request) (string, error) {
	return "", fmt.Errorf("%w: %s", types.ErrProviderUnavailable, u.Reason)
}

// Func adapts a plain function to the Client interface.
type Func func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Script is a scripted Client for tests and dry runs. Replies are consumed
// in order per stage; a stage with no remaining replies fails.
type Script struct {
	mu      sync.Mutex
	replies map[string][]string
	errs    map[string]error
	calls   []Request
}

// NewScript returns an empty Script.
func NewScript() *Script {
	return &Script{replies: make(map[string][]string), errs: make(map[string]error)}
}

// On queues replies for stage and returns the script for chaining.
func (s *Script) On(stage string, replies ...string) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[stage] = append(s.replies[stage], replies...)
	return s
}

// Fail makes every call for stage return err.
func (s *Script) Fail(stage string, err error) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[stage] = err
	return s
}

// Complete pops the next reply for req.Stage.
func (s *Script) Complete(_ context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if err, ok := s.errs[req.Stage]; ok {
		return "", err
	}
	queue := s.replies[req.Stage]
	if len(queue) == 0 {
		return "", fmt.Errorf("script: no reply queued for stage %q", req.Stage)
	}
	s.replies[req.Stage] = queue[1:]
	return queue[0], nil
}

// Calls returns the requests received so far.
func (s *Script) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// CallCount returns the number of requests received for stage.
func (s *Script) CallCount(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Stage == stage {
			n++
		}
	}
	return n
}

// backoffBase controls the base duration for exponential backoff. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

// CompleteWithRetry calls c with exponential backoff. Provider-unavailable
// errors are returned immediately since retrying cannot help.
func CompleteWithRetry(ctx context.Context, c Client, req Request, maxRetries int) (string, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		out, err := c.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, types.ErrProviderUnavailable) || ctx.Err() != nil {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}

// Render executes a prompt template with data.
func Render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
