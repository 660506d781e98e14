// Package httptask builds HTTP request tasks for scenarios. It is the
// one concrete task type shipped with the CLI; other task types plug
// into the scheduler through the same scenario.Task shape.
package httptask

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stridekit/stride/internal/scenario"
)

// SampleKind tags HTTP task statistics.
const SampleKind = scenario.SampleKind("HTTP")

// Config defines a single HTTP request task. String fields support
// {{var}} substitution from the actor's variable context, resolved on
// every invocation.
type Config struct {
	Name    string
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

// ClientConfig controls the shared HTTP client.
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	DisableKeepAlives   bool
}

// DefaultClientConfig returns sensible defaults for load generation.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
	}
}

// NewClient builds an HTTP client from cfg. One client is shared by
// all actors of a scenario for connection pooling.
func NewClient(cfg ClientConfig) *http.Client {
	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			DisableKeepAlives:   cfg.DisableKeepAlives,
		},
	}
}

// New builds a scenario task that executes the configured request and
// records one HTTP statistic per invocation. Transport errors and 5xx
// responses come back as plain errors, routed through the scenario's
// failure-handling policy.
func New(cfg Config, client *http.Client) *scenario.Task {
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("%s %s", cfg.Method, cfg.URL)
	}
	return &scenario.Task{
		Name:    name,
		Timeout: cfg.Timeout,
		Run: func(ctx context.Context, a *scenario.Actor) error {
			return execute(ctx, a, cfg, name, client)
		},
	}
}

func execute(ctx context.Context, a *scenario.Actor, cfg Config, name string, client *http.Client) error {
	url := a.ResolveVars(cfg.URL)

	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(a.ResolveVars(cfg.Body))
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, url, body)
	if err != nil {
		return fmt.Errorf("build request %s: %w", name, err)
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, a.ResolveVars(value))
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		a.Stats().Record(scenario.Sample{
			Kind:     SampleKind,
			Name:     name,
			Duration: duration,
			Failure:  err,
		})
		return fmt.Errorf("request %s: %w", name, err)
	}
	defer resp.Body.Close()

	received, readErr := io.Copy(io.Discard, resp.Body)
	if readErr != nil {
		a.Stats().Record(scenario.Sample{
			Kind:     SampleKind,
			Name:     name,
			Duration: duration,
			Size:     received,
			Failure:  readErr,
		})
		return fmt.Errorf("read response of %s: %w", name, readErr)
	}

	var failure error
	if resp.StatusCode >= 400 {
		failure = fmt.Errorf("request %s: status %d", name, resp.StatusCode)
	}
	a.Stats().Record(scenario.Sample{
		Kind:     SampleKind,
		Name:     name,
		Duration: duration,
		Size:     received,
		Context:  map[string]string{"status": fmt.Sprintf("%d", resp.StatusCode)},
		Failure:  failure,
	})
	return failure
}
