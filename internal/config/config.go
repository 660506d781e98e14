// Package config provides parsing and validation of stride run
// configurations.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// RunConfig is the root configuration for a run.
//
// Example YAML:
//
//	name: "checkout load"
//	scenarios:
//	  checkout:
//	    users: 10
//	    iterations: 100
//	    pacing: "10000"
//	    testdata: accounts.jsonl
//	    failureActions:
//	      default: restart-iteration
//	      "connection refused": retry
//	    requests:
//	      - name: "get cart"
//	        method: GET
//	        url: "https://shop.example.com/cart/{{cart_id}}"
type RunConfig struct {
	// Name of the run (for reporting).
	Name string `json:"name" yaml:"name"`

	// Description of the run (optional).
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Variables are seeded into every actor's variable context.
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Scenarios to run. Each scenario runs its own actor pool.
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`
}

// ScenarioConfig defines one scenario: its actor pool, iteration
// policy, and task list.
type ScenarioConfig struct {
	// Users is the number of concurrent actors.
	Users int `json:"users" yaml:"users"`

	// Iterations bounds the total testdata fetches across all actors.
	// Zero runs until the testdata source is exhausted.
	Iterations int `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// Pacing is the iteration pacing target in milliseconds. May
	// contain {{var}} placeholders; re-evaluated every iteration.
	// Empty disables pacing.
	Pacing string `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// ThinkTime is the inter-task delay.
	ThinkTime Duration `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// SpawnWaitTimeout bounds the one-time wait for all actors to
	// start. Zero skips the wait; negative waits indefinitely.
	SpawnWaitTimeout Duration `json:"spawnWaitTimeout,omitempty" yaml:"spawnWaitTimeout,omitempty"`

	// Testdata is the path to a JSON-lines file of per-iteration
	// bindings. Empty means each iteration reuses the scenario
	// variables.
	Testdata string `json:"testdata,omitempty" yaml:"testdata,omitempty"`

	// Prefetch fetches the first iteration's bindings during startup.
	Prefetch bool `json:"prefetch,omitempty" yaml:"prefetch,omitempty"`

	// FailureActions maps a failure matcher (or "default") to an
	// action: retry, restart-iteration, restart-scenario, stop-user,
	// or none.
	FailureActions map[string]string `json:"failureActions,omitempty" yaml:"failureActions,omitempty"`

	// TolerateErrors keeps an actor running after a failure no policy
	// entry matches.
	TolerateErrors bool `json:"tolerateErrors,omitempty" yaml:"tolerateErrors,omitempty"`

	// Requests are the HTTP tasks of the iteration, in order.
	Requests []RequestConfig `json:"requests" yaml:"requests"`

	// Variables are scenario-local, merged over the run variables.
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// RequestConfig defines a single HTTP task.
type RequestConfig struct {
	// Name for this request (used in statistics).
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method.
	Method string `json:"method" yaml:"method"`

	// URL supports {{var}} substitution.
	URL string `json:"url" yaml:"url"`

	// Headers support {{var}} substitution in values.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body supports {{var}} substitution.
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout for this specific request.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Duration wraps time.Duration with YAML string parsing ("30s", "2m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
