package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stridekit/stride/internal/scenario"
)

// Load reads, parses, and validates a run configuration file.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses and validates YAML configuration bytes. The bytes are
// checked against the embedded JSON schema before decoding, so shape
// errors surface with schema paths instead of zero values.
func Parse(data []byte) (*RunConfig, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var cfg RunConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in the defaults for unset fields.
func ApplyDefaults(cfg *RunConfig) {
	if cfg.Name == "" {
		cfg.Name = "stride run"
	}
	for name, sc := range cfg.Scenarios {
		if sc == nil {
			continue
		}
		if sc.Users == 0 {
			sc.Users = 1
		}
		for i := range sc.Requests {
			if sc.Requests[i].Name == "" {
				sc.Requests[i].Name = fmt.Sprintf("%s_request_%d", name, i+1)
			}
			if sc.Requests[i].Method == "" {
				sc.Requests[i].Method = "GET"
			}
		}
	}
}

// failureActions maps config action names onto escalations.
var failureActions = map[string]scenario.Escalation{
	"none":              scenario.EscalateNone,
	"retry":             scenario.EscalateRetry,
	"restart-iteration": scenario.EscalateRestartIteration,
	"restart-scenario":  scenario.EscalateRestartScenario,
	"stop-user":         scenario.EscalateStopUser,
}

// Policy converts the scenario's failure actions into a
// scenario.PolicyMap. The "default" key becomes the fallback entry;
// every other key is a substring matcher.
func (sc *ScenarioConfig) Policy() scenario.PolicyMap {
	var policy scenario.PolicyMap
	for match, action := range sc.FailureActions {
		esc, ok := failureActions[action]
		if !ok {
			continue
		}
		if match == "default" {
			e := esc
			policy.Default = &e
			continue
		}
		policy.Rules = append(policy.Rules, scenario.PolicyRule{
			Match:      match,
			Escalation: esc,
		})
	}
	return policy
}
