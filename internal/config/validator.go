package config

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// runSchema is the JSON schema every run configuration must satisfy.
// Semantic checks that a schema cannot express live in Validate.
const runSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["scenarios"],
  "properties": {
    "name": {"type": "string"},
    "description": {"type": "string"},
    "variables": {"type": "object", "additionalProperties": {"type": "string"}},
    "scenarios": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "properties": {
          "users": {"type": "integer", "minimum": 0},
          "iterations": {"type": "integer", "minimum": 0},
          "pacing": {"type": "string"},
          "thinkTime": {"type": "string"},
          "spawnWaitTimeout": {"type": "string"},
          "testdata": {"type": "string"},
          "prefetch": {"type": "boolean"},
          "tolerateErrors": {"type": "boolean"},
          "failureActions": {
            "type": "object",
            "additionalProperties": {
              "enum": ["none", "retry", "restart-iteration", "restart-scenario", "stop-user"]
            }
          },
          "variables": {"type": "object", "additionalProperties": {"type": "string"}},
          "requests": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["url"],
              "properties": {
                "name": {"type": "string"},
                "method": {"type": "string"},
                "url": {"type": "string"},
                "headers": {"type": "object", "additionalProperties": {"type": "string"}},
                "body": {"type": "string"},
                "timeout": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("stride-run.schema.json", runSchema)

// ValidateSchema checks raw YAML bytes against the run schema.
func ValidateSchema(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}

// Validate applies the semantic checks a schema cannot express.
func (cfg *RunConfig) Validate() error {
	if len(cfg.Scenarios) == 0 {
		return fmt.Errorf("config: at least one scenario is required")
	}
	for name, sc := range cfg.Scenarios {
		if sc == nil {
			return fmt.Errorf("scenario %s: empty definition", name)
		}
		if sc.Users < 1 {
			return fmt.Errorf("scenario %s: users must be at least 1", name)
		}
		for match, action := range sc.FailureActions {
			if _, ok := failureActions[action]; !ok {
				return fmt.Errorf("scenario %s: unknown failure action %q for %q", name, action, match)
			}
		}
		for i, req := range sc.Requests {
			if req.URL == "" {
				return fmt.Errorf("scenario %s: request %d: url is required", name, i+1)
			}
			method := strings.ToUpper(req.Method)
			switch method {
			case "", "GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS":
			default:
				return fmt.Errorf("scenario %s: request %d: unsupported method %q", name, i+1, req.Method)
			}
		}
	}
	return nil
}
