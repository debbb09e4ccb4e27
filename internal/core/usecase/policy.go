package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
)

// limitPolicySchema constrains operator-supplied limit documents before any
// value reaches the rate limiter.
const limitPolicySchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["window_seconds", "default_limit"],
	"properties": {
		"window_seconds": {"type": "integer", "minimum": 1},
		"default_limit": {"type": "integer", "minimum": 1},
		"limits": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"api_key": {"type": "integer", "minimum": 1},
				"production": {"type": "integer", "minimum": 1},
				"session": {"type": "integer", "minimum": 1}
			}
		}
	}
}`

// LimitPolicy maps token types to fixed-window admission limits.
type LimitPolicy struct {
	Window       time.Duration
	DefaultLimit int
	Limits       map[domain.TokenType]int
}

func (p LimitPolicy) LimitFor(t domain.TokenType) int {
	if limit, ok := p.Limits[t]; ok {
		return limit
	}
	return p.DefaultLimit
}

// DefaultLimitPolicy is used when no limits file is configured: one minute
// windows, conservative for short-lived session tokens.
func DefaultLimitPolicy() LimitPolicy {
	return LimitPolicy{
		Window:       time.Minute,
		DefaultLimit: 60,
		Limits: map[domain.TokenType]int{
			domain.TypeAPIKey:     120,
			domain.TypeProduction: 600,
			domain.TypeSession:    30,
		},
	}
}

type limitPolicyDocument struct {
	WindowSeconds int            `json:"window_seconds"`
	DefaultLimit  int            `json:"default_limit"`
	Limits        map[string]int `json:"limits"`
}

// LoadLimitPolicy parses and schema-validates a JSON limit document.
func LoadLimitPolicy(raw []byte) (LimitPolicy, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("limits.json", bytes.NewReader([]byte(limitPolicySchema))); err != nil {
		return LimitPolicy{}, fmt.Errorf("add limit schema: %w", err)
	}
	schema, err := compiler.Compile("limits.json")
	if err != nil {
		return LimitPolicy{}, fmt.Errorf("compile limit schema: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return LimitPolicy{}, fmt.Errorf("parse limits: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return LimitPolicy{}, fmt.Errorf("invalid limits document: %w", err)
	}

	var doc limitPolicyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return LimitPolicy{}, fmt.Errorf("parse limits: %w", err)
	}

	policy := LimitPolicy{
		Window:       time.Duration(doc.WindowSeconds) * time.Second,
		DefaultLimit: doc.DefaultLimit,
		Limits:       make(map[domain.TokenType]int, len(doc.Limits)),
	}
	for name, limit := range doc.Limits {
		policy.Limits[domain.TokenType(name)] = limit
	}
	return policy, nil
}
