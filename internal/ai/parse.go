package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"payflow.app/resolver/internal/model"
)

var (
	ErrNoJSON            = errors.New("no JSON object in agent response")
	ErrMalformedJSON     = errors.New("malformed agent JSON")
	ErrMissingField      = errors.New("missing field")
	ErrInvalidField      = errors.New("invalid field")
	ErrConfidenceRange   = errors.New("confidence out of range")
	ErrEscalateAsResolve = errors.New("auto_resolve with an escalation action")
)

// agentOutput is the JSON contract the agent must return.
type agentOutput struct {
	Decision      string  `json:"decision" jsonschema:"enum=auto_resolve,enum=human_review,enum=escalate"`
	Action        string  `json:"action" jsonschema:"description=One of the actions allowed by the policy"`
	Confidence    float64 `json:"confidence" jsonschema:"minimum=0,maximum=100"`
	Reasoning     string  `json:"reasoning"`
	PolicyApplied string  `json:"policyApplied"`
}

var requiredFields = []string{"decision", "action", "confidence", "reasoning", "policyApplied"}

// Decision is a validated agent recommendation. Confidence stays on the
// agent's [0,100] scale; the router rescales it.
type Decision struct {
	Routing       model.AIRouting
	Action        model.AIAction
	Decision      model.DecisionCode
	Confidence    float64
	Reasoning     string
	PolicyApplied string
}

// ParseDecision extracts the first JSON object from content and validates it
// strictly against the contract for issue type t. Any deviation is an error.
func ParseDecision(t model.IssueType, content string) (*Decision, error) {
	raw, ok := extractJSONObject(content)
	if !ok {
		return nil, ErrNoJSON
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	for _, f := range requiredFields {
		v, ok := fields[f]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, f)
		}
	}

	var out agentOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}

	routing := model.AIRouting(out.Decision)
	if !routing.Valid() {
		return nil, fmt.Errorf("%w: decision %q", ErrInvalidField, out.Decision)
	}

	action := model.AIAction(out.Action)
	code, ok := model.CanonicalDecision(t, action)
	if !ok {
		return nil, fmt.Errorf("%w: action %q not allowed for %s", ErrInvalidField, out.Action, t)
	}

	if math.IsNaN(out.Confidence) || out.Confidence < 0 || out.Confidence > 100 {
		return nil, fmt.Errorf("%w: %v", ErrConfidenceRange, out.Confidence)
	}
	if strings.TrimSpace(out.Reasoning) == "" {
		return nil, fmt.Errorf("%w: reasoning is empty", ErrInvalidField)
	}
	if strings.TrimSpace(out.PolicyApplied) == "" {
		return nil, fmt.Errorf("%w: policyApplied is empty", ErrInvalidField)
	}
	if routing == model.AIRoutingAutoResolve && code == model.DecisionEscalate {
		return nil, fmt.Errorf("%w: %s", ErrEscalateAsResolve, out.Action)
	}

	return &Decision{
		Routing:       routing,
		Action:        action,
		Decision:      code,
		Confidence:    out.Confidence,
		Reasoning:     out.Reasoning,
		PolicyApplied: out.PolicyApplied,
	}, nil
}

// extractJSONObject returns the first balanced {...} in s, skipping braces
// inside string literals. Models often wrap JSON in prose or code fences.
func extractJSONObject(s string) ([]byte, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(s[start : i+1]), true
			}
		}
	}
	return nil, false
}

// IsParseError reports whether err came from validating agent output
// rather than from the provider call.
func IsParseError(err error) bool {
	for _, target := range []error{ErrNoJSON, ErrMalformedJSON, ErrMissingField, ErrInvalidField, ErrConfidenceRange, ErrEscalateAsResolve} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
