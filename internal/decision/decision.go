package decision

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type distinguishes decisions that only touch internal state from ones with
// outward-facing effects.
type Type string

const (
	TypeInternal Type = "internal"
	TypeExternal Type = "external"
)

// Decision is the structured output of a model decision request.
type Decision struct {
	Action       string          `json:"action"`
	Reasoning    string          `json:"reasoning"`
	Certainty    float64         `json:"certainty"`
	Significance float64         `json:"significance"`
	Type         Type            `json:"type"`
	Details      json.RawMessage `json:"details"`
}

// ParseError reports a malformed decision payload. Callers recover from it by
// falling back to a safe default action; it never crashes the loop.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("decision: invalid field %q: %s", e.Field, e.Reason)
}

// rawDecision mirrors Decision with pointers so missing fields are
// distinguishable from zero values.
type rawDecision struct {
	Action       *string         `json:"action"`
	Reasoning    *string         `json:"reasoning"`
	Certainty    *float64        `json:"certainty"`
	Significance *float64        `json:"significance"`
	Type         *string         `json:"type"`
	Details      json.RawMessage `json:"details"`
}

// Parser validates raw decision JSON against the known action set.
type Parser struct {
	known map[string]struct{}
}

// NewParser creates a parser accepting the given actions.
func NewParser(actions []string) *Parser {
	known := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		known[a] = struct{}{}
	}
	return &Parser{known: known}
}

// Parse decodes and validates a decision payload. The returned error is a
// *ParseError naming the offending field for anything recoverable.
func (p *Parser) Parse(raw []byte) (*Decision, error) {
	var rd rawDecision
	if err := json.Unmarshal(raw, &rd); err != nil {
		return nil, &ParseError{Field: "", Reason: fmt.Sprintf("malformed json: %v", err)}
	}

	if rd.Action == nil || strings.TrimSpace(*rd.Action) == "" {
		return nil, &ParseError{Field: "action", Reason: "missing or empty"}
	}
	action := strings.TrimSpace(*rd.Action)
	if _, ok := p.known[action]; !ok {
		return nil, &ParseError{Field: "action", Reason: fmt.Sprintf("unknown action %q", action)}
	}
	if rd.Certainty == nil {
		return nil, &ParseError{Field: "certainty", Reason: "missing"}
	}
	if *rd.Certainty < 0 || *rd.Certainty > 1 {
		return nil, &ParseError{Field: "certainty", Reason: "out of range [0,1]"}
	}
	if rd.Significance == nil {
		return nil, &ParseError{Field: "significance", Reason: "missing"}
	}
	if *rd.Significance < 0 || *rd.Significance > 1 {
		return nil, &ParseError{Field: "significance", Reason: "out of range [0,1]"}
	}
	if rd.Type == nil {
		return nil, &ParseError{Field: "type", Reason: "missing"}
	}
	dtype := Type(strings.TrimSpace(*rd.Type))
	if dtype != TypeInternal && dtype != TypeExternal {
		return nil, &ParseError{Field: "type", Reason: "must be \"internal\" or \"external\""}
	}

	d := &Decision{
		Action:       action,
		Certainty:    *rd.Certainty,
		Significance: *rd.Significance,
		Type:         dtype,
		Details:      rd.Details,
	}
	if rd.Reasoning != nil {
		d.Reasoning = *rd.Reasoning
	}
	if len(d.Details) == 0 {
		d.Details = json.RawMessage("{}")
	}
	return d, nil
}
