package endpoint

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/c360/semlink/errors"
)

// Cardinality says how many live connections a port can hold
type Cardinality string

// Cardinality constants
const (
	// CardinalitySingle allows at most one live connection at a time
	CardinalitySingle Cardinality = "single"
	// CardinalityMultiple allows any number of concurrent connections
	CardinalityMultiple Cardinality = "multiple"
)

// String returns the upper-case name used in logs
func (c Cardinality) String() string {
	return strings.ToUpper(string(c))
}

// Valid reports whether c is a known cardinality
func (c Cardinality) Valid() bool {
	return c == CardinalitySingle || c == CardinalityMultiple
}

// Port describes one named attachment point on an endpoint. It is a value
// type; the manager never mutates a descriptor after registration.
type Port struct {
	Name        string      `json:"name"                  yaml:"name"`
	Cardinality Cardinality `json:"cardinality"           yaml:"cardinality"`
	Sends       []string    `json:"sends,omitempty"       yaml:"sends,omitempty"`
	Accepts     []string    `json:"accepts,omitempty"     yaml:"accepts,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
}

// Validate checks the descriptor. Sent types must be literal names; accepted
// types may use '*' (one token) and '>' (remaining tokens) wildcards.
func (p Port) Validate() error {
	if p.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidPort, "Port", "Validate", "name check")
	}
	if strings.ContainsAny(p.Name, "/|") || strings.IndexFunc(p.Name, unicode.IsSpace) >= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: name %q contains '/', '|' or whitespace", errors.ErrInvalidPort, p.Name),
			"Port", "Validate", "name check")
	}
	if !p.Cardinality.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: port %s has cardinality %q", errors.ErrInvalidPort, p.Name, p.Cardinality),
			"Port", "Validate", "cardinality check")
	}
	for _, t := range p.Sends {
		if t == "" || hasWildcard(t) {
			return errors.WrapInvalid(
				fmt.Errorf("%w: port %s sends %q", errors.ErrInvalidPort, p.Name, t),
				"Port", "Validate", "sent type check")
		}
	}
	for _, t := range p.Accepts {
		if t == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: port %s accepts an empty type", errors.ErrInvalidPort, p.Name),
				"Port", "Validate", "accepted type check")
		}
	}
	return nil
}

// Clone returns a copy that shares no slices with p
func (p Port) Clone() Port {
	p.Sends = append([]string(nil), p.Sends...)
	p.Accepts = append([]string(nil), p.Accepts...)
	return p
}

// AcceptsType reports whether the port accepts messages of type typ
func (p Port) AcceptsType(typ string) bool {
	for _, pattern := range p.Accepts {
		if MatchType(pattern, typ) {
			return true
		}
	}
	return false
}

// Compatible decides whether a link between a and b is type-legal: every type
// either side sends must be accepted by the other side, and at least one type
// must flow in some direction. Compatible is symmetric and pure.
func Compatible(a, b Port) bool {
	if len(a.Sends) == 0 && len(b.Sends) == 0 {
		return false
	}
	for _, t := range a.Sends {
		if !b.AcceptsType(t) {
			return false
		}
	}
	for _, t := range b.Sends {
		if !a.AcceptsType(t) {
			return false
		}
	}
	return true
}

// MatchType checks whether a message type matches a pattern using NATS subject
// semantics: '*' matches exactly one dot-separated token, '>' matches one or
// more remaining tokens.
func MatchType(pattern, typ string) bool {
	if pattern == typ {
		return true
	}
	if !hasWildcard(pattern) {
		return false
	}
	return matchTokens(strings.Split(typ, "."), strings.Split(pattern, "."))
}

func hasWildcard(s string) bool {
	return strings.Contains(s, "*") || strings.Contains(s, ">")
}

func matchTokens(typeTokens, patternTokens []string) bool {
	i, j := 0, 0

	for i < len(patternTokens) {
		if patternTokens[i] == ">" {
			return j < len(typeTokens)
		}
		if j >= len(typeTokens) {
			return false
		}
		if patternTokens[i] != "*" && patternTokens[i] != typeTokens[j] {
			return false
		}
		i++
		j++
	}

	return j == len(typeTokens)
}
