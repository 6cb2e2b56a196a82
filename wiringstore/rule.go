package wiringstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/errors"
)

// validID matches the characters NATS KV accepts in a key
var validID = regexp.MustCompile(`^[-_=.a-zA-Z0-9]+$`)

// Rule is a desired connection between two ports. Either side may name an
// endpoint that is not registered yet.
type Rule struct {
	ID        string           `json:"id"`
	From      endpoint.PortRef `json:"from"`
	To        endpoint.PortRef `json:"to"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`

	// Revision is the KV revision the rule was read at
	Revision uint64 `json:"-"`
}

// NewRule builds a rule with the id RuleID(from, to)
func NewRule(from, to endpoint.PortRef) *Rule {
	return &Rule{ID: RuleID(from, to), From: from, To: to}
}

// ParseRule builds a rule from two "pid/port" strings
func ParseRule(from, to string) (*Rule, error) {
	f, err := endpoint.ParsePortRef(from)
	if err != nil {
		return nil, errors.Wrap(err, "Rule", "ParseRule", "parse from")
	}
	t, err := endpoint.ParsePortRef(to)
	if err != nil {
		return nil, errors.Wrap(err, "Rule", "ParseRule", "parse to")
	}
	return NewRule(f, t), nil
}

// RuleID derives a KV-safe id from the pair. The order of the two ports
// does not matter.
func RuleID(a, b endpoint.PortRef) string {
	as, bs := a.String(), b.String()
	if bs < as {
		as, bs = bs, as
	}
	sum := sha256.Sum256([]byte(as + "|" + bs))
	return "rule-" + hex.EncodeToString(sum[:10])
}

// Validate checks that the rule can be stored and applied
func (r *Rule) Validate() error {
	if r == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Rule", "Validate", "nil rule")
	}
	if !validID.MatchString(r.ID) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: rule id %q", errors.ErrInvalidData, r.ID),
			"Rule", "Validate", "id check")
	}
	for _, ref := range []endpoint.PortRef{r.From, r.To} {
		if ref.Port == "" || endpoint.ValidatePID(ref.PID) != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: bad port reference %q", errors.ErrInvalidData, ref.String()),
				"Rule", "Validate", "port reference check")
		}
	}
	if r.From == r.To {
		return errors.WrapInvalid(
			fmt.Errorf("%w: rule %s connects %s to itself", errors.ErrInvalidData, r.ID, r.From),
			"Rule", "Validate", "self connection check")
	}
	return nil
}

func (r *Rule) String() string {
	return fmt.Sprintf("%s (%s -> %s)", r.ID, r.From, r.To)
}
