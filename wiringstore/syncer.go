package wiringstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/semlink/connection"
)

// Requester is the part of the connection manager the syncer drives
type Requester interface {
	AsyncConnectEndpointPorts(pid1, port1, pid2, port2 string) *connection.Future
}

// Syncer keeps one asynchronous connect request per rule. Applying a rule
// issues a request; removing it cancels the request. A request that already
// connected is left alone by a cancel, so removing a rule never tears down
// a live connection.
type Syncer struct {
	requester Requester
	logger    *slog.Logger

	mu      sync.Mutex
	rules   map[string]*Rule
	futures map[string]*connection.Future
}

// NewSyncer creates a syncer driving requester
func NewSyncer(requester Requester, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		requester: requester,
		logger:    logger.With("component", "wiring-syncer"),
		rules:     make(map[string]*Rule),
		futures:   make(map[string]*connection.Future),
	}
}

// Apply issues a request for rule. Re-applying an unchanged rule is a no-op;
// a changed rule cancels the previous request first.
func (s *Syncer) Apply(rule *Rule) *connection.Future {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.rules[rule.ID]; ok {
		if prev.From == rule.From && prev.To == rule.To {
			return s.futures[rule.ID]
		}
		s.futures[rule.ID].Cancel()
	}

	f := s.requester.AsyncConnectEndpointPorts(rule.From.PID, rule.From.Port, rule.To.PID, rule.To.Port)
	s.rules[rule.ID] = rule
	s.futures[rule.ID] = f
	s.logger.Debug("Wiring rule applied", "rule", rule.String(), "request", f.ID(), "state", f.State().String())
	return f
}

// Remove cancels the request for id. It reports whether a rule was known.
func (s *Syncer) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.futures[id]
	if !ok {
		return false
	}
	f.Cancel()
	delete(s.futures, id)
	delete(s.rules, id)
	s.logger.Debug("Wiring rule removed", "rule", id, "state", f.State().String())
	return true
}

// Future returns the request issued for rule id
func (s *Syncer) Future(id string) (*connection.Future, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.futures[id]
	return f, ok
}

// Rules returns the applied rules ordered by id
func (s *Syncer) Rules() []*Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run applies changes until the channel closes or ctx ends
func (s *Syncer) Run(ctx context.Context, changes <-chan Change) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			switch c.Op {
			case OpPut:
				if err := c.Rule.Validate(); err != nil {
					s.logger.Warn("Ignoring invalid wiring rule", "key", c.ID, "error", err)
					continue
				}
				s.Apply(c.Rule)
			case OpDelete:
				s.Remove(c.ID)
			}
		}
	}
}
