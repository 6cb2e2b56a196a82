package wiringstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semlink/errors"
	"github.com/c360/semlink/natsclient"
)

// DefaultBucket is the KV bucket rules are kept in
const DefaultBucket = "semlink_wiring"

// Op says what happened to a rule
type Op string

// Change operations
const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Change is a rule update observed through Watch
type Change struct {
	Op   Op
	ID   string
	Rule *Rule // nil for deletes
}

// Store persists wiring rules in a NATS KV bucket
type Store struct {
	kv     *natsclient.KVStore
	logger *slog.Logger
}

// NewStore opens or creates bucket. An empty bucket name uses DefaultBucket.
func NewStore(ctx context.Context, client *natsclient.Client, bucket string, logger *slog.Logger) (*Store, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "wiringstore", "NewStore", "nats client check")
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	if logger == nil {
		logger = slog.Default()
	}

	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Wiring rules: desired endpoint port connections",
		History:     5,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "wiringstore", "NewStore", "create KV bucket")
	}

	return &Store{
		kv:     client.NewKVStore(kv),
		logger: logger.With("component", "wiringstore", "bucket", bucket),
	}, nil
}

// Put creates or replaces a rule and returns its new revision. CreatedAt
// survives replacement.
func (s *Store) Put(ctx context.Context, rule *Rule) (uint64, error) {
	if err := rule.Validate(); err != nil {
		return 0, errors.Wrap(err, "wiringstore", "Put", "validate rule")
	}

	now := time.Now().UTC()
	rev, err := s.kv.Modify(ctx, rule.ID, func(current []byte) ([]byte, error) {
		rule.CreatedAt = now
		if current != nil {
			if prev, err := decode(current, 0); err == nil {
				rule.CreatedAt = prev.CreatedAt
			}
		}
		rule.UpdatedAt = now
		return json.Marshal(rule)
	})
	if err != nil {
		return 0, errors.WrapTransient(err, "wiringstore", "Put", "write rule to KV")
	}
	rule.Revision = rev
	s.logger.Debug("Wiring rule stored", "rule", rule.String(), "revision", rev)
	return rev, nil
}

// Create stores a rule only if no rule with its id exists
func (s *Store) Create(ctx context.Context, rule *Rule) (uint64, error) {
	if err := rule.Validate(); err != nil {
		return 0, errors.Wrap(err, "wiringstore", "Create", "validate rule")
	}
	now := time.Now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now

	data, err := json.Marshal(rule)
	if err != nil {
		return 0, errors.WrapFatal(err, "wiringstore", "Create", "marshal rule")
	}
	rev, err := s.kv.Create(ctx, rule.ID, data)
	if err != nil {
		if natsclient.IsKVConflictError(err) {
			return 0, errors.WrapInvalid(err, "wiringstore", "Create", "rule "+rule.ID+" already exists")
		}
		return 0, errors.WrapTransient(err, "wiringstore", "Create", "create in KV")
	}
	rule.Revision = rev
	return rev, nil
}

// Get reads a rule. A missing rule returns an error matching natsclient.ErrKVKeyNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Rule, error) {
	if id == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "wiringstore", "Get", "rule id check")
	}
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil, errors.WrapInvalid(err, "wiringstore", "Get", "get rule "+id)
		}
		return nil, errors.WrapTransient(err, "wiringstore", "Get", "get rule "+id)
	}
	return decode(entry.Value, entry.Revision)
}

// Delete removes a rule. Deleting a missing rule is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "wiringstore", "Delete", "rule id check")
	}
	if err := s.kv.Delete(ctx, id); err != nil && !errors.Is(err, natsclient.ErrKVKeyNotFound) {
		return errors.WrapTransient(err, "wiringstore", "Delete", "delete rule "+id)
	}
	return nil
}

// List returns every rule ordered by id
func (s *Store) List(ctx context.Context) ([]*Rule, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "wiringstore", "List", "list KV keys")
	}
	sort.Strings(keys)

	rules := make([]*Rule, 0, len(keys))
	for _, key := range keys {
		rule, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, natsclient.ErrKVKeyNotFound) {
				continue // deleted since Keys
			}
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Watch streams every stored rule as a put, then every later change. The
// channel closes when ctx ends.
func (s *Store) Watch(ctx context.Context) (<-chan Change, error) {
	watcher, err := s.kv.Watch(ctx, ">")
	if err != nil {
		return nil, errors.WrapTransient(err, "wiringstore", "Watch", "watch bucket")
	}

	out := make(chan Change, 64)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Stop() }()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					// initial values delivered
					continue
				}
				change, ok := s.toChange(entry)
				if !ok {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) toChange(entry jetstream.KeyValueEntry) (Change, bool) {
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return Change{Op: OpDelete, ID: entry.Key()}, true
	default:
		rule, err := decode(entry.Value(), entry.Revision())
		if err != nil {
			s.logger.Warn("Skipping undecodable wiring rule", "key", entry.Key(), "error", err)
			return Change{}, false
		}
		return Change{Op: OpPut, ID: entry.Key(), Rule: rule}, true
	}
}

func decode(data []byte, revision uint64) (*Rule, error) {
	var rule Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, errors.WrapInvalid(err, "wiringstore", "decode", "unmarshal rule")
	}
	rule.Revision = revision
	return &rule, nil
}
