package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semlink/errors"
	"github.com/c360/semlink/pkg/retry"
)

var (
	ErrKVKeyNotFound      = errors.New("kv: key not found")
	ErrKVKeyExists        = errors.New("kv: key already exists")
	ErrKVRevisionMismatch = errors.New("kv: revision mismatch")
)

// KVEntry is a value with the revision it was read at.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

type KVOptions struct {
	Timeout      time.Duration // per operation; 0 disables
	MaxValueSize int
	CASRetry     retry.Config // backoff for Modify conflicts
}

func DefaultKVOptions() KVOptions {
	return KVOptions{
		Timeout:      5 * time.Second,
		MaxValueSize: 1 << 20,
		CASRetry: retry.Config{
			MaxAttempts:  10,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2,
			AddJitter:    true,
			ShouldRetry:  IsKVConflictError,
		},
	}
}

// KVStore maps jetstream KV errors onto the ErrKV* sentinels and bounds each
// call with KVOptions.Timeout.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  c.logger.With("bucket", bucket.Bucket()),
	}
}

func (kv *KVStore) Bucket() string { return kv.bucket.Bucket() }

// call runs op under the per-operation timeout and translates its error.
func (kv *KVStore) call(ctx context.Context, what, key string, op func(context.Context) error) error {
	if kv.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, kv.options.Timeout)
		defer cancel()
	}
	err := op(ctx)
	switch {
	case err == nil:
		return nil
	case IsKVNotFoundError(err):
		return ErrKVKeyNotFound
	case what == "update" && IsKVConflictError(err):
		return ErrKVRevisionMismatch
	case IsKVConflictError(err):
		return ErrKVKeyExists
	default:
		return fmt.Errorf("kv %s %s: %w", what, key, err)
	}
}

func (kv *KVStore) checkSize(key string, value []byte) error {
	if limit := kv.options.MaxValueSize; limit > 0 && len(value) > limit {
		return errors.WrapInvalid(fmt.Errorf("value for %s is %d bytes, limit %d", key, len(value), limit),
			"KVStore", "write", "check value size")
	}
	return nil
}

func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	var entry jetstream.KeyValueEntry
	err := kv.call(ctx, "get", key, func(ctx context.Context) (err error) {
		entry, err = kv.bucket.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes value unconditionally.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return kv.write(ctx, "put", key, value, func(ctx context.Context) (uint64, error) {
		return kv.bucket.Put(ctx, key, value)
	})
}

// Create writes value only when key is absent or deleted.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return kv.write(ctx, "create", key, value, func(ctx context.Context) (uint64, error) {
		return kv.bucket.Create(ctx, key, value)
	})
}

// Update writes value only while the stored revision equals revision.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return kv.write(ctx, "update", key, value, func(ctx context.Context) (uint64, error) {
		return kv.bucket.Update(ctx, key, value, revision)
	})
}

func (kv *KVStore) write(ctx context.Context, what, key string, value []byte,
	op func(context.Context) (uint64, error),
) (uint64, error) {
	if err := kv.checkSize(key, value); err != nil {
		return 0, err
	}
	var rev uint64
	err := kv.call(ctx, what, key, func(ctx context.Context) (err error) {
		rev, err = op(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	kv.logger.Debug("KV write", "op", what, "key", key, "revision", rev)
	return rev, nil
}

// Modify replaces the value of key with fn(current) under a revision check,
// retrying when another writer gets there first. fn sees nil when key is
// absent and the write becomes a create.
func (kv *KVStore) Modify(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) (uint64, error) {
	return retry.DoWithResult(ctx, kv.options.CASRetry, func() (uint64, error) {
		var current []byte
		var revision uint64

		entry, err := kv.Get(ctx, key)
		switch {
		case err == nil:
			current, revision = entry.Value, entry.Revision
		case !errors.Is(err, ErrKVKeyNotFound):
			return 0, err
		}

		next, err := fn(current)
		if err != nil {
			return 0, retry.NonRetryable(err)
		}
		if revision == 0 {
			return kv.Create(ctx, key, next)
		}
		return kv.Update(ctx, key, next, revision)
	})
}

// Delete removes key. A missing key reports ErrKVKeyNotFound.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	return kv.call(ctx, "delete", key, func(ctx context.Context) error {
		return kv.bucket.Delete(ctx, key)
	})
}

// Keys lists live keys; an empty bucket gives an empty slice.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := kv.call(ctx, "keys", "", func(ctx context.Context) (err error) {
		keys, err = kv.bucket.Keys(ctx)
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			keys, err = []string{}, nil
		}
		return err
	})
	return keys, err
}

// Watch is not bounded by the operation timeout; it lives as long as ctx.
func (kv *KVStore) Watch(ctx context.Context, pattern string, opts ...jetstream.WatchOpt) (jetstream.KeyWatcher, error) {
	watcher, err := kv.bucket.Watch(ctx, pattern, opts...)
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", pattern, err)
	}
	return watcher, nil
}

// IsKVNotFoundError matches missing or deleted keys, including the raw
// JetStream API error codes.
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrKVKeyNotFound) ||
		errors.Is(err, jetstream.ErrKeyNotFound) ||
		errors.Is(err, jetstream.ErrKeyDeleted) ||
		containsMsg(err, "key not found") || containsMsg(err, "10037")
}

// IsKVConflictError matches an existing key or a moved revision.
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrKVRevisionMismatch) ||
		errors.Is(err, ErrKVKeyExists) ||
		errors.Is(err, jetstream.ErrKeyExists) ||
		containsMsg(err, "wrong last sequence") || containsMsg(err, "10071") ||
		containsMsg(err, "key exists") || containsMsg(err, "10058")
}
