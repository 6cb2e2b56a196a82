package natsclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jetstreamConfig(bucket string) jetstream.KeyValueConfig {
	return jetstream.KeyValueConfig{Bucket: bucket}
}

func TestKVStore_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}

	tc := NewTestClient(t, WithKVBuckets("kv_test"))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bucket, err := tc.Client.GetKeyValueBucket(ctx, "kv_test")
	require.NoError(t, err)
	kv := tc.Client.NewKVStore(bucket)

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	rev, err := kv.Create(ctx, "rule-1", []byte(`{"a":1}`))
	require.NoError(t, err)

	_, err = kv.Create(ctx, "rule-1", []byte(`{}`))
	assert.ErrorIs(t, err, ErrKVKeyExists)

	_, err = kv.Update(ctx, "rule-1", []byte(`{"a":2}`), rev+10)
	assert.ErrorIs(t, err, ErrKVRevisionMismatch)

	_, err = kv.Modify(ctx, "rule-1", func(current []byte) ([]byte, error) {
		assert.JSONEq(t, `{"a":1}`, string(current))
		return []byte(`{"a":1,"b":true}`), nil
	})
	require.NoError(t, err)

	entry, err := kv.Get(ctx, "rule-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":true}`, string(entry.Value))

	_, err = kv.Modify(ctx, "rule-2", func(current []byte) ([]byte, error) {
		assert.Nil(t, current)
		return []byte(`{}`), nil
	})
	require.NoError(t, err)
	require.NoError(t, kv.Delete(ctx, "rule-2"))

	keys, err = kv.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rule-1"}, keys)

	require.NoError(t, kv.Delete(ctx, "rule-1"))
	_, err = kv.Get(ctx, "rule-1")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	received := make(chan string, 1)
	_, err = tc.Client.Subscribe(ctx, "probe.>", func(_ context.Context, subject string, _ []byte) {
		received <- subject
	})
	require.NoError(t, err)
	require.NoError(t, tc.Client.Publish(ctx, "probe.one", []byte("x")))

	select {
	case subject := <-received:
		assert.Equal(t, "probe.one", subject)
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}
