package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testImage = "nats:2.11.7-alpine"

// TestClient is a connected Client against a throwaway NATS container.
type TestClient struct {
	Client *Client
	URL    string
}

type testServer struct {
	jetstream bool
	buckets   []string
}

type TestOption func(*testServer)

func WithJetStream() TestOption {
	return func(s *testServer) { s.jetstream = true }
}

// WithKVBuckets implies JetStream and creates the buckets up front.
func WithKVBuckets(buckets ...string) TestOption {
	return func(s *testServer) {
		s.jetstream = true
		s.buckets = append(s.buckets, buckets...)
	}
}

// NewTestClient starts NATS in a container and connects to it. Both are
// torn down when t finishes.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	var srv testServer
	for _, opt := range opts {
		opt(&srv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cmd := []string{"--port", "4222", "--http_port", "8222"}
	if srv.jetstream {
		cmd = append(cmd, "--js")
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        testImage,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          cmd,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp"),
			).WithDeadline(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start NATS container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		t.Fatalf("resolve NATS endpoint: %v", err)
	}

	client, err := NewClient(endpoint, WithTimeout(5*time.Second), WithMaxReconnects(0), WithName(t.Name()))
	if err != nil {
		t.Fatalf("NATS client: %v", err)
	}
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect to %s: %v", endpoint, err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	for _, bucket := range srv.buckets {
		if _, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: bucket}); err != nil {
			t.Fatalf("create KV bucket %s: %v", bucket, err)
		}
	}
	return &TestClient{Client: client, URL: endpoint}
}
