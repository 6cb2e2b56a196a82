// Package natsclient wraps nats.go for semlink.
//
// Client dials with backoff from pkg/retry, tracks its status for the health
// endpoint and mirrors it into the semlink_nats_connected gauge when built
// with WithMetrics. KVStore adds revision-aware helpers over a JetStream
// key-value bucket and is what the wiring rule store sits on.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithName("semlink"),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// Tests that need a real server use NewTestClient, which starts NATS in a
// container through testcontainers-go. Those tests only run when
// INTEGRATION_TESTS is set.
package natsclient
