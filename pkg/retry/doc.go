// Package retry is used by semlink for work that talks to the outside
// world: connecting to NATS, creating KV buckets and replaying stored wiring
// rules. It is never used inside the connection manager itself, whose errors
// are deterministic and returned to the caller unchanged.
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return client.Connect(ctx)
//	})
//
// DefaultShouldRetry stops immediately on connection taxonomy errors and on
// anything wrapped with errors.WrapInvalid or errors.WrapFatal. Wrap an error
// with NonRetryable to stop for any other reason.
package retry
