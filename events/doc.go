// Package events carries topology changes out of the connection manager.
//
// The manager calls Observer.Observe after each change is visible and with
// its lock released. Two observers ship with the package:
//
//   - Hub fans events out to in-process subscribers such as the gateway's
//     websocket stream. Slow subscribers lose events instead of blocking.
//   - NATSPublisher publishes each event as JSON on <subject>.<kind> through
//     a worker pool.
//
// Several observers can be combined with Multi.
package events
