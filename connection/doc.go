// Package connection decides which endpoint ports are linked.
//
// A Manager holds the registered endpoints, derives the potential
// connections between type-compatible ports of different endpoints and
// moves them between disconnected and connected. Three paths lead to a
// connection:
//
//   - ConnectEndpointPorts connects a named pair now or fails with
//     ErrUnknownEndpoint, ErrUnknownPort, ErrIncompatible or ErrNotConnectable.
//   - AsyncConnectEndpointPorts returns a Future that resolves the first time
//     the pair can be connected, typically after the missing endpoint registers.
//   - AutoConnect connects every pair that is the only option for a SINGLE
//     port, repeating until the topology stops changing.
//
// Every decision is taken under one lock and reserves the ports before the
// lock is released, so a SINGLE port can never end up with two links. The
// endpoints' OnConnect callbacks run after the lock is released and may call
// back into the Manager. A half-made connection is never visible: until both
// callbacks returned, the pair reports itself as not connected and not
// connectable.
//
// Each side of a live connection has its own ordered delivery queue.
// Disconnect stops both queues from accepting messages, but messages already
// queued are still delivered and Disconnected is the last call each handler
// receives.
//
// A request whose endpoint is deregistered keeps waiting and resolves if an
// endpoint registers again under the same pid. Only Cancel or Close ends it.
package connection
