// Package worker provides bounded, non-blocking work queues.
//
// Queue is a single-consumer FIFO. Live connections give each message
// handler its own Queue so messages arrive in send order and a slow handler
// never blocks the sender: Submit fails with ErrQueueFull instead. Closing a
// Queue is asynchronous. Items already accepted are still delivered and a
// final callback runs last, which is how a handler learns its peer
// disconnected only after it has seen every message sent before that.
//
//	q := worker.NewQueue(256, func(msg any) { handler.HandleMessage(msg) })
//	_ = q.Submit(msg)
//	q.Close(handler.Disconnected)
//	<-q.Done()
//
// Pool runs a fixed number of goroutines over a shared queue with no ordering
// guarantee. The NATS event publisher uses it.
//
// Metrics are created once per prefix with NewMetrics and shared by every
// Queue or Pool that is handed them, since queues come and go with
// connections.
package worker
