// Package wiringstore persists wiring rules and turns them into connection
// requests.
//
// A wiring rule names two ports that should be connected. Rules live in a
// NATS KV bucket (Store) and are applied to the connection manager by a
// Syncer: every put becomes an AsyncConnectEndpointPorts request and every
// delete cancels it. Because requests wait for their endpoints, rules can be
// written before the endpoints they mention exist.
//
//	store, _ := wiringstore.NewStore(ctx, natsClient, "", logger)
//	syncer := wiringstore.NewSyncer(manager, logger)
//	changes, _ := store.Watch(ctx)
//	go syncer.Run(ctx, changes)
package wiringstore
