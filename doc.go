// Package semlink wires message endpoints together at runtime.
//
// Endpoints declare ports. A port names the message types it sends and
// accepts and whether it takes one link (SINGLE) or many (MULTIPLE). When an
// endpoint registers, semlink computes every potential connection between
// its ports and the compatible ports of the endpoints already present. A
// potential connection becomes a live link through one of three paths:
//
//   - an explicit connect of a named pair, which succeeds or fails now
//   - an asynchronous request, which resolves when the pair first becomes
//     connectable (typically after the missing endpoint registers)
//   - auto-connect, which links every pair that is the only option for a
//     SINGLE port and repeats until nothing changes
//
// # Architecture
//
//	┌──────────────────────────────────────┐
//	│  gateway (HTTP + websocket events)   │  connect, request, auto-connect
//	└──────────────────────────────────────┘
//	           ↓ drives
//	┌──────────────────────────────────────┐
//	│  connection.Manager                  │  registry, potential-connection
//	│                                      │  index, pending requests
//	└──────────────────────────────────────┘
//	     ↑ registers          ↓ emits
//	┌──────────────┐   ┌───────────────────┐
//	│  endpoints   │   │  events           │  hub (in process),
//	│  (factories) │   │                   │  NATS publisher
//	└──────────────┘   └───────────────────┘
//	           ↑ rules
//	┌──────────────────────────────────────┐
//	│  wiringstore (config + NATS KV)      │  desired connections
//	└──────────────────────────────────────┘
//
// # Packages
//
//   - endpoint: port descriptors, the compatibility predicate, endpoint and
//     handler interfaces, and the factory registry
//   - endpoint/logsink, endpoint/heartbeat, endpoint/natsbridge: built-in
//     endpoints created from configuration
//   - connection: the manager, futures, auto-connect and message listeners
//   - wiringstore: wiring rules persisted in a NATS KV bucket and applied as
//     asynchronous requests
//   - events: topology events, in-process fan-out and NATS publishing
//   - gateway: the management HTTP API
//   - config, errors, health, metric, natsclient: ambient infrastructure
//   - cmd/semlink: the binary
//
// # Compatibility
//
// Two ports of different endpoints are compatible when at least one message
// type flows between them and every type either side sends is accepted by
// the other. Accept entries may be NATS-style patterns such as "sensor.*" or
// ">".
//
// # Configuration
//
//	platform:
//	  id: plant1
//	manager:
//	  auto_connect: true
//	nats:
//	  urls: ["nats://localhost:4222"]
//	endpoints:
//	  beat:
//	    factory: heartbeat
//	    enabled: true
//	    config: {interval: "5s"}
//	  sink:
//	    factory: logsink
//	    enabled: true
//	wiring:
//	  rules:
//	    - {from: beat/out, to: sink/in}
package semlink
