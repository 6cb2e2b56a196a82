// Package health reports the state of semlink's moving parts.
//
// Three states are used: healthy, degraded (working, but something needs
// attention) and unhealthy. FromManager derives the connection manager's
// state from its statistics: a closed manager is unhealthy, and requests
// that have waited longer than a threshold make it degraded. FromNATS and
// FromError cover the NATS client and any other dependency.
//
// Monitor runs named probes and reports the worst result:
//
//	monitor := health.NewMonitor()
//	monitor.Register("manager", func() health.Status {
//		return health.FromManager("manager", manager.Stats(), 0)
//	})
//	monitor.Register("nats", func() health.Status {
//		return health.FromNATS("nats", client.Status())
//	})
//	system := monitor.Check("semlink")
//
// Error messages passed through FromError are sanitized: URLs, paths, IP
// addresses, ports and credentials are replaced with placeholders.
package health
