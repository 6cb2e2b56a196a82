// Package metric holds semlink's Prometheus registry and scrape server.
//
// Owners register their collectors as a set, which either fully succeeds or
// leaves the registry untouched:
//
//	err := registry.RegisterSet("connection",
//	    metric.Named{Name: "endpoints", Collector: endpoints},
//	    metric.Named{Name: "potential", Collector: potential},
//	)
//
// Duplicate names are reported as Invalid errors rather than panics.
package metric
