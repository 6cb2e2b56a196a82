package connection

import (
	"time"

	"github.com/c360/semlink/endpoint"
)

// AutoConnectFailure records a pair whose connect failed during a run
type AutoConnectFailure struct {
	ID     string `json:"id"`
	Err    error  `json:"-"`
	Reason string `json:"error"`
}

// AutoConnectReport lists what one AutoConnect run did
type AutoConnectReport struct {
	Connected []string             `json:"connected"`
	Failed    []AutoConnectFailure `json:"failed,omitempty"`
	Passes    int                  `json:"passes"`
}

// AutoConnect connects every unambiguous pair and repeats until nothing
// changes. A SINGLE port with exactly one viable partner is connected to it
// when that partner is MULTIPLE, or SINGLE with no other viable partner
// either. Ports are visited in pid then port name order, so a given
// topology always yields the same connections. A pair whose connect fails is
// reported and left alone for the rest of the run; the others proceed.
//
// Runs may overlap and may be started from an OnConnect callback. Each pass
// reserves its pairs under the manager lock, so two runs never pick the
// same slot.
func (m *Manager) AutoConnect() AutoConnectReport {
	start := time.Now()
	report := AutoConnectReport{Connected: []string{}}
	failed := make(map[string]bool)

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			break
		}
		atts := m.autoPassLocked(failed)
		m.mu.Unlock()

		if len(atts) == 0 {
			break
		}
		report.Passes++

		for _, att := range atts {
			if err := m.complete(att); err != nil {
				failed[att.pc.id] = true
				report.Failed = append(report.Failed, AutoConnectFailure{ID: att.pc.id, Err: err, Reason: err.Error()})
				m.logger.Warn("Auto-connect pair failed", "connection", att.pc.id, "error", err)
				continue
			}
			report.Connected = append(report.Connected, att.pc.id)
		}
	}

	m.metrics.autoConnectRun(time.Since(start), len(report.Connected))
	if len(report.Connected) > 0 || len(report.Failed) > 0 {
		m.logger.Info("Auto-connect finished",
			"connected", len(report.Connected), "failed", len(report.Failed), "passes", report.Passes)
	}

	m.servicePending()
	return report
}

// autoPassLocked runs one pass of the matching loop and reserves every pair
// it decides to connect. Reservations take effect immediately, so later
// ports in the same pass see them exactly as if the connect had completed.
func (m *Manager) autoPassLocked(failed map[string]bool) []*attempt {
	var atts []*attempt

	for _, ep := range m.reg.sorted() {
		for _, p := range ep.Ports() {
			if p.desc.Cardinality != endpoint.CardinalitySingle || p.occupied > 0 {
				continue
			}
			candidates := viableLocked(p)
			if len(candidates) != 1 {
				continue
			}
			pc := candidates[0]
			if failed[pc.id] {
				continue
			}
			q := pc.Other(p)
			if q.desc.Cardinality == endpoint.CardinalitySingle && len(viableLocked(q)) != 1 {
				continue
			}
			atts = append(atts, pc.reserveLocked())
		}
	}
	return atts
}

// viableLocked returns p's potential connections that are unconnected and connectable
func viableLocked(p *EndpointPort) []*PotentialConnection {
	var out []*PotentialConnection
	for _, pc := range p.sortedPotentialsLocked() {
		if pc.connectableLocked() {
			out = append(out, pc)
		}
	}
	return out
}
