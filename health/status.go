package health

import "time"

// Status is one component's health, or an aggregate of several.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // healthy, degraded or unhealthy
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Counts      *Counts   `json:"counts,omitempty"`
}

// Counts carries the connection manager's topology sizes alongside its status.
type Counts struct {
	Endpoints int `json:"endpoints"`
	Connected int `json:"connected"`
	Pending   int `json:"pending"`
}

// state orders the status values from best to worst
type state int

const (
	stateHealthy state = iota
	stateDegraded
	stateUnhealthy
)

var stateNames = [...]string{"healthy", "degraded", "unhealthy"}

// stateOf treats an unknown status value as unhealthy
func stateOf(s Status) state {
	for i, name := range stateNames {
		if s.Status == name {
			return state(i)
		}
	}
	return stateUnhealthy
}

func newStatus(component string, st state, message string) Status {
	return Status{
		Component: component,
		Healthy:   st == stateHealthy,
		Status:    stateNames[st],
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewHealthy(component, message string) Status {
	return newStatus(component, stateHealthy, message)
}

func NewDegraded(component, message string) Status {
	return newStatus(component, stateDegraded, message)
}

func NewUnhealthy(component, message string) Status {
	return newStatus(component, stateUnhealthy, message)
}

func (s Status) IsHealthy() bool   { return stateOf(s) == stateHealthy }
func (s Status) IsDegraded() bool  { return stateOf(s) == stateDegraded }
func (s Status) IsUnhealthy() bool { return stateOf(s) == stateUnhealthy }

// Score maps the status to 2 (healthy), 1 (degraded) or 0 (unhealthy)
// for gauges.
func (s Status) Score() int {
	return int(stateUnhealthy - stateOf(s))
}

// WithSubStatus returns a copy with sub appended. The receiver's slice is
// never written.
func (s Status) WithSubStatus(sub Status) Status {
	s.SubStatuses = append(s.SubStatuses[:len(s.SubStatuses):len(s.SubStatuses)], sub)
	return s
}
