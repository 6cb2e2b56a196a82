package connection

import (
	"fmt"
	"sync"

	"github.com/c360/semlink/endpoint"
)

// MessageListener observes messages as they are delivered, after the
// receiving handler has processed them
type MessageListener interface {
	HandleMessage(from, to *EndpointPort, msg any)
}

// ListenerFunc adapts a function to MessageListener
type ListenerFunc func(from, to *EndpointPort, msg any)

// HandleMessage implements MessageListener
func (f ListenerFunc) HandleMessage(from, to *EndpointPort, msg any) {
	f(from, to, msg)
}

type listenerEntry struct {
	listener MessageListener
	filter   []string
}

func (e *listenerEntry) matches(typ string) bool {
	if len(e.filter) == 0 {
		return true
	}
	for _, pattern := range e.filter {
		if endpoint.MatchType(pattern, typ) {
			return true
		}
	}
	return false
}

type listenerSet struct {
	mu      sync.RWMutex
	entries []*listenerEntry
}

// AddListener registers l for every delivered message whose type matches
// one of filter, or every message when filter is empty. Filter entries may
// use '*' and '>' wildcards. The returned func removes the listener.
func (m *Manager) AddListener(l MessageListener, filter ...string) (remove func()) {
	entry := &listenerEntry{listener: l, filter: append([]string(nil), filter...)}

	m.listeners.mu.Lock()
	m.listeners.entries = append(m.listeners.entries, entry)
	m.listeners.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listeners.mu.Lock()
			defer m.listeners.mu.Unlock()
			for i, e := range m.listeners.entries {
				if e == entry {
					m.listeners.entries = append(m.listeners.entries[:i:i], m.listeners.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (m *Manager) notifyListeners(from, to *EndpointPort, msg any) {
	m.listeners.mu.RLock()
	entries := m.listeners.entries
	m.listeners.mu.RUnlock()
	if len(entries) == 0 {
		return
	}

	typ := endpoint.TypeOf(msg)
	for _, e := range entries {
		if e.matches(typ) {
			m.callListener(e.listener, from, to, msg)
		}
	}
}

func (m *Manager) callListener(l MessageListener, from, to *EndpointPort, msg any) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Message listener panicked",
				"from", from.String(), "to", to.String(), "panic", fmt.Sprint(r))
		}
	}()
	l.HandleMessage(from, to, msg)
}
