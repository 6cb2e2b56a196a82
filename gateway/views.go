package gateway

import (
	"time"

	"github.com/c360/semlink/connection"
	"github.com/c360/semlink/endpoint"
)

// EndpointView is the JSON form of a registered endpoint
type EndpointView struct {
	PID   string     `json:"pid"`
	Ports []PortView `json:"ports"`
}

// PortView is the JSON form of one endpoint port
type PortView struct {
	endpoint.Port
	Connected bool            `json:"connected"`
	Potential []PotentialView `json:"potential"`
}

// PotentialView is a potential connection seen from one of its ports
type PotentialView struct {
	ID          string `json:"id"`
	Peer        string `json:"peer"`
	Connected   bool   `json:"connected"`
	Connectable bool   `json:"connectable"`
}

// ConnectionView is a potential connection seen from outside
type ConnectionView struct {
	ID           string `json:"id"`
	A            string `json:"a"`
	B            string `json:"b"`
	Connected    bool   `json:"connected"`
	Connectable  bool   `json:"connectable"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// RequestView is the JSON form of an asynchronous connect request
type RequestView struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	State      string    `json:"state"`
	Created    time.Time `json:"created"`
	Connection string    `json:"connection,omitempty"`
}

// connectBody is the payload of POST /api/connections and POST /api/requests
type connectBody struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func endpointView(ep *connection.ManagedEndpoint) EndpointView {
	v := EndpointView{PID: ep.PID(), Ports: []PortView{}}
	for _, p := range ep.Ports() {
		pv := PortView{Port: p.Descriptor(), Potential: []PotentialView{}}
		for _, pc := range p.PotentialConnections() {
			connected := pc.IsConnected()
			pv.Connected = pv.Connected || connected
			pv.Potential = append(pv.Potential, PotentialView{
				ID:          pc.ID(),
				Peer:        pc.Other(p).String(),
				Connected:   connected,
				Connectable: pc.IsConnectable(),
			})
		}
		v.Ports = append(v.Ports, pv)
	}
	return v
}

func connectionView(pc *connection.PotentialConnection) ConnectionView {
	a, b := pc.Ports()
	return ConnectionView{
		ID:           pc.ID(),
		A:            a.String(),
		B:            b.String(),
		Connected:    pc.IsConnected(),
		Connectable:  pc.IsConnectable(),
		ConnectionID: pc.ConnectionID(),
	}
}

func requestView(f *connection.Future) RequestView {
	v := RequestView{
		ID:      f.ID(),
		From:    f.From().String(),
		To:      f.To().String(),
		State:   f.State().String(),
		Created: f.Created(),
	}
	if pc := f.PotentialConnection(); pc != nil {
		v.Connection = pc.ID()
	}
	return v
}
