package gateway

import (
	"net/http"
	"sort"

	"github.com/c360/semlink/connection"
	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/errors"
)

func (s *Server) listEndpoints(w http.ResponseWriter, _ *http.Request) {
	eps := s.manager.Endpoints()
	out := make([]EndpointView, 0, len(eps))
	for _, ep := range eps {
		out = append(out, endpointView(ep))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) getEndpoint(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	ep := s.manager.Endpoint(pid)
	if ep == nil {
		s.writeError(w, errors.WrapInvalid(errors.ErrUnknownEndpoint, "Server", "getEndpoint", "lookup "+pid))
		return
	}
	s.writeJSON(w, http.StatusOK, endpointView(ep))
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	connectedOnly := r.URL.Query().Get("connected") == "true"

	seen := make(map[string]bool)
	out := []ConnectionView{}
	for _, ep := range s.manager.Endpoints() {
		for _, p := range ep.Ports() {
			for _, pc := range p.PotentialConnections() {
				if seen[pc.ID()] {
					continue
				}
				seen[pc.ID()] = true
				v := connectionView(pc)
				if connectedOnly && !v.Connected {
					continue
				}
				out = append(out, v)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	s.writeJSON(w, http.StatusOK, out)
}

// parseBody decodes a from/to body into two port references
func parseBody(r *http.Request) (endpoint.PortRef, endpoint.PortRef, error) {
	var body connectBody
	if err := decodeBody(r, &body); err != nil {
		return endpoint.PortRef{}, endpoint.PortRef{}, err
	}
	from, err := endpoint.ParsePortRef(body.From)
	if err != nil {
		return endpoint.PortRef{}, endpoint.PortRef{}, err
	}
	to, err := endpoint.ParsePortRef(body.To)
	if err != nil {
		return endpoint.PortRef{}, endpoint.PortRef{}, err
	}
	return from, to, nil
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	pc, err := s.manager.ConnectEndpointPorts(from.PID, from.Port, to.PID, to.Port)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, connectionView(pc))
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pc := s.manager.PotentialConnection(id)
	if pc == nil {
		s.writeNotFound(w, "unknown_connection", "no potential connection "+id)
		return
	}
	pc.Disconnect()
	s.writeJSON(w, http.StatusOK, connectionView(pc))
}

func (s *Server) listRequests(w http.ResponseWriter, _ *http.Request) {
	futures := s.manager.Requests()
	out := make([]RequestView, 0, len(futures))
	for _, f := range futures {
		out = append(out, requestView(f))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	f := s.manager.AsyncConnectEndpointPorts(from.PID, from.Port, to.PID, to.Port)
	s.trackFuture(f)

	status := http.StatusAccepted
	if f.State() != connection.RequestWaiting {
		status = http.StatusOK
	}
	s.writeJSON(w, status, requestView(f))
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	f := s.lookupFuture(r.PathValue("id"))
	if f == nil {
		s.writeNotFound(w, "unknown_request", "request not found")
		return
	}
	s.writeJSON(w, http.StatusOK, requestView(f))
}

func (s *Server) cancelRequest(w http.ResponseWriter, r *http.Request) {
	f := s.lookupFuture(r.PathValue("id"))
	if f == nil {
		s.writeNotFound(w, "unknown_request", "request not found")
		return
	}
	f.Cancel()
	s.writeJSON(w, http.StatusOK, requestView(f))
}

func (s *Server) autoConnect(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.AutoConnect())
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Stats())
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.health()
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) writeNotFound(w http.ResponseWriter, code, message string) {
	s.writeJSON(w, http.StatusNotFound, map[string]any{
		"error":  message,
		"code":   code,
		"status": http.StatusNotFound,
	})
}
