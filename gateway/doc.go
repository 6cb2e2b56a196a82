// Package gateway exposes the connection manager over HTTP.
//
// Routes:
//
//	GET    /api/endpoints             registered endpoints, ports and potential connections
//	GET    /api/endpoints/{pid}       one endpoint
//	GET    /api/connections           potential connections, ?connected=true for live ones
//	POST   /api/connections           {"from":"pid/port","to":"pid/port"}, connect now
//	DELETE /api/connections/{id}      disconnect; the id contains '/' and '|'
//	GET    /api/requests              waiting asynchronous requests in arrival order
//	POST   /api/requests              {"from":...,"to":...}, connect when possible
//	GET    /api/requests/{id}         request state
//	DELETE /api/requests/{id}         cancel a request
//	POST   /api/autoconnect           run AutoConnect and return its report
//	GET    /api/stats                 manager counters
//	GET    /api/health                system health, 503 when unhealthy
//	GET    /api/events                websocket stream of topology events, ?kind= filters
//
// Connect errors map to status codes by kind: unknown endpoint or port is
// 404, a taken SINGLE port or a declined link is 409, an incompatible pair
// is 422 and a closed manager is 503. Error bodies carry a stable "code".
package gateway
