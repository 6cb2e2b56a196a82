package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/semlink/events"
)

const (
	pongWait       = 60 * time.Second
	maxClientFrame = 512
)

// eventClient is one websocket subscriber of GET /api/events
type eventClient struct {
	conn       *websocket.Conn
	sub        *events.Subscription
	writeMutex sync.Mutex // gorilla allows one concurrent writer
	closed     atomic.Bool
	closeOnce  sync.Once
	done       chan struct{}
}

func (c *eventClient) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.sub.Unsubscribe()
		_ = c.conn.Close()
	})
}

func (c *eventClient) write(messageType int, data []byte, timeout time.Duration) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(messageType, data)
}

// streamEvents upgrades to a websocket and streams topology events as JSON
// text frames. ?kind= may be repeated to filter.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeNotFound(w, "events_disabled", "event stream is not enabled")
		return
	}

	var kinds []events.Kind
	for _, k := range r.URL.Query()["kind"] {
		kinds = append(kinds, events.Kind(k))
	}

	// subscribe first so nothing emitted after the handshake is missed
	sub := s.hub.Subscribe(0, kinds...)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		sub.Unsubscribe()
		s.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}

	client := &eventClient{
		conn: conn,
		sub:  sub,
		done: make(chan struct{}),
	}

	s.mu.Lock()
	select {
	case <-s.shutdown:
		s.mu.Unlock()
		client.close()
		return
	default:
	}
	s.clients[client] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()

	s.metrics.wsClients.Inc()
	s.logger.Debug("Event client connected", "remote", r.RemoteAddr)

	go s.readClient(client)
	go s.writeClient(client)
}

// readClient discards client frames and notices when the peer goes away
func (s *Server) readClient(c *eventClient) {
	defer s.wg.Done()
	defer s.removeClient(c)

	c.conn.SetReadLimit(maxClientFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeClient forwards subscription events and pings until the client closes
func (s *Server) writeClient(c *eventClient) {
	defer s.wg.Done()
	defer s.removeClient(c)

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	var reportedDrops int64
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("Failed to encode event", "kind", string(ev.Kind), "error", err)
				continue
			}
			if err := c.write(websocket.TextMessage, data, s.config.WriteTimeout); err != nil {
				return
			}
			s.metrics.wsSent.Inc()
			if d := c.sub.Dropped(); d > reportedDrops {
				s.metrics.wsDropped.Add(float64(d - reportedDrops))
				reportedDrops = d
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil, s.config.WriteTimeout); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeClient(c *eventClient) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()

	c.close()
	if ok {
		s.metrics.wsClients.Dec()
	}
}
