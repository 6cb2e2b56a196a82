package connection

import (
	"fmt"
	"sync/atomic"

	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/errors"
	"github.com/c360/semlink/pkg/worker"
)

// attempt is one in-flight connect of a reserved potential connection.
// requests are the waiting requests that resolve when it succeeds.
type attempt struct {
	pc       *PotentialConnection
	requests []*request
}

// link is the live connection of a connected potential connection
type link struct {
	id     string
	halves [2]*halfConn
}

// halfConn is one side of a link. It is the endpoint.Connection handed to
// that side's OnConnect; messages it sends land in the other half's queue.
type halfConn struct {
	m      *Manager
	pcID   string
	local  *EndpointPort
	peer   *EndpointPort
	other  *halfConn
	linkID string

	handler   endpoint.MessageHandler
	queue     *worker.Queue[any]
	connected atomic.Bool
}

var _ endpoint.Connection = (*halfConn)(nil)

func newHalves(m *Manager, pc *PotentialConnection, linkID string) (*halfConn, *halfConn) {
	ha := &halfConn{m: m, pcID: pc.id, local: pc.a, peer: pc.b, linkID: linkID}
	hb := &halfConn{m: m, pcID: pc.id, local: pc.b, peer: pc.a, linkID: linkID}
	ha.other, hb.other = hb, ha
	return ha, hb
}

// ID implements endpoint.Connection
func (h *halfConn) ID() string {
	return h.pcID
}

// LocalPort implements endpoint.Connection
func (h *halfConn) LocalPort() endpoint.Port {
	return h.local.Descriptor()
}

// Peer implements endpoint.Connection
func (h *halfConn) Peer() endpoint.PortRef {
	return h.peer.Ref()
}

// IsConnected implements endpoint.Connection
func (h *halfConn) IsConnected() bool {
	return h.connected.Load()
}

// SendMessage implements endpoint.Connection
func (h *halfConn) SendMessage(msg any) error {
	if !h.connected.Load() {
		return errors.WrapInvalid(errors.ErrNotConnected, "Connection", "SendMessage",
			fmt.Sprintf("send from %s", h.local))
	}

	err := h.other.queue.Submit(msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, worker.ErrQueueClosed):
		return errors.WrapInvalid(errors.ErrNotConnected, "Connection", "SendMessage",
			fmt.Sprintf("send from %s", h.local))
	default:
		h.m.metrics.messageDropped()
		return errors.WrapTransient(err, "Connection", "SendMessage",
			fmt.Sprintf("enqueue for %s", h.peer))
	}
}

// open starts the delivery queue for this side's handler
func (h *halfConn) open(handler endpoint.MessageHandler) {
	h.handler = handler
	h.m.drain.Add(1)
	h.queue = worker.NewQueue(h.m.queueSize, h.deliver,
		worker.WithQueueLogger(h.m.logger),
		worker.WithQueueMetrics(h.m.deliveryMetrics))
}

func (h *halfConn) deliver(msg any) {
	h.handler.HandleMessage(msg)
	h.m.metrics.messageDelivered()
	h.m.notifyListeners(h.peer, h.local, msg)
}

// close stops intake; queued messages drain and then the handler hears Disconnected
func (h *halfConn) close() {
	h.connected.Store(false)
	h.queue.Close(func() {
		defer h.m.drain.Done()
		h.handler.Disconnected()
	})
}

// callOnConnect runs an endpoint's OnConnect, turning panics and declines into errors
func callOnConnect(p *EndpointPort, conn endpoint.Connection) (handler endpoint.MessageHandler, err error) {
	defer func() {
		if r := recover(); r != nil {
			handler = nil
			err = errors.WrapTransient(fmt.Errorf("panic: %v", r), "Manager", "connect",
				fmt.Sprintf("OnConnect of %s", p))
		}
	}()

	handler, err = p.owner.endpoint.OnConnect(conn)
	if err != nil {
		return nil, errors.WrapTransient(err, "Manager", "connect", fmt.Sprintf("OnConnect of %s", p))
	}
	if handler == nil {
		return nil, errors.WrapInvalid(errors.ErrConnectDeclined, "Manager", "connect",
			fmt.Sprintf("OnConnect of %s", p))
	}
	return handler, nil
}

// safeDisconnected notifies a handler whose link never went live
func (m *Manager) safeDisconnected(p *EndpointPort, handler endpoint.MessageHandler) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Disconnected panicked", "port", p.String(), "panic", fmt.Sprint(r))
		}
	}()
	handler.Disconnected()
}
