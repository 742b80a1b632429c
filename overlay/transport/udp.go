package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// UDPTransport is a connectionless datagram transport: each frame is one
// UDP packet, dispatched by protocol id to a registered Handler.
type UDPTransport struct {
	conn       net.PacketConn
	listenAddr net.Addr
	handlers   map[string]Handler
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewUDPTransport binds a UDP socket at listenAddr and starts its receive
// loop in the background.
func NewUDPTransport(listenAddr string) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &UDPTransport{
		conn:       conn,
		listenAddr: conn.LocalAddr(),
		handlers:   make(map[string]Handler),
		ctx:        ctx,
		cancel:     cancel,
	}
	go t.receiveLoop()
	return t, nil
}

func (t *UDPTransport) RegisterHandler(protocolID string, handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[protocolID] = handler
}

func (t *UDPTransport) Send(protocolID string, payload []byte, addr net.Addr) error {
	frame := &Frame{ProtocolID: protocolID, Payload: payload}
	data, err := frame.Serialize()
	if err != nil {
		return err
	}
	_, err = t.conn.WriteTo(data, addr)
	return err
}

func (t *UDPTransport) Close() error {
	t.cancel()
	return t.conn.Close()
}

func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *UDPTransport) receiveLoop() {
	logger := logrus.WithFields(logrus.Fields{"component": "overlay/transport", "transport": "udp", "addr": t.listenAddr})
	buffer := make([]byte, 65536)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := t.conn.ReadFrom(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-t.ctx.Done():
				return
			default:
			}
			continue
		}

		frame, err := ParseFrame(buffer[:n])
		if err != nil {
			logger.WithError(err).Debug("dropping malformed frame")
			continue
		}

		t.mu.RLock()
		handler, ok := t.handlers[frame.ProtocolID]
		t.mu.RUnlock()
		if ok {
			go handler(frame.Payload, addr)
		}
	}
}
