package transport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TCPTransport is a stream-oriented transport: frames are delimited with a
// 4-byte big-endian length prefix over a persistent connection per peer.
type TCPTransport struct {
	listener   net.Listener
	listenAddr net.Addr
	handlers   map[string]Handler
	clients    map[string]net.Conn
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewTCPTransport listens at listenAddr and accepts connections in the
// background.
func NewTCPTransport(listenAddr string) (*TCPTransport, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &TCPTransport{
		listener:   listener,
		listenAddr: listener.Addr(),
		handlers:   make(map[string]Handler),
		clients:    make(map[string]net.Conn),
		ctx:        ctx,
		cancel:     cancel,
	}
	go t.acceptLoop()
	return t, nil
}

func (t *TCPTransport) RegisterHandler(protocolID string, handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[protocolID] = handler
}

func (t *TCPTransport) Send(protocolID string, payload []byte, addr net.Addr) error {
	t.mu.RLock()
	conn, exists := t.clients[addr.String()]
	t.mu.RUnlock()

	if !exists {
		var err error
		conn, err = net.Dial("tcp", addr.String())
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.clients[addr.String()] = conn
		t.mu.Unlock()
		go t.handleConnection(conn)
	}

	frame := &Frame{ProtocolID: protocolID, Payload: payload}
	data, err := frame.Serialize()
	if err != nil {
		return err
	}

	if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	if _, err := conn.Write(lengthPrefix(len(data))); err != nil {
		t.dropClient(addr.String(), conn)
		return err
	}
	if _, err := conn.Write(data); err != nil {
		t.dropClient(addr.String(), conn)
		return err
	}
	return nil
}

func (t *TCPTransport) dropClient(key string, conn net.Conn) {
	t.mu.Lock()
	delete(t.clients, key)
	t.mu.Unlock()
	conn.Close()
}

func (t *TCPTransport) Close() error {
	t.cancel()
	t.mu.Lock()
	for _, conn := range t.clients {
		conn.Close()
	}
	t.mu.Unlock()
	return t.listener.Close()
}

func (t *TCPTransport) LocalAddr() net.Addr {
	return t.listenAddr
}

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
				continue
			}
		}
		go t.handleConnection(conn)
	}
}

func (t *TCPTransport) handleConnection(conn net.Conn) {
	logger := logrus.WithFields(logrus.Fields{"component": "overlay/transport", "transport": "tcp", "peer": conn.RemoteAddr()})
	defer conn.Close()

	addr := conn.RemoteAddr()
	t.mu.Lock()
	t.clients[addr.String()] = conn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.clients, addr.String())
		t.mu.Unlock()
	}()

	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(header)

		data := make([]byte, length)
		if _, err := io.ReadFull(conn, data); err != nil {
			return
		}

		frame, err := ParseFrame(data)
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
