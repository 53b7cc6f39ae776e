// Package netembed is the slim real-TCP embedder that drives a
// mediator.Mediator over the network: it implements mediator.Callbacks by
// dialing and accepting net.Conns, and feeds inbound bytes back into the
// mediator via DispatchFromBuffer. Grounded on scheduler.go's listenLoop
// (accept-then-goroutine-per-conn) and initializeOutgoingHandshake
// (dial-then-report-outcome), collapsed here because this module's
// mediator has no handshake negotiation of its own to delegate to — PWP's
// handshake is just the first bytes fed through DispatchFromBuffer like
// any other.
package netembed

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhangjinde/yabtorrent/mediator"
	"github.com/zhangjinde/yabtorrent/registry"
)

// DialTimeout bounds how long an outbound connection attempt may take.
const DialTimeout = 10 * time.Second

// ReadBufferSize is the chunk size each reader goroutine feeds through
// DispatchFromBuffer per read.
const ReadBufferSize = 64 * 1024

// conn wraps a net.Conn as the opaque registry.Handle the mediator deals
// in. Pointer identity makes it directly usable as a map key.
type conn struct {
	nc net.Conn
}

// Embedder owns the listening socket and every peer net.Conn, and supplies
// mediator.Callbacks by reading and writing them directly.
type Embedder struct {
	mu     sync.Mutex
	m      *mediator.Mediator
	logger *zap.SugaredLogger

	listener net.Listener
	wg       sync.WaitGroup
	done     chan struct{}
}

// New creates an Embedder for m. Pass the returned Embedder to
// m.SetCallbacks before Serve or DialPeer.
func New(m *mediator.Mediator, logger *zap.SugaredLogger) *Embedder {
	return &Embedder{
		m:      m,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Serve accepts inbound connections on addr until Stop is called. Grounded
// on scheduler.listenLoop's accept-then-goroutine-per-conn shape.
func (e *Embedder) Serve(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("netembed: listen %s: %w", addr, err)
	}
	e.listener = l

	e.logger.Infof("netembed: listening on %s", l.Addr())
	for {
		nc, err := l.Accept()
		if err != nil {
			select {
			case <-e.done:
				return nil
			default:
				e.logger.Infof("netembed: accept error, exiting listen loop: %s", err)
				return err
			}
		}
		e.handleAccepted(nc)
	}
}

func (e *Embedder) handleAccepted(nc net.Conn) {
	ip, port, err := splitHostPort(nc.RemoteAddr())
	if err != nil {
		e.logger.Infof("netembed: rejecting inbound conn with unparseable remote addr: %s", err)
		nc.Close()
		return
	}

	h := &conn{nc: nc}
	var addErr error
	e.CallExclusively(func() {
		_, addErr = e.m.AddPeer(ip, port, h)
	})
	if addErr != nil {
		e.logger.Infof("netembed: rejecting inbound peer %s:%d: %s", ip, port, addErr)
		nc.Close()
		return
	}
	e.startReader(h)
}

// DialPeer initiates an outbound connection to (ip, port) and registers it
// with the mediator. Because the dial below is synchronous,
// mediator.AddPeer's call into Callbacks.Connect already knows the outcome
// by the time it returns: a failed dial comes back as AddPeer's error (no
// peer record is kept), and a successful one is reported straight back via
// PeerConnectOK rather than through a separate async path.
func (e *Embedder) DialPeer(ip string, port int) error {
	var err error
	e.CallExclusively(func() {
		var peer *registry.Peer
		peer, err = e.m.AddPeer(ip, port, nil)
		if err != nil {
			return
		}
		err = e.m.PeerConnectOK(peer.Handle, ip, port)
	})
	return err
}

func (e *Embedder) startReader(h *conn) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer h.nc.Close()

		buf := make([]byte, ReadBufferSize)
		for {
			n, err := h.nc.Read(buf)
			if n > 0 {
				var derr error
				e.CallExclusively(func() {
					derr = e.m.DispatchFromBuffer(h, append([]byte(nil), buf[:n]...))
				})
				if derr != nil {
					e.logger.Infof("netembed: dispatch error, dropping peer: %s", derr)
					e.CallExclusively(func() { e.m.RemovePeer(h) })
					return
				}
			}
			if err != nil {
				e.CallExclusively(func() { e.m.RemovePeer(h) })
				return
			}
		}
	}()
}

// Stop closes the listener and every peer connection, and waits for every
// reader goroutine to exit.
func (e *Embedder) Stop() {
	close(e.done)
	if e.listener != nil {
		e.listener.Close()
	}
	e.wg.Wait()
}

// --- mediator.Callbacks ---

// Connect dials (ip, port) synchronously and wraps the resulting net.Conn
// as a registry.Handle. Invoked by mediator.AddPeer when handle is nil.
func (e *Embedder) Connect(ip string, port int) (registry.Handle, bool) {
	nc, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", ip, port), DialTimeout)
	if err != nil {
		e.logger.Infof("netembed: dial %s:%d failed: %s", ip, port, err)
		return nil, false
	}
	h := &conn{nc: nc}
	e.startReader(h)
	return h, true
}

// Send writes data to the net.Conn behind handle.
func (e *Embedder) Send(handle registry.Handle, data []byte) error {
	h, ok := handle.(*conn)
	if !ok {
		return fmt.Errorf("netembed: handle is not a *conn")
	}
	_, err := h.nc.Write(data)
	return err
}

// Log forwards a single pre-formatted line to the structured logger.
func (e *Embedder) Log(line string) {
	e.logger.Info(line)
}

// CallExclusively serializes fn against every other Embedder-originated
// call, per spec.md §9's call_exclusively idiom. Reader goroutines and the
// agent's own tick loop both route through this lock.
func (e *Embedder) CallExclusively(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

func splitHostPort(addr net.Addr) (string, int, error) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return "", 0, fmt.Errorf("unsupported remote addr type %T", addr)
	}
	return tcpAddr.IP.String(), tcpAddr.Port, nil
}
