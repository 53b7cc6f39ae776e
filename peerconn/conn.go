// Package peerconn implements the per-peer PWP connection state machine
// described in spec.md §4.6: choke/interest flags, the outstanding-request
// pipeline, and transfer rate tracking. It is grounded on a fusion of the
// teacher's dispatch/peer.go (peer, peerStats) and
// dispatch/piecerequest/manager.go (pipeline depth, timeout, resend),
// collapsed into a single per-connection type because this spec has one
// torrent per mediator, unlike the teacher's multi-torrent Dispatcher.
//
// Conn itself never touches the piece database or selector: decoding a
// wire message yields an Event the mediator interprets, keeping domain
// decisions (what to request next, whether a piece validated) in the
// mediator per spec.md §9's note on breaking cyclic references by having
// the mediator own peer records and connections.
package peerconn

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"github.com/willf/bitset"
	"go.uber.org/atomic"

	"github.com/zhangjinde/yabtorrent/core"
	"github.com/zhangjinde/yabtorrent/pwpwire"
)

// State is the connection's coarse lifecycle state, per spec.md §4.6.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateActive
	StateFailedConnection
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateFailedConnection:
		return "failed_connection"
	default:
		return "unknown"
	}
}

// Sender is the capability Conn uses to push encoded bytes out over the
// embedder's socket (the embedder's peer_send op, per spec.md §4.6).
type Sender interface {
	Send(c *Conn, msg pwpwire.Message) error
}

// Config tunes the request pipeline and rate sampling window.
type Config struct {
	PipelineLimit    int           `yaml:"pipeline_limit" validate:"min=1"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	RateWindow       time.Duration `yaml:"rate_window"`
}

func (c Config) applyDefaults() Config {
	if c.PipelineLimit <= 0 {
		c.PipelineLimit = 10
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RateWindow <= 0 {
		c.RateWindow = 20 * time.Second
	}
	return c
}

// pendingRequest is a block request this side has sent and is waiting on a
// PIECE message for.
type pendingRequest struct {
	index, begin, length int
	sentAt               time.Time
}

func blockKey(index, begin int) [2]int { return [2]int{index, begin} }

// Conn is the PWP state machine for a single peer connection.
type Conn struct {
	clk    clock.Clock
	config Config
	send   Sender

	mu sync.Mutex

	state State

	remoteID       core.PeerID
	remoteEndpoint core.Endpoint
	remoteBitfield *bitset.BitSet
	numPieces      int

	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool

	pending map[[2]int]pendingRequest

	down *rateCounter
	up   *rateCounter

	readBuf bytes.Buffer

	stats  tally.Scope
	closed *atomic.Bool
}

// New creates a Conn in StateConnecting, choking and uninterested by
// default per the PWP spec. stats receives this connection's bytes_sent and
// bytes_received counters, threaded through from the constructor the way
// conn.Conn takes its tally.Scope; pass tally.NoopScope where metrics
// aren't wanted.
func New(config Config, clk clock.Clock, send Sender, stats tally.Scope) *Conn {
	config = config.applyDefaults()
	if stats == nil {
		stats = tally.NoopScope
	}
	return &Conn{
		clk:         clk,
		config:      config,
		send:        send,
		state:       StateConnecting,
		amChoking:   true,
		peerChoking: true,
		pending:     make(map[[2]int]pendingRequest),
		down:        newRateCounter(clk, config.RateWindow),
		up:          newRateCounter(clk, config.RateWindow),
		stats:       stats,
		closed:      atomic.NewBool(false),
	}
}

// ID returns the remote peer id, set via SetPeer once the handshake
// completes.
func (c *Conn) ID() core.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteID
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetPeer records the remote identity once the handshake completes and
// moves the connection to StateActive.
func (c *Conn) SetPeer(id core.PeerID, ep core.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteID = id
	c.remoteEndpoint = ep
	c.state = StateActive
}

// SetPieceInfo sizes the remote bitfield for a torrent of numPieces
// pieces. Must be called before any HAVE/BITFIELD message is processed.
func (c *Conn) SetPieceInfo(numPieces int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.numPieces = numPieces
	c.remoteBitfield = bitset.New(uint(numPieces))
}

// MarkFailed transitions the connection to StateFailedConnection, e.g.
// after peer_connect_fail.
func (c *Conn) MarkFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateFailedConnection
}

// Close marks this connection closed; after it, every outbound operation
// sends nothing and returns an error.
func (c *Conn) Close() {
	c.closed.Store(true)
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// --- flags ---

func (c *Conn) AmChoking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.amChoking
}

func (c *Conn) AmInterested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.amInterested
}

func (c *Conn) PeerChoking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerChoking
}

func (c *Conn) PeerInterested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerInterested
}

// choker.Peer compatibility: the choker asks whether we are choking the
// peer under the name IsChoked, and chokes or unchokes it through Choke and
// Unchoke, which discard the send error.
func (c *Conn) IsChoked() bool { return c.AmChoking() }
func (c *Conn) IsInterested() bool { return c.PeerInterested() }
func (c *Conn) Choke()             { _ = c.ChokePeer() }
func (c *Conn) Unchoke()           { _ = c.UnchokePeer() }

// --- outbound ops (spec.md §4.6) ---

// ChokePeer sets am_choking and sends CHOKE, if not already choking.
func (c *Conn) ChokePeer() error {
	c.mu.Lock()
	already := c.amChoking
	c.amChoking = true
	c.mu.Unlock()
	if already {
		return nil
	}
	return c.sendMessage(pwpwire.NewChoke())
}

// UnchokePeer clears am_choking and sends UNCHOKE, if not already
// unchoked.
func (c *Conn) UnchokePeer() error {
	c.mu.Lock()
	already := !c.amChoking
	c.amChoking = false
	c.mu.Unlock()
	if already {
		return nil
	}
	return c.sendMessage(pwpwire.NewUnchoke())
}

// SetInterested sets am_interested and sends INTERESTED/NOT_INTERESTED if
// the flag changed.
func (c *Conn) SetInterested(interested bool) error {
	c.mu.Lock()
	changed := c.amInterested != interested
	c.amInterested = interested
	c.mu.Unlock()
	if !changed {
		return nil
	}
	if interested {
		return c.sendMessage(pwpwire.NewInterested())
	}
	return c.sendMessage(pwpwire.NewNotInterested())
}

// SendHave announces that the local peer now has piece index.
func (c *Conn) SendHave(index int) error {
	return c.sendMessage(pwpwire.NewHave(uint32(index)))
}

// SetProgress sends our current bitfield, typically right after the
// handshake.
func (c *Conn) SetProgress(bits *bitset.BitSet) error {
	buf := make([]byte, (bits.Len()+7)/8)
	for i := uint(0); i < bits.Len(); i++ {
		if bits.Test(i) {
			buf[i/8] |= 1 << (7 - i%8)
		}
	}
	return c.sendMessage(pwpwire.NewBitfield(buf))
}

// OfferBlock sends a PIECE message carrying block, and records the bytes
// against the upload rate counter.
func (c *Conn) OfferBlock(index, begin int, block []byte) error {
	if err := c.sendMessage(pwpwire.NewPiece(uint32(index), uint32(begin), block)); err != nil {
		return err
	}
	c.up.add(len(block))
	c.stats.Counter("bytes_sent").Inc(int64(len(block)))
	return nil
}

// RequestBlock sends a REQUEST message and tracks it in the pipeline.
// Returns an error if the pipeline is already at its configured limit.
func (c *Conn) RequestBlock(index, begin, length int) error {
	c.mu.Lock()
	if len(c.pending) >= c.config.PipelineLimit {
		c.mu.Unlock()
		return fmt.Errorf("peerconn: pipeline limit (%d) reached", c.config.PipelineLimit)
	}
	key := blockKey(index, begin)
	c.pending[key] = pendingRequest{index: index, begin: begin, length: length, sentAt: c.clk.Now()}
	c.mu.Unlock()

	if err := c.sendMessage(pwpwire.NewRequest(uint32(index), uint32(begin), uint32(length))); err != nil {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		return err
	}
	return nil
}

// CancelBlock sends a CANCEL for a previously-requested block and removes
// it from the pipeline.
func (c *Conn) CancelBlock(index, begin, length int) error {
	c.mu.Lock()
	delete(c.pending, blockKey(index, begin))
	c.mu.Unlock()
	return c.sendMessage(pwpwire.NewCancel(uint32(index), uint32(begin), uint32(length)))
}

// PipelineLen reports the number of requests currently in flight.
func (c *Conn) PipelineLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PipelineFull reports whether the request pipeline is at its configured
// limit.
func (c *Conn) PipelineFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) >= c.config.PipelineLimit
}

// ExpiredRequests returns, and forgets, every pending request whose
// RequestTimeout has elapsed as of now. The mediator gives these blocks
// back to the piece selector.
func (c *Conn) ExpiredRequests() []pwpwire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	var expired []pwpwire.Message
	for key, req := range c.pending {
		if now.Sub(req.sentAt) >= c.config.RequestTimeout {
			expired = append(expired, pwpwire.NewRequest(uint32(req.index), uint32(req.begin), uint32(req.length)))
			delete(c.pending, key)
		}
	}
	return expired
}

// Periodic runs per-tick bookkeeping: pruning rate counter windows. Called
// from the mediator's Tick, per spec.md §4.6's periodic outbound op.
func (c *Conn) Periodic() {
	c.down.prune()
	c.up.prune()
}

// DownloadRate returns bytes/sec received from this peer over the
// configured rate window.
func (c *Conn) DownloadRate() float64 { return c.down.rate() }

// UploadRate returns bytes/sec sent to this peer over the configured rate
// window.
func (c *Conn) UploadRate() float64 { return c.up.rate() }

func (c *Conn) sendMessage(msg pwpwire.Message) error {
	if c.closed.Load() {
		return fmt.Errorf("peerconn: connection closed")
	}
	return c.send.Send(c, msg)
}
