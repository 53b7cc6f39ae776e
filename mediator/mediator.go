// Package mediator implements the central coordinator described in
// spec.md §4.1: it owns the peer registry, piece selector, choker,
// blacklist, completion bitmap, and job queue, and drives them from a
// small surface (SetCallbacks/SetPieceDB/SetPieceSelector/AddPeer/
// RemovePeer/DispatchFromBuffer/PeerConnectOK/PeerConnectFail/Tick).
//
// Grounded on scheduler.scheduler's public API shape (construct, Stop via
// a single teardown path, event-sourced state) fused with
// dispatch.Dispatcher's direct-call message routing (no internal event
// loop) — this module's mediator has no goroutines of its own, per
// spec.md §5, so it looks like Dispatcher's handle* methods driven
// directly from DispatchFromBuffer rather than scheduler's select loop.
package mediator

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/zhangjinde/yabtorrent/blacklist"
	"github.com/zhangjinde/yabtorrent/choker"
	"github.com/zhangjinde/yabtorrent/completion"
	"github.com/zhangjinde/yabtorrent/config"
	"github.com/zhangjinde/yabtorrent/core"
	"github.com/zhangjinde/yabtorrent/job"
	"github.com/zhangjinde/yabtorrent/peerconn"
	"github.com/zhangjinde/yabtorrent/piece"
	"github.com/zhangjinde/yabtorrent/pwpwire"
	"github.com/zhangjinde/yabtorrent/registry"
	"github.com/zhangjinde/yabtorrent/selector"
)

// Errors returned by Mediator's peer-lifecycle operations.
var (
	ErrSelfAdd          = errors.New("mediator: refusing to add self as a peer")
	ErrConnectFailed    = errors.New("mediator: embedder could not start outbound connection")
	ErrUnknownHandle    = errors.New("mediator: unrecognized network handle")
	ErrInfoHashMismatch = errors.New("mediator: peer handshake info hash does not match this torrent")
	ErrNoPieceDB        = errors.New("mediator: no piece database configured")
)

// Callbacks is the set of capabilities the embedder supplies, per
// spec.md §4.6 / §9: initiating outbound connections, pushing bytes over
// an established connection, logging, and exclusive-call serialization.
type Callbacks interface {
	// Connect asks the embedder to start an outbound TCP connection to
	// (ip, port), returning the handle the embedder will use to identify
	// it in future calls. ok is false if the embedder could not even
	// start the attempt.
	Connect(ip string, port int) (handle registry.Handle, ok bool)

	// Send pushes already-encoded bytes out over handle's socket.
	Send(handle registry.Handle, data []byte) error

	// Log emits a single pre-formatted log line, per spec.md §6's
	// "<my_peerid>,<message>" / "pwp,<peer_id>,<message>" line shapes.
	Log(line string)

	// CallExclusively runs fn with the embedder's cross-thread exclusive
	// lock held, per spec.md §9's call_exclusively idiom.
	CallExclusively(fn func())
}

// activeChoker is satisfied by both choker.Leecher and choker.Seeder.
type activeChoker interface {
	AddPeer(choker.Peer)
	RemovePeer(core.PeerID)
	Tick()
}

// Mediator is the central coordinator. It spawns no goroutines: every
// exported method is meant to be invoked by the embedder already holding
// its own exclusive-call lock, and additionally guards its own state with
// a plain mutex so a caller that doesn't bother with call_exclusively
// still gets a memory-safe (if not necessarily speced-semantics) result.
type Mediator struct {
	mu sync.Mutex

	cfg    config.View
	params core.TorrentParams

	callbacks Callbacks
	clk       clock.Clock
	logger    *zap.SugaredLogger
	stats     tally.Scope

	registry   *registry.Registry
	blacklist  *blacklist.Blacklist
	selector   selector.Selector
	choker     activeChoker
	seeding    bool
	completion *completion.Bitmap
	jobs       *job.Queue
	db         piece.Database

	// pieceContributors tracks which peers have written at least one
	// block of a not-yet-resolved piece, so a failed validation can
	// apply spec.md §4.5's single- vs multi-contributor blacklist policy.
	pieceContributors map[int]map[core.PeerID]bool

	closed bool
}

// New constructs a Mediator for the torrent described by cfg. The
// returned Mediator has no callbacks, piece database, or peer connections
// yet; call SetCallbacks and SetPieceDB before adding peers. stats is
// threaded down into the job queue and every peer connection the way
// Dispatcher threads its tally.Scope into torrentControls and conn.Conn;
// pass tally.NoopScope where metrics aren't wanted.
func New(cfg config.Config, clk clock.Clock, logger *zap.SugaredLogger, stats tally.Scope) (*Mediator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stats == nil {
		stats = tally.NoopScope
	}
	view := config.NewView(cfg)

	infoHash, err := core.NewInfoHashFromHex(view.InfoHash())
	if err != nil {
		return nil, fmt.Errorf("mediator: invalid infohash: %w", err)
	}
	myPeerID, err := core.NewPeerID(view.MyPeerID())
	if err != nil {
		return nil, fmt.Errorf("mediator: invalid my_peerid: %w", err)
	}

	params := core.TorrentParams{
		NumPieces:     view.NumPieces(),
		PieceLength:   view.PieceLength(),
		// The configuration carries no total length, so the final piece is
		// taken to be full length.
		LastPieceLength: view.PieceLength(),
		InfoHash:      infoHash,
		LocalPeerID:   myPeerID,
		LocalEndpoint: core.Endpoint{IP: view.MyIP(), Port: view.PWPListenPort()},
	}

	m := &Mediator{
		cfg:               view,
		params:            params,
		clk:               clk,
		logger:            logger,
		stats:             stats,
		registry:          registry.New(view.MaxPeerConnections()),
		blacklist:         blacklist.New(view.BlacklistConfig(), clk),
		completion:        completion.New(view.NumPieces()),
		jobs:              job.NewQueue(stats.SubScope("jobs")),
		pieceContributors: make(map[int]map[core.PeerID]bool),
	}

	leecher := choker.NewLeecher(view.ChokerConfig(), clk)
	m.choker = leecher

	m.selector = newSelector(view.PieceSelectionPolicy(), view.NumPieces())

	return m, nil
}

func newSelector(policy string, numPieces int) selector.Selector {
	switch policy {
	case "random":
		return selector.NewRandom(numPieces, nil)
	case "sequential":
		return selector.NewSequential(numPieces)
	default:
		return selector.NewRarestFirst(numPieces)
	}
}

// SetCallbacks wires the embedder's capabilities into the mediator.
func (m *Mediator) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = cb
}

// SetPieceSelector overrides the selector strategy chosen from
// piece_selection_policy at construction time.
func (m *Mediator) SetPieceSelector(sel selector.Selector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selector = sel
}

// SetPieceDB wires the piece database in and scans it for pieces that are
// already complete (e.g. resumed from a prior run), per
// bt_download_manager.c's bt_dm_check_pieces.
func (m *Mediator) SetPieceDB(db piece.Database) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if db.NumPieces() != m.params.NumPieces {
		return fmt.Errorf("mediator: piece database reports %d pieces, configured for %d", db.NumPieces(), m.params.NumPieces)
	}
	m.db = db

	for i := 0; i < db.NumPieces(); i++ {
		p, err := db.Piece(i)
		if err != nil {
			return err
		}
		if p.IsComplete() {
			m.completion.MarkComplete(i)
			m.selector.HavePiece(i)
		}
	}
	m.maybeTransitionToSeederLocked()
	return nil
}

// AddPeer registers a new peer at (ip, port). If handle is nil, the
// mediator asks the embedder to initiate the connection via
// Callbacks.Connect; the caller must still follow up with PeerConnectOK
// or PeerConnectFail once the embedder knows the outcome. If handle is
// already known (the inbound-accept case), the peer is registered
// immediately and is expected to send its handshake next.
func (m *Mediator) AddPeer(ip string, port int, handle registry.Handle) (*registry.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep := core.Endpoint{IP: ip, Port: port}
	if ep == m.params.LocalEndpoint {
		return nil, ErrSelfAdd
	}

	if handle == nil {
		if m.callbacks == nil {
			return nil, ErrConnectFailed
		}
		h, ok := m.callbacks.Connect(ip, port)
		if !ok {
			return nil, ErrConnectFailed
		}
		handle = h
	}

	peer, err := m.registry.Add(core.PeerID{}, ep, handle)
	if err != nil {
		return nil, err
	}

	conn := peerconn.New(m.cfg.ConnConfig(), m.clk, &connSender{m: m, handle: handle}, m.stats.SubScope("conn"))
	conn.SetPieceInfo(m.params.NumPieces)
	peer.Conn = conn

	m.stats.Counter("peers_added").Inc(1)
	return peer, nil
}

// RemovePeer tears down and forgets the peer identified by handle.
func (m *Mediator) RemovePeer(handle registry.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removePeerLocked(handle)
}

func (m *Mediator) removePeerLocked(handle registry.Handle) {
	peer, ok := m.registry.Get(handle)
	if !ok {
		return
	}
	if !peer.ID.Empty() {
		m.selector.RemovePeer(peer.ID)
		m.choker.RemovePeer(peer.ID)
		for index := range m.pieceContributors {
			delete(m.pieceContributors[index], peer.ID)
		}
	}
	if peer.Conn != nil {
		peer.Conn.Close()
	}
	m.registry.Remove(handle)
	m.stats.Counter("peers_removed").Inc(1)
}

// PeerConnectOK notifies the mediator that an outbound connection
// initiated via Callbacks.Connect succeeded, and sends our handshake.
func (m *Mediator) PeerConnectOK(handle registry.Handle, ip string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registry.Get(handle); !ok {
		return ErrUnknownHandle
	}

	var buf bytes.Buffer
	if err := pwpwire.WriteHandshake(&buf, pwpwire.Handshake{InfoHash: m.params.InfoHash, PeerID: m.params.LocalPeerID}); err != nil {
		return err
	}
	return m.callbacks.Send(handle, buf.Bytes())
}

// PeerConnectFail notifies the mediator that an outbound connection
// attempt failed, and tears down the reserved peer record.
func (m *Mediator) PeerConnectFail(handle registry.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if peer, ok := m.registry.Get(handle); ok && peer.Conn != nil {
		peer.Conn.MarkFailed()
	}
	m.removePeerLocked(handle)
	return nil
}

func (m *Mediator) maybeTransitionToSeederLocked() {
	if m.seeding || !m.completion.Complete(m.params.NumPieces) {
		return
	}
	m.seeding = true

	seeder := choker.NewSeeder(m.cfg.ChokerConfig(), m.clk)
	m.registry.Range(func(p *registry.Peer) bool {
		if p.Conn != nil && !p.ID.Empty() {
			seeder.AddPeer(p.Conn)
		}
		return true
	})
	m.choker = seeder
}

func (m *Mediator) logf(format string, args ...interface{}) {
	if m.callbacks == nil {
		return
	}
	m.callbacks.Log(fmt.Sprintf("%s,%s", m.params.LocalPeerID.String(), fmt.Sprintf(format, args...)))
}

func (m *Mediator) logPeer(peer core.PeerID, format string, args ...interface{}) {
	m.logf("pwp,%s,%s", peer.String(), fmt.Sprintf(format, args...))
}

// connSender adapts a Mediator + fixed handle into a peerconn.Sender.
type connSender struct {
	m      *Mediator
	handle registry.Handle
}

func (s *connSender) Send(c *peerconn.Conn, msg pwpwire.Message) error {
	var buf bytes.Buffer
	if err := pwpwire.WriteMessage(&buf, msg); err != nil {
		return err
	}
	return s.m.callbacks.Send(s.handle, buf.Bytes())
}
