package mediator

import (
	"bytes"
	"errors"

	"github.com/zhangjinde/yabtorrent/core"
	"github.com/zhangjinde/yabtorrent/job"
	"github.com/zhangjinde/yabtorrent/peerconn"
	"github.com/zhangjinde/yabtorrent/piece"
	"github.com/zhangjinde/yabtorrent/pwpwire"
	"github.com/zhangjinde/yabtorrent/registry"
)

// DispatchFromBuffer feeds newly-arrived bytes for the connection
// identified by handle, per spec.md §4.1's dispatch_from_buffer. It may
// be called from any thread the embedder chooses; callers are expected to
// do so through Callbacks.CallExclusively or an equivalent lock of their
// own, though Mediator also guards its own state directly.
func (m *Mediator) DispatchFromBuffer(handle registry.Handle, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	peer, ok := m.registry.Get(handle)
	if !ok {
		return ErrUnknownHandle
	}
	peer.Conn.Feed(data)

	if peer.ID.Empty() {
		hs, ready, err := peer.Conn.NextHandshake()
		if err != nil {
			m.removePeerLocked(handle)
			return err
		}
		if !ready {
			return nil
		}
		if hs.InfoHash != m.params.InfoHash {
			m.removePeerLocked(handle)
			return ErrInfoHashMismatch
		}
		if m.blacklist.Blacklisted(hs.PeerID) {
			m.removePeerLocked(handle)
			return nil
		}

		peer.ID = hs.PeerID
		peer.Conn.SetPeer(hs.PeerID, peer.Endpoint)
		m.selector.AddPeer(hs.PeerID)
		m.choker.AddPeer(peer.Conn)
		m.logPeer(hs.PeerID, "handshake_received")

		if err := peer.Conn.SetProgress(m.completion.Snapshot()); err != nil {
			m.removePeerLocked(handle)
			return err
		}
		m.jobs.Enqueue(job.PollBlock{Peer: peer})
	}

	for {
		msg, ready, err := peer.Conn.NextMessage()
		if err != nil {
			m.removePeerLocked(handle)
			return err
		}
		if !ready {
			return nil
		}
		if err := m.handleMessage(peer, msg); err != nil {
			m.removePeerLocked(handle)
			return err
		}
	}
}

func (m *Mediator) handleMessage(peer *registry.Peer, msg pwpwire.Message) error {
	ev, err := peer.Conn.HandleMessage(msg)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case peerconn.EventKeepAlive, peerconn.EventChoke, peerconn.EventInterested, peerconn.EventNotInterested:
		// no further action required beyond the flag update HandleMessage
		// already applied.

	case peerconn.EventUnchoke:
		m.jobs.Enqueue(job.PollBlock{Peer: peer})

	case peerconn.EventHave:
		m.selector.PeerHavePiece(peer.ID, ev.Index)
		return m.updateInterestLocked(peer)

	case peerconn.EventBitfield:
		for i := 0; i < m.params.NumPieces; i++ {
			if peer.Conn.RemoteHasPiece(i) {
				m.selector.PeerHavePiece(peer.ID, i)
			}
		}
		return m.updateInterestLocked(peer)

	case peerconn.EventRequest:
		return m.handleRequest(peer, ev)

	case peerconn.EventPiece:
		return m.handlePiece(peer, ev)

	case peerconn.EventCancel:
		// This module serves REQUESTs synchronously within DispatchFromBuffer,
		// so there is nothing queued to cancel.
	}
	return nil
}

// updateInterestLocked recomputes am_interested for peer based on whether
// it holds any piece we don't yet have, per spec.md §4.6.
func (m *Mediator) updateInterestLocked(peer *registry.Peer) error {
	interesting := false
	for i := 0; i < m.params.NumPieces; i++ {
		if !m.completion.IsComplete(i) && peer.Conn.RemoteHasPiece(i) {
			interesting = true
			break
		}
	}
	wasInterested := peer.Conn.AmInterested()
	if err := peer.Conn.SetInterested(interesting); err != nil {
		return err
	}
	if interesting && !wasInterested {
		m.jobs.Enqueue(job.PollBlock{Peer: peer})
	}
	return nil
}

func (m *Mediator) handleRequest(peer *registry.Peer, ev peerconn.Event) error {
	if peer.Conn.AmChoking() {
		return nil
	}
	if m.db == nil {
		return ErrNoPieceDB
	}
	p, err := m.db.Piece(ev.Index)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := p.WriteBlockToStream(&buf, ev.Begin, ev.Length); err != nil {
		return err
	}
	return peer.Conn.OfferBlock(ev.Index, ev.Begin, buf.Bytes())
}

// handlePiece is the mediator's pushblock handler: it writes an incoming
// block to the piece database and, if the piece just completed,
// applies spec.md §4.5's single- vs multi-contributor blacklist policy on
// validation failure, or broadcasts HAVE to the swarm on success.
func (m *Mediator) handlePiece(peer *registry.Peer, ev peerconn.Event) error {
	if m.db == nil {
		return ErrNoPieceDB
	}
	p, err := m.db.Piece(ev.Index)
	if err != nil {
		return err
	}

	m.recordContributor(ev.Index, peer.ID)

	writeErr := p.WriteBlock(ev.Begin, ev.Block)

	switch {
	case errors.Is(writeErr, piece.ErrWriteFailed):
		// Per spec.md §7: logged, piece state unchanged, next attempt may
		// succeed. Not a peer's fault, so no blacklist policy runs and the
		// contributor record for this piece is left intact.
		m.stats.Counter("block_write_errors").Inc(1)
		if m.logger != nil {
			m.logger.Debugw("block write failed", "index", ev.Index, "begin", ev.Begin, "err", writeErr)
		}
		return nil

	case errors.Is(writeErr, piece.ErrValidationFailed):
		contributors := m.contributorsList(ev.Index)
		promoted := m.blacklist.RecordBadPiece(ev.Index, contributors)
		m.stats.Counter("pieces_failed_validation").Inc(1)
		m.stats.Counter("peers_blacklisted").Inc(int64(len(promoted)))

		if m.logger != nil {
			m.logger.Debugw("piece failed validation", "index", ev.Index, "contributors", len(contributors), "promoted", len(promoted))
		}

		p.DropDownloadProgress()
		for _, id := range contributors {
			m.selector.PeerGivebackPiece(id, ev.Index)
		}
		delete(m.pieceContributors, ev.Index)

		promotedSet := make(map[core.PeerID]bool, len(promoted))
		for _, id := range promoted {
			promotedSet[id] = true
		}
		m.registry.Range(func(other *registry.Peer) bool {
			if promotedSet[other.ID] {
				m.logPeer(other.ID, "blacklisted,piece=%d", ev.Index)
				m.removePeerLocked(other.Handle)
			}
			return true
		})
		return nil

	case writeErr != nil:
		return writeErr
	}

	if p.IsComplete() {
		m.completion.MarkComplete(ev.Index)
		m.selector.HavePiece(ev.Index)
		delete(m.pieceContributors, ev.Index)
		m.stats.Counter("pieces_completed").Inc(1)

		m.registry.Range(func(other *registry.Peer) bool {
			if other.Conn != nil && !other.ID.Empty() {
				_ = other.Conn.SendHave(ev.Index)
			}
			return true
		})

		if m.completion.Complete(m.params.NumPieces) {
			m.maybeTransitionToSeederLocked()
		}
		return nil
	}

	m.jobs.Enqueue(job.PollBlock{Peer: peer})
	return nil
}

func (m *Mediator) recordContributor(index int, id core.PeerID) {
	set, ok := m.pieceContributors[index]
	if !ok {
		set = make(map[core.PeerID]bool)
		m.pieceContributors[index] = set
	}
	set[id] = true
}

func (m *Mediator) contributorsList(index int) []core.PeerID {
	set := m.pieceContributors[index]
	out := make([]core.PeerID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
