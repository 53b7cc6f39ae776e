package mediator

import (
	"github.com/zhangjinde/yabtorrent/job"
	"github.com/zhangjinde/yabtorrent/pwpwire"
	"github.com/zhangjinde/yabtorrent/registry"
)

// Stats is the mediator's statistics surface, per spec.md §6.
type Stats struct {
	PiecesComplete int
	NumPieces      int
	NumPeers       int
	Seeding        bool
}

// Tick drains the job queue, runs per-peer periodic bookkeeping (rate
// sampling, request-timeout detection), and runs the active choker's
// schedule. If shutdown_when_complete is set and the torrent is complete,
// Tick skips all of that and only returns the current Stats snapshot, per
// spec.md §9's resolution of the bt_dm_release/shutdown Open Question.
func (m *Mediator) Tick() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		done := m.completion.Complete(m.params.NumPieces)
		if !(done && m.cfg.ShutdownWhenComplete()) {
			m.drainJobsLocked()
			m.runPeerPeriodicLocked()
			m.choker.Tick()
		}
	}

	return m.statsLocked()
}

func (m *Mediator) statsLocked() Stats {
	return Stats{
		PiecesComplete: m.completion.Count(),
		NumPieces:      m.params.NumPieces,
		NumPeers:       m.registry.Count(),
		Seeding:        m.seeding,
	}
}

func (m *Mediator) drainJobsLocked() {
	for {
		j, ok := m.jobs.Dequeue()
		if !ok {
			return
		}
		switch jb := j.(type) {
		case job.PollBlock:
			m.handlePollBlockLocked(jb.Peer)
		}
	}
}

// handlePollBlockLocked is the mediator's PollBlock dispatch algorithm
// (spec.md §4.2): ask the selector for the next piece this peer can
// supply, ask the piece database for the next block of it to request, and
// send a REQUEST if the peer's pipeline has room. It keeps re-enqueuing
// itself until the pipeline is full or there is nothing left to request.
func (m *Mediator) handlePollBlockLocked(peer *registry.Peer) {
	if _, ok := m.registry.Get(peer.Handle); !ok {
		return
	}
	if peer.Conn.PeerChoking() || peer.Conn.PipelineFull() {
		return
	}
	if m.db == nil {
		return
	}

	index, ok := m.selector.PollPiece(peer.ID)
	if !ok {
		return
	}

	p, err := m.db.Piece(index)
	if err != nil {
		m.selector.PeerGivebackPiece(peer.ID, index)
		return
	}

	req, ok := p.PollBlockRequest()
	if !ok {
		// Every block of this piece is already requested elsewhere; leave
		// it assigned and simply stop polling for now.
		return
	}

	if err := peer.Conn.RequestBlock(req.Index, req.Begin, req.Length); err != nil {
		p.GiveBackBlock(req.Begin)
		return
	}

	if !peer.Conn.PipelineFull() {
		m.jobs.Enqueue(job.PollBlock{Peer: peer})
	}
}

func (m *Mediator) runPeerPeriodicLocked() {
	m.registry.Range(func(p *registry.Peer) bool {
		if p.Conn == nil {
			return true
		}
		p.Conn.Periodic()

		for _, reqMsg := range p.Conn.ExpiredRequests() {
			index, begin, _, err := pwpwire.DecodeRequest(reqMsg.Payload)
			if err != nil {
				continue
			}
			m.selector.PeerGivebackPiece(p.ID, int(index))
			if m.db != nil {
				if piece, err := m.db.Piece(int(index)); err == nil {
					piece.GiveBackBlock(int(begin))
				}
			}
		}
		return true
	})
}

// Close tears the mediator down: it drains the job queue, removes every
// peer (which also drops each one from the selector and choker), and
// clears the blacklist. The selector, choker, and completion bitmap are
// kept as they are, so Tick still returns Stats after Close.
func (m *Mediator) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	for {
		if _, ok := m.jobs.Dequeue(); !ok {
			break
		}
	}

	var handles []registry.Handle
	m.registry.Range(func(p *registry.Peer) bool {
		handles = append(handles, p.Handle)
		return true
	})
	for _, h := range handles {
		m.removePeerLocked(h)
	}

	m.blacklist.Clear()
}
