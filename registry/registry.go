// Package registry implements the mediator's peer registry: the bijection
// between network handles, peer identities, and per-peer connection state
// described in spec.md §3 "Peer registry" / §4.1.
//
// The registry is reachable from dispatch_from_buffer, which spec.md §5
// says "the embedder may invoke ... from arbitrary threads", so unlike most
// of this module's state (which is only ever touched from the single
// cooperative Tick call), the registry maps are safe for concurrent access,
// mirroring Dispatcher.peers in the teacher.
package registry

import (
	"errors"

	"golang.org/x/sync/syncmap"

	"github.com/zhangjinde/yabtorrent/core"
	"github.com/zhangjinde/yabtorrent/peerconn"
)

// Errors returned by Registry.
var (
	ErrAtCapacity      = errors.New("registry is at capacity")
	ErrDuplicateEndpoint = errors.New("peer already registered for endpoint")
	ErrUnknownHandle   = errors.New("unknown network handle")
)

// Handle is the opaque network handle the embedder uses to identify a
// socket. It is never interpreted by this module, only used as a map key.
type Handle interface{}

// Peer consolidates bookkeeping for a single peer connection, per spec.md
// §3 "Peer record".
type Peer struct {
	// ID is the remote peer id. May be empty until handshake completes.
	ID core.PeerID

	// Endpoint is the remote (ip, port).
	Endpoint core.Endpoint

	// Handle is the opaque network handle supplied by the embedder.
	Handle Handle

	// Conn is this peer's PWP connection state machine.
	Conn *peerconn.Conn
}

func (p *Peer) String() string {
	if p.ID.Empty() {
		return p.Endpoint.String()
	}
	return p.ID.String()
}

// Registry is a thread-safe bijection between network handles and peer
// records, with an auxiliary endpoint index used to suppress duplicate
// additions.
type Registry struct {
	maxPeers int

	byHandle   syncmap.Map // Handle -> *Peer
	byEndpoint syncmap.Map // core.Endpoint -> *Peer
}

// New creates a Registry capped at maxPeers entries.
func New(maxPeers int) *Registry {
	return &Registry{maxPeers: maxPeers}
}

// Add inserts a new peer record. Returns ErrAtCapacity if the registry is
// full, or ErrDuplicateEndpoint if ep is already registered.
func (r *Registry) Add(id core.PeerID, ep core.Endpoint, handle Handle) (*Peer, error) {
	if r.Count() >= r.maxPeers {
		return nil, ErrAtCapacity
	}
	if _, ok := r.byEndpoint.Load(ep); ok {
		return nil, ErrDuplicateEndpoint
	}

	p := &Peer{ID: id, Endpoint: ep, Handle: handle}

	if _, loaded := r.byHandle.LoadOrStore(handle, p); loaded {
		return nil, errors.New("handle already registered")
	}
	r.byEndpoint.Store(ep, p)

	return p, nil
}

// Get looks up the peer owning handle.
func (r *Registry) Get(handle Handle) (*Peer, bool) {
	v, ok := r.byHandle.Load(handle)
	if !ok {
		return nil, false
	}
	return v.(*Peer), true
}

// GetByEndpoint looks up the peer registered for ep.
func (r *Registry) GetByEndpoint(ep core.Endpoint) (*Peer, bool) {
	v, ok := r.byEndpoint.Load(ep)
	if !ok {
		return nil, false
	}
	return v.(*Peer), true
}

// Remove deletes the peer owning handle from the registry.
func (r *Registry) Remove(handle Handle) {
	v, ok := r.byHandle.Load(handle)
	if !ok {
		return
	}
	p := v.(*Peer)
	r.byHandle.Delete(handle)
	r.byEndpoint.Delete(p.Endpoint)
}

// Count returns the number of registered peers.
func (r *Registry) Count() int {
	n := 0
	r.byHandle.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Range iterates over every registered peer. Iteration stops early if fn
// returns false.
func (r *Registry) Range(fn func(*Peer) bool) {
	r.byHandle.Range(func(_, v interface{}) bool {
		return fn(v.(*Peer))
	})
}
