// Package choker implements the leecher and seeder choking algorithms
// described in spec.md §4.4: periodic reciprocation by transfer rate among
// max_active_peers, plus a slower optimistic unchoke rotation.
//
// Matching this module's cooperative concurrency model (spec.md §5: the
// mediator never spawns goroutines or sleeps internally), neither choker
// runs its own timer loop. Instead each tracks the next due time for its
// two schedules and Tick, called from the mediator's own Tick, runs
// whichever schedules have come due — the same self-rescheduling shape as
// bt_download_manager.c's eventtimer_push_event, translated from an event
// timer into a polled due-time check.
package choker

import (
	"math/rand"
	"sort"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/zhangjinde/yabtorrent/core"
)

// Peer is the capability a choker needs from a peer connection: its
// transfer rates and the choke/unchoke operations, per spec.md §4.6's
// choke_peer/unchoke_peer outbound ops.
type Peer interface {
	ID() core.PeerID
	DownloadRate() float64 // bytes/sec we are receiving from this peer
	UploadRate() float64   // bytes/sec we are sending to this peer
	IsInterested() bool    // peer_interested: peer wants to download from us
	IsChoked() bool        // am_choking: are we currently choking peer
	Choke()
	Unchoke()
}

// Config tunes both choker schedules.
type Config struct {
	MaxActivePeers        int           `yaml:"max_active_peers" validate:"min=1"`
	ReciprocationInterval time.Duration `yaml:"reciprocation_interval"`
	OptimisticInterval    time.Duration `yaml:"optimistic_interval"`
}

func (c Config) applyDefaults() Config {
	if c.MaxActivePeers <= 0 {
		c.MaxActivePeers = 4
	}
	if c.ReciprocationInterval <= 0 {
		c.ReciprocationInterval = 10 * time.Second
	}
	if c.OptimisticInterval <= 0 {
		c.OptimisticInterval = 30 * time.Second
	}
	return c
}

type schedule struct {
	clk                 clock.Clock
	config              Config
	peers               map[core.PeerID]Peer
	nextReciprocation   time.Time
	nextOptimistic      time.Time
	optimisticUnchoked  core.PeerID
	haveOptimisticChoke bool
	rng                 *rand.Rand
}

func newSchedule(config Config, clk clock.Clock) schedule {
	now := clk.Now()
	return schedule{
		clk:               clk,
		config:            config.applyDefaults(),
		peers:             make(map[core.PeerID]Peer),
		nextReciprocation: now.Add(config.applyDefaults().ReciprocationInterval),
		nextOptimistic:    now.Add(config.applyDefaults().OptimisticInterval),
		rng:               rand.New(rand.NewSource(1)),
	}
}

func (s *schedule) addPeer(p Peer) {
	s.peers[p.ID()] = p
}

func (s *schedule) removePeer(id core.PeerID) {
	delete(s.peers, id)
	if s.haveOptimisticChoke && s.optimisticUnchoked == id {
		s.haveOptimisticChoke = false
	}
}

// rank returns interested peers ordered by rateOf descending, ties broken
// by ascending PeerID for a stable, reproducible selection.
func (s *schedule) rank(rateOf func(Peer) float64) []Peer {
	var interested []Peer
	for _, p := range s.peers {
		if p.IsInterested() {
			interested = append(interested, p)
		}
	}
	sort.Slice(interested, func(i, j int) bool {
		ri, rj := rateOf(interested[i]), rateOf(interested[j])
		if ri != rj {
			return ri > rj
		}
		return interested[i].ID().LessThan(interested[j].ID())
	})
	return interested
}

func (s *schedule) reciprocate(rateOf func(Peer) float64) {
	ranked := s.rank(rateOf)

	active := make(map[core.PeerID]bool, s.config.MaxActivePeers)
	for i, p := range ranked {
		if i >= s.config.MaxActivePeers {
			break
		}
		active[p.ID()] = true
	}

	for _, p := range s.peers {
		if active[p.ID()] || (s.haveOptimisticChoke && p.ID() == s.optimisticUnchoked) {
			if p.IsChoked() {
				p.Unchoke()
			}
			continue
		}
		if !p.IsChoked() {
			p.Choke()
		}
	}
}

func (s *schedule) optimisticUnchoke() {
	var candidates []Peer
	for _, p := range s.peers {
		if p.IsInterested() && p.IsChoked() {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		s.haveOptimisticChoke = false
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID().LessThan(candidates[j].ID())
	})
	chosen := candidates[s.rng.Intn(len(candidates))]
	chosen.Unchoke()
	s.optimisticUnchoked = chosen.ID()
	s.haveOptimisticChoke = true
}

func (s *schedule) tick(rateOf func(Peer) float64) {
	now := s.clk.Now()

	if !now.Before(s.nextOptimistic) {
		s.optimisticUnchoke()
		s.nextOptimistic = now.Add(s.config.OptimisticInterval)
	}
	if !now.Before(s.nextReciprocation) {
		s.reciprocate(rateOf)
		s.nextReciprocation = now.Add(s.config.ReciprocationInterval)
	}
}

// Leecher reciprocates by download rate: peers we're getting the most
// data from the fastest get unchoked, per spec.md §4.4.
type Leecher struct {
	schedule
}

// NewLeecher creates a Leecher choker using clk as its time source.
func NewLeecher(config Config, clk clock.Clock) *Leecher {
	return &Leecher{schedule: newSchedule(config, clk)}
}

func (l *Leecher) AddPeer(p Peer)         { l.addPeer(p) }
func (l *Leecher) RemovePeer(id core.PeerID) { l.removePeer(id) }

// Tick runs whichever of the two schedules has come due.
func (l *Leecher) Tick() {
	l.schedule.tick(func(p Peer) float64 { return p.DownloadRate() })
}

// Seeder reciprocates by upload rate: once we have every piece there is
// nothing to reciprocate for download, so we instead favor whichever
// peers are downloading from us the fastest, maximizing total swarm
// throughput. Spec.md §4.4 mentions this choker but leaves its exact
// metric unspecified; this mirrors the leecher choker's shape with the
// rate direction swapped.
type Seeder struct {
	schedule
}

// NewSeeder creates a Seeder choker using clk as its time source.
func NewSeeder(config Config, clk clock.Clock) *Seeder {
	return &Seeder{schedule: newSchedule(config, clk)}
}

func (s *Seeder) AddPeer(p Peer)         { s.addPeer(p) }
func (s *Seeder) RemovePeer(id core.PeerID) { s.removePeer(id) }

func (s *Seeder) Tick() {
	s.schedule.tick(func(p Peer) float64 { return p.UploadRate() })
}
