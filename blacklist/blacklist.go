// Package blacklist implements the peer-reputation policy described in
// spec.md §4.5: a piece that fails validation blacklists its sole
// contributor outright, while a piece with multiple contributors only
// marks each of them "potentially bad" until enough suspicion accumulates
// to promote them to confirmed-bad.
package blacklist

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/zhangjinde/yabtorrent/core"
)

// Config tunes blacklist timing and the potentially-bad promotion
// threshold (spec.md §9 Open Question: resolved as a configurable
// threshold defaulting to 2).
type Config struct {
	// PromotionThreshold is the number of distinct pieces a peer must be a
	// co-contributor of bad data to before being promoted from
	// potentially-bad to confirmed-bad.
	PromotionThreshold int `yaml:"promotion_threshold" validate:"min=1"`

	// Expiration is how long a confirmed-bad entry blocks re-adding the
	// peer before it ages out. Zero means entries never expire.
	Expiration time.Duration `yaml:"expiration"`
}

func (c Config) applyDefaults() Config {
	if c.PromotionThreshold <= 0 {
		c.PromotionThreshold = 2
	}
	return c
}

type entry struct {
	expiresAt time.Time // zero value means "never expires"
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Blacklist tracks confirmed-bad peers and the potentially-bad suspicion
// count that can promote a peer into the confirmed set.
type Blacklist struct {
	mu     sync.Mutex
	clk    clock.Clock
	config Config

	confirmed map[core.PeerID]entry
	suspected map[core.PeerID]map[int]bool // peer -> set of bad piece indices contributed to
}

// New creates a Blacklist using clk as its time source, grounded on
// connstate.State's use of an injected clock for deterministic expiry
// tests.
func New(config Config, clk clock.Clock) *Blacklist {
	return &Blacklist{
		clk:       clk,
		config:    config.applyDefaults(),
		confirmed: make(map[core.PeerID]entry),
		suspected: make(map[core.PeerID]map[int]bool),
	}
}

// Blacklisted reports whether peer is currently confirmed-bad.
func (b *Blacklist) Blacklisted(peer core.PeerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.confirmed[peer]
	if !ok {
		return false
	}
	if e.expired(b.clk.Now()) {
		delete(b.confirmed, peer)
		return false
	}
	return true
}

// RecordBadPiece applies the blacklist policy for a piece at index that
// failed validation, contributed to by contributors. If there was exactly
// one contributor, it is confirmed-bad immediately. Otherwise every
// contributor is marked potentially-bad for this piece, and any
// contributor that has now been a co-contributor of PromotionThreshold
// distinct bad pieces is promoted to confirmed-bad.
//
// RecordBadPiece returns the subset of contributors that are confirmed-bad
// as a result of this call, so the mediator can disconnect them.
func (b *Blacklist) RecordBadPiece(index int, contributors []core.PeerID) []core.PeerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(contributors) == 1 {
		b.confirmLocked(contributors[0])
		return contributors
	}

	var promoted []core.PeerID
	for _, peer := range contributors {
		pieces, ok := b.suspected[peer]
		if !ok {
			pieces = make(map[int]bool)
			b.suspected[peer] = pieces
		}
		pieces[index] = true

		if len(pieces) >= b.config.PromotionThreshold {
			b.confirmLocked(peer)
			promoted = append(promoted, peer)
		}
	}
	return promoted
}

func (b *Blacklist) confirmLocked(peer core.PeerID) {
	e := entry{}
	if b.config.Expiration > 0 {
		e.expiresAt = b.clk.Now().Add(b.config.Expiration)
	}
	b.confirmed[peer] = e
	delete(b.suspected, peer)
}

// Clear removes every confirmed and suspected entry, for use at
// mediator teardown (spec.md §9, bt_dm_release resolution).
func (b *Blacklist) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.confirmed = make(map[core.PeerID]entry)
	b.suspected = make(map[core.PeerID]map[int]bool)
}
