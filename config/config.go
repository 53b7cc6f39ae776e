// Package config declares the mediator's configuration surface: the
// yaml-tagged Config struct for every tunable named in spec.md §6, and a
// read-only View the rest of the module consults instead of holding onto
// a mutable Config directly. Grounded on the teacher's plain-struct,
// yaml-tagged, applyDefaults()-returning-a-copy shape used throughout
// dispatch.Config/conn.Config/connstate.Config.
package config

import (
	"fmt"

	"github.com/zhangjinde/yabtorrent/blacklist"
	"github.com/zhangjinde/yabtorrent/choker"
	"github.com/zhangjinde/yabtorrent/peerconn"
)

// Config is the full set of tunables a mediator is constructed with,
// collecting every key named in spec.md §6's configuration table plus the
// nested per-component configs.
type Config struct {
	InfoHash  string `yaml:"infohash" validate:"nonzero"`
	MyPeerID  string `yaml:"my_peerid" validate:"nonzero"`
	MyIP      string `yaml:"my_ip" validate:"nonzero"`
	PWPListenPort int `yaml:"pwp_listen_port" validate:"min=1"`

	NumPieces   int   `yaml:"npieces" validate:"min=1"`
	PieceLength int64 `yaml:"piece_length" validate:"min=1"`

	MaxPeerConnections int `yaml:"max_peer_connections"`
	MaxActivePeers     int `yaml:"max_active_peers"`
	MaxPendingRequests int `yaml:"max_pending_requests"`

	DownloadPath        string `yaml:"download_path" validate:"nonzero"`
	MaxCacheMemBytes    int64  `yaml:"max_cache_mem_bytes"`
	ShutdownWhenComplete bool  `yaml:"shutdown_when_complete"`

	PieceSelectionPolicy string `yaml:"piece_selection_policy"` // "random" | "rarest_first" | "sequential"

	Blacklist blacklist.Config `yaml:"blacklist"`
	Choker    choker.Config    `yaml:"choker"`
	Conn      peerconn.Config  `yaml:"conn"`
}

// applyDefaults fills in zero-valued fields with spec.md §6's documented
// defaults, mirroring bt_download_manager.c's bt_dm_new()
// config_set_if_not_set calls.
func (c Config) applyDefaults() Config {
	if c.InfoHash == "" {
		c.InfoHash = "0000000000000000000000000000000000000000"
	}
	if c.MyIP == "" {
		c.MyIP = "127.0.0.1"
	}
	if c.PWPListenPort <= 0 {
		c.PWPListenPort = 6881
	}
	if c.DownloadPath == "" {
		c.DownloadPath = "."
	}
	if c.MaxPeerConnections <= 0 {
		c.MaxPeerConnections = 32
	}
	if c.MaxActivePeers <= 0 {
		c.MaxActivePeers = 32
	}
	if c.MaxPendingRequests <= 0 {
		c.MaxPendingRequests = 10
	}
	if c.MaxCacheMemBytes <= 0 {
		c.MaxCacheMemBytes = 1000000
	}
	if c.PieceSelectionPolicy == "" {
		c.PieceSelectionPolicy = "rarest_first"
	}
	c.Choker.MaxActivePeers = c.MaxActivePeers
	c.Conn.PipelineLimit = c.MaxPendingRequests
	return c
}

// Validate reports whether c describes a usable configuration, beyond the
// struct-tag-driven checks performed by configutil.Load.
func (c Config) Validate() error {
	switch c.PieceSelectionPolicy {
	case "", "random", "rarest_first", "sequential":
	default:
		return fmt.Errorf("config: unknown piece_selection_policy %q", c.PieceSelectionPolicy)
	}
	return nil
}

// View is the read-only configuration surface the rest of the module is
// handed, per spec.md's "Configuration view" component: it exposes the
// resolved (defaults-applied) values without letting callers mutate the
// Config a Mediator was constructed from.
type View struct {
	cfg Config
}

// NewView resolves defaults on cfg and wraps it as a View.
func NewView(cfg Config) View {
	return View{cfg: cfg.applyDefaults()}
}

func (v View) InfoHash() string      { return v.cfg.InfoHash }
func (v View) MyPeerID() string      { return v.cfg.MyPeerID }
func (v View) MyIP() string          { return v.cfg.MyIP }
func (v View) PWPListenPort() int    { return v.cfg.PWPListenPort }
func (v View) NumPieces() int        { return v.cfg.NumPieces }
func (v View) PieceLength() int64    { return v.cfg.PieceLength }
func (v View) MaxPeerConnections() int { return v.cfg.MaxPeerConnections }
func (v View) MaxActivePeers() int   { return v.cfg.MaxActivePeers }
func (v View) MaxPendingRequests() int { return v.cfg.MaxPendingRequests }
func (v View) DownloadPath() string  { return v.cfg.DownloadPath }
func (v View) MaxCacheMemBytes() int64 { return v.cfg.MaxCacheMemBytes }
func (v View) ShutdownWhenComplete() bool { return v.cfg.ShutdownWhenComplete }
func (v View) PieceSelectionPolicy() string { return v.cfg.PieceSelectionPolicy }

func (v View) BlacklistConfig() blacklist.Config { return v.cfg.Blacklist }
func (v View) ChokerConfig() choker.Config       { return v.cfg.Choker }
func (v View) ConnConfig() peerconn.Config       { return v.cfg.Conn }
