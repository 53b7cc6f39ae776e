// Command dm-agent is a minimal CLI demonstrating the download-manager
// core end-to-end over real TCP. Grounded on agent/main.go's shape: flags
// for the pieces main.go can't get from the config file, configutil.Load
// for everything else, log.New for the logger, then construct-and-serve.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"

	"github.com/zhangjinde/yabtorrent/config"
	"github.com/zhangjinde/yabtorrent/configutil"
	applog "github.com/zhangjinde/yabtorrent/log"
	"github.com/zhangjinde/yabtorrent/mediator"
	"github.com/zhangjinde/yabtorrent/netembed"
	"github.com/zhangjinde/yabtorrent/piece"
)

// agentConfig is the top-level file this binary loads via configutil.Load,
// mirroring agent.Config's "one struct per concern" composition.
type agentConfig struct {
	Logging  applog.Config  `yaml:"logging"`
	Mediator config.Config  `yaml:"mediator"`
}

func main() {
	configFile := flag.String("config", "", "path to a dm-agent YAML config file; its extends: chain is followed")
	listenAddr := flag.String("listen", "", "address to accept inbound peer connections on, e.g. :6881")
	dialPeer := flag.String("dial", "", "optional host:port of a single seed peer to dial on startup")
	flag.Parse()

	var cfg agentConfig
	if *configFile != "" {
		if err := configutil.Load(*configFile, &cfg); err != nil {
			fatal("failed to load config: %s", err)
		}
	}

	logger, err := applog.New(cfg.Logging, map[string]interface{}{"component": "dm-agent"})
	if err != nil {
		fatal("failed to init logger: %s", err)
	}
	defer logger.Sync()

	// A real deployment would wire a statsd or m3 tally.Reporter here, the
	// way metrics.New does; this demo binary has nothing to report to, so
	// it hands the mediator the no-op scope.
	stats := tally.NoopScope

	m, err := mediator.New(cfg.Mediator, clock.New(), logger, stats)
	if err != nil {
		fatal("failed to construct mediator: %s", err)
	}

	embedder := netembed.New(m, logger)
	m.SetCallbacks(embedder)

	// A real deployment supplies a persistent piece.Database backed by the
	// download_path configured above; this demo wires an in-memory one so
	// the binary is runnable without a real storage backend.
	db := piece.NewFakeDatabase(cfg.Mediator.NumPieces, cfg.Mediator.PieceLength, 16384)
	if err := m.SetPieceDB(db); err != nil {
		fatal("failed to set piece database: %s", err)
	}

	if *dialPeer != "" {
		ip, port, err := splitHostPort(*dialPeer)
		if err != nil {
			fatal("invalid -dial address %q: %s", *dialPeer, err)
		}
		if err := embedder.DialPeer(ip, port); err != nil {
			logger.Errorf("failed to dial seed peer %s: %s", *dialPeer, err)
		}
	}

	go tickLoop(embedder, m)

	addr := *listenAddr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Mediator.PWPListenPort)
	}
	logger.Infof("dm-agent listening on %s", addr)
	if err := embedder.Serve(addr); err != nil {
		fatal("listen loop exited: %s", err)
	}
}

// tickLoop drives the mediator's cooperative scheduling: spec.md §5 says
// the embedder is responsible for calling Tick periodically, the way
// scheduler.tickerLoop periodically sends preemptionTickEvent.
func tickLoop(embedder *netembed.Embedder, m *mediator.Mediator) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		embedder.CallExclusively(func() {
			m.Tick()
		})
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func splitHostPort(hostport string) (string, int, error) {
	var host string
	var port int
	if _, err := fmt.Sscanf(hostport, "%[^:]:%d", &host, &port); err != nil {
		return "", 0, err
	}
	return host, port, nil
}
