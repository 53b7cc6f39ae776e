package mediator

import (
	"bytes"
	"testing"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/zhangjinde/yabtorrent/config"
	"github.com/zhangjinde/yabtorrent/core"
	"github.com/zhangjinde/yabtorrent/piece"
	"github.com/zhangjinde/yabtorrent/pwpwire"
	"github.com/zhangjinde/yabtorrent/registry"
)

// fakeCallbacks records every op the mediator asked the embedder to
// perform, and lets a test script canned Connect outcomes.
type fakeCallbacks struct {
	sent       map[registry.Handle][]pwpwire.Message
	logs       []string
	connectOK  map[string]registry.Handle
	connectErr map[string]bool
}

func newFakeCallbacks() *fakeCallbacks {
	return &fakeCallbacks{
		sent:       make(map[registry.Handle][]pwpwire.Message),
		connectOK:  make(map[string]registry.Handle),
		connectErr: make(map[string]bool),
	}
}

func (f *fakeCallbacks) Connect(ip string, port int) (registry.Handle, bool) {
	key := core.Endpoint{IP: ip, Port: port}.String()
	if f.connectErr[key] {
		return nil, false
	}
	if h, ok := f.connectOK[key]; ok {
		return h, true
	}
	return nil, false
}

func (f *fakeCallbacks) Send(handle registry.Handle, data []byte) error {
	msg, err := pwpwire.ReadMessage(bytes.NewReader(data))
	if err != nil {
		// Handshakes aren't framed as pwpwire.Message; record a sentinel.
		f.sent[handle] = append(f.sent[handle], pwpwire.Message{})
		return nil
	}
	f.sent[handle] = append(f.sent[handle], msg)
	return nil
}

func (f *fakeCallbacks) Log(line string) {
	f.logs = append(f.logs, line)
}

func (f *fakeCallbacks) CallExclusively(fn func()) { fn() }

func testConfig(numPieces int, pieceLength int64) config.Config {
	infoHash := core.HashInfo([]byte("test torrent"))
	myID, err := core.RandomPeerID()
	if err != nil {
		panic(err)
	}
	return config.Config{
		InfoHash:    infoHash.Hex(),
		MyPeerID:    myID.String(),
		MyIP:        "10.0.0.1",
		PWPListenPort: 6881,
		NumPieces:   numPieces,
		PieceLength: pieceLength,
		DownloadPath: "/tmp/does-not-matter",
		PieceSelectionPolicy: "sequential",
	}
}

func newTestMediator(t *testing.T, numPieces int, pieceLength int64, blockSize int) (*Mediator, *fakeCallbacks, *piece.FakeDatabase) {
	t.Helper()
	m, err := New(testConfig(numPieces, pieceLength), clock.NewMock(), nil, tally.NoopScope)
	require.NoError(t, err)

	cb := newFakeCallbacks()
	m.SetCallbacks(cb)

	db := piece.NewFakeDatabase(numPieces, pieceLength, blockSize)
	require.NoError(t, m.SetPieceDB(db))

	return m, cb, db
}

func handshakeBytes(t *testing.T, infoHash core.InfoHash, peerID core.PeerID) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, pwpwire.WriteHandshake(&buf, pwpwire.Handshake{InfoHash: infoHash, PeerID: peerID}))
	return buf.Bytes()
}

func addAndHandshakePeer(t *testing.T, m *Mediator, handle registry.Handle, remoteID core.PeerID) *registry.Peer {
	t.Helper()
	// Each peer gets its own port: the registry refuses a second peer at an
	// endpoint already registered.
	peer, err := m.AddPeer("10.0.0.2", 7000+m.registry.Count(), handle)
	require.NoError(t, err)

	hs := handshakeBytes(t, m.params.InfoHash, remoteID)
	require.NoError(t, m.DispatchFromBuffer(handle, hs))
	return peer
}

func TestAddPeerRejectsSelf(t *testing.T) {
	m, _, _ := newTestMediator(t, 1, 16, 8)
	_, err := m.AddPeer(m.params.LocalEndpoint.IP, m.params.LocalEndpoint.Port, "handle")
	require.ErrorIs(t, err, ErrSelfAdd)
}

func TestAddPeerInboundHandshakeWiresSelectorAndSendsBitfield(t *testing.T) {
	m, cb, _ := newTestMediator(t, 4, 16, 8)
	remoteID, err := core.RandomPeerID()
	require.NoError(t, err)

	peer := addAndHandshakePeer(t, m, "h1", remoteID)
	require.Equal(t, remoteID, peer.ID)
	require.Equal(t, peerconnActive(t, peer), true)

	msgs := cb.sent["h1"]
	require.NotEmpty(t, msgs)
	require.Equal(t, pwpwire.Bitfield, msgs[len(msgs)-1].ID)
}

// peerconnActive is a tiny helper so the test above doesn't need to import
// peerconn just to spell out the state-check.
func peerconnActive(t *testing.T, peer *registry.Peer) bool {
	t.Helper()
	return peer.Conn.State().String() == "active"
}

func TestAddPeerDuplicateEndpointRejected(t *testing.T) {
	m, _, _ := newTestMediator(t, 1, 16, 8)
	_, err := m.AddPeer("10.0.0.2", 7000, "h1")
	require.NoError(t, err)

	_, err = m.AddPeer("10.0.0.2", 7000, "h2")
	require.Error(t, err)
}

func TestDispatchRejectsMismatchedInfoHash(t *testing.T) {
	m, _, _ := newTestMediator(t, 1, 16, 8)
	_, err := m.AddPeer("10.0.0.2", 7000, "h1")
	require.NoError(t, err)

	otherHash := core.HashInfo([]byte("a different torrent"))
	remoteID, err := core.RandomPeerID()
	require.NoError(t, err)

	err = m.DispatchFromBuffer("h1", handshakeBytes(t, otherHash, remoteID))
	require.ErrorIs(t, err, ErrInfoHashMismatch)

	_, ok := m.registry.Get("h1")
	require.False(t, ok, "peer should have been removed after info hash mismatch")
}

func TestHandlePieceCompletesAndBroadcastsHave(t *testing.T) {
	m, cb, db := newTestMediator(t, 2, 16, 16)
	remoteID, err := core.RandomPeerID()
	require.NoError(t, err)
	other, err := core.RandomPeerID()
	require.NoError(t, err)

	addAndHandshakePeer(t, m, "h1", remoteID)
	addAndHandshakePeer(t, m, "h2", other)

	// Remote announces it has piece 0 so we become interested and start
	// polling; not strictly required to drive WriteBlock directly, but
	// exercises the HAVE path too.
	haveMsg := pwpwire.NewHave(0)
	require.NoError(t, m.handleMessage(mustPeer(t, m, "h1"), haveMsg))

	pieceMsg := pwpwire.NewPiece(0, 0, make([]byte, 16))
	require.NoError(t, m.handleMessage(mustPeer(t, m, "h1"), pieceMsg))

	require.True(t, m.completion.IsComplete(0))

	p, err := db.Piece(0)
	require.NoError(t, err)
	require.True(t, p.IsComplete())

	// h2 should have received a HAVE broadcast for piece 0.
	msgs := cb.sent["h2"]
	var sawHave bool
	for _, msg := range msgs {
		if msg.ID == pwpwire.Have {
			idx, err := pwpwire.DecodeHave(msg.Payload)
			require.NoError(t, err)
			if idx == 0 {
				sawHave = true
			}
		}
	}
	require.True(t, sawHave, "expected HAVE broadcast to h2")
}

func TestHandlePieceSingleContributorBlacklistedImmediately(t *testing.T) {
	m, _, db := newTestMediator(t, 1, 16, 16)
	remoteID, err := core.RandomPeerID()
	require.NoError(t, err)
	addAndHandshakePeer(t, m, "h1", remoteID)

	p, err := db.Piece(0)
	require.NoError(t, err)
	p.(*piece.FakePiece).Invalid = true

	pieceMsg := pwpwire.NewPiece(0, 0, make([]byte, 16))
	require.NoError(t, m.handleMessage(mustPeer(t, m, "h1"), pieceMsg))

	require.True(t, m.blacklist.Blacklisted(remoteID))
	_, ok := m.registry.Get("h1")
	require.False(t, ok, "sole contributor to a bad piece should be removed")
}

func TestHandlePieceMultiContributorNotBlacklistedBelowThreshold(t *testing.T) {
	m, _, db := newTestMediator(t, 1, 32, 16)
	id1, err := core.RandomPeerID()
	require.NoError(t, err)
	id2, err := core.RandomPeerID()
	require.NoError(t, err)

	addAndHandshakePeer(t, m, "h1", id1)
	addAndHandshakePeer(t, m, "h2", id2)

	p, err := db.Piece(0)
	require.NoError(t, err)
	p.(*piece.FakePiece).Invalid = true

	// Two different peers each contribute one of the two blocks; the
	// second WriteBlock is the one that completes (and fails) the piece.
	require.NoError(t, m.handleMessage(mustPeer(t, m, "h1"), pwpwire.NewPiece(0, 0, make([]byte, 16))))
	require.NoError(t, m.handleMessage(mustPeer(t, m, "h2"), pwpwire.NewPiece(0, 16, make([]byte, 16))))

	require.False(t, m.blacklist.Blacklisted(id1), "below promotion threshold, contributor is only potentially-bad")
	require.False(t, m.blacklist.Blacklisted(id2))

	_, ok := m.registry.Get("h1")
	require.True(t, ok)
	_, ok = m.registry.Get("h2")
	require.True(t, ok)
}

func TestTransitionsToSeederOnceComplete(t *testing.T) {
	m, _, db := newTestMediator(t, 1, 16, 16)
	remoteID, err := core.RandomPeerID()
	require.NoError(t, err)
	addAndHandshakePeer(t, m, "h1", remoteID)

	require.False(t, m.seeding)

	require.NoError(t, m.handleMessage(mustPeer(t, m, "h1"), pwpwire.NewPiece(0, 0, make([]byte, 16))))

	require.True(t, m.seeding)
	p, err := db.Piece(0)
	require.NoError(t, err)
	require.True(t, p.IsComplete())
}

func TestTickShortCircuitsWhenShutdownOnComplete(t *testing.T) {
	cfg := testConfig(1, 16)
	cfg.ShutdownWhenComplete = true
	m, err := New(cfg, clock.NewMock(), nil, tally.NoopScope)
	require.NoError(t, err)
	m.SetCallbacks(newFakeCallbacks())

	db := piece.NewFakeDatabase(1, 16, 16)
	p, err := db.Piece(0)
	require.NoError(t, err)
	require.NoError(t, p.WriteBlock(0, make([]byte, 16)))
	require.NoError(t, m.SetPieceDB(db))

	stats := m.Tick()
	require.True(t, stats.Seeding)
	require.Equal(t, 1, stats.PiecesComplete)
}

func TestCloseRemovesAllPeers(t *testing.T) {
	m, _, _ := newTestMediator(t, 1, 16, 16)
	remoteID, err := core.RandomPeerID()
	require.NoError(t, err)
	addAndHandshakePeer(t, m, "h1", remoteID)

	require.Equal(t, 1, m.registry.Count())
	m.Close()
	require.Equal(t, 0, m.registry.Count())
}

func mustPeer(t *testing.T, m *Mediator, handle registry.Handle) *registry.Peer {
	t.Helper()
	p, ok := m.registry.Get(handle)
	require.True(t, ok)
	return p
}
