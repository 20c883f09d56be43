package link

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitchat-mesh/core/pkg/router"
	"github.com/bitchat-mesh/core/pkg/wire"
)

type fakeMedium struct {
	chunks map[string][][]byte
}

func newFakeMedium() *fakeMedium { return &fakeMedium{chunks: make(map[string][][]byte)} }

func (m *fakeMedium) WriteChunk(peerHandle string, chunk []byte) error {
	cp := append([]byte{}, chunk...)
	m.chunks[peerHandle] = append(m.chunks[peerHandle], cp)
	return nil
}
func (m *fakeMedium) ReadAnnounce(peerHandle string) ([]byte, error) { return nil, nil }
func (m *fakeMedium) Notify(peerHandle string, data []byte) error    { return nil }

type discardOutbound struct{}

func (discardOutbound) Send(pkt *wire.Packet, excludeLink string) error { return nil }

func testLocalID() [8]byte {
	var id [8]byte
	id[0] = 0x01
	return id
}

func TestAnnouncePayloadFormat(t *testing.T) {
	l := New(newFakeMedium(), nil, testLocalID(), "alice")
	payload := l.AnnouncePayload()
	require.Equal(t, testLocalID(), [8]byte(payload[:8]))
	require.Equal(t, "alice", string(payload[8:]))
}

func TestChunkedSendReassembledIntoPacket(t *testing.T) {
	medium := newFakeMedium()
	var gotSender [8]byte
	r := router.New(testLocalID(), nil, discardOutbound{})
	r.Handlers.OnAnnounce = func(senderID [8]byte, payload []byte) { gotSender = senderID }

	sender := New(medium, nil, testLocalID(), "alice")
	sender.mtu = 12 // force multiple small chunks

	pkt := &wire.Packet{
		Version:   2,
		Type:      wire.TypeAnnounce,
		TTL:       5,
		Timestamp: 1,
		SenderID:  testLocalID(),
		Payload:   []byte("a fairly long announce payload to force chunking"),
	}
	framed, err := wire.Encode(pkt, false)
	require.NoError(t, err)

	require.NoError(t, sender.sendToHandle("peer-b", framed))
	require.Greater(t, len(medium.chunks["peer-b"]), 1)

	receiver := New(medium, r, testLocalID(), "bob")
	for _, chunk := range medium.chunks["peer-b"] {
		receiver.OnChunkReceived("peer-a", chunk)
	}

	require.Equal(t, testLocalID(), gotSender)
}

func TestMaintenanceEvictsStalePeers(t *testing.T) {
	l := New(newFakeMedium(), nil, testLocalID(), "alice")
	l.peers["stale"] = &peerState{peerID: "aabb", lastSeen: time.Now().Add(-PeerTimeout - time.Second)}
	l.peers["fresh"] = &peerState{peerID: "ccdd", lastSeen: time.Now()}

	l.RunMaintenance()

	require.NotContains(t, l.peers, "stale")
	require.Contains(t, l.peers, "fresh")
}

type fakeHandshaker struct {
	called string
}

func (h *fakeHandshaker) StartHandshake(peerID string) ([]byte, error) {
	h.called = peerID
	return []byte{0xAA, 0xBB}, nil
}

func TestTriggerHandshakeSendsFramedPacket(t *testing.T) {
	medium := newFakeMedium()
	l := New(medium, nil, testLocalID(), "alice")
	l.peers["peer-handle"] = &peerState{peerID: "aabbccddeeff0011", connected: true}

	hs := &fakeHandshaker{}
	l.SetHandshaker(hs)

	require.NoError(t, l.TriggerHandshake("aabbccddeeff0011"))
	require.Equal(t, "aabbccddeeff0011", hs.called)
	require.NotEmpty(t, medium.chunks["peer-handle"])
}
