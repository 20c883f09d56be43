package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitchat-mesh/core/pkg/transport"
)

type fakeTransport struct {
	name      string
	available bool
	reachable map[string]bool
	sent      []string
	snapshots []transport.PeerSnapshot
}

func (f *fakeTransport) Name() string                  { return f.name }
func (f *fakeTransport) IsAvailable() bool              { return f.available }
func (f *fakeTransport) PeerSnapshots() []transport.PeerSnapshot { return f.snapshots }
func (f *fakeTransport) SendMessage(payload []byte) error        { f.sent = append(f.sent, "message"); return nil }
func (f *fakeTransport) SendAnnounce(payload []byte) error       { f.sent = append(f.sent, "announce"); return nil }
func (f *fakeTransport) SendPrivateMessage(peerID string, payload []byte) error {
	f.sent = append(f.sent, "private:"+peerID)
	return nil
}
func (f *fakeTransport) SendDeliveryAck(peerID string, payload []byte) error {
	f.sent = append(f.sent, "ack:"+peerID)
	return nil
}
func (f *fakeTransport) SendReadReceipt(peerID string, payload []byte) error {
	f.sent = append(f.sent, "receipt:"+peerID)
	return nil
}
func (f *fakeTransport) TriggerHandshake(peerID string) error {
	f.sent = append(f.sent, "handshake:"+peerID)
	return nil
}
func (f *fakeTransport) SendRaw(peerID string, data []byte) error {
	f.sent = append(f.sent, "raw:"+peerID)
	return nil
}
func (f *fakeTransport) BroadcastRaw(data []byte) error { f.sent = append(f.sent, "broadcast"); return nil }
func (f *fakeTransport) IsPeerReachable(peerID string) bool {
	return f.reachable != nil && f.reachable[peerID]
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{name: name, available: true, reachable: make(map[string]bool)}
}

func TestSelectorPrefersLinkOnLowBattery(t *testing.T) {
	link := newFakeTransport("link")
	rv := newFakeTransport("rendezvous")
	link.reachable["peer1"] = true
	rv.reachable["peer1"] = true

	sel := New([]transport.Transport{link, rv}, func() float64 { return 10 }, nil)
	require.NoError(t, sel.SendPrivateMessage("peer1", []byte("hi")))
	require.Contains(t, link.sent, "private:peer1")
	require.Empty(t, rv.sent)
}

func TestSelectorPrefersRendezvousForLargePayload(t *testing.T) {
	link := newFakeTransport("link")
	rv := newFakeTransport("rendezvous")
	link.reachable["peer1"] = true
	rv.reachable["peer1"] = true

	sel := New([]transport.Transport{link, rv}, func() float64 { return 80 }, nil)
	big := make([]byte, 500)
	require.NoError(t, sel.SendPrivateMessage("peer1", big))
	require.Contains(t, rv.sent, "private:peer1")
	require.Empty(t, link.sent)
}

func TestSelectorFallsBackToLinkWhenOnlyLinkReachable(t *testing.T) {
	link := newFakeTransport("link")
	rv := newFakeTransport("rendezvous")
	link.reachable["peer1"] = true

	sel := New([]transport.Transport{link, rv}, func() float64 { return 80 }, nil)
	require.NoError(t, sel.SendPrivateMessage("peer1", []byte("short")))
	require.Contains(t, link.sent, "private:peer1")
}

func TestSelectorBroadcastFansOutToAllAvailable(t *testing.T) {
	link := newFakeTransport("link")
	rv := newFakeTransport("rendezvous")

	sel := New([]transport.Transport{link, rv}, func() float64 { return 50 }, nil)
	require.NoError(t, sel.SendAnnounce([]byte("hi")))
	require.Contains(t, link.sent, "announce")
	require.Contains(t, rv.sent, "announce")
}

func TestSelectorMergesPeerSnapshotsPreferringConnected(t *testing.T) {
	link := newFakeTransport("link")
	rv := newFakeTransport("rendezvous")
	now := time.Now()
	link.snapshots = []transport.PeerSnapshot{{PeerID: "p1", Nickname: "old", IsConnected: false, LastSeen: now}}
	rv.snapshots = []transport.PeerSnapshot{{PeerID: "p1", Nickname: "new", IsConnected: true, LastSeen: now.Add(-time.Hour)}}

	sel := New([]transport.Transport{link, rv}, nil, nil)
	merged := sel.PeerSnapshots()
	require.Len(t, merged, 1)
	require.True(t, merged[0].IsConnected)
	require.Equal(t, "new", merged[0].Nickname)
}

func TestSelectorFallsBackToLinkWhenNobodyReachesPeer(t *testing.T) {
	link := newFakeTransport("link")
	sel := New([]transport.Transport{link}, func() float64 { return 50 }, nil)
	require.NoError(t, sel.SendPrivateMessage("ghost", []byte("x"))) // rule 6: link broadcasts
	require.Contains(t, link.sent, "private:ghost")
}

func TestSelectorReturnsErrorWhenNoTransportsConfigured(t *testing.T) {
	sel := New(nil, func() float64 { return 50 }, nil)
	require.ErrorIs(t, sel.SendPrivateMessage("ghost", []byte("x")), ErrNoTransportAvailable)
}
