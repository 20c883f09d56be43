package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitchat-mesh/core/pkg/identity"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadIdentityRoundTrip(t *testing.T) {
	s := openTestStore(t)

	none, err := s.LoadIdentity()
	require.NoError(t, err)
	require.Nil(t, none)

	id, err := identity.New()
	require.NoError(t, err)
	require.NoError(t, s.SaveIdentity(id))

	loaded, err := s.LoadIdentity()
	require.NoError(t, err)
	require.Equal(t, id.StaticPrivate, loaded.StaticPrivate)
	require.Equal(t, id.StaticPublic, loaded.StaticPublic)
	require.Equal(t, id.SigningPublic, loaded.SigningPublic)
}

func TestUpsertAndGetPeer(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	require.NoError(t, s.UpsertPeer(PeerRecord{PeerID: "aabb", Nickname: "alice", LastSeen: now}))

	got, err := s.GetPeer("aabb")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "alice", got.Nickname)

	// A later upsert without remote_static must not clobber a
	// previously learned key.
	require.NoError(t, s.UpsertPeer(PeerRecord{PeerID: "aabb", Nickname: "alice", LastSeen: now, RemoteStatic: []byte("key-material-32-bytes-long-xxx!")}))
	require.NoError(t, s.UpsertPeer(PeerRecord{PeerID: "aabb", Nickname: "alice2", LastSeen: now.Add(time.Second)}))

	got, err = s.GetPeer("aabb")
	require.NoError(t, err)
	require.Equal(t, "alice2", got.Nickname)
	require.Equal(t, []byte("key-material-32-bytes-long-xxx!"), got.RemoteStatic)
}

func TestEvictStalePeers(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertPeer(PeerRecord{PeerID: "old", LastSeen: time.Now().Add(-time.Hour)}))
	require.NoError(t, s.UpsertPeer(PeerRecord{PeerID: "fresh", LastSeen: time.Now()}))

	require.NoError(t, s.EvictStalePeers(time.Now().Add(-time.Minute)))

	old, err := s.GetPeer("old")
	require.NoError(t, err)
	require.Nil(t, old)

	fresh, err := s.GetPeer("fresh")
	require.NoError(t, err)
	require.NotNil(t, fresh)
}

func TestDedupLedgerMarkAndCheck(t *testing.T) {
	s := openTestStore(t)

	seen, err := s.SeenDedupKey(42)
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, s.MarkDedupKey(42))

	seen, err = s.SeenDedupKey(42)
	require.NoError(t, err)
	require.True(t, seen)
}
