// Package store provides BitChat's sqlite-backed persistence: identity
// key material at rest, a cross-transport peer cache, and an optional
// persisted dedup ledger so a restarted node doesn't immediately
// re-relay packets it had already seen. WAL mode, inline schema, a
// background expiry goroutine.
package store

import (
	"crypto/ed25519"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bitchat-mesh/core/pkg/identity"
)

// dedupLedgerTTL mirrors pkg/router's in-memory dedup window (roughly
// 10,000 entries, 2 minute TTL); the persisted ledger is additive and
// uses the same age cutoff so replaying it on startup doesn't extend
// the window pkg/router's own set already enforces.
const dedupLedgerTTL = 2 * time.Minute

// Store owns a single node's sqlite-backed state.
type Store struct {
	db     *sql.DB
	stopCh chan struct{}
}

// Open opens (creating if needed) the sqlite database at path, enables
// WAL mode, creates the schema, and starts the background cleanup
// goroutine, which prunes the persisted dedup ledger; stale peer-cache
// rows are removed only by EvictStalePeers.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}

	s := &Store{db: db, stopCh: make(chan struct{})}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	go s.cleanupLoop()
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identity (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		static_private BLOB NOT NULL,
		signing_private BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS peers (
		peer_id TEXT PRIMARY KEY,
		nickname TEXT,
		last_seen INTEGER NOT NULL,
		remote_static BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON peers(last_seen);

	CREATE TABLE IF NOT EXISTS dedup_ledger (
		dedup_key INTEGER PRIMARY KEY,
		seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dedup_seen_at ON dedup_ledger(seen_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

// Close stops the cleanup goroutine and closes the underlying database.
func (s *Store) Close() error {
	close(s.stopCh)
	return s.db.Close()
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(dedupLedgerTTL)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.pruneExpiredDedup(); err != nil {
				log.Printf("📬 store: prune dedup ledger: %v", err)
			}
		}
	}
}

// SaveIdentity persists id's private key material. There is exactly one
// identity row per node.
func (s *Store) SaveIdentity(id *identity.Identity) error {
	_, err := s.db.Exec(
		`INSERT INTO identity (id, static_private, signing_private) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET static_private = excluded.static_private, signing_private = excluded.signing_private`,
		id.StaticPrivate[:], []byte(id.SigningPrivate),
	)
	if err != nil {
		return fmt.Errorf("store: save identity: %w", err)
	}
	return nil
}

// LoadIdentity reconstructs the persisted identity, or returns
// (nil, nil) if none has been saved yet.
func (s *Store) LoadIdentity() (*identity.Identity, error) {
	var staticPriv, signingPriv []byte
	err := s.db.QueryRow(`SELECT static_private, signing_private FROM identity WHERE id = 1`).
		Scan(&staticPriv, &signingPriv)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load identity: %w", err)
	}
	var priv32 [32]byte
	copy(priv32[:], staticPriv)
	id, err := identity.Load(priv32, ed25519.PrivateKey(signingPriv))
	if err != nil {
		return nil, fmt.Errorf("store: reconstruct identity: %w", err)
	}
	return id, nil
}

// PeerRecord is a cross-transport-merged peer cache entry.
type PeerRecord struct {
	PeerID       string
	Nickname     string
	LastSeen     time.Time
	RemoteStatic []byte // nil until learned via handshake
}

// UpsertPeer records or refreshes a peer's cache entry.
func (s *Store) UpsertPeer(p PeerRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO peers (peer_id, nickname, last_seen, remote_static) VALUES (?, ?, ?, ?)
		 ON CONFLICT(peer_id) DO UPDATE SET
		   nickname = excluded.nickname,
		   last_seen = excluded.last_seen,
		   remote_static = COALESCE(excluded.remote_static, peers.remote_static)`,
		p.PeerID, p.Nickname, p.LastSeen.Unix(), p.RemoteStatic,
	)
	if err != nil {
		return fmt.Errorf("store: upsert peer %s: %w", p.PeerID, err)
	}
	return nil
}

// GetPeer looks up a cached peer record.
func (s *Store) GetPeer(peerID string) (*PeerRecord, error) {
	var p PeerRecord
	var lastSeen int64
	err := s.db.QueryRow(
		`SELECT peer_id, nickname, last_seen, remote_static FROM peers WHERE peer_id = ?`, peerID,
	).Scan(&p.PeerID, &p.Nickname, &lastSeen, &p.RemoteStatic)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get peer %s: %w", peerID, err)
	}
	p.LastSeen = time.Unix(lastSeen, 0)
	return &p, nil
}

// EvictStalePeers removes cached peers not seen since olderThan, called
// on transport peer-timeout maintenance ticks.
func (s *Store) EvictStalePeers(olderThan time.Time) error {
	_, err := s.db.Exec(`DELETE FROM peers WHERE last_seen < ?`, olderThan.Unix())
	if err != nil {
		return fmt.Errorf("store: evict stale peers: %w", err)
	}
	return nil
}

// MarkDedupKey records a router dedup key as seen, so a restarted node
// doesn't immediately re-relay a packet it had already processed within
// the last dedupLedgerTTL. Additive to pkg/router's in-memory set.
func (s *Store) MarkDedupKey(key uint64) error {
	_, err := s.db.Exec(
		`INSERT INTO dedup_ledger (dedup_key, seen_at) VALUES (?, ?)
		 ON CONFLICT(dedup_key) DO UPDATE SET seen_at = excluded.seen_at`,
		int64(key), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: mark dedup key: %w", err)
	}
	return nil
}

// SeenDedupKey reports whether key was marked within the ledger's TTL.
func (s *Store) SeenDedupKey(key uint64) (bool, error) {
	var seenAt int64
	err := s.db.QueryRow(`SELECT seen_at FROM dedup_ledger WHERE dedup_key = ?`, int64(key)).Scan(&seenAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: check dedup key: %w", err)
	}
	if time.Since(time.Unix(seenAt, 0)) > dedupLedgerTTL {
		return false, nil
	}
	return true, nil
}

func (s *Store) pruneExpiredDedup() error {
	cutoff := time.Now().Add(-dedupLedgerTTL).Unix()
	_, err := s.db.Exec(`DELETE FROM dedup_ledger WHERE seen_at < ?`, cutoff)
	return err
}
