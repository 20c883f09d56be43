package session

import (
	"log"
	"sync"
)

// Manager owns every peer's session. Its mutex guards the session map
// (lookup, creation, eviction); handshake steps and encrypt/decrypt are
// serialized by each Session's own mutex, so work on different peers is
// not serialized against each other.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	staticPriv [32]byte
	staticPub  [32]byte

	// OnHandshakeFailed is invoked (outside the manager's lock) whenever
	// a session's handshake aborts.
	OnHandshakeFailed func(peerID string, err error)
}

// NewManager constructs a session manager bound to a local static
// keypair, used as the 's' token in every XX handshake this node runs.
func NewManager(staticPriv, staticPub [32]byte) *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		staticPriv: staticPriv,
		staticPub:  staticPub,
	}
}

// Get returns the session tracked for peerID, if any.
func (m *Manager) Get(peerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[peerID]
	return s, ok
}

// Remove evicts a peer's session, e.g. after a LEAVE or a failed
// handshake.
func (m *Manager) Remove(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, peerID)
}

// StartHandshake creates (or replaces) an initiator session for peerID
// and returns its first outbound XX message.
func (m *Manager) StartHandshake(peerID string) ([]byte, error) {
	m.mu.Lock()
	s := newInitiatorSession(peerID, m.staticPriv, m.staticPub)
	m.sessions[peerID] = s
	m.mu.Unlock()

	msg, err := s.StartHandshake()
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, peerID)
		m.mu.Unlock()
		m.notifyFailed(peerID, err)
		return nil, err
	}
	return msg, nil
}

// looksLikeFreshInitiation reports whether msg is a bare XX message 1
// with an empty handshake payload: exactly a 32-byte ephemeral key and
// nothing else.
func looksLikeFreshInitiation(msg []byte) bool {
	return len(msg) == 32
}

// HandleHandshakeMessage feeds an incoming NOISE_HANDSHAKE payload from
// peerID into its session, applying the manager's responder-acceptance
// rules, and returns a reply to send back, if any.
func (m *Manager) HandleHandshakeMessage(peerID string, msg []byte) ([]byte, error) {
	m.mu.Lock()
	existing, ok := m.sessions[peerID]
	var s *Session

	switch {
	case !ok:
		s = newResponderSession(peerID, m.staticPriv, m.staticPub)
		m.sessions[peerID] = s
	case existing.State() == Established && looksLikeFreshInitiation(msg):
		log.Printf("🔐 session: %s sent a fresh XX initiation over an established session, restarting", peerID)
		s = newResponderSession(peerID, m.staticPriv, m.staticPub)
		m.sessions[peerID] = s
	case existing.State() == Handshaking && looksLikeFreshInitiation(msg):
		log.Printf("🔐 session: %s restarted mid-handshake, discarding partial state", peerID)
		s = newResponderSession(peerID, m.staticPriv, m.staticPub)
		m.sessions[peerID] = s
	default:
		s = existing
	}
	m.mu.Unlock()

	reply, _, err := s.HandleIncoming(msg)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, peerID)
		m.mu.Unlock()
		m.notifyFailed(peerID, err)
		return nil, err
	}
	return reply, nil
}

func (m *Manager) notifyFailed(peerID string, err error) {
	if m.OnHandshakeFailed != nil {
		m.OnHandshakeFailed(peerID, err)
	}
}

// NeedingRekey returns the ids of every established session that has
// crossed its message-count or elapsed-age rekey threshold.
func (m *Manager) NeedingRekey() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, s := range m.sessions {
		if s.NeedsRekey() {
			out = append(out, id)
		}
	}
	return out
}

// Len reports how many sessions (of any state) the manager is tracking.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
