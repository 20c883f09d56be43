// Package session implements BitChat's Noise_XX_25519_ChaChaPoly_SHA256
// handshake engine, per-peer transport ciphers, and the session manager
// that serializes handshake and rekey state across the mesh.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is a session's position in its handshake lifecycle.
type State int

const (
	Idle State = iota
	Handshaking
	Established
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Handshaking:
		return "handshaking"
	case Established:
		return "established"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotEstablished is returned by Encrypt/Decrypt when the session
	// has not yet completed its handshake.
	ErrNotEstablished = errors.New("session: not established")
	// ErrSessionFailed is returned by HandleIncoming on a session that
	// has been marked Failed; Encrypt/Decrypt on such a session return
	// ErrNotEstablished.
	ErrSessionFailed = errors.New("session: handshake failed")
)

const (
	// RekeyMessageThreshold is the sent/received message count above
	// which a session needs renegotiation.
	RekeyMessageThreshold = 1_000_000
	// RekeyAgeThreshold is the elapsed established time above which a
	// session needs renegotiation.
	RekeyAgeThreshold = 24 * time.Hour
)

// Session is one peer's Noise session: either mid-handshake or carrying
// an established pair of transport ciphers.
type Session struct {
	PeerID    string
	Initiator bool

	mu          sync.Mutex
	state       State
	hs          *handshakeState
	ciphers     *CipherPair
	remoteStatic [32]byte
	establishedAt time.Time
	failErr     error
}

func newInitiatorSession(peerID string, staticPriv, staticPub [32]byte) *Session {
	return &Session{
		PeerID:    peerID,
		Initiator: true,
		state:     Handshaking,
		hs:        newHandshakeState(true, staticPriv, staticPub),
	}
}

func newResponderSession(peerID string, staticPriv, staticPub [32]byte) *Session {
	return &Session{
		PeerID:    peerID,
		Initiator: false,
		state:     Handshaking,
		hs:        newHandshakeState(false, staticPriv, staticPub),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteStatic returns the peer's static public key, valid once the
// session reaches Established.
func (s *Session) RemoteStatic() [32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteStatic
}

// StartHandshake produces this session's first outbound message. Only
// meaningful for initiator sessions; callers drive responder sessions
// via HandleIncoming.
func (s *Session) StartHandshake() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Handshaking || !s.Initiator {
		return nil, ErrHandshakeOrder
	}
	msg, _, err := s.hs.WriteMessage(nil)
	if err != nil {
		s.failLocked(err)
		return nil, err
	}
	return msg, nil
}

// HandleIncoming feeds an incoming NOISE_HANDSHAKE payload to this
// session, returning an outbound reply if one is required. It is called
// for both the responder receiving message 1 and the initiator
// receiving message 2, and so on through completion.
func (s *Session) HandleIncoming(msg []byte) (reply []byte, established bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Failed {
		return nil, false, ErrSessionFailed
	}

	_, pair, err := s.hs.ReadMessage(msg)
	if err != nil {
		s.failLocked(err)
		return nil, false, err
	}

	if pair != nil {
		// Last message of XX read by the responder: no reply needed.
		s.completeLocked(pair)
		return nil, true, nil
	}

	// Responder has now seen message 1 or initiator has seen message 2;
	// produce the next outbound message.
	out, pair2, err := s.hs.WriteMessage(nil)
	if err != nil {
		s.failLocked(err)
		return nil, false, err
	}
	if pair2 != nil {
		s.completeLocked(pair2)
		return out, true, nil
	}
	return out, false, nil
}

func (s *Session) completeLocked(pair *CipherPair) {
	if rs, ok := s.hs.RemoteStatic(); ok {
		s.remoteStatic = rs
	}
	s.ciphers = pair
	s.state = Established
	s.establishedAt = timeNow()
	s.hs = nil
}

func (s *Session) failLocked(err error) {
	s.state = Failed
	s.failErr = fmt.Errorf("session: handshake failed: %w", err)
}

// Encrypt seals plaintext for transmission to the peer.
func (s *Session) Encrypt(plaintext, ad []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Established {
		return nil, ErrNotEstablished
	}
	return s.ciphers.Send.Seal(plaintext, ad)
}

// Decrypt opens a ciphertext received from the peer.
func (s *Session) Decrypt(ciphertext, ad []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Established {
		return nil, ErrNotEstablished
	}
	return s.ciphers.Recv.Open(ciphertext, ad)
}

// NeedsRekey reports whether this session has crossed its
// message-count or elapsed-age rekey threshold.
func (s *Session) NeedsRekey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Established {
		return false
	}
	if s.ciphers.Send.SendCounter() > RekeyMessageThreshold ||
		s.ciphers.Recv.RecvCount() > RekeyMessageThreshold {
		return true
	}
	return timeNow().Sub(s.establishedAt) > RekeyAgeThreshold
}

// timeNow is a seam so tests can observe deterministic rekey-age
// behavior without depending on wall-clock time.
var timeNow = time.Now
