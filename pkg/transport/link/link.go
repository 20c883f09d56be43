// Package link implements BitChat's short-range dual-role transport:
// simultaneously a peripheral (advertiser, answering characteristic
// reads with an announce payload) and a central (scanner, dialing
// peers advertising the same service), with link-layer MTU chunking
// below the packet codec.
package link

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bitchat-mesh/core/pkg/router"
	"github.com/bitchat-mesh/core/pkg/transport"
	"github.com/bitchat-mesh/core/pkg/wire"
)

// Link-layer protocol constants.
const (
	ServiceIdentifier = "bitchat.link.v1"

	MTUTarget           = 512
	DefaultTTL          = 7
	MaxInitiatorLinks   = 7
	MinConnectInterval  = 2 * time.Second
	MinAnnounceInterval = 5 * time.Second
	MaintenanceTick     = 15 * time.Second
	PeerTimeout         = 120 * time.Second

	lengthPrefixSize = 4 // chunk-stream framing below the packet codec
)

var (
	ErrTooManyLinks    = errors.New("link: max concurrent initiator links reached")
	ErrUnknownPeer     = errors.New("link: unknown peer handle")
	ErrConnectTooSoon  = errors.New("link: connection attempted too soon after the last one")
)

// Medium abstracts the physical short-range radio stack (a real BLE
// central/peripheral library, out of this module's scope): raw
// characteristic I/O keyed by an opaque peer handle the medium assigns
// on discovery/connect.
type Medium interface {
	// WriteChunk performs a characteristic write (or write-without-
	// response) of one chunk, sized at most mtu()-3 bytes, to peerHandle.
	WriteChunk(peerHandle string, chunk []byte) error
	// ReadAnnounce performs the central-role characteristic read of the
	// peripheral's announce value.
	ReadAnnounce(peerHandle string) ([]byte, error)
	// Notify pushes bytes to a connected central via the peripheral's
	// notify characteristic.
	Notify(peerHandle string, data []byte) error
}

type peerState struct {
	peerID      string // 8-byte hex, learned on connect
	nickname    string
	lastSeen    time.Time
	connected   bool
	lastConnect time.Time

	recvBuf    []byte
	pendingLen int // -1 until the 4-byte length prefix has arrived
}

// Handshaker starts an outbound Noise handshake for a peer; satisfied
// by *pkg/session.Manager.StartHandshake.
type Handshaker interface {
	StartHandshake(peerID string) ([]byte, error)
}

// Link is BitChat's short-range transport.
type Link struct {
	mu         sync.Mutex
	medium     Medium
	router     *router.Router
	handshaker Handshaker
	localID    [8]byte
	nickname   string
	mtu        int

	peers map[string]*peerState // keyed by peer handle

	lastAnnounce time.Time
	stopCh       chan struct{}
}

// SetHandshaker wires the session manager TriggerHandshake delegates to.
func (l *Link) SetHandshaker(h Handshaker) { l.handshaker = h }

// New constructs a Link transport bound to a medium and the mesh
// router packets get fed into.
func New(medium Medium, r *router.Router, localID [8]byte, nickname string) *Link {
	return &Link{
		medium:   medium,
		router:   r,
		localID:  localID,
		nickname: nickname,
		mtu:      MTUTarget,
		peers:    make(map[string]*peerState),
		stopCh:   make(chan struct{}),
	}
}

// Name identifies this transport.
func (l *Link) Name() string { return "link" }

// IsAvailable reports whether the underlying medium is usable at all.
func (l *Link) IsAvailable() bool { return l.medium != nil }

// AnnouncePayload builds the peripheral's characteristic-read response:
// `[8-byte peer_id || utf8(nickname)]`.
func (l *Link) AnnouncePayload() []byte {
	out := make([]byte, 8+len(l.nickname))
	copy(out[:8], l.localID[:])
	copy(out[8:], l.nickname)
	return out
}

// OnCentralConnect drives the central-role handshake: read the peer's
// announce, learn its id, and write our own announce back. It does not
// enable notifications; Medium has no call for that.
func (l *Link) OnCentralConnect(peerHandle string) error {
	l.mu.Lock()
	if len(l.activeLocked()) >= MaxInitiatorLinks {
		l.mu.Unlock()
		return ErrTooManyLinks
	}
	ps, ok := l.peers[peerHandle]
	if ok && time.Since(ps.lastConnect) < MinConnectInterval {
		l.mu.Unlock()
		return ErrConnectTooSoon
	}
	l.mu.Unlock()

	announce, err := l.medium.ReadAnnounce(peerHandle)
	if err != nil {
		return fmt.Errorf("link: read announce from %s: %w", peerHandle, err)
	}
	if len(announce) < 8 {
		return fmt.Errorf("link: %s: %w", peerHandle, ErrUnknownPeer)
	}
	peerID := hexEncode(announce[:8])
	nickname := string(announce[8:])

	if err := l.medium.WriteChunk(peerHandle, l.AnnouncePayload()); err != nil {
		return fmt.Errorf("link: write announce to %s: %w", peerHandle, err)
	}

	l.mu.Lock()
	l.peers[peerHandle] = &peerState{
		peerID:      peerID,
		nickname:    nickname,
		lastSeen:    time.Now(),
		connected:   true,
		lastConnect: time.Now(),
		pendingLen:  -1,
	}
	l.mu.Unlock()

	log.Printf("📡 link: connected to %s (%s)", peerID, nickname)
	return nil
}

func (l *Link) activeLocked() []string {
	var out []string
	for h, p := range l.peers {
		if p.connected {
			out = append(out, h)
		}
	}
	return out
}

// SendRaw frames raw bytes with a 4-byte length prefix and chunks them
// at the link layer, transparently below the packet codec: writes
// larger than mtu-3 are split and reassembled on the other side. A peer
// with no connected handle gets the data by broadcast to every
// connected peer instead.
func (l *Link) SendRaw(peerID string, data []byte) error {
	handle, ok := l.handleForPeer(peerID)
	if !ok {
		return l.BroadcastRaw(data)
	}
	return l.sendToHandle(handle, data)
}

func (l *Link) sendToHandle(handle string, data []byte) error {
	l.mu.Lock()
	mtu := l.mtu
	l.mu.Unlock()

	framed := make([]byte, lengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(framed[:lengthPrefixSize], uint32(len(data)))
	copy(framed[lengthPrefixSize:], data)

	chunkSize := mtu - 3
	if chunkSize <= 0 {
		chunkSize = mtu
	}
	for off := 0; off < len(framed); off += chunkSize {
		end := off + chunkSize
		if end > len(framed) {
			end = len(framed)
		}
		if err := l.medium.WriteChunk(handle, framed[off:end]); err != nil {
			return fmt.Errorf("link: write chunk to %s: %w", handle, err)
		}
	}
	return nil
}

// BroadcastRaw sends data to every currently connected peer.
func (l *Link) BroadcastRaw(data []byte) error {
	l.mu.Lock()
	handles := l.activeLocked()
	l.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		if err := l.sendToHandle(h, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OnChunkReceived feeds one raw chunk received from peerHandle (a
// notification or write) into the reassembly buffer, forwarding
// complete packets to the router once a full length-prefixed frame has
// arrived.
func (l *Link) OnChunkReceived(peerHandle string, chunk []byte) {
	l.mu.Lock()
	ps, ok := l.peers[peerHandle]
	if !ok {
		ps = &peerState{pendingLen: -1}
		l.peers[peerHandle] = ps
	}
	ps.lastSeen = time.Now()
	ps.recvBuf = append(ps.recvBuf, chunk...)

	var complete [][]byte
	for {
		if ps.pendingLen < 0 {
			if len(ps.recvBuf) < lengthPrefixSize {
				break
			}
			ps.pendingLen = int(binary.BigEndian.Uint32(ps.recvBuf[:lengthPrefixSize]))
			ps.recvBuf = ps.recvBuf[lengthPrefixSize:]
		}
		if len(ps.recvBuf) < ps.pendingLen {
			break
		}
		frame := ps.recvBuf[:ps.pendingLen]
		ps.recvBuf = ps.recvBuf[ps.pendingLen:]
		ps.pendingLen = -1
		complete = append(complete, frame)
	}
	l.mu.Unlock()

	for _, frame := range complete {
		l.deliverFrame(peerHandle, frame)
	}
}

func (l *Link) deliverFrame(peerHandle string, frame []byte) {
	pkt, err := wire.Decode(frame)
	if err != nil {
		log.Printf("📡 link: decode failed from %s: %v", peerHandle, err)
		return
	}
	if l.router == nil {
		return
	}
	if err := l.router.Handle(pkt, l.Name()); err != nil {
		log.Printf("📡 link: router.Handle: %v", err)
	}
}

func (l *Link) handleForPeer(peerID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for h, p := range l.peers {
		if p.connected && p.peerID == peerID {
			return h, true
		}
	}
	return "", false
}

// IsPeerReachable reports whether peerID is currently connected over
// this transport.
func (l *Link) IsPeerReachable(peerID string) bool {
	_, ok := l.handleForPeer(peerID)
	return ok
}

// The following mirror the router's send vocabulary; in
// every case the caller (router/selector) has already framed payload as
// a codec-encoded wire.Packet, so these are thin routing decisions over
// SendRaw/BroadcastRaw.

func (l *Link) SendMessage(payload []byte) error                    { return l.BroadcastRaw(payload) }
func (l *Link) SendAnnounce(payload []byte) error                   { return l.BroadcastRaw(payload) }
func (l *Link) SendPrivateMessage(peerID string, payload []byte) error { return l.SendRaw(peerID, payload) }
func (l *Link) SendDeliveryAck(peerID string, payload []byte) error    { return l.SendRaw(peerID, payload) }
func (l *Link) SendReadReceipt(peerID string, payload []byte) error    { return l.SendRaw(peerID, payload) }

// TriggerHandshake asks the wired session manager to produce a fresh
// XX message 1 for peerID and sends it as a NOISE_HANDSHAKE packet.
func (l *Link) TriggerHandshake(peerID string) error {
	if l.handshaker == nil {
		return errors.New("link: no handshaker wired")
	}
	msg1, err := l.handshaker.StartHandshake(peerID)
	if err != nil {
		return fmt.Errorf("link: start handshake with %s: %w", peerID, err)
	}
	var recipient [8]byte
	if decoded, err := hex.DecodeString(peerID); err == nil && len(decoded) == 8 {
		copy(recipient[:], decoded)
	}
	pkt := &wire.Packet{
		Version:     2,
		Type:        wire.TypeNoiseHandshake,
		TTL:         DefaultTTL,
		Timestamp:   uint64(time.Now().UnixMilli()),
		SenderID:    l.localID,
		RecipientID: &recipient,
		Payload:     msg1,
	}
	framed, err := wire.Encode(pkt, false)
	if err != nil {
		return fmt.Errorf("link: encode handshake packet: %w", err)
	}
	return l.SendRaw(peerID, framed)
}

// PeerSnapshots returns this transport's view of every peer it has
// heard from, merged by the selector across transports.
func (l *Link) PeerSnapshots() []transport.PeerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]transport.PeerSnapshot, 0, len(l.peers))
	for _, p := range l.peers {
		out = append(out, transport.PeerSnapshot{
			PeerID:      p.peerID,
			Nickname:    p.nickname,
			IsConnected: p.connected,
			LastSeen:    p.lastSeen,
		})
	}
	return out
}

// RunMaintenance evicts peers not seen for PeerTimeout and reports
// whether a re-announce is due.
func (l *Link) RunMaintenance() (shouldAnnounce bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-PeerTimeout)
	for h, p := range l.peers {
		if p.lastSeen.Before(cutoff) {
			delete(l.peers, h)
			log.Printf("📡 link: evicted stale peer %s", p.peerID)
		}
	}

	if time.Since(l.lastAnnounce) >= MinAnnounceInterval {
		l.lastAnnounce = time.Now()
		return true
	}
	return false
}

// EmergencyDisconnect tears down all links and clears all peer state.
func (l *Link) EmergencyDisconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.peers = make(map[string]*peerState)
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xF]
	}
	return string(out)
}
