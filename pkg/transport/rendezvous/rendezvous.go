// Package rendezvous implements BitChat's broadcast-radio transport
//: a long-range, connectionless medium where every device
// is a relay. Packets larger than one 255-byte datagram are fragmented
// with an FEC parity shard, and every received (or reassembled) packet
// is run through the full mesh forwarding loop locally rather than
// handed to a shared link-layer connection.
package rendezvous

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitchat-mesh/core/pkg/router"
	"github.com/bitchat-mesh/core/pkg/transport"
	"github.com/bitchat-mesh/core/pkg/wire"
)

// timeNow is a seam for deterministic reassembly-timeout tests.
var timeNow = time.Now

var ErrUnknownHandle = errors.New("rendezvous: unknown peer handle")

// Radio abstracts the physical broadcast medium (a real long-range
// radio driver, out of this module's scope): opaque peer handles,
// best-effort unicast to one handle, and a receive callback the
// transport registers once at construction.
type Radio interface {
	// Send transmits one on-air datagram (already fragmented to fit the
	// medium's frame size) to peerHandle.
	Send(peerHandle string, datagram []byte) error
	// SetOnMessage registers the callback invoked for every datagram
	// the radio receives, tagged with the peer handle it came from.
	SetOnMessage(fn func(peerHandle string, datagram []byte))
}

type peerInfo struct {
	peerID   string
	nickname string
	lastSeen time.Time
}

// Rendezvous is BitChat's broadcast-radio transport.
type Rendezvous struct {
	mu      sync.Mutex
	radio   Radio
	router  *router.Router
	localID [8]byte

	peers map[string]*peerInfo // keyed by peer handle
	re    *reassembler
	nextMsgID uint32
}

// New constructs a Rendezvous transport bound to a radio and the mesh
// router packets get fed into.
func New(radio Radio, r *router.Router, localID [8]byte) *Rendezvous {
	rv := &Rendezvous{
		radio:   radio,
		router:  r,
		localID: localID,
		peers:   make(map[string]*peerInfo),
		re:      newReassembler(),
	}
	if radio != nil {
		radio.SetOnMessage(rv.onDatagram)
	}
	return rv
}

// Name identifies this transport.
func (rv *Rendezvous) Name() string { return "rendezvous" }

// IsAvailable reports whether the underlying radio is usable at all.
func (rv *Rendezvous) IsAvailable() bool { return rv.radio != nil }

// LearnPeer records a peer handle discovered by the radio's own
// service-info advertisement (an 8-byte peer id), so directed sends can
// prefer a directly reachable handle.
func (rv *Rendezvous) LearnPeer(peerHandle string, serviceInfo []byte) {
	if len(serviceInfo) < 8 {
		return
	}
	peerID := hex.EncodeToString(serviceInfo[:8])
	rv.mu.Lock()
	rv.peers[peerHandle] = &peerInfo{peerID: peerID, lastSeen: timeNow()}
	rv.mu.Unlock()
}

func (rv *Rendezvous) handleForPeer(peerID string) (string, bool) {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	for h, p := range rv.peers {
		if p.peerID == peerID {
			return h, true
		}
	}
	return "", false
}

// IsPeerReachable reports whether peerID has ever been heard on this
// transport (broadcast radios have no persistent "connection").
func (rv *Rendezvous) IsPeerReachable(peerID string) bool {
	_, ok := rv.handleForPeer(peerID)
	return ok
}

// SendRaw fragments data and unicasts it to peerID's known handle if
// one is known, else broadcasts to every known handle.
func (rv *Rendezvous) SendRaw(peerID string, data []byte) error {
	if handle, ok := rv.handleForPeer(peerID); ok {
		return rv.sendToHandle(handle, data)
	}
	return rv.BroadcastRaw(data)
}

// BroadcastRaw fragments data and transmits it to every known handle.
func (rv *Rendezvous) BroadcastRaw(data []byte) error {
	rv.mu.Lock()
	handles := make([]string, 0, len(rv.peers))
	for h := range rv.peers {
		handles = append(handles, h)
	}
	rv.mu.Unlock()

	if len(handles) == 0 {
		return nil // nobody to broadcast to yet
	}

	msgID := uint16(atomic.AddUint32(&rv.nextMsgID, 1))
	set, err := fragmentPacket(msgID, data)
	if err != nil {
		return fmt.Errorf("rendezvous: fragment: %w", err)
	}

	var firstErr error
	for _, h := range handles {
		for _, dg := range set.datagrams {
			if err := rv.radio.Send(h, dg); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("rendezvous: send to %s: %w", h, err)
			}
		}
	}
	return firstErr
}

func (rv *Rendezvous) sendToHandle(handle string, data []byte) error {
	msgID := uint16(atomic.AddUint32(&rv.nextMsgID, 1))
	set, err := fragmentPacket(msgID, data)
	if err != nil {
		return fmt.Errorf("rendezvous: fragment: %w", err)
	}
	for _, dg := range set.datagrams {
		if err := rv.radio.Send(handle, dg); err != nil {
			return fmt.Errorf("rendezvous: send to %s: %w", handle, err)
		}
	}
	return nil
}

// onDatagram is the radio's receive callback: feed the datagram into
// reassembly, and once a full wire packet is available, run it through
// the complete mesh forwarding loop exactly as if it had
// arrived on any other transport.
func (rv *Rendezvous) onDatagram(peerHandle string, datagram []byte) {
	rv.mu.Lock()
	if p, ok := rv.peers[peerHandle]; ok {
		p.lastSeen = timeNow()
	}
	full, err := rv.re.feed(peerHandle, datagram)
	rv.mu.Unlock()

	if err != nil {
		log.Printf("📻 rendezvous: reassembly from %s: %v", peerHandle, err)
		return
	}
	if full == nil {
		return // more fragments still needed
	}

	pkt, err := wire.Decode(full)
	if err != nil {
		log.Printf("📻 rendezvous: decode failed from %s: %v", peerHandle, err)
		return
	}
	if rv.router == nil {
		return
	}
	if err := rv.router.Handle(pkt, rv.Name()); err != nil {
		log.Printf("📻 rendezvous: router.Handle: %v", err)
	}
}

// The following mirror the router's send vocabulary.

func (rv *Rendezvous) SendMessage(payload []byte) error        { return rv.BroadcastRaw(payload) }
func (rv *Rendezvous) SendAnnounce(payload []byte) error       { return rv.BroadcastRaw(payload) }
func (rv *Rendezvous) SendPrivateMessage(peerID string, payload []byte) error {
	return rv.SendRaw(peerID, payload)
}
func (rv *Rendezvous) SendDeliveryAck(peerID string, payload []byte) error {
	return rv.SendRaw(peerID, payload)
}
func (rv *Rendezvous) SendReadReceipt(peerID string, payload []byte) error {
	return rv.SendRaw(peerID, payload)
}

// TriggerHandshake always returns an error on rendezvous and sends
// nothing: BitChat only initiates
// Noise handshakes over the shorter-range link transport,
// since rendezvous's higher per-byte cost makes it a poor place to
// spend a 3-message handshake. Once a session is established (however
// it started), NOISE_ENCRYPTED traffic can still flow over rendezvous.
func (rv *Rendezvous) TriggerHandshake(peerID string) error {
	return fmt.Errorf("rendezvous: handshake initiation not supported on this transport")
}

// PeerSnapshots returns this transport's view of every peer handle it
// has heard a service-info advertisement from.
func (rv *Rendezvous) PeerSnapshots() []transport.PeerSnapshot {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	out := make([]transport.PeerSnapshot, 0, len(rv.peers))
	for _, p := range rv.peers {
		out = append(out, transport.PeerSnapshot{
			PeerID:      p.peerID,
			Nickname:    p.nickname,
			IsConnected: true, // broadcast radio: "known" == reachable
			LastSeen:    p.lastSeen,
		})
	}
	return out
}
