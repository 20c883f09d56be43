// Package router implements BitChat's mesh forwarding loop: duplicate
// suppression, path-trace loop detection, TTL-bounded relay, and local
// dispatch by packet type.
package router

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/bitchat-mesh/core/pkg/session"
	"github.com/bitchat-mesh/core/pkg/wire"
)

const defaultTTL = 7 // mirrors the link transport's default message TTL

// timeNow is a seam so tests can observe deterministic send timestamps.
var timeNow = time.Now

// Outbound is how the router hands a packet to the transport layer for
// delivery. excludeLink names the link the packet arrived on, if any,
// so a relay never echoes a packet back down the link it came from; it
// is empty for locally originated sends.
type Outbound interface {
	Send(pkt *wire.Packet, excludeLink string) error
}

// Handlers are the router's local-dispatch callbacks, one per packet
// type. Any left nil are simply skipped.
type Handlers struct {
	OnAnnounce        func(senderID [8]byte, payload []byte)
	OnMessage         func(senderID [8]byte, payload []byte)
	OnPrivateMessage  func(senderID [8]byte, payload []byte)
	OnReadReceipt     func(senderID [8]byte, payload []byte)
	OnDelivered       func(senderID [8]byte, payload []byte)
	OnVerifyChallenge func(senderID [8]byte, payload []byte)
	OnVerifyResponse  func(senderID [8]byte, payload []byte)
	OnLeave           func(senderID [8]byte)
	// OnPassthrough receives FRAGMENT, FILE_TRANSFER, and REQUEST_SYNC
	// packets untouched, for collaborating packages out of this
	// module's scope.
	OnPassthrough func(pkt *wire.Packet)
}

// Router is the mesh's single forwarding/dispatch point, one per node.
type Router struct {
	LocalID  [8]byte
	Sessions *session.Manager
	Out      Outbound
	Handlers Handlers

	dedup *dedupSet
}

// New constructs a Router. sessions may be nil if NOISE_ENCRYPTED
// dispatch isn't needed (e.g. in codec-only tests).
func New(localID [8]byte, sessions *session.Manager, out Outbound) *Router {
	return &Router{
		LocalID:  localID,
		Sessions: sessions,
		Out:      out,
		dedup:    newDedupSet(),
	}
}

// Handle processes one received packet through the mesh's ordered
// relay steps: dedup, loop check, TTL decrement, dispatch, relay.
// fromLink identifies the transport link the packet arrived on, used to
// avoid relaying back down it.
func (r *Router) Handle(pkt *wire.Packet, fromLink string) error {
	key := dedupKey(hex.EncodeToString(pkt.SenderID[:]), pkt.Timestamp, pkt.Type, pkt.Payload)
	if r.dedup.CheckAndMark(key) {
		return nil // duplicate, drop silently
	}

	if r.routeContainsSelf(pkt) {
		return nil // path-trace loop
	}

	if pkt.TTL == 0 {
		return nil
	}

	isBroadcast := pkt.RecipientID == nil
	isForUs := isBroadcast || *pkt.RecipientID == r.LocalID

	if isForUs {
		isContent := r.deliverLocal(pkt)
		if !isBroadcast && isContent {
			r.sendDeliveryAck(pkt, fromLink)
		}
	}

	if !isForUs || isBroadcast {
		return r.relay(pkt, fromLink)
	}
	return nil
}

// Send originates a packet: it builds the frame from typ, ttl, and
// payload, stamps it with this node's id and a fresh timestamp, marks
// its own dedup key before the packet ever reaches a link, and
// delegates to Out. Marking the key here, rather than only on receive,
// is what lets Handle recognize and drop a broadcast this node sent
// once it loops back through a relay, instead of redelivering and
// re-relaying it forever. recipient and signature are both optional;
// a nil recipient sends a broadcast.
func (r *Router) Send(typ, ttl uint8, payload []byte, recipient *[8]byte, signature *[64]byte) (*wire.Packet, error) {
	pkt := &wire.Packet{
		Version:     2,
		Type:        typ,
		TTL:         ttl,
		Timestamp:   uint64(timeNow().UnixMilli()),
		SenderID:    r.LocalID,
		RecipientID: recipient,
		Signature:   signature,
		Payload:     payload,
	}
	r.markOwn(pkt)
	if err := r.Out.Send(pkt, ""); err != nil {
		return nil, fmt.Errorf("router: send: %w", err)
	}
	return pkt, nil
}

// markOwn marks pkt's dedup key as seen without running it through
// Handle, for packets this node originates itself.
func (r *Router) markOwn(pkt *wire.Packet) {
	key := dedupKey(hex.EncodeToString(pkt.SenderID[:]), pkt.Timestamp, pkt.Type, pkt.Payload)
	r.dedup.CheckAndMark(key)
}

func (r *Router) routeContainsSelf(pkt *wire.Packet) bool {
	for _, hop := range pkt.Route {
		if hop == r.LocalID {
			return true
		}
	}
	return false
}

func (r *Router) relay(pkt *wire.Packet, fromLink string) error {
	if len(pkt.Route) >= wire.RouteHopCap {
		return nil // over cap, drop
	}
	out := *pkt
	out.TTL = pkt.TTL - 1
	out.Route = append(append([][8]byte{}, pkt.Route...), r.LocalID)
	if out.TTL == 0 {
		return nil
	}
	if err := r.Out.Send(&out, fromLink); err != nil {
		return fmt.Errorf("router: relay: %w", err)
	}
	return nil
}

// deliverLocal dispatches pkt to its local handler and reports whether
// pkt was an actual content message (MESSAGE, or NOISE_ENCRYPTED
// carrying a PRIVATE_MESSAGE) that warrants a DELIVERED ack back to its
// sender. Acks, read receipts, handshake traffic, and everything else
// never do, or the ack itself would trigger another ack and loop
// forever between the two peers.
func (r *Router) deliverLocal(pkt *wire.Packet) bool {
	switch pkt.Type {
	case wire.TypeAnnounce:
		if r.Handlers.OnAnnounce != nil {
			r.Handlers.OnAnnounce(pkt.SenderID, pkt.Payload)
		}
	case wire.TypeMessage:
		if r.Handlers.OnMessage != nil {
			r.Handlers.OnMessage(pkt.SenderID, pkt.Payload)
		}
		return true
	case wire.TypeNoiseHandshake:
		r.handleNoiseHandshake(pkt)
	case wire.TypeNoiseEncrypted:
		return r.handleNoiseEncrypted(pkt)
	case wire.TypeLeave:
		if r.Handlers.OnLeave != nil {
			r.Handlers.OnLeave(pkt.SenderID)
		}
	case wire.TypeFragment, wire.TypeFileTransfer, wire.TypeRequestSync:
		if r.Handlers.OnPassthrough != nil {
			r.Handlers.OnPassthrough(pkt)
		}
	default:
		log.Printf("🌐 router: unknown packet type 0x%02x from %x", pkt.Type, pkt.SenderID)
	}
	return false
}

func (r *Router) handleNoiseHandshake(pkt *wire.Packet) {
	if r.Sessions == nil {
		return
	}
	peerID := hex.EncodeToString(pkt.SenderID[:])
	reply, err := r.Sessions.HandleHandshakeMessage(peerID, pkt.Payload)
	if err != nil {
		log.Printf("🔐 router: handshake with %s failed: %v", peerID, err)
		return
	}
	if reply == nil {
		return
	}
	out := &wire.Packet{
		Version:     pkt.Version,
		Type:        wire.TypeNoiseHandshake,
		TTL:         defaultTTL,
		Timestamp:   pkt.Timestamp,
		SenderID:    r.LocalID,
		RecipientID: &pkt.SenderID,
		Payload:     reply,
	}
	r.markOwn(out)
	if err := r.Out.Send(out, ""); err != nil {
		log.Printf("🔐 router: sending handshake reply to %s: %v", peerID, err)
	}
}

// handleNoiseEncrypted decrypts and dispatches pkt, reporting whether
// its sub-type was PRIVATE_MESSAGE (the only NOISE_ENCRYPTED sub-type
// that warrants a DELIVERED ack back).
func (r *Router) handleNoiseEncrypted(pkt *wire.Packet) bool {
	if r.Sessions == nil || len(pkt.Payload) == 0 {
		return false
	}
	peerID := hex.EncodeToString(pkt.SenderID[:])
	sess, ok := r.Sessions.Get(peerID)
	if !ok {
		log.Printf("🔐 router: no session for %s, dropping NOISE_ENCRYPTED packet", peerID)
		return false
	}
	ad := pkt.SenderID[:]
	plaintext, err := sess.Decrypt(pkt.Payload, ad)
	if err != nil {
		log.Printf("🔐 router: decrypt from %s failed: %v", peerID, err)
		return false
	}
	if len(plaintext) == 0 {
		return false
	}
	subtype, body := plaintext[0], plaintext[1:]
	switch subtype {
	case wire.SubtypePrivateMessage:
		if r.Handlers.OnPrivateMessage != nil {
			r.Handlers.OnPrivateMessage(pkt.SenderID, body)
		}
		return true
	case wire.SubtypeReadReceipt:
		if r.Handlers.OnReadReceipt != nil {
			r.Handlers.OnReadReceipt(pkt.SenderID, body)
		}
	case wire.SubtypeDelivered:
		if r.Handlers.OnDelivered != nil {
			r.Handlers.OnDelivered(pkt.SenderID, body)
		}
	case wire.SubtypeVerifyChallenge:
		if r.Handlers.OnVerifyChallenge != nil {
			r.Handlers.OnVerifyChallenge(pkt.SenderID, body)
		}
	case wire.SubtypeVerifyResponse:
		if r.Handlers.OnVerifyResponse != nil {
			r.Handlers.OnVerifyResponse(pkt.SenderID, body)
		}
	default:
		log.Printf("🔐 router: unknown NOISE_ENCRYPTED sub-type 0x%02x from %s", subtype, peerID)
	}
	return false
}

// sendDeliveryAck synthesizes a directed DELIVERED acknowledgement back
// to the packet's sender. The inner payload is the
// minimal NOISE_ENCRYPTED sub-type frame: the DELIVERED sub-type byte
// followed by the original packet's 8-byte big-endian timestamp, which
// is enough for the original sender to match the ack against its own
// send log without this module depending on pkg/message's id format.
func (r *Router) sendDeliveryAck(pkt *wire.Packet, fromLink string) {
	if r.Sessions == nil {
		return
	}
	peerID := hex.EncodeToString(pkt.SenderID[:])
	sess, ok := r.Sessions.Get(peerID)
	if !ok || sess.State() != session.Established {
		return // can't encrypt an ack without an established session
	}

	var inner [9]byte
	inner[0] = wire.SubtypeDelivered
	binary.BigEndian.PutUint64(inner[1:], pkt.Timestamp)

	ad := r.LocalID[:]
	ciphertext, err := sess.Encrypt(inner[:], ad)
	if err != nil {
		log.Printf("🔐 router: encrypting delivery ack to %s: %v", peerID, err)
		return
	}

	ack := &wire.Packet{
		Version:     pkt.Version,
		Type:        wire.TypeNoiseEncrypted,
		TTL:         defaultTTL,
		Timestamp:   pkt.Timestamp,
		SenderID:    r.LocalID,
		RecipientID: &pkt.SenderID,
		Payload:     ciphertext,
	}
	r.markOwn(ack)
	if err := r.Out.Send(ack, ""); err != nil {
		log.Printf("🔐 router: sending delivery ack to %s: %v", peerID, err)
	}
}
