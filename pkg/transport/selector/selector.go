// Package selector implements BitChat's transport arbitration: a
// single contract over a list of concrete transports, picking exactly
// one per directed send by priority rules tuned for battery life and
// payload size, and fanning broadcasts out to every available
// transport.
package selector

import (
	"errors"
	"fmt"

	"github.com/bitchat-mesh/core/pkg/session"
	"github.com/bitchat-mesh/core/pkg/transport"
)

const rendezvousSizeThreshold = 200 // bytes

// LowBatteryLower and LowBatteryUpper bound the battery-saving window,
// (0, 15)%, in which the link transport is picked first whenever it
// reaches the peer.
const (
	LowBatteryLower = 0.0
	LowBatteryUpper = 15.0
)

var ErrNoTransportAvailable = errors.New("selector: no transport can reach peer")

// BatterySource reports the host's current battery percentage; the
// selector reads it fresh on every send so it reacts to the host
// falling into (or climbing out of) the low-battery window.
type BatterySource func() float64

// Selector holds every concrete transport and presents the same
// transport.Transport-shaped send vocabulary, picking one transport per
// directed send and fanning broadcasts out to all of them.
type Selector struct {
	transports []transport.Transport
	battery    BatterySource
	sessions   *session.Manager
}

// New constructs a Selector over the given transports in priority-tie-
// break order (used by rule 5's "first transport that has the peer
// reachable"). sessions is the single session manager shared across
// every transport.
func New(transports []transport.Transport, battery BatterySource, sessions *session.Manager) *Selector {
	return &Selector{transports: transports, battery: battery, sessions: sessions}
}

// Sessions returns the shared session manager (the selector's
// "noise-service field").
func (s *Selector) Sessions() *session.Manager { return s.sessions }

func (s *Selector) linkTransport() transport.Transport    { return s.byName("link") }
func (s *Selector) rendezvousTransport() transport.Transport { return s.byName("rendezvous") }

func (s *Selector) byName(name string) transport.Transport {
	for _, t := range s.transports {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// pick chooses exactly one transport for a directed send of dataLen
// bytes to peerID, by the priority rules below.
func (s *Selector) pick(peerID string, dataLen int) transport.Transport {
	link := s.linkTransport()
	rv := s.rendezvousTransport()

	battery := 0.0
	if s.battery != nil {
		battery = s.battery()
	}

	if battery > LowBatteryLower && battery < LowBatteryUpper && link != nil && link.IsPeerReachable(peerID) {
		return link
	}
	if dataLen > rendezvousSizeThreshold && rv != nil && rv.IsPeerReachable(peerID) {
		return rv
	}
	if rv != nil && rv.IsPeerReachable(peerID) {
		return rv
	}
	if link != nil && link.IsPeerReachable(peerID) {
		return link
	}
	for _, t := range s.transports {
		if t.IsPeerReachable(peerID) {
			return t
		}
	}
	if link != nil {
		return link // broadcasts
	}
	return nil
}

// SendPrivateMessage picks one transport for peerID and sends payload
// over it.
func (s *Selector) SendPrivateMessage(peerID string, payload []byte) error {
	t := s.pick(peerID, len(payload))
	if t == nil {
		return fmt.Errorf("selector: private message to %s: %w", peerID, ErrNoTransportAvailable)
	}
	return t.SendPrivateMessage(peerID, payload)
}

// SendDeliveryAck picks one transport for peerID and sends an ack.
func (s *Selector) SendDeliveryAck(peerID string, payload []byte) error {
	t := s.pick(peerID, len(payload))
	if t == nil {
		return fmt.Errorf("selector: delivery ack to %s: %w", peerID, ErrNoTransportAvailable)
	}
	return t.SendDeliveryAck(peerID, payload)
}

// SendReadReceipt picks one transport for peerID and sends a receipt.
func (s *Selector) SendReadReceipt(peerID string, payload []byte) error {
	t := s.pick(peerID, len(payload))
	if t == nil {
		return fmt.Errorf("selector: read receipt to %s: %w", peerID, ErrNoTransportAvailable)
	}
	return t.SendReadReceipt(peerID, payload)
}

// TriggerHandshake picks one transport for peerID and starts a
// handshake over it.
func (s *Selector) TriggerHandshake(peerID string) error {
	t := s.pick(peerID, 0)
	if t == nil {
		return fmt.Errorf("selector: handshake with %s: %w", peerID, ErrNoTransportAvailable)
	}
	return t.TriggerHandshake(peerID)
}

// SendRaw picks one transport for peerID and sends raw bytes over it.
func (s *Selector) SendRaw(peerID string, data []byte) error {
	t := s.pick(peerID, len(data))
	if t == nil {
		return fmt.Errorf("selector: raw send to %s: %w", peerID, ErrNoTransportAvailable)
	}
	return t.SendRaw(peerID, data)
}

// SendMessage fans a broadcast message out to every available
// transport.
func (s *Selector) SendMessage(payload []byte) error { return s.broadcast(func(t transport.Transport) error { return t.SendMessage(payload) }) }

// SendAnnounce fans a broadcast announce out to every available transport.
func (s *Selector) SendAnnounce(payload []byte) error {
	return s.broadcast(func(t transport.Transport) error { return t.SendAnnounce(payload) })
}

// BroadcastRaw fans raw bytes out to every available transport.
func (s *Selector) BroadcastRaw(data []byte) error {
	return s.broadcast(func(t transport.Transport) error { return t.BroadcastRaw(data) })
}

func (s *Selector) broadcast(send func(transport.Transport) error) error {
	var firstErr error
	sent := false
	for _, t := range s.transports {
		if !t.IsAvailable() {
			continue
		}
		if err := send(t); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent = true
	}
	if !sent && firstErr == nil {
		return ErrNoTransportAvailable
	}
	return firstErr
}

// IsPeerReachable reports whether any transport can currently reach
// peerID.
func (s *Selector) IsPeerReachable(peerID string) bool {
	for _, t := range s.transports {
		if t.IsPeerReachable(peerID) {
			return true
		}
	}
	return false
}

// PeerSnapshots merges every transport's view of its peers, keyed by
// peer id, preferring the connected/more-recent sample on conflict so
// a peer seen on two transports still shows up as one entry.
func (s *Selector) PeerSnapshots() []transport.PeerSnapshot {
	merged := make(map[string]transport.PeerSnapshot)
	for _, t := range s.transports {
		for _, snap := range t.PeerSnapshots() {
			existing, ok := merged[snap.PeerID]
			if !ok || betterSnapshot(snap, existing) {
				merged[snap.PeerID] = snap
			}
		}
	}
	out := make([]transport.PeerSnapshot, 0, len(merged))
	for _, snap := range merged {
		out = append(out, snap)
	}
	return out
}

func betterSnapshot(candidate, existing transport.PeerSnapshot) bool {
	if candidate.IsConnected != existing.IsConnected {
		return candidate.IsConnected
	}
	return candidate.LastSeen.After(existing.LastSeen)
}
