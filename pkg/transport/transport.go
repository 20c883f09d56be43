// Package transport defines BitChat's transport contract:
// the interface every concrete radio implements, the delegate callbacks
// the router/UI receive, and the shared peer-snapshot type used to
// merge views across transports.
package transport

import "time"

// State mirrors a host radio stack's power/authorization state.
type State int

const (
	Unknown State = iota
	Unsupported
	Unauthorized
	PoweredOff
	PoweredOn
	Resetting
)

func (s State) String() string {
	switch s {
	case Unsupported:
		return "unsupported"
	case Unauthorized:
		return "unauthorized"
	case PoweredOff:
		return "powered_off"
	case PoweredOn:
		return "powered_on"
	case Resetting:
		return "resetting"
	default:
		return "unknown"
	}
}

// PeerSnapshot is one transport's view of a reachable peer, merged
// across transports by the selector.
type PeerSnapshot struct {
	PeerID      string
	Nickname    string
	IsConnected bool
	LastSeen    time.Time
}

// Delegate is implemented by the router/UI layer and driven by every
// transport.
type Delegate interface {
	DidReceiveMessage(peerID string, payload []byte)
	DidConnectToPeer(peerID string)
	DidDisconnectFromPeer(peerID string)
	DidUpdatePeerList(snapshots []PeerSnapshot)
	DidUpdateTransportState(name string, state State)
	DidReceiveNoisePayload(from string, subtype uint8, data []byte, ts time.Time)
	DidUpdateMessageDeliveryStatus(id string, status int)
}

// Transport is the contract every concrete radio (link, rendezvous)
// implements, and the same contract the selector re-exposes over all of
// them.
type Transport interface {
	Name() string
	IsAvailable() bool
	PeerSnapshots() []PeerSnapshot

	SendMessage(payload []byte) error
	SendPrivateMessage(peerID string, payload []byte) error
	SendDeliveryAck(peerID string, payload []byte) error
	SendReadReceipt(peerID string, payload []byte) error
	SendAnnounce(payload []byte) error
	TriggerHandshake(peerID string) error
	SendRaw(peerID string, data []byte) error
	BroadcastRaw(data []byte) error

	// IsPeerReachable reports whether this transport currently has a
	// live path to peerID, used by the selector's priority rules.
	IsPeerReachable(peerID string) bool
}
