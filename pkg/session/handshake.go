package session

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// ErrInvalidPublicKey is returned when a peer offers a public key that
// is the wrong length, all-zero, or not a valid Curve25519 point.
var ErrInvalidPublicKey = errors.New("session: invalid public key")

// ErrHandshakeOrder is returned when WriteMessage/ReadMessage is called
// out of the XX message sequence for the handshake's role.
var ErrHandshakeOrder = errors.New("session: handshake message out of order")

// CipherPair is the pair of per-direction transport cipher states
// produced when a handshake completes.
type CipherPair struct {
	Send *TransportCipher
	Recv *TransportCipher
}

// handshakeState drives one side of a Noise_XX_25519_ChaChaPoly_SHA256
// handshake. It is used once and discarded; the session wraps it and
// replaces it with a CipherPair on completion.
type handshakeState struct {
	ss        *symmetricState
	initiator bool

	localStatic     [32]byte // static private key
	localStaticPub  [32]byte
	localEphemeral  [32]byte
	localEphPub     [32]byte
	haveEphemeral   bool

	remoteEphemeral [32]byte
	haveRemoteEph   bool
	remoteStatic    [32]byte
	haveRemoteStat  bool

	msgIndex int // messages already written/read, 0..3
}

func newHandshakeState(initiator bool, staticPriv, staticPub [32]byte) *handshakeState {
	return &handshakeState{
		ss:             newSymmetricState(),
		initiator:      initiator,
		localStatic:    staticPriv,
		localStaticPub: staticPub,
	}
}

func validatePublicKey(pub []byte) error {
	if len(pub) != 32 {
		return ErrInvalidPublicKey
	}
	allZero := true
	for _, b := range pub {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return ErrInvalidPublicKey
	}
	return nil
}

func dh(priv, pub [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return secret, nil
}

func generateEphemeral() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, err
	}
	copy(pub[:], p)
	return priv, pub, nil
}

// WriteMessage produces the next handshake message this role must send.
// payload is mixed in as the (typically empty) handshake payload. On the
// third XX message it returns a non-nil CipherPair.
func (h *handshakeState) WriteMessage(payload []byte) ([]byte, *CipherPair, error) {
	switch {
	case h.initiator && h.msgIndex == 0:
		return h.writeMsg1(payload)
	case !h.initiator && h.msgIndex == 1:
		return h.writeMsg2(payload)
	case h.initiator && h.msgIndex == 2:
		return h.writeMsg3(payload)
	default:
		return nil, nil, ErrHandshakeOrder
	}
}

// ReadMessage consumes the next expected handshake message.
func (h *handshakeState) ReadMessage(msg []byte) ([]byte, *CipherPair, error) {
	switch {
	case !h.initiator && h.msgIndex == 0:
		return h.readMsg1(msg)
	case h.initiator && h.msgIndex == 1:
		return h.readMsg2(msg)
	case !h.initiator && h.msgIndex == 2:
		return h.readMsg3(msg)
	default:
		return nil, nil, ErrHandshakeOrder
	}
}

// message 1: → e

func (h *handshakeState) writeMsg1(payload []byte) ([]byte, *CipherPair, error) {
	priv, pub, err := generateEphemeral()
	if err != nil {
		return nil, nil, err
	}
	h.localEphemeral, h.localEphPub, h.haveEphemeral = priv, pub, true
	h.ss.mixHash(pub[:])

	ct, err := h.ss.encryptAndHash(payload)
	if err != nil {
		return nil, nil, err
	}
	h.msgIndex = 1
	out := append(append([]byte{}, pub[:]...), ct...)
	return out, nil, nil
}

func (h *handshakeState) readMsg1(msg []byte) ([]byte, *CipherPair, error) {
	if len(msg) < 32 {
		return nil, nil, ErrInvalidPublicKey
	}
	var re [32]byte
	copy(re[:], msg[:32])
	if err := validatePublicKey(re[:]); err != nil {
		return nil, nil, err
	}
	h.remoteEphemeral, h.haveRemoteEph = re, true
	h.ss.mixHash(re[:])

	pt, err := h.ss.decryptAndHash(msg[32:])
	if err != nil {
		return nil, nil, err
	}
	h.msgIndex = 1
	return pt, nil, nil
}

// message 2: ← e, ee, s, es

func (h *handshakeState) writeMsg2(payload []byte) ([]byte, *CipherPair, error) {
	priv, pub, err := generateEphemeral()
	if err != nil {
		return nil, nil, err
	}
	h.localEphemeral, h.localEphPub, h.haveEphemeral = priv, pub, true
	h.ss.mixHash(pub[:])

	ee, err := dh(h.localEphemeral, h.remoteEphemeral)
	if err != nil {
		return nil, nil, err
	}
	h.ss.mixKey(ee)

	sCt, err := h.ss.encryptAndHash(h.localStaticPub[:])
	if err != nil {
		return nil, nil, err
	}

	es, err := dh(h.localStatic, h.remoteEphemeral)
	if err != nil {
		return nil, nil, err
	}
	h.ss.mixKey(es)

	payloadCt, err := h.ss.encryptAndHash(payload)
	if err != nil {
		return nil, nil, err
	}

	h.msgIndex = 2
	out := append(append([]byte{}, pub[:]...), sCt...)
	out = append(out, payloadCt...)
	return out, nil, nil
}

func (h *handshakeState) readMsg2(msg []byte) ([]byte, *CipherPair, error) {
	if len(msg) < 32 {
		return nil, nil, ErrInvalidPublicKey
	}
	var re [32]byte
	copy(re[:], msg[:32])
	if err := validatePublicKey(re[:]); err != nil {
		return nil, nil, err
	}
	h.remoteEphemeral, h.haveRemoteEph = re, true
	h.ss.mixHash(re[:])

	ee, err := dh(h.localEphemeral, h.remoteEphemeral)
	if err != nil {
		return nil, nil, err
	}
	h.ss.mixKey(ee)

	rest := msg[32:]
	sLen := 32
	if h.ss.hasKey {
		sLen += 16
	}
	if len(rest) < sLen {
		return nil, nil, ErrInvalidPublicKey
	}
	sPt, err := h.ss.decryptAndHash(rest[:sLen])
	if err != nil {
		return nil, nil, err
	}
	if err := validatePublicKey(sPt); err != nil {
		return nil, nil, err
	}
	copy(h.remoteStatic[:], sPt)
	h.haveRemoteStat = true

	es, err := dh(h.localEphemeral, h.remoteStatic)
	if err != nil {
		return nil, nil, err
	}
	h.ss.mixKey(es)

	pt, err := h.ss.decryptAndHash(rest[sLen:])
	if err != nil {
		return nil, nil, err
	}
	h.msgIndex = 2
	return pt, nil, nil
}

// message 3: → s, se

func (h *handshakeState) writeMsg3(payload []byte) ([]byte, *CipherPair, error) {
	sCt, err := h.ss.encryptAndHash(h.localStaticPub[:])
	if err != nil {
		return nil, nil, err
	}

	se, err := dh(h.localStatic, h.remoteEphemeral)
	if err != nil {
		return nil, nil, err
	}
	h.ss.mixKey(se)

	payloadCt, err := h.ss.encryptAndHash(payload)
	if err != nil {
		return nil, nil, err
	}

	k1, k2 := h.ss.split()
	pair := h.finalize(k1, k2)

	h.msgIndex = 3
	out := append(append([]byte{}, sCt...), payloadCt...)
	return out, pair, nil
}

func (h *handshakeState) readMsg3(msg []byte) ([]byte, *CipherPair, error) {
	sLen := 32
	if h.ss.hasKey {
		sLen += 16
	}
	if len(msg) < sLen {
		return nil, nil, ErrInvalidPublicKey
	}
	sPt, err := h.ss.decryptAndHash(msg[:sLen])
	if err != nil {
		return nil, nil, err
	}
	if err := validatePublicKey(sPt); err != nil {
		return nil, nil, err
	}
	copy(h.remoteStatic[:], sPt)
	h.haveRemoteStat = true

	se, err := dh(h.localEphemeral, h.remoteStatic)
	if err != nil {
		return nil, nil, err
	}
	h.ss.mixKey(se)

	pt, err := h.ss.decryptAndHash(msg[sLen:])
	if err != nil {
		return nil, nil, err
	}

	k1, k2 := h.ss.split()
	pair := h.finalize(k1, k2)

	h.msgIndex = 3
	return pt, pair, nil
}

// finalize assigns the split keys to send/recv per role: the initiator
// sends with the first key and receives with the second, and vice
// versa for the responder.
func (h *handshakeState) finalize(k1, k2 [32]byte) *CipherPair {
	if h.initiator {
		return &CipherPair{
			Send: newTransportCipher(k1, true),
			Recv: newTransportCipher(k2, true),
		}
	}
	return &CipherPair{
		Send: newTransportCipher(k2, true),
		Recv: newTransportCipher(k1, true),
	}
}

// RemoteStatic returns the peer's static public key, valid only once the
// handshake has processed message 2 (initiator) or 3 (responder).
func (h *handshakeState) RemoteStatic() ([32]byte, bool) {
	return h.remoteStatic, h.haveRemoteStat
}

// Complete reports whether the three-message XX exchange has finished.
func (h *handshakeState) Complete() bool {
	return h.msgIndex == 3
}
