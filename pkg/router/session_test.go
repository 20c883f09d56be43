package router

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"github.com/bitchat-mesh/core/pkg/session"
	"github.com/bitchat-mesh/core/pkg/wire"
)

func genTestStatic(t *testing.T) (priv, pub [32]byte) {
	t.Helper()
	_, err := rand.Read(priv[:])
	require.NoError(t, err)
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	require.NoError(t, err)
	copy(pub[:], pubBytes)
	return priv, pub
}

// establishSessions drives a full router-to-router handshake so both
// sides end up with an Established session keyed by the other's hex id,
// matching how handleNoiseHandshake derives peer ids.
func establishSessions(t *testing.T, aID, bID [8]byte) (a, b *session.Manager) {
	t.Helper()
	aPriv, aPub := genTestStatic(t)
	bPriv, bPub := genTestStatic(t)
	_ = aPub
	_ = bPub

	a = session.NewManager(aPriv, aPub)
	b = session.NewManager(bPriv, bPub)

	aHex := idToHex(aID)
	bHex := idToHex(bID)

	msg1, err := a.StartHandshake(bHex)
	require.NoError(t, err)
	msg2, err := b.HandleHandshakeMessage(aHex, msg1)
	require.NoError(t, err)
	msg3, err := a.HandleHandshakeMessage(bHex, msg2)
	require.NoError(t, err)
	_, err = b.HandleHandshakeMessage(aHex, msg3)
	require.NoError(t, err)

	return a, b
}

func idToHex(id [8]byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 16)
	for i, c := range id {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xF]
	}
	return string(out)
}

func TestRouterDecryptsNoiseEncryptedAndDispatches(t *testing.T) {
	aID, bID := idFor(0xAA), idFor(0xBB)
	aSessions, bSessions := establishSessions(t, aID, bID)

	sess, ok := aSessions.Get(idToHex(bID))
	require.True(t, ok)
	ciphertext, err := sess.Encrypt(append([]byte{wire.SubtypePrivateMessage}, []byte("hi bob")...), aID[:])
	require.NoError(t, err)

	out := &fakeOutbound{}
	r := New(bID, bSessions, out)
	var gotPayload []byte
	r.Handlers.OnPrivateMessage = func(senderID [8]byte, payload []byte) {
		gotPayload = payload
	}

	pkt := &wire.Packet{
		Version:     2,
		Type:        wire.TypeNoiseEncrypted,
		TTL:         5,
		Timestamp:   10,
		SenderID:    aID,
		RecipientID: &bID,
		Payload:     ciphertext,
	}
	require.NoError(t, r.Handle(pkt, ""))
	require.Equal(t, []byte("hi bob"), gotPayload)
}

func TestRouterSendsDeliveryAckForDirectedPacket(t *testing.T) {
	aID, bID := idFor(0xAA), idFor(0xBB)
	aSessions, bSessions := establishSessions(t, aID, bID)

	sess, _ := aSessions.Get(idToHex(bID))
	ciphertext, err := sess.Encrypt(append([]byte{wire.SubtypePrivateMessage}, []byte("ping")...), aID[:])
	require.NoError(t, err)

	out := &fakeOutbound{}
	r := New(bID, bSessions, out)

	pkt := &wire.Packet{
		Version:     2,
		Type:        wire.TypeNoiseEncrypted,
		TTL:         5,
		Timestamp:   99,
		SenderID:    aID,
		RecipientID: &bID,
		Payload:     ciphertext,
	}
	require.NoError(t, r.Handle(pkt, "link-x"))

	require.Len(t, out.sent, 1)
	ack := out.sent[0]
	require.Equal(t, wire.TypeNoiseEncrypted, ack.pkt.Type)
	require.Equal(t, bID, ack.pkt.SenderID)
	require.Equal(t, aID, *ack.pkt.RecipientID)

	bToA, _ := aSessions.Get(idToHex(bID))
	plain, err := bToA.Decrypt(ack.pkt.Payload, bID[:])
	require.NoError(t, err)
	require.Equal(t, wire.SubtypeDelivered, plain[0])
}

func TestRouterDoesNotAckADeliveryAck(t *testing.T) {
	aID, bID := idFor(0xAA), idFor(0xBB)
	aSessions, bSessions := establishSessions(t, aID, bID)

	// b encrypts a DELIVERED ack addressed to a, as sendDeliveryAck would.
	sess, _ := bSessions.Get(idToHex(aID))
	ciphertext, err := sess.Encrypt(append([]byte{wire.SubtypeDelivered}, make([]byte, 8)...), bID[:])
	require.NoError(t, err)

	out := &fakeOutbound{}
	r := New(aID, aSessions, out)
	var delivered int
	r.Handlers.OnDelivered = func(senderID [8]byte, payload []byte) { delivered++ }

	pkt := &wire.Packet{
		Version:     2,
		Type:        wire.TypeNoiseEncrypted,
		TTL:         5,
		Timestamp:   200,
		SenderID:    bID,
		RecipientID: &aID,
		Payload:     ciphertext,
	}
	require.NoError(t, r.Handle(pkt, ""))

	require.Equal(t, 1, delivered)
	require.Empty(t, out.sent) // a DELIVERED ack must never itself be acked
}

func TestRouterHandshakeDispatchProducesReply(t *testing.T) {
	aID, bID := idFor(0xAA), idFor(0xBB)
	aPriv, aPub := genTestStatic(t)
	aSessions := session.NewManager(aPriv, aPub)
	msg1, err := aSessions.StartHandshake(idToHex(bID))
	require.NoError(t, err)

	bPriv, bPub := genTestStatic(t)
	bSessions := session.NewManager(bPriv, bPub)
	out := &fakeOutbound{}
	r := New(bID, bSessions, out)

	pkt := &wire.Packet{
		Version:     2,
		Type:        wire.TypeNoiseHandshake,
		TTL:         5,
		Timestamp:   1,
		SenderID:    aID,
		RecipientID: &bID,
		Payload:     msg1,
	}
	require.NoError(t, r.Handle(pkt, ""))

	require.Len(t, out.sent, 1)
	require.Equal(t, wire.TypeNoiseHandshake, out.sent[0].pkt.Type)
	require.Equal(t, aID, *out.sent[0].pkt.RecipientID)
}
