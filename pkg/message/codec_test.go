package message

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := &Message{
		ID:             "msg-1",
		SenderNickname: "alice",
		Content:        "hello mesh",
		Timestamp:      time.UnixMilli(1_700_000_000_000),
		IsRelay:        true,
		IsPrivate:      true,
	}

	data, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	require.Equal(t, original.ID, decoded.ID)
	require.Equal(t, original.SenderNickname, decoded.SenderNickname)
	require.Equal(t, original.Content, decoded.Content)
	require.Equal(t, original.Timestamp.UnixMilli(), decoded.Timestamp.UnixMilli())
	require.Equal(t, original.IsRelay, decoded.IsRelay)
	require.Equal(t, original.IsPrivate, decoded.IsPrivate)
}

func TestEncodeDecodeOptionalFieldsAndMentions(t *testing.T) {
	origSender := "bob"
	recipientNick := "carol"
	senderPeer := "aabbccddeeff0011"

	original := &Message{
		ID:                "msg-2",
		SenderNickname:    "bob-relay",
		Content:           "forwarded",
		Timestamp:         time.UnixMilli(1_700_000_001_000),
		IsRelay:           true,
		OriginalSender:    &origSender,
		RecipientNickname: &recipientNick,
		SenderPeerID:      &senderPeer,
		Mentions:          []string{"alice", "dave"},
	}

	data, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	require.NotNil(t, decoded.OriginalSender)
	require.Equal(t, origSender, *decoded.OriginalSender)
	require.NotNil(t, decoded.RecipientNickname)
	require.Equal(t, recipientNick, *decoded.RecipientNickname)
	require.NotNil(t, decoded.SenderPeerID)
	require.Equal(t, senderPeer, *decoded.SenderPeerID)
	require.Equal(t, []string{"alice", "dave"}, decoded.Mentions)
}

func TestEncodeRejectsOverlongContent(t *testing.T) {
	m := &Message{
		ID:             "msg-3",
		SenderNickname: "alice",
		Content:        strings.Repeat("x", MaxContentLength+1),
		Timestamp:      time.Now(),
	}
	_, err := Encode(m)
	require.ErrorIs(t, err, ErrContentTooLong)
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x01, 0x02})
	require.ErrorIs(t, err, ErrDecodeFailed)
}

func TestNewPrivateMessageStartsSending(t *testing.T) {
	m := New("alice", "hi", true)
	require.Equal(t, Sending, m.DeliveryStatus.Kind)
	require.Len(t, m.ID, 36) // canonical UUID string length
}
