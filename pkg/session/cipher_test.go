package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCipherPair() (send, recv *TransportCipher) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	return newTransportCipher(key, true), newTransportCipher(key, true)
}

func TestReplayWindowRejectsDuplicate(t *testing.T) {
	send, recv := newTestCipherPair()

	ct, err := send.Seal([]byte("one"), nil)
	require.NoError(t, err)
	_, err = recv.Open(ct, nil)
	require.NoError(t, err)

	_, err = recv.Open(ct, nil)
	require.ErrorIs(t, err, ErrReplay)
}

func TestReplayWindowAcceptsOutOfOrderWithinWindow(t *testing.T) {
	send, recv := newTestCipherPair()

	var cts [][]byte
	for i := 0; i < 5; i++ {
		ct, err := send.Seal([]byte("msg"), nil)
		require.NoError(t, err)
		cts = append(cts, ct)
	}

	// Deliver out of order: 4, 0, 1, 2, 3.
	order := []int{4, 0, 1, 2, 3}
	for _, idx := range order {
		_, err := recv.Open(cts[idx], nil)
		require.NoErrorf(t, err, "index %d should be accepted out of order", idx)
	}
}

func TestReplayWindowRejectsTooOld(t *testing.T) {
	send, recv := newTestCipherPair()

	var cts [][]byte
	for i := 0; i < replayWindowLen+10; i++ {
		ct, err := send.Seal([]byte("msg"), nil)
		require.NoError(t, err)
		cts = append(cts, ct)
	}

	for i := len(cts) - 5; i < len(cts); i++ {
		_, err := recv.Open(cts[i], nil)
		require.NoError(t, err)
	}

	_, err := recv.Open(cts[0], nil)
	require.ErrorIs(t, err, ErrReplay)
}

func TestSendCounterFailsClosedAtLimit(t *testing.T) {
	var key [32]byte
	c := newTransportCipher(key, true)
	c.sendCounter = maxSendCounter + 1

	_, err := c.Seal([]byte("x"), nil)
	require.ErrorIs(t, err, ErrNonceExhausted)
}

func TestNonExtractedNonceUsesReceiverCounter(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i + 1)
	}
	send := newTransportCipher(key, false)
	recv := newTransportCipher(key, false)

	for i := 0; i < 3; i++ {
		ct, err := send.Seal([]byte("m"), nil)
		require.NoError(t, err)
		_, err = recv.Open(ct, nil)
		require.NoError(t, err)
	}
}
