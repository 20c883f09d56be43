package session

import (
	"crypto/hmac"
	"crypto/sha256"

	"golang.org/x/crypto/chacha20poly1305"
)

// protocolName is the Noise protocol name this engine implements,
// exactly 32 bytes so symmetricState's initial hash needs no SHA-256
// fallback: the initial hash is the protocol name padded to 32 bytes
// with zeros when shorter, else SHA-256(name).
const protocolName = "Noise_XX_25519_ChaChaPoly_SHA256"

// symmetricState implements Noise's symmetric-state machinery: a
// running hash (h) and chaining key (ck), an HKDF built from
// HMAC-SHA256, and EncryptAndHash/DecryptAndHash wrappers used while
// the handshake transcript is still being mixed in.
type symmetricState struct {
	h      [32]byte
	ck     [32]byte
	hasKey bool
	key    [32]byte
	n      uint64
}

func newSymmetricState() *symmetricState {
	s := &symmetricState{}
	var name [32]byte
	copy(name[:], []byte(protocolName))
	s.h = name
	s.ck = name
	s.mixHash(nil) // mix in an empty prologue, per the Noise algorithm
	return s
}

func (s *symmetricState) mixHash(data []byte) {
	h := sha256.New()
	h.Write(s.h[:])
	h.Write(data)
	copy(s.h[:], h.Sum(nil))
}

// hkdf implements the literal HKDF formula this protocol uses:
//
//	T = HMAC(chainingKey, ikm); out_i = HMAC(T, out_{i-1} || byte(i))
func hkdf(chainingKey [32]byte, ikm []byte, numOutputs int) [][32]byte {
	mac := hmac.New(sha256.New, chainingKey[:])
	mac.Write(ikm)
	t := mac.Sum(nil)

	outputs := make([][32]byte, numOutputs)
	var prev []byte
	for i := 1; i <= numOutputs; i++ {
		m := hmac.New(sha256.New, t)
		m.Write(prev)
		m.Write([]byte{byte(i)})
		out := m.Sum(nil)
		copy(outputs[i-1][:], out)
		prev = out
	}
	return outputs
}

// mixKey splits into a new chaining key and cipher key, zeroizing the
// DH shared secret immediately after.
func (s *symmetricState) mixKey(ikm []byte) {
	outs := hkdf(s.ck, ikm, 2)
	s.ck = outs[0]
	s.key = outs[1]
	s.hasKey = true
	s.n = 0
	zero(ikm)
}

func (s *symmetricState) mixKeyAndHash(ikm []byte) {
	outs := hkdf(s.ck, ikm, 3)
	s.ck = outs[0]
	tempH := outs[1]
	s.key = outs[2]
	s.mixHash(tempH[:])
	s.hasKey = true
	s.n = 0
	zero(ikm)
}

func (s *symmetricState) encryptAndHash(plaintext []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(plaintext)
		out := make([]byte, len(plaintext))
		copy(out, plaintext)
		return out, nil
	}
	ct, err := aeadSeal(s.key, s.n, s.h[:], plaintext)
	if err != nil {
		return nil, err
	}
	s.n++
	s.mixHash(ct)
	return ct, nil
}

func (s *symmetricState) decryptAndHash(data []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(data)
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	pt, err := aeadOpen(s.key, s.n, s.h[:], data)
	if err != nil {
		return nil, err
	}
	s.n++
	s.mixHash(data)
	return pt, nil
}

// split derives the two post-handshake transport keys and clears the
// symmetric state.
func (s *symmetricState) split() (k1, k2 [32]byte) {
	outs := hkdf(s.ck, nil, 2)
	k1, k2 = outs[0], outs[1]
	zero(s.ck[:])
	zero(s.h[:])
	zero(s.key[:])
	s.hasKey = false
	return k1, k2
}

func nonce12(counter uint64) [chacha20poly1305.NonceSize]byte {
	var n [chacha20poly1305.NonceSize]byte
	// First 4 bytes zero, then little-endian 64-bit counter.
	putUint64LE(n[4:], counter)
	return n
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func aeadSeal(key [32]byte, counter uint64, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce := nonce12(counter)
	return aead.Seal(nil, nonce[:], plaintext, ad), nil
}

func aeadOpen(key [32]byte, counter uint64, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce := nonce12(counter)
	return aead.Open(nil, nonce[:], ciphertext, ad)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
