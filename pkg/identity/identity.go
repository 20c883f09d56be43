// Package identity manages BitChat's long-lived device identity: a
// Curve25519 static keypair used for Noise sessions, an Ed25519 signing
// keypair used for packet signatures, and the short peer-id/fingerprint
// derivations that other packages (wire, session, router) depend on.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

var (
	ErrInvalidKey = errors.New("identity: invalid key")
)

// Identity is a device's long-lived cryptographic identity. It is
// generated once on first run and persisted by pkg/store, which writes
// the private keys to its sqlite file unencrypted; the rest of the
// codebase only ever sees the keys through this struct.
type Identity struct {
	StaticPrivate  [32]byte // X25519, used by pkg/session for Noise XX
	StaticPublic   [32]byte
	SigningPrivate ed25519.PrivateKey // used to sign ANNOUNCE / routed packets
	SigningPublic  ed25519.PublicKey
}

// New generates a fresh identity. Callers that need a stable identity
// across restarts should persist the returned keys via pkg/store and
// use Load on subsequent starts.
func New() (*Identity, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("identity: generate static key: %w", err)
	}
	// Clamp per X25519 convention so the scalar is a valid Curve25519
	// private scalar regardless of the RNG's raw output.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("identity: derive static public key: %w", err)
	}

	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing key: %w", err)
	}

	id := &Identity{SigningPrivate: signPriv, SigningPublic: signPub}
	copy(id.StaticPrivate[:], priv[:])
	copy(id.StaticPublic[:], pub)
	return id, nil
}

// Load reconstructs an identity from previously persisted key material.
func Load(staticPriv [32]byte, signingPriv ed25519.PrivateKey) (*Identity, error) {
	if len(signingPriv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	pub, err := curve25519.X25519(staticPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("identity: derive static public key: %w", err)
	}
	id := &Identity{
		StaticPrivate:  staticPriv,
		SigningPrivate: signingPriv,
		SigningPublic:  signingPriv.Public().(ed25519.PublicKey),
	}
	copy(id.StaticPublic[:], pub)
	return id, nil
}

// ShortID returns this identity's 16-hex routing id.
func (id *Identity) ShortID() string {
	return ShortIDFromPublicKey(id.StaticPublic[:])
}

// Fingerprint returns the full 64-hex SHA-256 fingerprint of the static
// public key, matching the identity store's fingerprint() contract.
func (id *Identity) Fingerprint() string {
	return Fingerprint(id.StaticPublic[:])
}

// FormattedFingerprint returns the user-facing, grouped-uppercase
// rendering of the short id for out-of-band verification.
func (id *Identity) FormattedFingerprint() string {
	return FormattedFingerprint(id.StaticPublic[:])
}

// Sign signs data with the identity's Ed25519 signing key, for use as a
// Packet.Signature.
func (id *Identity) Sign(data []byte) [64]byte {
	var sig [64]byte
	copy(sig[:], ed25519.Sign(id.SigningPrivate, data))
	return sig
}
