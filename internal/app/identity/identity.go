/*
Package identity implements each room's pseudonymous signing identity.

A room identity is derived from 32 bytes of durable seed material. From the seed
and the host server's public key it produces the room-scoped blinded handle the
bot appears under, and it signs outbound message payloads so the host can verify
them. The underlying messaging protocol is consumed as an opaque capability:
plaintext in, signed wire bytes and a stable sender handle out.
*/
package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"sogsgate/internal/pkg/randx"
)

// HandlePrefix marks a blinded, room-scoped handle.
const HandlePrefix = "15"

// Identity is one room's signing identity. Immutable after construction.
type Identity struct {
	seedHex string
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
}

// FromSeed constructs an Identity from a hex-encoded 32-byte seed.
func FromSeed(seedHex string) (*Identity, error) {
	if !randx.IsValidSeedHex(seedHex) {
		return nil, fmt.Errorf("identity seed must be %d hex-encoded bytes", randx.SeedBytes)
	}

	seed, err := hex.DecodeString(strings.ToLower(seedHex))
	if err != nil {
		return nil, fmt.Errorf("failed to decode identity seed: %w", err)
	}

	priv := ed25519.NewKeyFromSeed(seed)

	return &Identity{
		seedHex: strings.ToLower(seedHex),
		priv:    priv,
		pub:     priv.Public().(ed25519.PublicKey),
	}, nil
}

// Generate creates an Identity from fresh random seed material.
func Generate() (*Identity, error) {
	seedHex, err := randx.SeedHex()
	if err != nil {
		return nil, err
	}
	return FromSeed(seedHex)
}

// SeedHex returns the hex-encoded seed this identity was derived from.
// It is the durable secret material persisted in the snapshot.
func (id *Identity) SeedHex() string {
	return id.seedHex
}

// Handle derives the stable pseudonymous handle this identity appears under in a
// room hosted by the server with the given hex-encoded public key. The handle is
// blinded: it binds the room key to the server key, so the same seed yields
// different handles on different servers.
func (id *Identity) Handle(serverPubKeyHex string) (string, error) {
	serverPk, err := hex.DecodeString(strings.ToLower(serverPubKeyHex))
	if err != nil || len(serverPk) == 0 {
		return "", fmt.Errorf("invalid server public key %q", serverPubKeyHex)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("failed to initialize handle hash: %w", err)
	}
	h.Write(serverPk)
	h.Write(id.pub)

	return HandlePrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// SignedMessage is an outbound message payload ready for host delivery.
type SignedMessage struct {
	// Data is the base64-encoded plaintext payload.
	Data string

	// Signature is the base64-encoded ed25519 signature over the raw payload.
	Signature string
}

// Seal signs the given plaintext and returns the wire-ready payload.
func (id *Identity) Seal(plaintext string) SignedMessage {
	raw := []byte(plaintext)
	sig := ed25519.Sign(id.priv, raw)

	return SignedMessage{
		Data:      base64.StdEncoding.EncodeToString(raw),
		Signature: base64.StdEncoding.EncodeToString(sig),
	}
}

// Verify checks a signature produced by Seal against this identity's public key.
func (id *Identity) Verify(msg SignedMessage) bool {
	raw, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(id.pub, raw, sig)
}
