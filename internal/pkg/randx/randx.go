/*
Package randx provides functions for generating cryptographically secure random material.

It covers the three kinds of randomness the gate needs: single-use correlation tokens
for host round-trips, hex-encoded seed material for room signing identities, and
puzzle answer strings drawn from an ambiguity-free character set.
*/
package randx

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// AnswerChars is the character set for puzzle answers. It deliberately leaves out
	// characters that render ambiguously (0/O, 1/I/l, 2/Z, 5/S, 8/B).
	AnswerChars = "34679ACDEFHJKLMNPQRTUVWXY"

	// SeedBytes is the length in bytes of a room identity seed.
	SeedBytes = 32
)

// CorrelationToken generates a single-use opaque token used to match a host
// response to the request that produced it.
func CorrelationToken() string {
	return uuid.New().String()
}

// SeedHex generates SeedBytes of cryptographically secure random material,
// hex encoded, suitable as a room signing-identity seed.
func SeedHex() (string, error) {
	seed := make([]byte, SeedBytes)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("failed to generate identity seed: %w", err)
	}
	return hex.EncodeToString(seed), nil
}

// Answer generates a puzzle answer of the given length from AnswerChars
// using a cryptographically secure random number generator.
func Answer(length int) (string, error) {
	charsetLen := big.NewInt(int64(len(AnswerChars)))
	result := make([]byte, length)

	for i := range length {
		num, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for answer: %v", err)
		}
		result[i] = AnswerChars[num.Int64()]
	}

	return string(result), nil
}

// IsValidSeedHex checks that the given string decodes to exactly SeedBytes of data.
func IsValidSeedHex(seed string) bool {
	if len(seed) != SeedBytes*2 {
		return false
	}
	_, err := hex.DecodeString(strings.ToLower(seed))
	return err == nil
}
