// Package secret defines the pre-shared symmetric key that both ends of a
// channel must hold. Keys are distributed out-of-band: the listener prints its
// generated key at startup, and an operator copies it into the agent's
// configuration. There is no negotiation, rotation, or expiry.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Size of a key in bytes. Keys drive AES-256-GCM.
const Size = 32

const (
	deriveIters = 100000
	deriveSalt  = "loom.secret.v1"
)

// A Key is a symmetric secret shared by a listener and its agents.
type Key [Size]byte

// Generate returns a new random Key.
func Generate() (Key, error) {
	key := Key{}
	if _, err := rand.Read(key[:]); err != nil {
		return Key{}, fmt.Errorf("generating key: %v", err)
	}
	return key, nil
}

// Parse decodes a Key from its transportable text form, as produced by
// String.
func Parse(text string) (Key, error) {
	buf, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return Key{}, fmt.Errorf("parsing key: %v", err)
	}
	if len(buf) != Size {
		return Key{}, fmt.Errorf("parsing key: expected %v bytes, got %v", Size, len(buf))
	}
	key := Key{}
	copy(key[:], buf)
	return key, nil
}

// FromPassphrase derives a Key from a passphrase with PBKDF2-SHA256. The same
// passphrase always derives the same Key, so both ends can be configured with
// a phrase instead of a pasted key.
func FromPassphrase(passphrase string) Key {
	key := Key{}
	copy(key[:], pbkdf2.Key([]byte(passphrase), []byte(deriveSalt), deriveIters, Size, sha256.New))
	return key
}

// String returns the transportable text form of the Key.
func (key Key) String() string {
	return base64.StdEncoding.EncodeToString(key[:])
}
