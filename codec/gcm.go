package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// A GCMSession seals and opens messages with AES-256-GCM under a symmetric
// secret key shared out-of-band by both ends of a connection. Every sealed
// message carries a fresh random nonce, so sessions hold no ordering state and
// the two directions of a connection can share one session.
type GCMSession struct {
	gcm cipher.AEAD
}

// NewGCMSession accepts a symmetric secret key and returns a new GCMSession
// that is configured using the symmetric secret key.
func NewGCMSession(key [32]byte) (*GCMSession, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating aes cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm cipher: %v", err)
	}
	return &GCMSession{gcm: gcm}, nil
}

// Overhead returns the number of bytes by which a sealed message is larger
// than its plaintext: the prepended nonce plus the authentication tag.
func (session *GCMSession) Overhead() int {
	return session.gcm.NonceSize() + session.gcm.Overhead()
}

// Seal encrypts and authenticates a plaintext. The returned blob is the random
// nonce followed by the ciphertext.
func (session *GCMSession) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, session.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %v", err)
	}
	return session.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts a blob produced by Seal. It fails when the
// blob is truncated, has been modified, or was sealed under a different key.
func (session *GCMSession) Open(sealed []byte) ([]byte, error) {
	nonceSize := session.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("opening sealed data: %v bytes is too short", len(sealed))
	}
	plaintext, err := session.gcm.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("opening sealed data: %v", err)
	}
	return plaintext, nil
}

// GCMEncoder seals every message with the session before handing the sealed
// blob to the wrapped encoder.
func GCMEncoder(session *GCMSession, enc Encoder) Encoder {
	return func(w io.Writer, buf []byte) (int, error) {
		sealed, err := session.Seal(buf)
		if err != nil {
			return 0, err
		}
		n, err := enc(w, sealed)
		if err != nil {
			return n, fmt.Errorf("encoding sealed data: %v", err)
		}
		return n, nil
	}
}

// GCMDecoder decodes a sealed blob with the wrapped decoder and opens it with
// the session, copying the plaintext into the buffer. An io.EOF from the
// wrapped decoder is passed through untouched.
func GCMDecoder(session *GCMSession, dec Decoder) Decoder {
	return func(r io.Reader, buf []byte) (int, error) {
		sealed := make([]byte, len(buf)+session.Overhead())
		n, err := dec(r, sealed)
		if err != nil {
			if err == io.EOF {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("decoding sealed data: %v", err)
		}
		plaintext, err := session.Open(sealed[:n])
		if err != nil {
			return 0, err
		}
		return copy(buf, plaintext), nil
	}
}
