// Package proto implements the per-session wire mechanics below the
// session state machine: the symmetric encryption context with its two
// monotonic nonce counters (spec §4.C), the framed stream codec that
// drives it (spec §4.B), and the RSA handshake that bootstraps it
// (spec §4.D). pkg/session builds the reconnect-tolerant state machine on
// top of what this package provides.
package proto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"sync"
)

// ClientCounterStart is the initial value of the nonce counter used for
// client-originated frames; server-originated frames start at 0. The 2^63
// offset guarantees the two directions cannot collide short of a single
// direction emitting 2^63 frames (spec §3, §4.C).
const ClientCounterStart uint64 = 1 << 63

// HMACSize is the length in bytes of the HMAC-SHA-256 tag prefixed to every
// frame's ciphertext.
const HMACSize = sha256.Size

// SecretSize is the length in bytes of the per-session AES-256 key.
const SecretSize = 32

// EncryptionContext holds the per-session symmetric secret and the two
// independent nonce counters for the send and receive directions. It is
// safe for concurrent use; spec §5 requires encrypt/decrypt never to
// interleave within a direction, which the mutex enforces without forcing
// callers to serialize the two directions against each other.
type EncryptionContext struct {
	mu         sync.Mutex
	secret     [SecretSize]byte
	outCounter uint64
	inCounter  uint64
}

// NewServerContext builds the encryption context for the server's view of a
// session: server-originated frames start at nonce 0, client-originated
// frames are expected starting at nonce 2^63.
func NewServerContext(secret [SecretSize]byte) *EncryptionContext {
	return &EncryptionContext{secret: secret, outCounter: 0, inCounter: ClientCounterStart}
}

// NewClientContext builds the encryption context for the client's view of
// the same session, with the two directions swapped relative to the server.
func NewClientContext(secret [SecretSize]byte) *EncryptionContext {
	return &EncryptionContext{secret: secret, outCounter: ClientCounterStart, inCounter: 0}
}

// Encrypt consumes and increments the outbound nonce counter, encrypts
// plaintext under AES-256-CTR, and returns HMAC-SHA-256(ciphertext) ||
// ciphertext — the frame body the codec length-prefixes onto the wire.
func (c *EncryptionContext) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	nonce := c.outCounter
	c.outCounter++
	c.mu.Unlock()

	ciphertext, err := c.xorCTR(nonce, plaintext)
	if err != nil {
		return nil, err
	}

	tag := c.tag(ciphertext)
	out := make([]byte, 0, len(tag)+len(ciphertext))
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt verifies the HMAC of frame (HMAC || ciphertext) in constant time,
// consumes and increments the inbound nonce counter, and returns the
// recovered plaintext. A mismatched HMAC returns ErrTamper and the counter
// is not advanced, since the frame that failed verification was never a
// valid member of the sequence.
func (c *EncryptionContext) Decrypt(frame []byte) ([]byte, error) {
	if len(frame) < HMACSize {
		return nil, ErrMalformed
	}
	tag, ciphertext := frame[:HMACSize], frame[HMACSize:]

	expected := c.tag(ciphertext)
	if !hmac.Equal(tag, expected) {
		return nil, ErrTamper
	}

	c.mu.Lock()
	nonce := c.inCounter
	c.inCounter++
	c.mu.Unlock()

	return c.xorCTR(nonce, ciphertext)
}

func (c *EncryptionContext) tag(ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, c.secret[:])
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

// xorCTR runs AES-256-CTR over data using nonce as the high 8 bytes of the
// 16-byte initial counter block, with the low 8 bytes starting at zero —
// the composition spec §6 calls out as `nonce = u64_be(counter)`.
func (c *EncryptionContext) xorCTR(nonce uint64, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.secret[:])
	if err != nil {
		return nil, err
	}

	var iv [aes.BlockSize]byte
	binary.BigEndian.PutUint64(iv[:8], nonce)

	stream := cipher.NewCTR(block, iv[:])
	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out, nil
}
