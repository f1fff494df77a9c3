package proto

import "errors"

var (
	// ErrTamper is returned when a frame's HMAC does not match its
	// ciphertext. The caller must treat the owning session as compromised
	// and transition it to CLOSED (spec §7).
	ErrTamper = errors.New("proto: frame authentication failed")

	// ErrMalformed is returned when a frame or handshake message cannot be
	// parsed, independent of the wire package's own decode errors.
	ErrMalformed = errors.New("proto: malformed frame")

	// ErrHandshakeFailed wraps any read, write, or decrypt failure during
	// the handshake (spec §4.D, §7).
	ErrHandshakeFailed = errors.New("proto: handshake failed")

	// ErrFrameTooLarge is returned when an encrypted frame (HMAC plus
	// ciphertext) would exceed the 65535-byte length prefix.
	ErrFrameTooLarge = errors.New("proto: frame exceeds maximum size")
)
