package proto

import (
	"crypto/rand"
	"crypto/rsa"
	"io"
	"math/big"

	sessioncrypto "github.com/zentalk/relaynet/pkg/crypto"
)

// RSAKeyBytes is the byte length of the modulus and exponent fields
// exchanged during the handshake, sized for a 2048-bit RSA key.
const RSAKeyBytes = sessioncrypto.KeyBits / 8

// IDSize is the byte length of a session identifier.
const IDSize = 16

// ID is the 128-bit session identifier chosen by the client once and
// replayed on every reconnect (spec §3, §4.D).
type ID [IDSize]byte

// GenerateID mints a fresh random session identifier. A client calls this
// once, on its very first connection, and then replays the same ID on
// every subsequent ClientHandshake call so the server can recognize a
// reconnect (spec §4.F, §4.D) instead of minting a brand new session.
func GenerateID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return id, err
	}
	return id, nil
}

// ServerHandshake runs the server's half of spec §4.D on a freshly accepted
// connection: it publishes its RSA public key, decrypts the client's
// symmetric secret, and decrypts the client's chosen session identifier.
// Any failure collapses to ErrHandshakeFailed, per spec §7 ("silently close
// the transport; no session is created").
func ServerHandshake(rw io.ReadWriter, priv *rsa.PrivateKey) (*EncryptionContext, ID, error) {
	var zero ID

	nBytes := make([]byte, RSAKeyBytes)
	priv.PublicKey.N.FillBytes(nBytes)
	eBytes := make([]byte, RSAKeyBytes)
	big.NewInt(int64(priv.PublicKey.E)).FillBytes(eBytes)

	if _, err := rw.Write(nBytes); err != nil {
		return nil, zero, ErrHandshakeFailed
	}
	if _, err := rw.Write(eBytes); err != nil {
		return nil, zero, ErrHandshakeFailed
	}

	secretCiphertext := make([]byte, RSAKeyBytes)
	if _, err := io.ReadFull(rw, secretCiphertext); err != nil {
		return nil, zero, ErrHandshakeFailed
	}

	secretBytes, err := sessioncrypto.DecryptOAEP(secretCiphertext, priv)
	if err != nil || len(secretBytes) != SecretSize {
		return nil, zero, ErrHandshakeFailed
	}
	var secret [SecretSize]byte
	copy(secret[:], secretBytes)
	ctx := NewServerContext(secret)

	idFrame := make([]byte, HMACSize+IDSize)
	if _, err := io.ReadFull(rw, idFrame); err != nil {
		return nil, zero, ErrHandshakeFailed
	}
	idBytes, err := ctx.Decrypt(idFrame)
	if err != nil || len(idBytes) != IDSize {
		return nil, zero, ErrHandshakeFailed
	}

	var id ID
	copy(id[:], idBytes)
	return ctx, id, nil
}

// ClientHandshake runs the connecting peer's half of spec §4.D: it reads
// the server's RSA public key, generates and wraps a fresh symmetric
// secret, and transmits id under that secret. id must be the same
// identifier on every call for a given logical session — callers mint it
// once with GenerateID on first connect and replay it on every reconnect
// (spec §4.F); presenting a fresh id on each call makes every connection
// look like a brand new session and the reattach path unreachable.
func ClientHandshake(rw io.ReadWriter, id ID) (*EncryptionContext, ID, error) {
	var zero ID

	nBytes := make([]byte, RSAKeyBytes)
	if _, err := io.ReadFull(rw, nBytes); err != nil {
		return nil, zero, ErrHandshakeFailed
	}
	eBytes := make([]byte, RSAKeyBytes)
	if _, err := io.ReadFull(rw, eBytes); err != nil {
		return nil, zero, ErrHandshakeFailed
	}
	pub := &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}

	var secret [SecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, zero, ErrHandshakeFailed
	}

	secretCiphertext, err := sessioncrypto.EncryptOAEP(secret[:], pub)
	if err != nil {
		return nil, zero, ErrHandshakeFailed
	}
	if _, err := rw.Write(secretCiphertext); err != nil {
		return nil, zero, ErrHandshakeFailed
	}

	ctx := NewClientContext(secret)

	idFrame, err := ctx.Encrypt(id[:])
	if err != nil {
		return nil, zero, ErrHandshakeFailed
	}
	if _, err := rw.Write(idFrame); err != nil {
		return nil, zero, ErrHandshakeFailed
	}

	return ctx, id, nil
}
