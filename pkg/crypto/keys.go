// Package crypto holds the asymmetric bootstrap primitives used by the
// handshake (pkg/proto): RSA key generation, PEM import/export, and OAEP
// wrap/unwrap of the per-session secret. The symmetric per-session
// primitives (AES-CTR, HMAC, nonce counters) live in pkg/proto alongside the
// frame codec that drives them.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
)

var (
	ErrInvalidKey       = errors.New("crypto: invalid key")
	ErrEncryptionFailed = errors.New("crypto: encryption failed")
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

// KeyBits is the RSA modulus size used for the handshake's public-key
// bootstrap. Speed is unimportant here: the key only ever wraps a 32-byte
// AES secret, once per session.
const KeyBits = 2048

// GenerateRSAKeyPair generates a fresh 2048-bit RSA key pair with the
// standard public exponent 65537.
func GenerateRSAKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, KeyBits)
}

// ExportPrivateKeyPEM exports a private key to PKCS#1 PEM.
func ExportPrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return pem.EncodeToMemory(block), nil
}

// ImportPrivateKeyPEM imports a private key from PKCS#1 PEM.
func ImportPrivateKeyPEM(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidKey
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// ExportPublicKeyPEM exports a public key to PKIX PEM.
func ExportPublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return pem.EncodeToMemory(block), nil
}

// ImportPublicKeyPEM imports a public key from PKIX PEM.
func ImportPublicKeyPEM(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidKey
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return rsaPub, nil
}

// SaveKeyToFile persists PEM-encoded key material with owner-only permissions.
func SaveKeyToFile(filename string, pemData []byte) error {
	return os.WriteFile(filename, pemData, 0600)
}

// LoadKeyFromFile reads PEM-encoded key material back from disk.
func LoadKeyFromFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// EncryptOAEP wraps data under an RSA public key with OAEP using the SHA-1
// MGF default, per the handshake's wire format (spec §4.D/§6).
func EncryptOAEP(data []byte, pub *rsa.PublicKey) ([]byte, error) {
	ciphertext, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, data, nil)
	if err != nil {
		return nil, ErrEncryptionFailed
	}
	return ciphertext, nil
}

// DecryptOAEP unwraps data encrypted by EncryptOAEP.
func DecryptOAEP(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error) {
	plaintext, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
