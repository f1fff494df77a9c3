package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret() [SecretSize]byte {
	var s [SecretSize]byte
	for i := range s {
		s[i] = byte(i)
	}
	return s
}

func TestServerClientCounterStartsSwapped(t *testing.T) {
	secret := testSecret()
	server := NewServerContext(secret)
	client := NewClientContext(secret)

	assert.Equal(t, uint64(0), server.outCounter)
	assert.Equal(t, ClientCounterStart, server.inCounter)
	assert.Equal(t, ClientCounterStart, client.outCounter)
	assert.Equal(t, uint64(0), client.inCounter)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := testSecret()
	server := NewServerContext(secret)
	client := NewClientContext(secret)

	frame, err := server.Encrypt([]byte("hello from server"))
	require.NoError(t, err)

	plaintext, err := client.Decrypt(frame)
	require.NoError(t, err)
	assert.Equal(t, "hello from server", string(plaintext))
}

func TestEncryptDecryptIndependentDirections(t *testing.T) {
	secret := testSecret()
	server := NewServerContext(secret)
	client := NewClientContext(secret)

	toClient, err := server.Encrypt([]byte("one"))
	require.NoError(t, err)
	toServer, err := client.Encrypt([]byte("two"))
	require.NoError(t, err)

	got, err := client.Decrypt(toClient)
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	got, err = server.Decrypt(toServer)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}

func TestDecryptTamperedFrameFails(t *testing.T) {
	secret := testSecret()
	server := NewServerContext(secret)
	client := NewClientContext(secret)

	frame, err := server.Encrypt([]byte("payload"))
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF

	_, err = client.Decrypt(frame)
	assert.ErrorIs(t, err, ErrTamper)
}

func TestDecryptTooShortFrameIsMalformed(t *testing.T) {
	secret := testSecret()
	client := NewClientContext(secret)

	_, err := client.Decrypt([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecryptFailureDoesNotAdvanceCounter(t *testing.T) {
	secret := testSecret()
	server := NewServerContext(secret)
	client := NewClientContext(secret)

	frame, err := server.Encrypt([]byte("payload"))
	require.NoError(t, err)
	tampered := append([]byte(nil), frame...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = client.Decrypt(tampered)
	require.ErrorIs(t, err, ErrTamper)
	assert.Equal(t, uint64(0), client.inCounter)

	_, err = client.Decrypt(frame)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), client.inCounter)
}

func TestEncryptMonotonicNonces(t *testing.T) {
	secret := testSecret()
	server := NewServerContext(secret)

	first, err := server.Encrypt([]byte("a"))
	require.NoError(t, err)
	second, err := server.Encrypt([]byte("a"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}
