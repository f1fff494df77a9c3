package proto

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	secret := testSecret()
	server := NewServerContext(secret)
	client := NewClientContext(secret)

	var wire bytes.Buffer
	require.NoError(t, WriteFrame(&wire, server, []byte("ping")))

	got, err := ReadFrame(&wire, client)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
}

func TestWriteFrameTooLarge(t *testing.T) {
	secret := testSecret()
	server := NewServerContext(secret)

	var wire bytes.Buffer
	err := WriteFrame(&wire, server, make([]byte, MaxFrameLen+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameEOF(t *testing.T) {
	secret := testSecret()
	client := NewClientContext(secret)

	_, err := ReadFrame(&bytes.Buffer{}, client)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncatedBody(t *testing.T) {
	secret := testSecret()
	client := NewClientContext(secret)

	var wire bytes.Buffer
	wire.Write([]byte{0x00, 0x10})
	wire.Write([]byte{1, 2, 3})

	_, err := ReadFrame(&wire, client)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestEncodeDecodePayload(t *testing.T) {
	plaintext := EncodePayload(1234.5, []byte("value-bytes"))
	sentAt, value, err := DecodePayload(plaintext)
	require.NoError(t, err)
	assert.Equal(t, 1234.5, sentAt)
	assert.Equal(t, []byte("value-bytes"), value)
}

func TestDecodePayloadTooShort(t *testing.T) {
	_, _, err := DecodePayload([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFramesAreIndependentlySized(t *testing.T) {
	secret := testSecret()
	server := NewServerContext(secret)
	client := NewClientContext(secret)

	var wire bytes.Buffer
	require.NoError(t, WriteFrame(&wire, server, []byte("short")))
	require.NoError(t, WriteFrame(&wire, server, []byte("a somewhat longer message body")))

	first, err := ReadFrame(&wire, client)
	require.NoError(t, err)
	assert.Equal(t, "short", string(first))

	second, err := ReadFrame(&wire, client)
	require.NoError(t, err)
	assert.Equal(t, "a somewhat longer message body", string(second))
}
