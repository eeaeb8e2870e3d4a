package cryptoutil

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripedCipher_EncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	_, err := rand.Read(key)
	require.NoError(t, err)
	iv := make([]byte, 16)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	c, err := NewStripedCipher(key, 4)
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte("the quick brown fox jumps "), 20)
	ciphertext := make([]byte, len(plaintext))
	require.NoError(t, c.Transform(iv, ciphertext, plaintext))
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted := make([]byte, len(ciphertext))
	require.NoError(t, c.Transform(iv, decrypted, ciphertext))
	assert.Equal(t, plaintext, decrypted)
}

func TestStripedCipher_SerialAndParallelAgree(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	iv := bytes.Repeat([]byte{0x01}, 16)
	plaintext := bytes.Repeat([]byte("payload-chunk-"), 50)

	serial, err := NewStripedCipher(key, 1)
	require.NoError(t, err)
	parallel, err := NewStripedCipher(key, 8)
	require.NoError(t, err)

	out1 := make([]byte, len(plaintext))
	out2 := make([]byte, len(plaintext))
	require.NoError(t, serial.Transform(iv, out1, plaintext))
	require.NoError(t, parallel.Transform(iv, out2, plaintext))
	assert.Equal(t, out1, out2)
}

func TestNewStripedCipher_RejectsBadKeyLength(t *testing.T) {
	_, err := NewStripedCipher([]byte("short"), 1)
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}
