package breeze

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	for _, n := range []int{1, 13, 14, 15, 16, 17, 100, 255} {
		plain := bytes.Repeat([]byte{0xA5}, n)

		ct, err := encryptPayload(key, plain)
		require.NoError(t, err, "len %d", n)
		assert.Zero(t, len(ct)%16, "ciphertext block-aligned for len %d", n)
		assert.NotEqual(t, plain, ct[:min(len(ct), n)])

		out, err := decryptPayload(key, ct)
		require.NoError(t, err)
		assert.Equal(t, plain, out, "len %d", n)
	}
}

func TestEncryptLengthPrefix(t *testing.T) {
	// 14 payload bytes + 2 length bytes fill exactly one block.
	key := []byte("0123456789abcdef")
	ct, err := encryptPayload(key, make([]byte, 14))
	require.NoError(t, err)
	assert.Equal(t, 16, len(ct))
}

func TestDecryptRejectsUnaligned(t *testing.T) {
	key := []byte("0123456789abcdef")
	_, err := decryptPayload(key, make([]byte, 15))
	assert.Error(t, err)
	_, err = decryptPayload(key, nil)
	assert.Error(t, err)
}

func TestSha256Trunc16(t *testing.T) {
	sum := sha256.Sum256([]byte("hello world"))
	got := sha256Trunc16([]byte("hello "), []byte("world"))
	assert.Equal(t, sum[:16], got[:])
}

func TestAdvSign(t *testing.T) {
	payload := []byte{0xA8, 0x01, 0x01, 0x0D}
	secret := []byte("SSSSSSSSSSSSSSSS")

	want := sha256.Sum256(append(append(append([]byte{}, payload...),
		0x39, 0x30, 0x00, 0x00), secret...)) // seq 12345 LE
	got := advSign(payload, 12345, secret)
	assert.Equal(t, want[:4], got[:])
}
