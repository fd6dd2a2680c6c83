package breeze

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const sessionKeyLen = 16

// sha256Trunc16 returns the first 16 bytes of SHA256 over the
// concatenation of parts. All auth digests and the session key use this.
func sha256Trunc16(parts ...[]byte) [sessionKeyLen]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [sessionKeyLen]byte
	copy(out[:], h.Sum(nil))
	return out
}

// advSign computes the 4-byte truncated signature appended to a signed
// advertisement: SHA256(adv_payload || seq_le32 || secret).
func advSign(advPayload []byte, seq uint32, secret []byte) [4]byte {
	var seqLE [4]byte
	binary.LittleEndian.PutUint32(seqLE[:], seq)
	h := sha256.New()
	h.Write(advPayload)
	h.Write(seqLE[:])
	h.Write(secret)
	var sign [4]byte
	copy(sign[:], h.Sum(nil))
	return sign
}

func randomBytes(b []byte) error {
	_, err := rand.Read(b)
	return err
}

// encryptPayload encrypts a whole-message payload with AES-128-CBC.
// The plaintext length is carried in the first two bytes; the remainder
// is padded PKCS style up to the block boundary. The session key is fresh
// per connection and the wire format carries no IV field, so the IV is
// the zero block.
func encryptPayload(key, plaintext []byte) ([]byte, error) {
	if len(plaintext) > 0xFFFF {
		return nil, ErrDataSize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	total := len(plaintext) + 2
	padLen := aes.BlockSize - total%aes.BlockSize
	if padLen == aes.BlockSize {
		padLen = 0
	}
	padded := make([]byte, total+padLen)
	binary.LittleEndian.PutUint16(padded[:2], uint16(len(plaintext)))
	copy(padded[2:], plaintext)
	for i := total; i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	iv := make([]byte, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// decryptPayload reverses encryptPayload and strips the length prefix
// and padding.
func decryptPayload(key, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext not block-aligned: %d", len(ciphertext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	n := int(binary.LittleEndian.Uint16(plain[:2]))
	if n > len(plain)-2 {
		return nil, fmt.Errorf("bad plaintext length %d in %d-byte block", n, len(plain))
	}
	return plain[2 : 2+n], nil
}
