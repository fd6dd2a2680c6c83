package breeze

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMac = [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

func TestAdvPayloadVector(t *testing.T) {
	// Model 0x01020304, OTA on, auth on, device secret, unsigned.
	b := newAdvBuilder(0x01020304, testMac, true, true, false, false)
	payload := b.payload(0, nil)

	want := []byte{
		0xA8, 0x01, // company ID, little-endian
		0x01,       // protocol ID
		0x0D,       // feature mask 0b00001101
		0x04, 0x03, 0x02, 0x01, // model ID, little-endian
		0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF,
	}
	assert.Equal(t, want, payload)
}

func TestAdvFeatureMaskBits(t *testing.T) {
	fmsk := func(ota, auth, prodSecret, signed bool) byte {
		b := newAdvBuilder(1, testMac, ota, auth, prodSecret, signed)
		return b.base[3]
	}

	assert.Equal(t, byte(0x01), fmsk(false, false, false, false))
	assert.Equal(t, byte(0x05), fmsk(true, false, false, false))
	assert.Equal(t, byte(0x09), fmsk(false, true, false, false))
	assert.Equal(t, byte(0x19), fmsk(false, true, true, false))
	assert.Equal(t, byte(0x29), fmsk(false, true, false, true))
}

func TestAdvSignedTrailer(t *testing.T) {
	secret := []byte("SSSSSSSSSSSSSSSS")
	b := newAdvBuilder(0x01020304, testMac, false, true, false, true)

	payload := b.payload(42, func(base []byte, seq uint32) [4]byte {
		return advSign(base, seq, secret)
	})
	require.Equal(t, advBaseLen+8, len(payload))

	wantSign := advSign(payload[:advBaseLen], 42, secret)
	assert.Equal(t, wantSign[:], payload[advBaseLen:advBaseLen+4])
	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(payload[advBaseLen+4:]))
}

func TestAdvVendorData(t *testing.T) {
	b := newAdvBuilder(1, testMac, false, false, false, false)

	b.setUserData([]byte{0xDE, 0xAD})
	payload := b.payload(0, nil)
	assert.Equal(t, []byte{0xDE, 0xAD}, payload[advBaseLen:])

	// Oversized vendor data is dropped, previous bytes kept.
	b.setUserData(make([]byte, MaxVendorDataLen+1))
	payload = b.payload(0, nil)
	assert.Equal(t, []byte{0xDE, 0xAD}, payload[advBaseLen:])
}

func TestEngineAdvStartsWithVector(t *testing.T) {
	h := newHarness(t, nil)

	adv := h.ble.lastAdv()
	require.NotNil(t, adv)
	assert.Equal(t, []byte{
		0xA8, 0x01, 0x01, 0x0D,
		0x04, 0x03, 0x02, 0x01,
		0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF,
	}, adv)
}

func TestEngineSignedAdvSeqMonotonic(t *testing.T) {
	h := newHarness(t, func(cfg *DeviceConfig) {
		cfg.SignedAdv = true
	})

	first := h.ble.lastAdv()
	require.Equal(t, advBaseLen+8, len(first))
	seq1 := binary.LittleEndian.Uint32(first[advBaseLen+4:])

	second, err := h.e.AdvData()
	require.NoError(t, err)
	seq2 := binary.LittleEndian.Uint32(second[advBaseLen+4:])
	assert.Greater(t, seq2, seq1)

	// SetAdvSequence persists immediately.
	require.NoError(t, h.e.SetAdvSequence(1000))
	assert.Equal(t, uint32(1000), h.store.seq)

	third, err := h.e.AdvData()
	require.NoError(t, err)
	assert.Equal(t, uint32(1001), binary.LittleEndian.Uint32(third[advBaseLen+4:]))
}

func TestEngineRestartAdvertising(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.e.RestartAdvertising())

	h.ble.mu.Lock()
	stops, starts := h.ble.advStops, len(h.ble.advPayloads)
	h.ble.mu.Unlock()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 2, starts)
}

func TestEngineAppendAdvData(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.e.AppendAdvData([]byte{0x01, 0x02}))
	adv, err := h.e.AdvData()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, adv[advBaseLen:])

	assert.ErrorIs(t, h.e.AppendAdvData(nil), ErrDataSize)
	assert.ErrorIs(t, h.e.AppendAdvData(make([]byte, MaxVendorDataLen+1)), ErrDataSize)
}
