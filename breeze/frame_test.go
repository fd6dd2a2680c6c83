package breeze

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5A}, 16)
	buf := make([]byte, 64)

	for total := uint8(1); total < 16; total++ {
		for index := uint8(0); index < total; index++ {
			n, err := encodeFrame(buf, CmdCtrl, 7, index, total, payload)
			require.NoError(t, err)
			require.Equal(t, frameHeaderLen+len(payload), n)

			h, p, err := decodeFrame(buf[:n])
			require.NoError(t, err)
			assert.Equal(t, CmdCtrl, h.Cmd)
			assert.Equal(t, uint8(7), h.Seq)
			assert.Equal(t, index, h.Index)
			assert.Equal(t, total, h.Total)
			assert.Equal(t, payload, p)
		}
	}
}

func TestFrameSixteenFrameTotal(t *testing.T) {
	// The maximum representable total wires its nibble as zero.
	buf := make([]byte, 32)
	n, err := encodeFrame(buf, CmdOtaData, 3, 15, 16, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, byte(0x0F), buf[2], "total nibble 0, index 15")

	h, _, err := decodeFrame(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint8(16), h.Total)
	assert.Equal(t, uint8(15), h.Index)
}

func TestFrameEmptyPayload(t *testing.T) {
	buf := make([]byte, frameHeaderLen)
	n, err := encodeFrame(buf, CmdErr, 1, 0, 1, nil)
	require.NoError(t, err)
	require.Equal(t, frameHeaderLen, n)

	h, p, err := decodeFrame(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, CmdErr, h.Cmd)
	assert.Empty(t, p)
}

func TestFrameDecodeTooShort(t *testing.T) {
	_, _, err := decodeFrame([]byte{0x00, 0x01, 0x10})
	assert.ErrorIs(t, err, errFrameTooShort)

	_, _, err = decodeFrame(nil)
	assert.ErrorIs(t, err, errFrameTooShort)
}

func TestFrameEncodeBadIndex(t *testing.T) {
	buf := make([]byte, 32)
	_, err := encodeFrame(buf, CmdCtrl, 1, 2, 2, nil)
	assert.ErrorIs(t, err, errBadFrameIndex)

	_, err = encodeFrame(buf, CmdCtrl, 1, 0, 0, nil)
	assert.ErrorIs(t, err, errBadFrameIndex)

	_, err = encodeFrame(buf, CmdCtrl, 1, 0, 17, nil)
	assert.ErrorIs(t, err, errBadFrameIndex)
}

func TestFrameDecodeBadIndex(t *testing.T) {
	// total 2, index 2
	_, _, err := decodeFrame([]byte{0x00, 0x01, 0x22, 0x00})
	assert.ErrorIs(t, err, errBadFrameIndex)
}

func TestFrameEncodeNoRoom(t *testing.T) {
	buf := make([]byte, 5)
	_, err := encodeFrame(buf, CmdCtrl, 1, 0, 1, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrNoMem)
}

func TestFrameCount(t *testing.T) {
	assert.Equal(t, 1, frameCount(0, 20))
	assert.Equal(t, 1, frameCount(16, 20))
	assert.Equal(t, 2, frameCount(17, 20))
	assert.Equal(t, 2, frameCount(30, 20))
	assert.Equal(t, 16, frameCount(1024, 68))
}
