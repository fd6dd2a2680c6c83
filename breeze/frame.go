package breeze

// On-wire frame layout: a fixed 4-byte header followed by payload bytes.
//
//	[0] cmd
//	[1] seq      per-message counter, echoed in every fragment
//	[2] total<<4 | index
//	[3] reserved
//
// The payload is whatever remains of the PDU after the header; no length
// field is carried. The index field counts down: frame i of an n-frame
// message carries index n-1-i, i.e. the number of frames still to follow
// it, so the final frame carries 0. A 16-frame message wires its total nibble
// as 0; the first frame's index (15) makes the real total recoverable on
// decode.

const (
	frameHeaderLen = 4

	// MaxFrames is the largest frame count one message may span.
	MaxFrames = 16

	// MaxPayload is the largest whole-message payload accepted for tx.
	MaxPayload = 1024

	// rxAssemblyMax caps the assembled inbound payload.
	rxAssemblyMax = 256
)

type frameHeader struct {
	Cmd   Cmd
	Seq   uint8
	Index uint8 // frames remaining after this one
	Total uint8 // 1..16
}

// encodeFrame writes one frame into dst and returns the number of bytes
// written. dst must hold frameHeaderLen+len(payload) bytes; no allocation
// happens here.
func encodeFrame(dst []byte, cmd Cmd, seq, index, total uint8, payload []byte) (int, error) {
	if total == 0 || total > MaxFrames || index >= total {
		return 0, errBadFrameIndex
	}
	if len(dst) < frameHeaderLen+len(payload) {
		return 0, ErrNoMem
	}
	dst[0] = byte(cmd)
	dst[1] = seq
	dst[2] = (total&0x0F)<<4 | index&0x0F
	dst[3] = 0
	copy(dst[frameHeaderLen:], payload)
	return frameHeaderLen + len(payload), nil
}

// decodeFrame parses one frame. The returned payload aliases b.
func decodeFrame(b []byte) (frameHeader, []byte, error) {
	if len(b) < frameHeaderLen {
		return frameHeader{}, nil, errFrameTooShort
	}
	h := frameHeader{
		Cmd:   Cmd(b[0]),
		Seq:   b[1],
		Index: b[2] & 0x0F,
		Total: b[2] >> 4,
	}
	if h.Total == 0 {
		h.Total = MaxFrames
	}
	if h.Index >= h.Total {
		return frameHeader{}, nil, errBadFrameIndex
	}
	return h, b[frameHeaderLen:], nil
}

// frameCount returns how many frames a payload of n bytes needs at the
// given per-PDU budget. An empty payload still occupies one frame.
func frameCount(n, mtu int) int {
	per := mtu - frameHeaderLen
	if n <= 0 {
		return 1
	}
	return (n + per - 1) / per
}
