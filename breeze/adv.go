package breeze

import (
	"encoding/binary"

	log "github.com/sirupsen/logrus"
)

const (
	// CompanyID is the vendor's registered BLE company identifier,
	// little-endian on the wire.
	CompanyID uint16 = 0x01A8
	// ProtocolID identifies the Breeze protocol inside the vendor space.
	ProtocolID uint8 = 0x01

	bluetoothVer = 0x01

	advBaseLen = 14 // CID(2) PID(1) FMSK(1) MID(4) MAC(6)
	advMaxLen  = 26 // excluding the optional sign+seq trailer

	// MaxVendorDataLen bounds user-appended advertisement bytes.
	MaxVendorDataLen = advMaxLen - advBaseLen
)

// Feature mask bit positions.
const (
	fmskBluetoothVerPos = 0
	fmskOtaPos          = 2
	fmskSecurityPos     = 3
	fmskSecretTypePos   = 4
	fmskSignedAdvPos    = 5
)

// advBuilder composes the manufacturer-specific advertisement payload.
type advBuilder struct {
	base      [advBaseLen]byte
	signedAdv bool
	user      []byte
}

func newAdvBuilder(modelID uint32, mac [6]byte, enableOta, enableAuth, productSecret, signedAdv bool) *advBuilder {
	b := &advBuilder{signedAdv: signedAdv}

	fmsk := uint8(bluetoothVer << fmskBluetoothVerPos)
	if enableOta {
		fmsk |= 1 << fmskOtaPos
	}
	if enableAuth {
		fmsk |= 1 << fmskSecurityPos
	}
	if productSecret {
		fmsk |= 1 << fmskSecretTypePos
	}
	if signedAdv {
		fmsk |= 1 << fmskSignedAdvPos
	}

	binary.LittleEndian.PutUint16(b.base[0:2], CompanyID)
	b.base[2] = ProtocolID
	b.base[3] = fmsk
	binary.LittleEndian.PutUint32(b.base[4:8], modelID)
	copy(b.base[8:14], mac[:])
	return b
}

// setUserData stores vendor bytes appended after the protocol fields.
// Oversized input is dropped with a warning.
func (b *advBuilder) setUserData(data []byte) {
	if len(data) > MaxVendorDataLen {
		log.Warnf("adv: no space for %d bytes of vendor data (max %d), dropped",
			len(data), MaxVendorDataLen)
		return
	}
	b.user = append(b.user[:0], data...)
}

// payload assembles the full advertisement. For signed advertisements the
// caller supplies the already-incremented sequence and a signer over the
// base payload.
func (b *advBuilder) payload(seq uint32, sign func(base []byte, seq uint32) [4]byte) []byte {
	max := advMaxLen
	if b.signedAdv {
		max += 8 // sign(4) + seq(4) trailer
	}
	out := make([]byte, 0, max)
	out = append(out, b.base[:]...)

	if b.signedAdv {
		s := sign(b.base[:], seq)
		out = append(out, s[:]...)
		out = binary.LittleEndian.AppendUint32(out, seq)
	}

	if len(b.user) > 0 {
		if len(out)+len(b.user) > max {
			log.Warnf("adv: no space for user adv data (expected %d but only %d left), not set",
				len(b.user), max-len(out))
		} else {
			out = append(out, b.user...)
		}
	}
	return out
}
