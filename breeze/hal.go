package breeze

// DisconnectReason is the HCI reason code handed to the BLE stack when the
// engine tears a connection down.
type DisconnectReason uint8

const (
	// ReasonRemoteUserTermConn is used for auth failures and timeouts.
	ReasonRemoteUserTermConn DisconnectReason = 0x13
)

// Ble is the surface the engine needs from the BLE stack: advertising
// control, the two transport characteristics, and the link itself. The
// engine is driven back through its OnRx / OnTxComplete / OnConnect /
// OnDisconnect / OnServiceEnabled / OnMtuChanged methods.
//
// Implementations must not invoke those callbacks synchronously from
// inside Notify, Indicate or Disconnect; the engine may be holding its
// own lock while calling them.
type Ble interface {
	AdvStart(payload []byte) error
	AdvStop() error

	// Notify submits one PDU on the unacknowledged TX characteristic.
	Notify(data []byte) error
	// Indicate submits one PDU on the acknowledged TX characteristic.
	Indicate(data []byte) error

	Disconnect(reason DisconnectReason) error

	// Mac returns the device address, big-endian as it appears in the
	// advertisement.
	Mac() ([6]byte, error)
}

// SeqStore persists the signed-advertisement sequence counter across
// reboots. Load returns 0 for a store with no record yet.
type SeqStore interface {
	Load() (uint32, error)
	Store(seq uint32) error
}
