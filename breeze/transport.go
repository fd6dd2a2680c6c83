package breeze

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// TxKind selects the GATT transport for an outbound message.
type TxKind uint8

const (
	// TxIndication is acknowledged by the central.
	TxIndication TxKind = iota
	// TxNotification is unacknowledged.
	TxNotification
)

const txStateIdle, txStateSending = 0, 1

// transport fragments outbound messages and reassembles inbound ones.
// At most one message is in flight per direction; the next message may
// not start until the previous one fully completed. All methods run
// under the engine lock; timer callbacks re-enter through exec.
type transport struct {
	mtu     int // usable per-PDU budget, header included
	timeout time.Duration
	ble     Ble
	emit    func(internalEvent)
	exec    func(func()) // runs fn under the engine lock
	policy  EncryptPolicy
	stats   *Stats

	key    []byte // session key; nil until auth installs one
	pduBuf []byte

	// TX slot
	txState  int
	txKind   TxKind
	txCmd    Cmd
	txSeq    uint8
	txMsgSeq uint8 // seq assigned to the in-flight message
	txBuf    []byte
	txOff    int
	txTotal  uint8
	txIndex  uint8 // count-down index of the next frame to submit
	txTimer  *time.Timer
	txGen    uint64

	// RX slot
	rxActive  bool
	rxCmd     Cmd
	rxSeq     uint8
	rxTotal   uint8
	rxNextIdx uint8
	rxFrames  uint8
	rxBuf     []byte
	rxTimer   *time.Timer
	rxGen     uint64
}

func newTransport(ble Ble, mtu int, timeout time.Duration, policy EncryptPolicy,
	stats *Stats, emit func(internalEvent), exec func(func())) *transport {
	if policy == nil {
		policy = DefaultEncryptPolicy
	}
	return &transport{
		mtu:     mtu,
		timeout: timeout,
		ble:     ble,
		emit:    emit,
		exec:    exec,
		policy:  policy,
		stats:   stats,
		pduBuf:  make([]byte, mtu),
	}
}

// setMtu applies a negotiated per-PDU budget.
func (t *transport) setMtu(mtu int) {
	if mtu < frameHeaderLen+1 {
		return
	}
	t.mtu = mtu
	if len(t.pduBuf) < mtu {
		t.pduBuf = make([]byte, mtu)
	}
}

// tx queues one outbound message. It is the public entry behind Post and
// PostFast and enforces the whole-message size gate.
func (t *transport) tx(kind TxKind, cmd Cmd, payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return ErrDataSize
	}
	return t.send(kind, cmd, payload)
}

// send is the internal path; it also carries zero-length frames such as
// the ERR notification.
func (t *transport) send(kind TxKind, cmd Cmd, payload []byte) error {
	if t.txState != txStateIdle {
		return ErrBusy
	}

	if t.key != nil && t.policy(cmd) {
		enc, err := encryptPayload(t.key, payload)
		if err != nil {
			log.Errorf("transport: encrypt %v failed: %v", cmd, err)
			return ErrInternal
		}
		payload = enc
	}

	frames := frameCount(len(payload), t.mtu)
	if frames > MaxFrames {
		return ErrDataSize
	}

	t.txSeq++
	t.txState = txStateSending
	t.txKind = kind
	t.txCmd = cmd
	t.txMsgSeq = t.txSeq
	t.txBuf = payload
	t.txOff = 0
	t.txTotal = uint8(frames)
	t.txIndex = uint8(frames - 1)

	if err := t.submitNext(); err != nil {
		t.resetTx()
		return ErrInternal
	}
	t.armTxTimer()
	return nil
}

// submitNext hands the next frame of the in-flight message to the HAL.
func (t *transport) submitNext() error {
	per := t.mtu - frameHeaderLen
	chunk := t.txBuf[t.txOff:]
	if len(chunk) > per {
		chunk = chunk[:per]
	}

	n, err := encodeFrame(t.pduBuf, t.txCmd, t.txMsgSeq, t.txIndex, t.txTotal, chunk)
	if err != nil {
		return err
	}

	if t.txKind == TxIndication {
		err = t.ble.Indicate(t.pduBuf[:n])
	} else {
		err = t.ble.Notify(t.pduBuf[:n])
	}
	if err != nil {
		log.Warnf("transport: submit cmd=0x%02X idx=%d failed: %v", uint8(t.txCmd), t.txIndex, err)
		return err
	}

	t.txOff += len(chunk)
	t.stats.addTxFrame(n)
	return nil
}

// txdone is driven by the HAL acknowledging the last submitted PDU.
func (t *transport) txdone(n int) {
	if t.txState != txStateSending {
		return
	}

	if t.txIndex == 0 {
		cmd := t.txCmd
		t.stopTxTimer()
		t.resetTx()
		t.stats.addTxMessage()
		t.emit(internalEvent{tag: tagTrans, code: evTransTxDone, cmd: cmd})
		return
	}

	t.txIndex--
	if err := t.submitNext(); err != nil {
		t.stopTxTimer()
		t.resetTx()
		t.emit(internalEvent{tag: tagTrans, code: evTransError,
			source: SrcTransportSend, err: ErrInternal})
	}
}

// rx is driven by the HAL on every characteristic write.
func (t *transport) rx(data []byte) {
	h, payload, err := decodeFrame(data)
	if err != nil {
		t.stats.addError()
		t.emit(internalEvent{tag: tagTrans, code: evTransError,
			source: SrcTransportRx, err: err})
		return
	}
	t.stats.addRxFrame(len(data))

	first := h.Index == h.Total-1
	if first {
		t.rxActive = true
		t.rxCmd = h.Cmd
		t.rxSeq = h.Seq
		t.rxTotal = h.Total
		t.rxNextIdx = h.Index
		t.rxFrames = 0
		t.rxBuf = t.rxBuf[:0]
		t.armRxTimer()
	} else if !t.rxActive || h.Cmd != t.rxCmd || h.Seq != t.rxSeq || h.Index != t.rxNextIdx {
		t.stats.addError()
		t.dropRx()
		t.emit(internalEvent{tag: tagTrans, code: evTransError,
			source: SrcTransportFwDataDisc, err: errBadFrameIndex})
		return
	}

	if len(t.rxBuf)+len(payload) > rxAssemblyMax {
		t.stats.addError()
		t.dropRx()
		t.emit(internalEvent{tag: tagTrans, code: evTransError,
			source: SrcTransportRxBuffSize, err: ErrRxBufSize})
		return
	}
	t.rxBuf = append(t.rxBuf, payload...)
	t.rxFrames++

	if h.Index > 0 {
		t.rxNextIdx = h.Index - 1
		return
	}

	// Final frame: message complete.
	t.stopRxTimer()
	cmd, frames := t.rxCmd, t.rxFrames
	assembled := make([]byte, len(t.rxBuf))
	copy(assembled, t.rxBuf)
	t.dropRx()

	if t.key != nil && t.policy(cmd) {
		plain, err := decryptPayload(t.key, assembled)
		if err != nil {
			log.Warnf("transport: decrypt cmd=0x%02X failed: %v", uint8(cmd), err)
			t.stats.addError()
			t.emit(internalEvent{tag: tagTrans, code: evTransError,
				source: SrcTransportRx, err: ErrInternal})
			return
		}
		assembled = plain
	}

	t.stats.addRxMessage()
	t.emit(internalEvent{tag: tagTrans, code: evTransRxDone,
		cmd: cmd, payload: assembled, numFrames: frames})
}

// updateKey installs the session key derived by auth.
func (t *transport) updateKey(key [sessionKeyLen]byte) error {
	t.key = append(t.key[:0], key[:]...)
	return nil
}

// reset drops all in-flight state; called on disconnect.
func (t *transport) reset() {
	t.stopTxTimer()
	t.stopRxTimer()
	t.resetTx()
	t.dropRx()
	t.key = nil
}

func (t *transport) resetTx() {
	t.txState = txStateIdle
	t.txBuf = nil
	t.txOff = 0
}

func (t *transport) dropRx() {
	t.rxActive = false
	t.rxBuf = t.rxBuf[:0]
	t.rxFrames = 0
}

func (t *transport) armTxTimer() {
	t.stopTxTimer()
	t.txGen++
	gen := t.txGen
	t.txTimer = time.AfterFunc(t.timeout, func() {
		t.exec(func() {
			if gen != t.txGen || t.txState != txStateSending {
				return
			}
			t.resetTx()
			t.stats.addError()
			t.emit(internalEvent{tag: tagTrans, code: evTransTxTimeout})
		})
	})
}

func (t *transport) armRxTimer() {
	t.stopRxTimer()
	t.rxGen++
	gen := t.rxGen
	t.rxTimer = time.AfterFunc(t.timeout, func() {
		t.exec(func() {
			if gen != t.rxGen || !t.rxActive {
				return
			}
			t.dropRx()
			t.stats.addError()
			t.emit(internalEvent{tag: tagTrans, code: evTransRxTimeout})
		})
	})
}

func (t *transport) stopTxTimer() {
	t.txGen++
	if t.txTimer != nil {
		t.txTimer.Stop()
		t.txTimer = nil
	}
}

func (t *transport) stopRxTimer() {
	t.rxGen++
	if t.rxTimer != nil {
		t.rxTimer.Stop()
		t.rxTimer = nil
	}
}
