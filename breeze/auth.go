package breeze

import (
	"crypto/subtle"
	"time"

	log "github.com/sirupsen/logrus"
)

type authState uint8

const (
	authIdle authState = iota
	authRandSent
	authAwaitCfm
	authDone
	authFailed
)

func (s authState) String() string {
	switch s {
	case authIdle:
		return "idle"
	case authRandSent:
		return "rand-sent"
	case authAwaitCfm:
		return "await-cfm"
	case authDone:
		return "done"
	case authFailed:
		return "failed"
	}
	return "unknown"
}

const nonceLen = 16

// auth runs the random-nonce challenge/response handshake and derives the
// per-session payload key. All methods run under the engine lock.
type auth struct {
	enabled bool
	secret  []byte // active secret: device or product, per config
	timeout time.Duration

	tx   func(cmd Cmd, payload []byte) error // indication path
	emit func(internalEvent)
	exec func(func())

	// randRead is swappable so tests can pin the device nonce.
	randRead func([]byte) error

	state         authState
	authenticated bool
	rspPending    bool // AUTH_RSP submitted, completion pending
	deviceNonce   [nonceLen]byte
	peerNonce     [nonceLen]byte
	sessionKey    [sessionKeyLen]byte

	timer *time.Timer
	gen   uint64
}

func newAuth(enabled bool, secret []byte, timeout time.Duration,
	tx func(Cmd, []byte) error, emit func(internalEvent), exec func(func())) *auth {
	return &auth{
		enabled:  enabled,
		secret:   secret,
		timeout:  timeout,
		tx:       tx,
		emit:     emit,
		exec:     exec,
		randRead: randomBytes,
	}
}

// serviceEnabled starts the handshake window: the central must complete
// authentication within the timeout or the link is torn down.
func (a *auth) serviceEnabled() {
	if !a.enabled {
		return
	}
	a.state = authIdle
	a.authenticated = false
	a.armTimer()
}

// rxCommand inspects every assembled inbound message and consumes the
// AUTH_* ones.
func (a *auth) rxCommand(cmd Cmd, payload []byte) {
	if !a.enabled || !cmd.IsAuth() {
		return
	}

	switch cmd {
	case CmdAuthReq:
		if a.state != authIdle {
			log.Debugf("auth: AUTH_REQ in state %v ignored", a.state)
			return
		}
		if len(payload) < nonceLen {
			a.fail(SrcAuthProc, ErrDataSize)
			return
		}
		copy(a.peerNonce[:], payload[:nonceLen])
		if err := a.randRead(a.deviceNonce[:]); err != nil {
			log.Errorf("auth: nonce generation failed: %v", err)
			a.fail(SrcAuthProc, ErrInternal)
			return
		}
		if err := a.tx(CmdAuthRand, a.deviceNonce[:]); err != nil {
			a.fail(SrcAuthProc, ErrInternal)
			return
		}
		a.state = authRandSent

	case CmdAuthCfm:
		if a.state != authRandSent {
			log.Debugf("auth: AUTH_CFM in state %v ignored", a.state)
			return
		}
		expected := sha256Trunc16(a.deviceNonce[:], a.secret)
		if len(payload) < sessionKeyLen ||
			subtle.ConstantTimeCompare(payload[:sessionKeyLen], expected[:]) != 1 {
			log.Warn("auth: peer response mismatch")
			a.fail(SrcAuthProc, ErrInternal)
			return
		}
		a.state = authAwaitCfm

		a.sessionKey = sha256Trunc16(a.deviceNonce[:], a.peerNonce[:], a.secret)
		a.emit(internalEvent{tag: tagAuth, code: evAuthKeyUpdate, key: a.sessionKey})

		deviceResp := sha256Trunc16(a.peerNonce[:], a.secret)
		if err := a.tx(CmdAuthRsp, deviceResp[:]); err != nil {
			a.fail(SrcAuthProc, ErrInternal)
			return
		}
		a.rspPending = true
	}
}

// txDone is driven on every completed PDU; it finalizes the handshake
// once the AUTH_RSP made it out.
func (a *auth) txDone() {
	if !a.rspPending {
		return
	}
	a.rspPending = false
	a.authenticated = true
	a.state = authDone
	a.stopTimer()
	a.emit(internalEvent{tag: tagAuth, code: evAuthDone, result: true})
}

func (a *auth) fail(src ErrorSource, err error) {
	a.state = authFailed
	a.authenticated = false
	a.stopTimer()
	a.emit(internalEvent{tag: tagAuth, code: evAuthError, source: src, err: err})
	a.emit(internalEvent{tag: tagAuth, code: evAuthDone, result: false})
}

// calcAdvSign signs an advertisement payload with the active secret.
func (a *auth) calcAdvSign(advPayload []byte, seq uint32) [4]byte {
	return advSign(advPayload, seq, a.secret)
}

// reset returns the machine to idle; called on disconnect.
func (a *auth) reset() {
	a.stopTimer()
	a.state = authIdle
	a.authenticated = false
	a.rspPending = false
	a.deviceNonce = [nonceLen]byte{}
	a.peerNonce = [nonceLen]byte{}
	a.sessionKey = [sessionKeyLen]byte{}
}

func (a *auth) armTimer() {
	a.stopTimer()
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(a.timeout, func() {
		a.exec(func() {
			if gen != a.gen || a.state == authDone || a.state == authFailed {
				return
			}
			a.state = authFailed
			a.emit(internalEvent{tag: tagAuth, code: evAuthError,
				source: SrcAuthTimer, err: ErrTimeout})
		})
	})
}

func (a *auth) stopTimer() {
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
