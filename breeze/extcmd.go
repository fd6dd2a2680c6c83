package breeze

import log "github.com/sirupsen/logrus"

// Extended command sub-opcodes, carried in the first payload byte of
// EXT_DOWN / EXT_UP frames.
const (
	ExtSubApInfo uint8 = 0x01
)

// extcmd handles the extended up/down command pair. The one defined
// downlink sub-opcode delivers Wi-Fi AP info; replies go out as EXT_UP.
type extcmd struct {
	tx   func(cmd Cmd, payload []byte) error
	emit func(internalEvent)
}

func newExtcmd(tx func(Cmd, []byte) error, emit func(internalEvent)) *extcmd {
	return &extcmd{tx: tx, emit: emit}
}

func (x *extcmd) rxCommand(cmd Cmd, payload []byte) {
	if cmd != CmdExtDown {
		return
	}
	if len(payload) < 1 {
		x.emit(internalEvent{tag: tagExt, code: evExtError,
			source: SrcExtRx, err: ErrDataSize})
		return
	}

	switch payload[0] {
	case ExtSubApInfo:
		x.emit(internalEvent{tag: tagExt, code: evExtApInfo, payload: payload[1:]})
	default:
		log.Warnf("extcmd: unknown sub-opcode 0x%02X", payload[0])
		x.emit(internalEvent{tag: tagExt, code: evExtError,
			source: SrcExtRx, err: ErrInternal})
	}
}

// reply sends an EXT_UP frame for the given sub-opcode.
func (x *extcmd) reply(sub uint8, data []byte) error {
	buf := make([]byte, 1+len(data))
	buf[0] = sub
	copy(buf[1:], data)
	return x.tx(CmdExtUp, buf)
}
