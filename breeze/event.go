package breeze

// EventType enumerates the upward event stream.
type EventType uint8

const (
	EventConnected EventType = iota
	EventDisconnected
	EventAuthenticated
	EventTxDone
	EventRxCtrl
	EventRxQuery
	EventApInfo
	EventOtaCmd
	EventErr
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventAuthenticated:
		return "authenticated"
	case EventTxDone:
		return "tx-done"
	case EventRxCtrl:
		return "rx-ctrl"
	case EventRxQuery:
		return "rx-query"
	case EventApInfo:
		return "apinfo"
	case EventOtaCmd:
		return "ota-cmd"
	case EventErr:
		return "error"
	}
	return "unknown"
}

// Event is one entry of the upward stream. Payload is set for the rx
// events, Ota for EventOtaCmd, Source/Err for EventErr.
type Event struct {
	Type    EventType
	Payload []byte
	Ota     *OtaInfo
	Source  ErrorSource
	Err     error
}

// Internal event routing. Each subsystem owns one tag; the dispatcher
// routes strictly by tag, one handler per tag.
type evTag uint8

const (
	tagTrans evTag = iota
	tagAuth
	tagExt
)

type evCode uint8

const (
	evTransTxDone evCode = iota
	evTransRxDone
	evTransTxTimeout
	evTransRxTimeout
	evTransError

	evAuthDone
	evAuthKeyUpdate
	evAuthError

	evExtApInfo
	evExtError
)

type internalEvent struct {
	tag  evTag
	code evCode

	cmd       Cmd
	payload   []byte
	numFrames uint8

	result bool
	key    [sessionKeyLen]byte

	source ErrorSource
	err    error
}
