package breeze

// OTA passthrough. The engine forwards OTA-typed commands and a handful of
// observable events to the external OTA handler; no OTA logic lives here.

// OtaInfoType distinguishes forwarded commands from synthetic events.
type OtaInfoType uint8

const (
	OtaTypeCmd OtaInfoType = iota
	OtaTypeEvt
)

// OtaEvent enumerates the synthetic events the OTA handler observes.
type OtaEvent uint8

const (
	// OtaEvtAuth reports the authentication result (Status 1 = success).
	OtaEvtAuth OtaEvent = iota
	// OtaEvtTxDone reports completion of an OTA-relevant outbound message.
	OtaEvtTxDone
	// OtaEvtDisconnected reports link loss.
	OtaEvtDisconnected
	// OtaEvtDiscontinueErr reports a frame discontinuity mid-transfer.
	OtaEvtDiscontinueErr
)

// OtaInfo is the unit delivered to the OTA callback.
type OtaInfo struct {
	Type OtaInfoType

	// Command fields (OtaTypeCmd)
	Cmd       Cmd
	NumFrames uint8
	Payload   []byte

	// Event fields (OtaTypeEvt)
	Evt    OtaEvent
	Status uint8
}

func otaCmdInfo(cmd Cmd, numFrames uint8, payload []byte) *OtaInfo {
	return &OtaInfo{Type: OtaTypeCmd, Cmd: cmd, NumFrames: numFrames, Payload: payload}
}

func otaEvtInfo(evt OtaEvent, status uint8) *OtaInfo {
	return &OtaInfo{Type: OtaTypeEvt, Evt: evt, Status: status}
}

// otaTxObservable reports whether a completed outbound command produces a
// synthetic tx-done event for the OTA handler.
func otaTxObservable(cmd Cmd) bool {
	return cmd == CmdOtaCheckResult || cmd == CmdErr || cmd == CmdOtaPubSize
}
