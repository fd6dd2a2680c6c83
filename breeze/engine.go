// Package breeze implements the device side of the Breeze BLE provisioning
// and control protocol: the advertising payload, the framed transport over
// the AIS GATT characteristics, the challenge/response authentication with
// session-key derivation, extended commands, and the OTA passthrough.
package breeze

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	engineMagic = 0x425A4531

	defaultMtu              = 20 // usable PDU payload before MTU exchange
	defaultMaxMtu           = 244
	defaultTransportTimeout = 10 * time.Second
	defaultAuthTimeout      = 10 * time.Second
	defaultSeqFlush         = time.Hour
)

// DeviceConfig carries everything the engine needs at init.
type DeviceConfig struct {
	ProductID     uint32
	ProductKey    []byte
	DeviceKey     []byte
	Secret        []byte // per-device secret
	ProductSecret []byte
	Version       string

	EnableOta        bool
	EnableAuth       bool
	UseProductSecret bool
	SignedAdv        bool

	MaxMTU           int           // upper bound on per-PDU payload size
	TransportTimeout time.Duration // RX/TX inactivity timeout
	AuthTimeout      time.Duration
	SeqFlushInterval time.Duration

	UserAdvData []byte

	// Encrypt overrides the payload-encryption policy; nil selects
	// DefaultEncryptPolicy.
	Encrypt EncryptPolicy

	// Upward callbacks. StatusChanged, SetCb, GetCb and ApInfoCb are
	// required; OtaCb may be nil when OTA is disabled.
	StatusChanged func(EventType)
	SetCb         func(payload []byte)
	GetCb         func(payload []byte)
	ApInfoCb      func(payload []byte)
	OtaCb         func(*OtaInfo)
}

// EngineStatus is the snapshot served by the status API.
type EngineStatus struct {
	Connected     bool   `json:"connected"`
	Authenticated bool   `json:"authenticated"`
	AuthState     string `json:"authState"`
	TxBusy        bool   `json:"txBusy"`
	Mtu           int    `json:"mtu"`
	AdvSeq        uint32 `json:"advSeq"`
	Version       string `json:"version"`
}

// Engine owns the protocol subsystems and translates their internal event
// stream into the upward callback surface. One engine serves exactly one
// central at a time.
type Engine struct {
	magic uint32

	mu        sync.Mutex
	ble       Ble
	store     SeqStore
	cfg       DeviceConfig
	transport *transport
	auth      *auth
	ext       *extcmd
	adv       *advBuilder
	stats     *Stats

	connected      bool
	serviceEnabled bool
	advSeq         uint32
	pending        []internalEvent
	closed         bool

	// Upward delivery: an ordered queue drained by the notifier
	// goroutine, so callbacks may re-enter Post without deadlock.
	evMu     sync.Mutex
	evCond   *sync.Cond
	evQueue  []Event
	evClosed bool

	subMu       sync.RWMutex
	subscribers []chan Event

	flushStop chan struct{}
	flushDone chan struct{}
}

// New builds the engine, loads the advertisement sequence, and starts
// advertising.
func New(ble Ble, store SeqStore, cfg DeviceConfig) (*Engine, error) {
	if ble == nil {
		return nil, ErrInvalidAddr
	}
	if cfg.StatusChanged == nil || cfg.SetCb == nil || cfg.GetCb == nil || cfg.ApInfoCb == nil {
		return nil, ErrInvalidAddr
	}
	if cfg.SignedAdv && store == nil {
		return nil, ErrInvalidAddr
	}
	if cfg.MaxMTU <= frameHeaderLen {
		cfg.MaxMTU = defaultMaxMtu
	}
	if cfg.TransportTimeout <= 0 {
		cfg.TransportTimeout = defaultTransportTimeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.SeqFlushInterval <= 0 {
		cfg.SeqFlushInterval = defaultSeqFlush
	}

	secret := cfg.Secret
	if cfg.UseProductSecret {
		secret = cfg.ProductSecret
	}

	e := &Engine{
		magic:     engineMagic,
		ble:       ble,
		store:     store,
		cfg:       cfg,
		stats:     &Stats{},
		flushStop: make(chan struct{}),
		flushDone: make(chan struct{}),
	}
	e.evCond = sync.NewCond(&e.evMu)

	e.transport = newTransport(ble, defaultMtu, cfg.TransportTimeout,
		cfg.Encrypt, e.stats, e.emit, e.exec)
	e.auth = newAuth(cfg.EnableAuth, secret, cfg.AuthTimeout,
		e.txIndicate, e.emit, e.exec)
	e.ext = newExtcmd(e.txIndicate, e.emit)

	mac, err := ble.Mac()
	if err != nil {
		return nil, err
	}
	e.adv = newAdvBuilder(cfg.ProductID, mac, cfg.EnableOta, cfg.EnableAuth,
		cfg.UseProductSecret, cfg.SignedAdv)
	e.adv.setUserData(cfg.UserAdvData)

	if store != nil {
		seq, err := store.Load()
		if err != nil {
			return nil, err
		}
		e.advSeq = seq
		if seq == 0 {
			store.Store(0)
		}
	}

	go e.notifierLoop()
	go e.flushLoop()

	if err := ble.AdvStart(e.advPayloadLocked()); err != nil {
		e.shutdownNotifier()
		close(e.flushStop)
		return nil, err
	}
	log.Infof("breeze: advertising started (model=0x%08X ota=%v auth=%v signed=%v)",
		cfg.ProductID, cfg.EnableOta, cfg.EnableAuth, cfg.SignedAdv)
	return e, nil
}

// guard rejects handles that were not produced by New, the Go rendering
// of the aligned-context precondition.
func (e *Engine) guard() error {
	if e == nil || e.magic != engineMagic {
		return ErrInvalidAddr
	}
	return nil
}

// exec runs fn under the engine lock and drains any internal events it
// raised; timers enter through here.
func (e *Engine) exec(fn func()) {
	e.mu.Lock()
	fn()
	e.drain()
	e.mu.Unlock()
}

func (e *Engine) emit(ev internalEvent) {
	e.pending = append(e.pending, ev)
}

// drain dispatches queued internal events by tag until none remain.
// Handlers run to completion and may enqueue further events.
func (e *Engine) drain() {
	for len(e.pending) > 0 {
		ev := e.pending[0]
		e.pending = e.pending[1:]
		switch ev.tag {
		case tagTrans:
			e.handleTrans(ev)
		case tagAuth:
			e.handleAuth(ev)
		case tagExt:
			e.handleExt(ev)
		}
	}
}

func (e *Engine) txIndicate(cmd Cmd, payload []byte) error {
	return e.transport.tx(TxIndication, cmd, payload)
}

// sendErrFrame notifies the central that its last message was rejected.
func (e *Engine) sendErrFrame() {
	if err := e.transport.send(TxNotification, CmdErr, nil); err != nil {
		e.notify(Event{Type: EventErr, Source: SrcTransportSend, Err: err})
	}
}

func (e *Engine) handleTrans(ev internalEvent) {
	switch ev.code {
	case evTransTxDone:
		if !ValidTx(ev.cmd) {
			e.sendErrFrame()
			return
		}
		if ev.cmd == CmdReply || ev.cmd == CmdStatus {
			e.notify(Event{Type: EventTxDone})
		}
		if e.cfg.OtaCb != nil && otaTxObservable(ev.cmd) {
			e.notify(Event{Type: EventOtaCmd, Ota: otaEvtInfo(OtaEvtTxDone, uint8(ev.cmd))})
		}

	case evTransRxDone:
		if !ValidRx(ev.cmd) {
			log.Warnf("breeze: invalid rx command 0x%02X", uint8(ev.cmd))
			e.sendErrFrame()
			return
		}

		e.auth.rxCommand(ev.cmd, ev.payload)

		// Application traffic stays gated until the handshake completes.
		if e.cfg.EnableAuth && !e.auth.authenticated {
			return
		}

		e.ext.rxCommand(ev.cmd, ev.payload)

		if ev.cmd.IsOta() && e.cfg.OtaCb != nil {
			e.notify(Event{Type: EventOtaCmd,
				Ota: otaCmdInfo(ev.cmd, ev.numFrames, ev.payload)})
		}

		if len(ev.payload) != 0 {
			switch ev.cmd {
			case CmdCtrl:
				e.notify(Event{Type: EventRxCtrl, Payload: ev.payload})
			case CmdQuery:
				e.notify(Event{Type: EventRxQuery, Payload: ev.payload})
			}
		}

	case evTransTxTimeout:
		e.notify(Event{Type: EventErr, Source: SrcTransportTxTimer, Err: ErrTimeout})

	case evTransRxTimeout:
		e.notify(Event{Type: EventErr, Source: SrcTransportRxTimer, Err: ErrTimeout})

	case evTransError:
		e.notify(Event{Type: EventErr, Source: ev.source, Err: ev.err})
		if !errors.Is(ev.err, ErrInternal) {
			e.sendErrFrame()
			if ev.source == SrcTransportFwDataDisc && e.cfg.OtaCb != nil {
				e.notify(Event{Type: EventOtaCmd, Ota: otaEvtInfo(OtaEvtDiscontinueErr, 0)})
			}
		}
	}
}

func (e *Engine) handleAuth(ev internalEvent) {
	switch ev.code {
	case evAuthDone:
		if e.cfg.OtaCb != nil {
			status := uint8(0)
			if ev.result {
				status = 1
			}
			e.notify(Event{Type: EventOtaCmd, Ota: otaEvtInfo(OtaEvtAuth, status)})
		}
		if !ev.result {
			e.sendErrFrame()
			if e.connected {
				e.ble.Disconnect(ReasonRemoteUserTermConn)
			}
			return
		}
		e.notify(Event{Type: EventAuthenticated})

	case evAuthKeyUpdate:
		if err := e.transport.updateKey(ev.key); err != nil {
			e.notify(Event{Type: EventErr, Source: SrcTransportSetKey, Err: err})
		}

	case evAuthError:
		if errors.Is(ev.err, ErrTimeout) && e.connected {
			e.ble.Disconnect(ReasonRemoteUserTermConn)
		}
		e.notify(Event{Type: EventErr, Source: ev.source, Err: ev.err})
	}
}

func (e *Engine) handleExt(ev internalEvent) {
	switch ev.code {
	case evExtApInfo:
		e.notify(Event{Type: EventApInfo, Payload: ev.payload})
	case evExtError:
		e.notify(Event{Type: EventErr, Source: ev.source, Err: ev.err})
	}
}

// Post queues an application message on the acknowledged indication path.
// cmd 0 is rewritten to STATUS.
func (e *Engine) Post(cmd Cmd, payload []byte) error {
	return e.post(TxIndication, cmd, payload)
}

// PostFast queues an application message on the unacknowledged
// notification path.
func (e *Engine) PostFast(cmd Cmd, payload []byte) error {
	return e.post(TxNotification, cmd, payload)
}

func (e *Engine) post(kind TxKind, cmd Cmd, payload []byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if cmd == 0 {
		cmd = CmdStatus
	}
	if !ValidTx(cmd) {
		e.notify(Event{Type: EventErr, Source: SrcTransportTx, Err: ErrInternal})
		return ErrInternal
	}

	e.mu.Lock()
	err := e.transport.tx(kind, cmd, payload)
	e.drain()
	e.mu.Unlock()
	return err
}

// ReplyExt sends an EXT_UP frame answering an extended downlink command.
func (e *Engine) ReplyExt(sub uint8, data []byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	e.mu.Lock()
	err := e.ext.reply(sub, data)
	e.drain()
	e.mu.Unlock()
	return err
}

// OnRx is driven by the BLE HAL on every characteristic write.
func (e *Engine) OnRx(data []byte) {
	if e.guard() != nil {
		return
	}
	e.exec(func() { e.transport.rx(data) })
}

// OnTxComplete is driven when the HAL has acknowledged n bytes of the
// last submitted PDU.
func (e *Engine) OnTxComplete(n int) {
	if e.guard() != nil {
		return
	}
	e.exec(func() {
		e.transport.txdone(n)
		e.auth.txDone()
	})
}

// OnConnect is driven when a central connects.
func (e *Engine) OnConnect() {
	if e.guard() != nil {
		return
	}
	e.exec(func() {
		e.connected = true
		e.transport.setMtu(defaultMtu)
		e.stats.addConnect()
		e.notify(Event{Type: EventConnected})
	})
}

// OnDisconnect resets the session; the flush timer keeps running since it
// guards persistent state, not session state.
func (e *Engine) OnDisconnect() {
	if e.guard() != nil {
		return
	}
	e.exec(func() {
		e.connected = false
		e.serviceEnabled = false
		e.auth.reset()
		e.transport.reset()
		e.notify(Event{Type: EventDisconnected})
		if e.cfg.OtaCb != nil {
			e.notify(Event{Type: EventOtaCmd, Ota: otaEvtInfo(OtaEvtDisconnected, 0)})
		}
	})
}

// OnServiceEnabled is driven when the central subscribes to the TX
// characteristic.
func (e *Engine) OnServiceEnabled() {
	if e.guard() != nil {
		return
	}
	e.exec(func() {
		e.serviceEnabled = true
		if !e.cfg.EnableAuth {
			return
		}
		e.auth.serviceEnabled()
		if e.cfg.OtaCb != nil {
			e.notify(Event{Type: EventOtaCmd, Ota: otaEvtInfo(OtaEvtAuth, 1)})
		}
	})
}

// OnMtuChanged applies a negotiated ATT MTU.
func (e *Engine) OnMtuChanged(attMtu int) {
	if e.guard() != nil {
		return
	}
	e.exec(func() {
		pdu := attMtu - 3
		if pdu > e.cfg.MaxMTU {
			pdu = e.cfg.MaxMTU
		}
		e.transport.setMtu(pdu)
		log.Debugf("breeze: mtu changed, pdu budget %d", pdu)
	})
}

// Disconnect tears the current connection down.
func (e *Engine) Disconnect() error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.ble.Disconnect(ReasonRemoteUserTermConn)
}

// advPayloadLocked assembles the advertisement, advancing the signed
// sequence. Caller holds no lock during New; afterwards e.mu.
func (e *Engine) advPayloadLocked() []byte {
	var seq uint32
	if e.cfg.SignedAdv {
		e.advSeq++
		seq = e.advSeq
	}
	return e.adv.payload(seq, e.auth.calcAdvSign)
}

// AdvData returns a freshly built advertisement payload.
func (e *Engine) AdvData() ([]byte, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advPayloadLocked(), nil
}

// RestartAdvertising stops and restarts advertising with a rebuilt
// payload (fresh signature and sequence when signed adv is on).
func (e *Engine) RestartAdvertising() error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.ble.AdvStop(); err != nil {
		log.Errorf("breeze: failed to stop previous adv: %v", err)
		return err
	}
	e.mu.Lock()
	payload := e.advPayloadLocked()
	e.mu.Unlock()
	return e.ble.AdvStart(payload)
}

// AppendAdvData stores vendor bytes appended to the advertisement on the
// next build.
func (e *Engine) AppendAdvData(data []byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if len(data) == 0 || len(data) > MaxVendorDataLen {
		return ErrDataSize
	}
	e.mu.Lock()
	e.adv.setUserData(data)
	e.mu.Unlock()
	return nil
}

// SetAdvSequence overrides the signed-adv sequence and persists it
// immediately.
func (e *Engine) SetAdvSequence(seq uint32) error {
	if err := e.guard(); err != nil {
		return err
	}
	e.mu.Lock()
	e.advSeq = seq
	e.mu.Unlock()
	if e.store != nil {
		return e.store.Store(seq)
	}
	return nil
}

// Status returns a point-in-time snapshot for the status API.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStatus{
		Connected:     e.connected,
		Authenticated: e.auth.authenticated,
		AuthState:     e.auth.state.String(),
		TxBusy:        e.transport.txState != txStateIdle,
		Mtu:           e.transport.mtu,
		AdvSeq:        e.advSeq,
		Version:       e.cfg.Version,
	}
}

// Stats exposes the transport counters.
func (e *Engine) Stats() StatsSnapshot {
	return e.stats.Snapshot()
}

// Subscribe returns a channel receiving every upward event. Slow
// subscribers lose events rather than stalling delivery.
func (e *Engine) Subscribe() chan Event {
	ch := make(chan Event, 64)
	e.subMu.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.subMu.Unlock()
	return ch
}

func (e *Engine) Unsubscribe(ch chan Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for i, s := range e.subscribers {
		if s == ch {
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Close stops advertising and shuts the engine down. The HAL stop status
// is returned honestly.
func (e *Engine) Close() error {
	if err := e.guard(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	seq := e.advSeq
	e.transport.reset()
	e.auth.reset()
	e.mu.Unlock()

	close(e.flushStop)
	<-e.flushDone
	if e.store != nil {
		if err := e.store.Store(seq); err != nil {
			log.Errorf("breeze: final seq flush failed: %v", err)
		}
	}

	err := e.ble.AdvStop()
	e.shutdownNotifier()
	return err
}

// notify appends to the upward queue; the notifier goroutine delivers it
// to the callbacks and fans it out to subscribers.
func (e *Engine) notify(ev Event) {
	e.evMu.Lock()
	if e.evClosed {
		e.evMu.Unlock()
		return
	}
	e.evQueue = append(e.evQueue, ev)
	e.evMu.Unlock()
	e.evCond.Signal()
}

func (e *Engine) notifierLoop() {
	for {
		e.evMu.Lock()
		for len(e.evQueue) == 0 && !e.evClosed {
			e.evCond.Wait()
		}
		if len(e.evQueue) == 0 && e.evClosed {
			e.evMu.Unlock()
			return
		}
		ev := e.evQueue[0]
		e.evQueue = e.evQueue[1:]
		e.evMu.Unlock()
		e.deliver(ev)
	}
}

func (e *Engine) deliver(ev Event) {
	switch ev.Type {
	case EventConnected, EventDisconnected, EventAuthenticated, EventTxDone:
		e.cfg.StatusChanged(ev.Type)
	case EventRxCtrl:
		e.cfg.SetCb(ev.Payload)
	case EventRxQuery:
		e.cfg.GetCb(ev.Payload)
	case EventApInfo:
		e.cfg.ApInfoCb(ev.Payload)
	case EventOtaCmd:
		if e.cfg.OtaCb != nil {
			e.cfg.OtaCb(ev.Ota)
		}
	case EventErr:
		log.Errorf("breeze: error source=%v err=%v", ev.Source, ev.Err)
	}

	e.subMu.RLock()
	for _, ch := range e.subscribers {
		// Non-blocking send, drop for slow subscribers
		select {
		case ch <- ev:
		default:
		}
	}
	e.subMu.RUnlock()
}

func (e *Engine) shutdownNotifier() {
	e.evMu.Lock()
	e.evClosed = true
	e.evMu.Unlock()
	e.evCond.Broadcast()
}

// flushLoop periodically persists the signed-adv sequence.
func (e *Engine) flushLoop() {
	defer close(e.flushDone)
	if e.store == nil {
		<-e.flushStop
		return
	}
	ticker := time.NewTicker(e.cfg.SeqFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.flushStop:
			return
		case <-ticker.C:
			e.mu.Lock()
			seq := e.advSeq
			e.mu.Unlock()
			if err := e.store.Store(seq); err != nil {
				log.Warnf("breeze: seq flush failed: %v", err)
			}
		}
	}
}
