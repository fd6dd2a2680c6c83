package breeze

import (
	"sync"
	"testing"
	"time"
)

// mockBle is a scripted HAL: it records everything the engine submits and
// lets tests inject failures.
type mockBle struct {
	mu          sync.Mutex
	mac         [6]byte
	advPayloads [][]byte
	advStops    int
	notifies    [][]byte
	indications [][]byte
	disconnects []DisconnectReason

	notifyErr   error
	indicateErr error
	advErr      error
}

func newMockBle() *mockBle {
	return &mockBle{mac: [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}}
}

func (m *mockBle) AdvStart(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.advErr != nil {
		return m.advErr
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.advPayloads = append(m.advPayloads, cp)
	return nil
}

func (m *mockBle) AdvStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advStops++
	return nil
}

func (m *mockBle) Notify(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notifyErr != nil {
		return m.notifyErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.notifies = append(m.notifies, cp)
	return nil
}

func (m *mockBle) Indicate(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indicateErr != nil {
		return m.indicateErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.indications = append(m.indications, cp)
	return nil
}

func (m *mockBle) Disconnect(reason DisconnectReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects = append(m.disconnects, reason)
	return nil
}

func (m *mockBle) Mac() ([6]byte, error) { return m.mac, nil }

func (m *mockBle) lastAdv() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.advPayloads) == 0 {
		return nil
	}
	return m.advPayloads[len(m.advPayloads)-1]
}

func (m *mockBle) sentIndications() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.indications))
	copy(out, m.indications)
	return out
}

func (m *mockBle) sentNotifies() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.notifies))
	copy(out, m.notifies)
	return out
}

func (m *mockBle) disconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.disconnects)
}

// memStore is an in-memory SeqStore counting writes.
type memStore struct {
	mu     sync.Mutex
	seq    uint32
	writes int
}

func (s *memStore) Load() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, nil
}

func (s *memStore) Store(seq uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = seq
	s.writes++
	return nil
}

// harness wires an engine to channel-backed callbacks.
type harness struct {
	e      *Engine
	ble    *mockBle
	store  *memStore
	events chan Event
	status chan EventType
	ctrl   chan []byte
	query  chan []byte
	apinfo chan []byte
	ota    chan *OtaInfo
}

func newHarness(t *testing.T, mutate func(*DeviceConfig)) *harness {
	t.Helper()

	h := &harness{
		ble:    newMockBle(),
		store:  &memStore{},
		status: make(chan EventType, 32),
		ctrl:   make(chan []byte, 32),
		query:  make(chan []byte, 32),
		apinfo: make(chan []byte, 32),
		ota:    make(chan *OtaInfo, 32),
	}

	cfg := DeviceConfig{
		ProductID:        0x01020304,
		Secret:           []byte("SSSSSSSSSSSSSSSS"),
		Version:          "1.0.0-test",
		EnableOta:        true,
		EnableAuth:       true,
		TransportTimeout: time.Second,
		AuthTimeout:      time.Second,
		StatusChanged:    func(ev EventType) { h.status <- ev },
		SetCb:            func(p []byte) { h.ctrl <- p },
		GetCb:            func(p []byte) { h.query <- p },
		ApInfoCb:         func(p []byte) { h.apinfo <- p },
		OtaCb:            func(i *OtaInfo) { h.ota <- i },
	}
	if mutate != nil {
		mutate(&cfg)
	}

	e, err := New(h.ble, h.store, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.e = e
	h.events = e.Subscribe()
	t.Cleanup(func() { e.Close() })
	return h
}

// connect drives the usual connection preamble.
func (h *harness) connect() {
	h.e.OnConnect()
	h.e.OnServiceEnabled()
}

// rxFrame feeds one encoded frame to the engine.
func (h *harness) rxFrame(cmd Cmd, seq, index, total uint8, payload []byte) {
	h.e.OnRx(mkFrame(cmd, seq, index, total, payload))
}

func mkFrame(cmd Cmd, seq, index, total uint8, payload []byte) []byte {
	buf := make([]byte, frameHeaderLen+len(payload))
	n, err := encodeFrame(buf, cmd, seq, index, total, payload)
	if err != nil {
		panic(err)
	}
	return buf[:n]
}

func waitEvent(t *testing.T, ch <-chan Event, typ EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v event", typ)
		}
	}
}

func waitErrEvent(t *testing.T, ch <-chan Event, src ErrorSource) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == EventErr && ev.Source == src {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for error from %v", src)
		}
	}
}

func expectNo[T any](t *testing.T, ch <-chan T, d time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected %s", what)
	case <-time.After(d):
	}
}

// drainTx acknowledges submitted PDUs until the HAL has seen want of them.
func (h *harness) drainTx(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	acked := 0
	for acked < want {
		if time.Now().After(deadline) {
			t.Fatalf("HAL saw %d PDUs, want %d", acked, want)
		}
		total := len(h.ble.sentIndications()) + len(h.ble.sentNotifies())
		if total > acked {
			h.e.OnTxComplete(1)
			acked++
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}
