package breeze

import "sync"

// Stats counts transport traffic and faults. It has its own lock so the
// status API can snapshot it without touching the engine lock.
type Stats struct {
	mu sync.Mutex

	txFrames   uint64
	rxFrames   uint64
	txMessages uint64
	rxMessages uint64
	txBytes    uint64
	rxBytes    uint64
	errors     uint64
	connects   uint64
}

// StatsSnapshot is the JSON-friendly view served by /api/stats.
type StatsSnapshot struct {
	TxFrames   uint64 `json:"txFrames"`
	RxFrames   uint64 `json:"rxFrames"`
	TxMessages uint64 `json:"txMessages"`
	RxMessages uint64 `json:"rxMessages"`
	TxBytes    uint64 `json:"txBytes"`
	RxBytes    uint64 `json:"rxBytes"`
	Errors     uint64 `json:"errors"`
	Connects   uint64 `json:"connects"`
}

func (s *Stats) addTxFrame(n int) {
	s.mu.Lock()
	s.txFrames++
	s.txBytes += uint64(n)
	s.mu.Unlock()
}

func (s *Stats) addRxFrame(n int) {
	s.mu.Lock()
	s.rxFrames++
	s.rxBytes += uint64(n)
	s.mu.Unlock()
}

func (s *Stats) addTxMessage() {
	s.mu.Lock()
	s.txMessages++
	s.mu.Unlock()
}

func (s *Stats) addRxMessage() {
	s.mu.Lock()
	s.rxMessages++
	s.mu.Unlock()
}

func (s *Stats) addError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

func (s *Stats) addConnect() {
	s.mu.Lock()
	s.connects++
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		TxFrames:   s.txFrames,
		RxFrames:   s.rxFrames,
		TxMessages: s.txMessages,
		RxMessages: s.rxMessages,
		TxBytes:    s.txBytes,
		RxBytes:    s.rxBytes,
		Errors:     s.errors,
		Connects:   s.connects,
	}
}
