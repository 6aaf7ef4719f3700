package happycache

import "sync"

// AdvisedRange is one recorded read-ahead hint.
type AdvisedRange struct {
	Fd     int
	Offset int64
	Length int64
}

// RecordingAdvisor is an Advisor that records every hint instead of
// issuing it. It lets applications embedding Load assert which ranges
// would have been prefetched without touching the page cache.
//
//	adv := happycache.NewRecordingAdvisor()
//	snap, err := happycache.Load(ctx, happycache.LoadOptions{
//		MapPath: mapPath,
//		Advisor: adv,
//	})
//	// inspect adv.Calls()
type RecordingAdvisor struct {
	mu     sync.Mutex
	calls  []AdvisedRange
	closed bool

	// Err, when set, is returned from every WillNeed call.
	Err error
}

// NewRecordingAdvisor creates an empty recording advisor.
func NewRecordingAdvisor() *RecordingAdvisor {
	return &RecordingAdvisor{}
}

// WillNeed implements the Advisor interface
func (a *RecordingAdvisor) WillNeed(fd int, offset, length int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, AdvisedRange{Fd: fd, Offset: offset, Length: length})
	return a.Err
}

// Close implements the Advisor interface
func (a *RecordingAdvisor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Calls returns a copy of the recorded hints in arrival order.
func (a *RecordingAdvisor) Calls() []AdvisedRange {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AdvisedRange, len(a.calls))
	copy(out, a.calls)
	return out
}

// CallCount returns the number of recorded hints.
func (a *RecordingAdvisor) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// Closed reports whether Close has been called.
func (a *RecordingAdvisor) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Reset discards the recorded hints.
func (a *RecordingAdvisor) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
}
