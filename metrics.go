package happycache

import (
	"sync/atomic"
	"time"
)

// Metrics tracks operational statistics for a dump or load run. All
// counters are atomic; one Metrics instance may be shared by every
// worker of a pipeline. Metrics implements the observer interfaces the
// pipelines consume.
type Metrics struct {
	// Dump-side counters
	DirsVisited   atomic.Uint64 // Directories entered
	FilesScanned  atomic.Uint64 // Files probed for residency
	FilesSkipped  atomic.Uint64 // Files or directories skipped on error
	PagesScanned  atomic.Uint64 // Total pages covered by scanned files
	PagesResident atomic.Uint64 // Pages found resident
	GroupsWritten atomic.Uint64 // Map groups emitted

	// Load-side counters
	FilesOpened     atomic.Uint64 // Map paths opened successfully
	FileErrors      atomic.Uint64 // Map paths that failed to open
	TasksDispatched atomic.Uint64 // Prefetch tasks handed to workers
	PagesHinted     atomic.Uint64 // Pages passed to the read-ahead hint
	PagesWarm       atomic.Uint64 // Pages skipped because already resident
	BudgetExhausted atomic.Bool   // Page budget ran out before end of map

	// Run lifecycle
	StartTime atomic.Int64 // Run start timestamp (UnixNano)
	StopTime  atomic.Int64 // Run stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Stop records the end of the run
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// Duration returns the elapsed run time
func (m *Metrics) Duration() time.Duration {
	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if stop == 0 {
		stop = time.Now().UnixNano()
	}
	return time.Duration(stop - start)
}

// ObserveDir implements the dump observer
func (m *Metrics) ObserveDir() {
	m.DirsVisited.Add(1)
}

// ObserveFile implements the dump observer
func (m *Metrics) ObserveFile(pages, resident int64) {
	m.FilesScanned.Add(1)
	m.PagesScanned.Add(uint64(pages))
	m.PagesResident.Add(uint64(resident))
}

// ObserveSkip implements the dump observer
func (m *Metrics) ObserveSkip() {
	m.FilesSkipped.Add(1)
}

// ObserveGroup implements the dump observer
func (m *Metrics) ObserveGroup() {
	m.GroupsWritten.Add(1)
}

// ObserveFileOpen implements the load observer
func (m *Metrics) ObserveFileOpen() {
	m.FilesOpened.Add(1)
}

// ObserveFileError implements the load observer
func (m *Metrics) ObserveFileError() {
	m.FileErrors.Add(1)
}

// ObserveDispatch implements the load observer
func (m *Metrics) ObserveDispatch() {
	m.TasksDispatched.Add(1)
}

// ObserveHint implements the load observer
func (m *Metrics) ObserveHint(pages int64) {
	m.PagesHinted.Add(uint64(pages))
}

// ObserveResident implements the load observer
func (m *Metrics) ObserveResident(pages int64) {
	m.PagesWarm.Add(uint64(pages))
}

// ObserveBudgetExhausted implements the load observer
func (m *Metrics) ObserveBudgetExhausted() {
	m.BudgetExhausted.Store(true)
}

// MetricsSnapshot is a point-in-time copy of a Metrics instance
type MetricsSnapshot struct {
	DirsVisited   uint64 `json:"dirs_visited"`
	FilesScanned  uint64 `json:"files_scanned"`
	FilesSkipped  uint64 `json:"files_skipped"`
	PagesScanned  uint64 `json:"pages_scanned"`
	PagesResident uint64 `json:"pages_resident"`
	GroupsWritten uint64 `json:"groups_written"`

	FilesOpened     uint64 `json:"files_opened"`
	FileErrors      uint64 `json:"file_errors"`
	TasksDispatched uint64 `json:"tasks_dispatched"`
	PagesHinted     uint64 `json:"pages_hinted"`
	PagesWarm       uint64 `json:"pages_warm"`
	BudgetExhausted bool   `json:"budget_exhausted"`

	Duration time.Duration `json:"duration"`
}

// Snapshot returns a consistent-enough copy for reporting
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		DirsVisited:   m.DirsVisited.Load(),
		FilesScanned:  m.FilesScanned.Load(),
		FilesSkipped:  m.FilesSkipped.Load(),
		PagesScanned:  m.PagesScanned.Load(),
		PagesResident: m.PagesResident.Load(),
		GroupsWritten: m.GroupsWritten.Load(),

		FilesOpened:     m.FilesOpened.Load(),
		FileErrors:      m.FileErrors.Load(),
		TasksDispatched: m.TasksDispatched.Load(),
		PagesHinted:     m.PagesHinted.Load(),
		PagesWarm:       m.PagesWarm.Load(),
		BudgetExhausted: m.BudgetExhausted.Load(),

		Duration: m.Duration(),
	}
}
