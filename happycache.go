// Package happycache captures and restores the OS page-cache residency
// of a directory tree.
//
// Dump walks a tree, asks the kernel which pages of each regular file
// are resident, and writes a compressed map. Load reads such a map and
// hints the kernel to pull those pages back in, warming application
// caches after a reboot without waiting for an organic warm-up.
//
// Example:
//
//	snap, err := happycache.Dump(context.Background(), happycache.DumpOptions{
//		Root: "/var/lib/db",
//	})
package happycache

import (
	"context"
	"runtime"

	"github.com/klauspost/compress/gzip"

	"github.com/hashbrowncipher/happycache/internal/advise"
	"github.com/hashbrowncipher/happycache/internal/constants"
	"github.com/hashbrowncipher/happycache/internal/dump"
	"github.com/hashbrowncipher/happycache/internal/load"
	"github.com/hashbrowncipher/happycache/internal/logging"
	"github.com/hashbrowncipher/happycache/internal/mapfile"
)

// DumpOptions configures a Dump run.
type DumpOptions struct {
	// Root is the directory tree to scan (default ".").
	Root string

	// MapPath is where the map is written (default ".happycache.gz" in
	// the working directory). Output goes through a sibling temporary
	// file and an atomic rename.
	MapPath string

	// Workers is the scan pool size (default online CPUs × 8).
	Workers int

	// GzipLevel is the map compression level (default 1; the residency
	// scan, not the codec, is the bottleneck).
	GzipLevel int

	// Logger receives diagnostics (default the package logger).
	Logger *Logger
}

// LoadOptions configures a Load run.
type LoadOptions struct {
	// MapPath is the map to read (default ".happycache.gz").
	MapPath string

	// Workers is the prefetch pool size (default online CPUs × 8).
	Workers int

	// MaxPages caps the pages dispatched across the run; 0 means total
	// system RAM in pages.
	MaxPages int64

	// IOUring batches read-ahead hints through io_uring. Requires a
	// binary built with -tags giouring; otherwise Load fails with
	// ErrCodeUnsupported.
	IOUring bool

	// Advisor overrides how hints are issued; tests use a
	// RecordingAdvisor here. The caller keeps ownership: Load does not
	// Close a supplied advisor. Takes precedence over IOUring.
	Advisor Advisor

	// Logger receives diagnostics (default the package logger).
	Logger *Logger
}

// Advisor issues read-ahead hints for byte ranges of open files. The
// default implementations cover fadvise and io_uring; RecordingAdvisor
// is the test double.
type Advisor interface {
	// WillNeed hints that [offset, offset+length) will be read soon.
	WillNeed(fd int, offset, length int64) error

	// Close releases any resources held by the advisor.
	Close() error
}

// Logger is the diagnostic sink used by the pipelines.
type Logger = logging.Logger

// DefaultWorkers returns the default worker-pool size for this machine.
func DefaultWorkers() int {
	return runtime.NumCPU() * constants.WorkersPerCPU
}

// Dump scans opts.Root and writes the residency map. Per-file failures
// are logged and skipped; the returned error is nil unless the root
// cannot be opened or the map cannot be written.
func Dump(ctx context.Context, opts DumpOptions) (*MetricsSnapshot, error) {
	if opts.Root == "" {
		opts.Root = "."
	}
	if opts.MapPath == "" {
		opts.MapPath = constants.DefaultMapName
	}
	if opts.GzipLevel == 0 {
		opts.GzipLevel = gzip.BestSpeed
	}

	w, err := mapfile.Create(opts.MapPath, opts.GzipLevel)
	if err != nil {
		return nil, WrapError("create map", opts.MapPath, err)
	}

	m := NewMetrics()
	err = dump.Run(ctx, dump.Config{
		Root:     opts.Root,
		Writer:   w,
		Workers:  opts.Workers,
		Logger:   opts.Logger,
		Observer: m,
	})
	if err != nil {
		w.Abort()
		return nil, WrapError("dump", opts.Root, err)
	}
	if err := w.Close(); err != nil {
		return nil, WrapError("write map", opts.MapPath, err)
	}

	m.Stop()
	snap := m.Snapshot()
	return &snap, nil
}

// Load reads the map at opts.MapPath and issues read-ahead hints for
// every recorded page. Unopenable paths are logged and skipped; a
// corrupt map or an unreadable map file is fatal.
func Load(ctx context.Context, opts LoadOptions) (*MetricsSnapshot, error) {
	if opts.MapPath == "" {
		opts.MapPath = constants.DefaultMapName
	}

	var advisor advise.Advisor
	switch {
	case opts.Advisor != nil:
		advisor = opts.Advisor
	case opts.IOUring:
		ring, err := advise.NewRing(uint32(constants.MaxAdvisePages * 8))
		if err != nil {
			return nil, &Error{Op: "load", Code: ErrCodeUnsupported, Msg: err.Error(), Inner: err}
		}
		defer ring.Close()
		advisor = ring
	default:
		advisor = advise.New()
		defer advisor.Close()
	}

	m := NewMetrics()
	err := load.Run(ctx, load.Config{
		MapPath:  opts.MapPath,
		Workers:  opts.Workers,
		MaxPages: opts.MaxPages,
		Advisor:  advisor,
		Logger:   opts.Logger,
		Observer: m,
	})
	if err != nil {
		return nil, WrapError("load", opts.MapPath, err)
	}

	m.Stop()
	snap := m.Snapshot()
	return &snap, nil
}
