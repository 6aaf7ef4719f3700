// Package load parses a residency map and asks the kernel to pull the
// recorded pages back into the page cache.
package load

import (
	"context"
	"io"
	"math"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/hashbrowncipher/happycache/internal/advise"
	"github.com/hashbrowncipher/happycache/internal/constants"
	"github.com/hashbrowncipher/happycache/internal/logging"
	"github.com/hashbrowncipher/happycache/internal/mapfile"
	"github.com/hashbrowncipher/happycache/internal/pages"
	"github.com/hashbrowncipher/happycache/internal/queue"
)

// Observer receives pipeline events. Implementations must be safe for
// concurrent use; a nil Observer disables collection.
type Observer interface {
	// ObserveFileOpen is called when a map path opens successfully.
	ObserveFileOpen()
	// ObserveFileError is called when a map path cannot be opened.
	ObserveFileError()
	// ObserveDispatch is called per prefetch task handed to a worker.
	ObserveDispatch()
	// ObserveHint is called with the number of pages hinted.
	ObserveHint(pages int64)
	// ObserveResident is called with the number of pages skipped
	// because they were already resident.
	ObserveResident(pages int64)
	// ObserveBudgetExhausted is called once when the page budget runs
	// out and the remaining map entries stop being dispatched.
	ObserveBudgetExhausted()
}

// Config parameterizes a load run.
type Config struct {
	// MapPath is the compressed map to read.
	MapPath string

	// Workers is the prefetch pool size; defaults to online CPUs × 8.
	Workers int

	// MaxPages caps the total pages dispatched across the run; 0 means
	// total system RAM in pages. The cap is a guard against
	// pathological inputs, not an exact budget.
	MaxPages int64

	// PageSize defaults to the system page size.
	PageSize int

	// Advisor issues the read-ahead hints; defaults to the syscall
	// implementation.
	Advisor advise.Advisor

	Logger   *logging.Logger
	Observer Observer
}

// file is an open input file shared by the parser and in-flight tasks.
// The reference count covers the parser (while the file is current) and
// every task naming the file; the mapping and descriptor are released on
// the zero crossing.
type file struct {
	fd    int
	m     []byte
	size  int64
	pages int64
	path  string
	refs  atomic.Int32
}

func (f *file) ref() {
	f.refs.Add(1)
}

func (f *file) unref() {
	if f.refs.Add(-1) != 0 {
		return
	}
	if f.m != nil {
		unix.Munmap(f.m)
	}
	unix.Close(f.fd)
}

// task is a prefetch work item. Tasks are allocated once at pool init
// and recycled through the free list; a recycled task keeps its last
// file reference until the parser reuses it.
type task struct {
	file  *file
	page  int64
	count int64
}

type loader struct {
	work     *queue.List[*task]
	free     *queue.List[*task]
	advisor  advise.Advisor
	pageSize int
	log      *logging.Logger
	obs      Observer

	budget       int64
	budgetWarned bool

	// seams for tests
	open     func(path string) *file
	prefetch func(t *task)
}

func newLoader(cfg Config) *loader {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = os.Getpagesize()
	}
	adv := cfg.Advisor
	if adv == nil {
		adv = advise.New()
	}
	budget := cfg.MaxPages
	if budget <= 0 {
		budget = totalRAMPages(pageSize)
	}

	l := &loader{
		work:     queue.New[*task](),
		free:     queue.New[*task](),
		advisor:  adv,
		pageSize: pageSize,
		log:      log,
		obs:      cfg.Observer,
		budget:   budget,
	}
	l.open = l.openFile
	l.prefetch = l.doPrefetch
	return l
}

// totalRAMPages is the default dispatch ceiling: no useful map asks for
// more pages than fit in memory.
func totalRAMPages(pageSize int) int64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return math.MaxInt64
	}
	total := uint64(info.Totalram) * uint64(info.Unit)
	return int64(total / uint64(pageSize))
}

// Run streams cfg.MapPath through a worker pool issuing prefetch hints.
// Unopenable paths are logged and skipped; a corrupt or truncated map
// stream is fatal.
func Run(ctx context.Context, cfg Config) error {
	reader, err := mapfile.Open(cfg.MapPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	return newLoader(cfg).run(ctx, reader, cfg.Workers)
}

func (l *loader) run(ctx context.Context, reader *mapfile.Reader, workers int) error {
	if workers <= 0 {
		workers = runtime.NumCPU() * constants.WorkersPerCPU
	}

	for i := 0; i < workers*constants.TasksPerWorker; i++ {
		l.free.PushTail(&task{})
	}

	// Cancellation unblocks a parser waiting on the free list.
	watcherDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.free.Close()
		case <-watcherDone:
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.worker()
		}()
	}

	parseErr := l.parse(ctx, reader)

	// Drain: finish outstanding work, then release the references held
	// by recycled tasks.
	l.work.Close()
	wg.Wait()
	close(watcherDone)
	l.free.Close()
	for {
		t, ok := l.free.PopHead()
		if !ok {
			break
		}
		if t.file != nil {
			t.file.unref()
		}
	}

	if parseErr != nil {
		return parseErr
	}
	return ctx.Err()
}

// parse reads lines and dispatches one task per delta. The cursor page
// is -1 between files; any line arriving in that state is a path. Inside
// a file, a line that does not wholly parse as a non-negative integer is
// the next path, which is what makes the format self-delimiting.
func (l *loader) parse(ctx context.Context, reader *mapfile.Reader) error {
	page := int64(-1)
	var cur *file
	defer func() {
		if cur != nil {
			cur.unref()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if page < 0 {
			cur = l.open(line)
			page = 0
			continue
		}

		if d, ok := mapfile.ParseDelta(line); ok {
			if d > math.MaxInt64 || page > math.MaxInt64-int64(d) {
				page = math.MaxInt64
			} else {
				page += int64(d)
			}
			if cur != nil && page < cur.pages {
				if !l.dispatch(cur, page) {
					return nil
				}
			}
			continue
		}

		if cur != nil {
			cur.unref()
			cur = nil
		}
		cur = l.open(line)
		page = 0
	}
}

func (l *loader) openFile(path string) *file {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		l.log.Warn("could not open file", "path", path, "error", err)
		if l.obs != nil {
			l.obs.ObserveFileError()
		}
		return nil
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		l.log.Warn("could not stat file", "path", path, "error", err)
		unix.Close(fd)
		if l.obs != nil {
			l.obs.ObserveFileError()
		}
		return nil
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG || st.Size == 0 {
		unix.Close(fd)
		return nil
	}

	m, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		l.log.Warn("could not map file", "path", path, "error", err)
		unix.Close(fd)
		if l.obs != nil {
			l.obs.ObserveFileError()
		}
		return nil
	}
	// Read-ahead is driven by explicit hints, not fault clustering.
	unix.Madvise(m, unix.MADV_RANDOM)

	f := &file{
		fd:    fd,
		m:     m,
		size:  st.Size,
		pages: pages.Count(st.Size, l.pageSize),
		path:  path,
	}
	f.refs.Store(1)
	if l.obs != nil {
		l.obs.ObserveFileOpen()
	}
	return f
}

// dispatch hands one page to the pool. Popping the free list is the
// pipeline's backpressure; it blocks while all tasks are in flight.
// Returns false when the run is cancelled.
func (l *loader) dispatch(f *file, page int64) bool {
	if l.budget <= 0 {
		if !l.budgetWarned {
			l.log.Warn("page budget exhausted, ignoring remaining map entries")
			if l.obs != nil {
				l.obs.ObserveBudgetExhausted()
			}
			l.budgetWarned = true
		}
		return true
	}

	t, ok := l.free.PopHead()
	if !ok {
		return false
	}
	if t.file != nil {
		t.file.unref()
		t.file = nil
	}

	f.ref()
	t.file = f
	t.page = page
	t.count = 1
	l.budget--
	l.work.PushTail(t)
	if l.obs != nil {
		l.obs.ObserveDispatch()
	}
	return true
}

func (l *loader) worker() {
	for {
		t, ok := l.work.PopHead()
		if !ok {
			return
		}
		l.prefetch(t)
		// The task keeps its file reference until the parser recycles
		// it; the free list is where references go to die.
		l.free.PushTail(t)
	}
}

// doPrefetch hints the task's page range, skipping pages the kernel
// already holds and coalescing adjacent cold pages into requests of at
// most MaxAdvisePages.
func (l *loader) doPrefetch(t *task) {
	f := t.file
	end := t.page + t.count
	if end > f.pages {
		end = f.pages
	}
	if t.page >= end {
		return
	}

	ps := int64(l.pageSize)
	offB := t.page * ps
	endB := end * ps
	if endB > f.size {
		endB = f.size
	}

	vec, err := pages.Resident(f.m[offB:endB], l.pageSize)
	if err != nil {
		// Without residency data, hint the whole range.
		if aerr := l.advisor.WillNeed(f.fd, offB, endB-offB); aerr != nil {
			l.log.Debug("read-ahead hint failed", "path", f.path, "error", aerr)
		}
		if l.obs != nil {
			l.obs.ObserveHint(end - t.page)
		}
		return
	}

	var cold int64
	for _, r := range pages.ColdRuns(vec, constants.MaxAdvisePages) {
		runOff := offB + r.Start*ps
		runLen := r.Len * ps
		if runOff+runLen > f.size {
			runLen = f.size - runOff
		}
		if err := l.advisor.WillNeed(f.fd, runOff, runLen); err != nil {
			l.log.Debug("read-ahead hint failed", "path", f.path, "error", err)
		}
		cold += r.Len
	}
	if l.obs != nil {
		l.obs.ObserveHint(cold)
		l.obs.ObserveResident((end - t.page) - cold)
	}
}
