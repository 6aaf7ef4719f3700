// Package dump walks a directory tree in parallel and writes the
// residency map for every regular file it finds.
package dump

import (
	"context"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/hashbrowncipher/happycache/internal/constants"
	"github.com/hashbrowncipher/happycache/internal/logging"
	"github.com/hashbrowncipher/happycache/internal/mapfile"
	"github.com/hashbrowncipher/happycache/internal/pages"
	"github.com/hashbrowncipher/happycache/internal/queue"
)

// Observer receives pipeline events. Implementations must be safe for
// concurrent use; a nil Observer disables collection.
type Observer interface {
	// ObserveDir is called once per directory entered.
	ObserveDir()
	// ObserveFile is called per scanned file with its page counts.
	ObserveFile(pages, resident int64)
	// ObserveSkip is called when a file or directory is skipped on error.
	ObserveSkip()
	// ObserveGroup is called when a group is written to the map.
	ObserveGroup()
}

// Config parameterizes a dump run.
type Config struct {
	// Root is the directory to walk.
	Root string

	// Writer receives the per-file groups.
	Writer *mapfile.Writer

	// Workers is the pool size; defaults to online CPUs × 8.
	Workers int

	// PageSize defaults to the system page size.
	PageSize int

	Logger   *logging.Logger
	Observer Observer
}

// frame is a directory-iteration context. Exactly one worker owns a
// frame at any time; ownership transfers through the work list.
type frame struct {
	dir     *os.File
	path    string
	pending []os.DirEntry
}

type dumper struct {
	work     *queue.List[*frame]
	writer   *mapfile.Writer
	pageSize int
	log      *logging.Logger
	obs      Observer

	// openDirs counts frames that have been created but not yet
	// exhausted. The worker that decrements it to zero closes the work
	// list, terminating the pool.
	openDirs atomic.Int64

	errOnce sync.Once
	err     error

	// scan is the residency probe; replaced in tests.
	scan func(fd int, size int64, pageSize int) ([]uint64, error)
}

func newDumper(cfg Config) *dumper {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = os.Getpagesize()
	}
	return &dumper{
		work:     queue.New[*frame](),
		writer:   cfg.Writer,
		pageSize: pageSize,
		log:      log,
		obs:      cfg.Observer,
		scan:     pages.ScanDeltas,
	}
}

// Run walks cfg.Root with a fixed worker pool and writes every file's
// resident pages to cfg.Writer. Per-file failures are logged and
// skipped; only the root open and map write failures are fatal.
func Run(ctx context.Context, cfg Config) error {
	d := newDumper(cfg)

	root, err := os.Open(cfg.Root)
	if err != nil {
		return err
	}
	fi, err := root.Stat()
	if err != nil {
		root.Close()
		return err
	}
	if !fi.IsDir() {
		root.Close()
		return &os.PathError{Op: "dump", Path: cfg.Root, Err: unix.ENOTDIR}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * constants.WorkersPerCPU
	}

	d.openDirs.Store(1)
	if d.obs != nil {
		d.obs.ObserveDir()
	}
	d.work.PushHead(&frame{dir: root, path: cfg.Root})

	watcherDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			d.work.Close()
		case <-watcherDone:
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}
	wg.Wait()
	close(watcherDone)

	// A cancelled run leaves frames on the list; release their handles.
	for {
		fr, ok := d.work.PopHead()
		if !ok {
			break
		}
		fr.dir.Close()
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return d.err
}

func (d *dumper) setErr(err error) {
	d.errOnce.Do(func() { d.err = err })
}

func (d *dumper) worker(ctx context.Context) {
	for {
		fr, ok := d.work.PopHead()
		if !ok {
			return
		}
		d.drainFrame(ctx, fr)
	}
}

// drainFrame iterates a frame to exhaustion. Descending into a child
// directory pushes the current frame back at the head of the work list
// and continues into the child in this worker, so traversal stays
// depth-first and directory handles stay warm.
func (d *dumper) drainFrame(ctx context.Context, fr *frame) {
	cur := fr
	for {
		if ctx.Err() != nil {
			d.finishFrame(cur)
			return
		}

		if len(cur.pending) == 0 {
			ents, err := cur.dir.ReadDir(constants.DirentBatch)
			if len(ents) == 0 {
				if err != nil && err != io.EOF {
					d.log.Warn("could not read directory", "path", cur.path, "error", err)
				}
				d.finishFrame(cur)
				return
			}
			cur.pending = ents
		}

		ent := cur.pending[0]
		cur.pending = cur.pending[1:]

		typ := ent.Type()
		switch {
		case typ.IsDir():
			child := d.openChild(cur, ent.Name())
			if child == nil {
				continue
			}
			d.openDirs.Add(1)
			d.work.PushHead(cur)
			cur = child
		case typ.IsRegular():
			d.dumpFile(cur, ent.Name())
		default:
			// Symlinks, devices, FIFOs and sockets are not dumped.
		}
	}
}

func (d *dumper) finishFrame(fr *frame) {
	fr.dir.Close()
	if d.openDirs.Add(-1) == 0 {
		d.work.Close()
	}
}

func (d *dumper) openChild(parent *frame, name string) *frame {
	full := parent.path + "/" + name
	fd, err := unix.Openat(int(parent.dir.Fd()), name,
		unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		d.log.Warn("could not open directory", "path", full, "error", err)
		if d.obs != nil {
			d.obs.ObserveSkip()
		}
		return nil
	}
	if d.obs != nil {
		d.obs.ObserveDir()
	}
	return &frame{dir: os.NewFile(uintptr(fd), full), path: full}
}

func (d *dumper) dumpFile(fr *frame, name string) {
	full := fr.path + "/" + name

	// A path that would overflow the load side's line buffer, or one
	// containing the line terminator, cannot be represented in the map.
	if len(full)+1 > constants.LineBufferSize || strings.ContainsRune(full, '\n') {
		d.log.Warn("path not representable in map, skipping", "path", full)
		if d.obs != nil {
			d.obs.ObserveSkip()
		}
		return
	}

	fd, err := unix.Openat(int(fr.dir.Fd()), name,
		unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		d.log.Warn("could not open file", "path", full, "error", err)
		if d.obs != nil {
			d.obs.ObserveSkip()
		}
		return
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		d.log.Warn("could not stat file", "path", full, "error", err)
		if d.obs != nil {
			d.obs.ObserveSkip()
		}
		return
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		// The entry changed type between readdir and open.
		return
	}

	deltas, err := d.scan(fd, st.Size, d.pageSize)
	if err != nil {
		d.log.Warn("could not probe residency", "path", full, "error", err)
		if d.obs != nil {
			d.obs.ObserveSkip()
		}
		return
	}

	if d.obs != nil {
		d.obs.ObserveFile(pages.Count(st.Size, d.pageSize), int64(len(deltas)))
	}
	if len(deltas) == 0 {
		return
	}
	if err := d.writer.WriteGroup(full, deltas); err != nil {
		d.setErr(err)
		return
	}
	if d.obs != nil {
		d.obs.ObserveGroup()
	}
}
