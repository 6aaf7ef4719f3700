package load

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashbrowncipher/happycache/internal/mapfile"
)

// fakeFS fabricates file handles for the parser and records every handle
// it ever produced so tests can check reference counts at quiescence.
type fakeFS struct {
	mu     sync.Mutex
	sizes  map[string]int64 // page counts; absent paths fail to open
	opened []*file
}

func (fs *fakeFS) open(path string) *file {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	pages, ok := fs.sizes[path]
	if !ok {
		return nil
	}
	f := &file{fd: -1, pages: pages, path: path}
	f.refs.Store(1)
	fs.opened = append(fs.opened, f)
	return f
}

func (fs *fakeFS) assertAllReleased(t *testing.T) {
	t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, f := range fs.opened {
		assert.Zero(t, f.refs.Load(), "file %s still referenced", f.path)
	}
}

type countObserver struct {
	opens      atomic.Int64
	errors     atomic.Int64
	dispatches atomic.Int64
	hinted     atomic.Int64
	resident   atomic.Int64
	exhausted  atomic.Bool
}

func (o *countObserver) ObserveFileOpen()        { o.opens.Add(1) }
func (o *countObserver) ObserveFileError()       { o.errors.Add(1) }
func (o *countObserver) ObserveDispatch()        { o.dispatches.Add(1) }
func (o *countObserver) ObserveHint(p int64)     { o.hinted.Add(p) }
func (o *countObserver) ObserveResident(p int64) { o.resident.Add(p) }
func (o *countObserver) ObserveBudgetExhausted() { o.exhausted.Store(true) }

type recordedHint struct {
	path string
	page int64
}

type recorder struct {
	mu    sync.Mutex
	hints []recordedHint
	tasks map[*task]bool
}

func (r *recorder) prefetch(t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hints = append(r.hints, recordedHint{path: t.file.path, page: t.page})
	if r.tasks == nil {
		r.tasks = make(map[*task]bool)
	}
	r.tasks[t] = true
}

func (r *recorder) pagesFor(path string) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, h := range r.hints {
		if h.path == path {
			out = append(out, h.page)
		}
	}
	return out
}

func runMap(t *testing.T, body string, fs *fakeFS, workers int) *recorder {
	t.Helper()
	l := newLoader(Config{MaxPages: 1 << 40})
	l.open = fs.open
	rec := &recorder{}
	l.prefetch = rec.prefetch

	err := l.run(context.Background(), mapfile.NewReader(strings.NewReader(body)), workers)
	require.NoError(t, err)
	fs.assertAllReleased(t)
	return rec
}

func TestDispatchPerDelta(t *testing.T) {
	fs := &fakeFS{sizes: map[string]int64{"/x": 100, "/y": 100}}
	rec := runMap(t, "/x\n0\n2\n1\n/y\n3\n", fs, 4)

	assert.ElementsMatch(t, []int64{0, 2, 3}, rec.pagesFor("/x"))
	assert.ElementsMatch(t, []int64{3}, rec.pagesFor("/y"))
}

func TestJunkLineSwitchesFile(t *testing.T) {
	// "junk" fails to open; the deltas after it advance a cursor with
	// no file and dispatch nothing. "/y" then opens normally.
	fs := &fakeFS{sizes: map[string]int64{"/x": 100, "/y": 100}}
	rec := runMap(t, "/x\n0\n5\njunk\n7\n/y\n3\n", fs, 2)

	assert.ElementsMatch(t, []int64{0, 5}, rec.pagesFor("/x"))
	assert.Empty(t, rec.pagesFor("junk"))
	assert.ElementsMatch(t, []int64{3}, rec.pagesFor("/y"))
}

func TestNumericFirstLineIsPath(t *testing.T) {
	// Between files every line is a path, even one that parses as an
	// integer.
	fs := &fakeFS{sizes: map[string]int64{"17": 100}}
	rec := runMap(t, "17\n4\n", fs, 1)

	assert.ElementsMatch(t, []int64{4}, rec.pagesFor("17"))
}

func TestPageBeyondFileNotDispatched(t *testing.T) {
	fs := &fakeFS{sizes: map[string]int64{"/small": 4}}
	rec := runMap(t, "/small\n0\n3\n10\n", fs, 1)

	// Page 13 exceeds the 4-page file; pages 0 and 3 are valid.
	assert.ElementsMatch(t, []int64{0, 3}, rec.pagesFor("/small"))
}

func TestHugeDeltaDoesNotOverflow(t *testing.T) {
	fs := &fakeFS{sizes: map[string]int64{"/x": 100}}
	rec := runMap(t, "/x\n1\n18446744073709551615\n2\n", fs, 1)

	assert.ElementsMatch(t, []int64{1}, rec.pagesFor("/x"))
}

func TestTaskPoolBounded(t *testing.T) {
	const workers = 4
	fs := &fakeFS{sizes: map[string]int64{"/big": 1 << 20}}

	var body strings.Builder
	body.WriteString("/big\n")
	for i := 0; i < 1000; i++ {
		body.WriteString("1\n")
	}

	rec := runMap(t, body.String(), fs, workers)

	require.Len(t, rec.hints, 1000)
	// Every dispatch reuses one of the 2×workers pooled tasks.
	assert.LessOrEqual(t, len(rec.tasks), workers*2)
}

func TestBudgetCapsDispatch(t *testing.T) {
	fs := &fakeFS{sizes: map[string]int64{"/x": 100}}
	obs := &countObserver{}
	l := newLoader(Config{MaxPages: 2, Observer: obs})
	l.open = fs.open
	rec := &recorder{}
	l.prefetch = rec.prefetch

	err := l.run(context.Background(),
		mapfile.NewReader(strings.NewReader("/x\n1\n1\n1\n1\n")), 2)
	require.NoError(t, err)
	fs.assertAllReleased(t)

	assert.Len(t, rec.hints, 2)
	assert.True(t, obs.exhausted.Load())
}

func TestBudgetNotExhaustedWithinLimit(t *testing.T) {
	fs := &fakeFS{sizes: map[string]int64{"/x": 100}}
	obs := &countObserver{}
	l := newLoader(Config{MaxPages: 10, Observer: obs})
	l.open = fs.open
	l.prefetch = func(*task) {}

	err := l.run(context.Background(),
		mapfile.NewReader(strings.NewReader("/x\n1\n1\n")), 2)
	require.NoError(t, err)

	assert.False(t, obs.exhausted.Load())
}

func TestEmptyMap(t *testing.T) {
	fs := &fakeFS{sizes: map[string]int64{}}
	rec := runMap(t, "", fs, 2)
	assert.Empty(t, rec.hints)
}

func TestLineTooLongIsFatal(t *testing.T) {
	fs := &fakeFS{sizes: map[string]int64{}}
	l := newLoader(Config{MaxPages: 1})
	l.open = fs.open
	l.prefetch = func(*task) {}

	long := strings.Repeat("p", 5000)
	err := l.run(context.Background(),
		mapfile.NewReader(strings.NewReader(long+"\n")), 1)
	assert.ErrorIs(t, err, mapfile.ErrLineTooLong)
}

func TestCancelledWhileBackpressured(t *testing.T) {
	fs := &fakeFS{sizes: map[string]int64{"/x": 1 << 30}}
	l := newLoader(Config{MaxPages: 1 << 40})
	l.open = fs.open

	// Workers that never finish keep the free list empty, so the
	// parser blocks in dispatch until cancellation closes the pool.
	block := make(chan struct{})
	l.prefetch = func(*task) { <-block }

	var body strings.Builder
	body.WriteString("/x\n")
	for i := 0; i < 100; i++ {
		body.WriteString("1\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.run(ctx, mapfile.NewReader(strings.NewReader(body.String())), 2)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	close(block)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("load did not unwind after cancellation")
	}
}

func TestObserverCounts(t *testing.T) {
	fs := &fakeFS{sizes: map[string]int64{"/x": 100}}
	obs := &countObserver{}
	l := newLoader(Config{MaxPages: 1 << 40, Observer: obs})
	l.open = func(path string) *file {
		f := fs.open(path)
		if f == nil {
			obs.ObserveFileError()
		} else {
			obs.ObserveFileOpen()
		}
		return f
	}
	l.prefetch = func(*task) {}

	err := l.run(context.Background(),
		mapfile.NewReader(strings.NewReader("/x\n0\n1\nmissing\n/x\n5\n")), 2)
	require.NoError(t, err)

	assert.Equal(t, int64(2), obs.opens.Load())
	assert.Equal(t, int64(1), obs.errors.Load())
	assert.Equal(t, int64(3), obs.dispatches.Load())
}

func TestManyFilesStress(t *testing.T) {
	sizes := make(map[string]int64)
	var body strings.Builder
	for i := 0; i < 200; i++ {
		path := fmt.Sprintf("/f%03d", i)
		sizes[path] = 64
		body.WriteString(path + "\n0\n1\n1\n")
	}
	fs := &fakeFS{sizes: sizes}

	rec := runMap(t, body.String(), fs, 8)
	assert.Len(t, rec.hints, 600)
	for path := range sizes {
		assert.ElementsMatch(t, []int64{0, 1, 2}, rec.pagesFor(path))
	}
}
