package happycache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupPages(t *testing.T) {
	tests := []struct {
		name   string
		deltas []uint64
		want   []int64
	}{
		{"empty", nil, []int64{}},
		{"page zero first", []uint64{0, 2, 1}, []int64{0, 2, 3}},
		{"offset start", []uint64{5, 1, 10}, []int64{5, 6, 16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Group{Path: "/x", Deltas: tt.deltas}
			assert.Equal(t, tt.want, g.Pages())
		})
	}
}

func TestWriteReadMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.gz")

	in := []Group{
		{Path: "./a", Deltas: []uint64{0, 2, 1}},
		{Path: "./b", Deltas: []uint64{7}},
		{Path: "./cold"}, // elided
	}
	require.NoError(t, WriteMap(path, in))

	out, err := ReadMap(path)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in[0], out[0])
	assert.Equal(t, in[1], out[1])
}

func TestDumpDefaultsAndRoundTrip(t *testing.T) {
	work := t.TempDir()
	root := filepath.Join(work, "tree")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), make([]byte, 4096*3), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "zero"), nil, 0o644))

	mapPath := filepath.Join(work, "cache.gz")
	snap, err := Dump(context.Background(), DumpOptions{Root: root, MapPath: mapPath})
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, uint64(2), snap.FilesScanned)
	assert.GreaterOrEqual(t, snap.DirsVisited, uint64(2))

	groups, err := ReadMap(mapPath)
	require.NoError(t, err)
	for _, g := range groups {
		assert.NotEmpty(t, g.Deltas)
		assert.NotEqual(t, root+"/zero", g.Path, "zero-length file must not appear")
		pages := g.Pages()
		for i := 1; i < len(pages); i++ {
			assert.Greater(t, pages[i], pages[i-1], "page indices strictly increasing")
		}
	}
}

func TestDumpMissingRoot(t *testing.T) {
	mapPath := filepath.Join(t.TempDir(), "cache.gz")
	_, err := Dump(context.Background(), DumpOptions{
		Root:    "/does/not/exist",
		MapPath: mapPath,
	})
	require.Error(t, err)

	_, statErr := os.Stat(mapPath)
	assert.True(t, os.IsNotExist(statErr), "failed dump must not leave a map behind")
}

func TestLoadRoundTrip(t *testing.T) {
	work := t.TempDir()
	target := filepath.Join(work, "data")
	require.NoError(t, os.WriteFile(target, make([]byte, 4096*8), 0o644))

	mapPath := filepath.Join(work, "cache.gz")
	require.NoError(t, WriteMap(mapPath, []Group{
		{Path: target, Deltas: []uint64{0, 2, 1, 4}},
		{Path: filepath.Join(work, "missing"), Deltas: []uint64{1}},
	}))

	snap, err := Load(context.Background(), LoadOptions{MapPath: mapPath, Workers: 4})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), snap.FilesOpened)
	assert.Equal(t, uint64(1), snap.FileErrors)
	assert.Equal(t, uint64(4), snap.TasksDispatched)
	assert.Equal(t, uint64(4), snap.PagesHinted+snap.PagesWarm)
}

func TestLoadWithRecordingAdvisor(t *testing.T) {
	work := t.TempDir()
	target := filepath.Join(work, "data")
	pageSize := int64(os.Getpagesize())
	require.NoError(t, os.WriteFile(target, make([]byte, pageSize*8), 0o644))

	mapPath := filepath.Join(work, "cache.gz")
	require.NoError(t, WriteMap(mapPath, []Group{
		{Path: target, Deltas: []uint64{0, 2, 1, 4}},
	}))

	adv := NewRecordingAdvisor()
	snap, err := Load(context.Background(), LoadOptions{
		MapPath: mapPath,
		Workers: 2,
		Advisor: adv,
	})
	require.NoError(t, err)

	// Tasks carry one page each, so every cold page is exactly one
	// recorded hint; warm pages are skipped without a call.
	assert.Equal(t, uint64(adv.CallCount()), snap.PagesHinted)
	for _, call := range adv.Calls() {
		assert.Zero(t, call.Offset%pageSize, "hints start page-aligned")
		assert.LessOrEqual(t, call.Offset+call.Length, pageSize*8)
	}

	// The caller owns a supplied advisor; Load must not close it.
	assert.False(t, adv.Closed())
}

func TestRecordingAdvisor(t *testing.T) {
	adv := NewRecordingAdvisor()

	require.NoError(t, adv.WillNeed(3, 0, 4096))
	require.NoError(t, adv.WillNeed(3, 8192, 4096))

	assert.Equal(t, 2, adv.CallCount())
	assert.Equal(t, []AdvisedRange{
		{Fd: 3, Offset: 0, Length: 4096},
		{Fd: 3, Offset: 8192, Length: 4096},
	}, adv.Calls())

	adv.Reset()
	assert.Zero(t, adv.CallCount())

	require.NoError(t, adv.Close())
	assert.True(t, adv.Closed())
}

func TestLoadBudgetExhaustedReported(t *testing.T) {
	work := t.TempDir()
	target := filepath.Join(work, "data")
	require.NoError(t, os.WriteFile(target, make([]byte, 4096*8), 0o644))

	mapPath := filepath.Join(work, "cache.gz")
	require.NoError(t, WriteMap(mapPath, []Group{
		{Path: target, Deltas: []uint64{0, 1, 1, 1}},
	}))

	snap, err := Load(context.Background(), LoadOptions{
		MapPath:  mapPath,
		Workers:  2,
		MaxPages: 2,
		Advisor:  NewRecordingAdvisor(),
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(2), snap.TasksDispatched)
	assert.True(t, snap.BudgetExhausted)
}

func TestLoadIdempotent(t *testing.T) {
	work := t.TempDir()
	target := filepath.Join(work, "data")
	require.NoError(t, os.WriteFile(target, make([]byte, 4096*4), 0o644))

	mapPath := filepath.Join(work, "cache.gz")
	require.NoError(t, WriteMap(mapPath, []Group{
		{Path: target, Deltas: []uint64{0, 1, 1, 1}},
	}))

	first, err := Load(context.Background(), LoadOptions{MapPath: mapPath, Workers: 2})
	require.NoError(t, err)
	second, err := Load(context.Background(), LoadOptions{MapPath: mapPath, Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, first.TasksDispatched, second.TasksDispatched)
}

func TestLoadMissingMap(t *testing.T) {
	_, err := Load(context.Background(), LoadOptions{
		MapPath: filepath.Join(t.TempDir(), "absent.gz"),
	})
	assert.Error(t, err)
}

func TestLoadTruncatedMapFatal(t *testing.T) {
	work := t.TempDir()
	target := filepath.Join(work, "data")
	require.NoError(t, os.WriteFile(target, make([]byte, 4096*2), 0o644))

	mapPath := filepath.Join(work, "cache.gz")
	require.NoError(t, WriteMap(mapPath, []Group{
		{Path: target, Deltas: []uint64{0, 1}},
	}))

	// Chop off the last bytes of the gzip trailer.
	data, err := os.ReadFile(mapPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(mapPath, data[:len(data)-5], 0o644))

	_, err = Load(context.Background(), LoadOptions{MapPath: mapPath, Workers: 2})
	assert.Error(t, err)
}

func TestDefaultWorkers(t *testing.T) {
	assert.Greater(t, DefaultWorkers(), 0)
	assert.Zero(t, DefaultWorkers()%WorkersPerCPU)
}
