package happycache

import (
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/hashbrowncipher/happycache/internal/mapfile"
)

// Group is one file's entry in a residency map: the path and its pages
// in delta encoding. The first delta is the absolute index of the first
// resident page; each subsequent delta is the difference from the
// previously encoded index.
type Group struct {
	Path   string
	Deltas []uint64
}

// Pages expands the delta encoding into absolute page indices.
func (g Group) Pages() []int64 {
	out := make([]int64, 0, len(g.Deltas))
	var page int64
	for _, d := range g.Deltas {
		page += int64(d)
		out = append(out, page)
	}
	return out
}

// WriteMap writes a complete map file. Groups with no deltas are
// elided, matching what Dump produces for files with no resident pages.
// Intended for tests and tooling; Dump is the production writer.
func WriteMap(path string, groups []Group) error {
	w, err := mapfile.Create(path, gzip.BestSpeed)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if err := w.WriteGroup(g.Path, g.Deltas); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Close()
}

// ReadMap parses a map file into groups.
func ReadMap(path string) ([]Group, error) {
	r, err := mapfile.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var groups []Group
	started := false
	for {
		line, err := r.Next()
		if err == io.EOF {
			return groups, nil
		}
		if err != nil {
			return nil, err
		}
		if d, ok := mapfile.ParseDelta(line); ok && started {
			groups[len(groups)-1].Deltas = append(groups[len(groups)-1].Deltas, d)
			continue
		}
		groups = append(groups, Group{Path: line})
		started = true
	}
}
