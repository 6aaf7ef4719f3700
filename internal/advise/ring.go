//go:build giouring
// +build giouring

package advise

import (
	"fmt"
	"sync"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

// ringAdvisor batches FADV_WILLNEED hints through io_uring so a worker
// issuing many small hints pays one submission syscall per batch instead
// of one per range.
type ringAdvisor struct {
	mu      sync.Mutex
	ring    *giouring.Ring
	pending uint32
	entries uint32
}

// NewRing creates an io_uring backed advisor with the given submission
// queue depth.
func NewRing(entries uint32) (Advisor, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("creating io_uring: %w", err)
	}
	return &ringAdvisor{ring: ring, entries: entries}, nil
}

func (r *ringAdvisor) WillNeed(fd int, offset, length int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sqe := r.ring.GetSQE()
	if sqe == nil {
		if err := r.flushLocked(); err != nil {
			return err
		}
		sqe = r.ring.GetSQE()
		if sqe == nil {
			return fmt.Errorf("io_uring submission queue unavailable")
		}
	}
	sqe.PrepareFadvise(fd, uint64(offset), uint32(length), unix.FADV_WILLNEED)
	r.pending++

	if r.pending == r.entries {
		return r.flushLocked()
	}
	return nil
}

// flushLocked submits all prepared SQEs and retires their completions.
// FADV_WILLNEED starts read-ahead at submission; the completions carry no
// payload beyond their result codes.
func (r *ringAdvisor) flushLocked() error {
	if r.pending == 0 {
		return nil
	}
	if _, err := r.ring.SubmitAndWait(r.pending); err != nil {
		return fmt.Errorf("io_uring submit: %w", err)
	}
	for ; r.pending > 0; r.pending-- {
		cqe, err := r.ring.WaitCQE()
		if err != nil {
			return fmt.Errorf("io_uring completion: %w", err)
		}
		res := cqe.Res
		r.ring.CQESeen(cqe)
		if res < 0 {
			return unix.Errno(-res)
		}
	}
	return nil
}

func (r *ringAdvisor) Close() error {
	r.mu.Lock()
	err := r.flushLocked()
	r.ring.QueueExit()
	r.mu.Unlock()
	return err
}
