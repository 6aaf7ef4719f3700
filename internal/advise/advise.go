// Package advise issues kernel read-ahead hints for file page ranges.
//
// Two implementations exist: New returns one that issues fadvise
// syscalls directly; NewRing returns an io_uring ring that batches
// FADV_WILLNEED submissions (see ring.go), and works only in a build
// with -tags giouring.
package advise

import (
	"golang.org/x/sys/unix"
)

// Advisor requests that the kernel begin reading a byte range of an open
// file into the page cache. The hint is non-blocking and best-effort; the
// kernel may read ahead further or not at all.
type Advisor interface {
	// WillNeed hints that [offset, offset+length) will be read soon.
	WillNeed(fd int, offset, length int64) error

	// Close releases any resources held by the advisor.
	Close() error
}

type syscallAdvisor struct{}

// New returns the default syscall-based advisor.
func New() Advisor {
	return syscallAdvisor{}
}

func (syscallAdvisor) WillNeed(fd int, offset, length int64) error {
	return unix.Fadvise(fd, offset, length, unix.FADV_WILLNEED)
}

func (syscallAdvisor) Close() error {
	return nil
}
