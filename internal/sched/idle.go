// Package sched lowers the process to the idlest available scheduling
// classes so cache warming does not steal CPU or disk time from
// interactive workloads.
package sched

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/hashbrowncipher/happycache/internal/logging"
)

// ioprio_set constants from include/uapi/linux/ioprio.h; x/sys/unix has
// no wrapper for the syscall, so the values are declared here.
const (
	ioprioWhoProcess = 1
	ioprioClassIdle  = 3
	ioprioClassShift = 13
)

// sched_setscheduler policy from include/uapi/linux/sched.h.
const schedIdle = 5

type schedParam struct {
	priority int32
}

// Relax drops the calling process to idle I/O priority, SCHED_IDLE CPU
// scheduling, and maximum niceness. Each step is best effort; failures
// are logged at debug level and never abort the run.
func Relax(log *logging.Logger) {
	if log == nil {
		log = logging.Default()
	}

	_, _, errno := unix.Syscall(
		unix.SYS_IOPRIO_SET,
		ioprioWhoProcess,
		0, // current process
		ioprioClassIdle<<ioprioClassShift,
	)
	if errno != 0 {
		log.Debug("ioprio_set failed", "errno", errno)
	}

	param := schedParam{}
	_, _, errno = unix.Syscall(
		unix.SYS_SCHED_SETSCHEDULER,
		0, // current process
		schedIdle,
		uintptr(unsafe.Pointer(&param)),
	)
	if errno != 0 {
		log.Debug("sched_setscheduler failed", "errno", errno)
	}

	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, 19); err != nil {
		log.Debug("setpriority failed", "error", err)
	}
}
