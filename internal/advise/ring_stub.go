//go:build !giouring
// +build !giouring

package advise

import "fmt"

// NewRing is available when built with -tags giouring.
func NewRing(entries uint32) (Advisor, error) {
	return nil, fmt.Errorf("io_uring advisor not enabled; build with -tags giouring")
}
