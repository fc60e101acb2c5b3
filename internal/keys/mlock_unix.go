//go:build !windows

package keys

import (
	"golang.org/x/sys/unix"
)

// mlock attempts to keep the pages holding data out of swap.
// Returns true if successful, false otherwise.
func mlock(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return unix.Mlock(data) == nil
}

// munlock releases a lock taken by mlock.
func munlock(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Munlock(data)
}
