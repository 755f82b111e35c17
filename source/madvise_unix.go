//go:build linux || darwin || freebsd

package source

import "golang.org/x/sys/unix"

// adviseRandom tells the kernel a mapping is read with seeks rather than
// sequentially. Failures are ignored.
func adviseRandom(b []byte) {
	if len(b) == 0 {
		return
	}
	_ = unix.Madvise(b, unix.MADV_RANDOM)
}
