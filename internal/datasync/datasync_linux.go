//go:build linux

package datasync

import (
	"os"

	"golang.org/x/sys/unix"
)

// dataSync calls fdatasync(2) directly so a sync does not force a metadata
// (mtime, size) flush the way f.Sync()/fsync(2) would.
func dataSync(f *os.File) error {
	for {
		err := unix.Fdatasync(int(f.Fd()))
		if err != unix.EINTR {
			return err
		}
	}
}
