//go:build !linux

package datasync

import "os"

// dataSync falls back to fsync(2) (via os.File.Sync) on platforms that
// don't expose a data-only sync through golang.org/x/sys/unix the way
// Linux does.
func dataSync(f *os.File) error {
	return f.Sync()
}
