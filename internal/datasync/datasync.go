// Package datasync provides a single data-sync primitive shared by the log
// file and the progress sink, so the engine's durability contract ("flush
// contents, metadata flush not required") is expressed in exactly one
// place rather than re-derived at each call site.
package datasync

import "os"

// File flushes f's contents to stable storage. On platforms that expose a
// data-only sync (fdatasync), File uses it; elsewhere it falls back to
// f.Sync(), which also flushes metadata.
func File(f *os.File) error {
	return dataSync(f)
}
