// Package engine implements the append-only key-value storage engine: the
// append path, the in-memory index, the durability state machine, and the
// recovery scan that rebuilds state from a possibly-truncated log.
//
// All state (index, counters, write cursor) is owned by the caller's
// goroutine; the engine does no internal locking and is not safe for
// concurrent use. A put whose write fails never advances logical_index or
// the index; the log may be left with a partial trailing record, which the
// next Open's recovery scan discards. A put whose sync fails has already
// advanced logical_index but does not bind the key in the index.
package engine

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kvwal/kvwal/internal/datasync"
	"github.com/kvwal/kvwal/internal/policy"
	"github.com/kvwal/kvwal/internal/progress"
	"github.com/kvwal/kvwal/internal/record"
)

// IoMode selects how the log file is opened. Only Buffered is implemented;
// Direct is accepted for API symmetry with the sync-mode/io-mode pairing but
// currently behaves identically to Buffered (see DESIGN.md's Open Question
// resolution).
type IoMode int

const (
	Buffered IoMode = iota
	Direct
)

// CrashTestEnvVar is the environment variable that, if set to any value at
// Open time, enables the progress sink.
const CrashTestEnvVar = "CRASH_TEST"

// Engine is an append-only log-structured key-value store. It owns the log
// file handle, the in-memory index, the write cursor, the durability
// policy, and an optional progress sink.
type Engine struct {
	file *os.File
	path string

	index map[string]uint64 // key -> offset of most recent record
	pos   uint64            // write cursor == current file length

	ioMode IoMode
	pol    policy.Policy

	logicalIndex int
	durableIndex int

	prog *progress.Sink
}

// Open opens or creates the log at path with the Always sync policy and
// Buffered IO. Equivalent to WithConfig(path, policy.NewAlways(), Buffered).
func Open(path string) (*Engine, error) {
	return WithConfig(path, policy.NewAlways(), Buffered)
}

// WithSync opens the log at path with the given durability policy and
// Buffered IO. Equivalent to WithConfig(path, pol, Buffered).
func WithSync(path string, pol policy.Policy) (*Engine, error) {
	return WithConfig(path, pol, Buffered)
}

// WithConfig opens or creates the log at path with the given durability
// policy and IO mode, runs the recovery scan, and — if CRASH_TEST is set in
// the environment — opens the progress sink and publishes the recovered
// durable_index.
//
// On unix-like systems the file is created with mode 0o600 (owner
// read/write only).
func WithConfig(path string, pol policy.Policy, ioMode IoMode) (*Engine, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to open %s: %w", path, err)
	}

	e := &Engine{
		file:   f,
		path:   path,
		index:  make(map[string]uint64),
		ioMode: ioMode,
		pol:    pol,
	}

	if err := e.recover(); err != nil {
		f.Close()
		return nil, fmt.Errorf("engine: recovery failed: %w", err)
	}

	if _, ok := os.LookupEnv(CrashTestEnvVar); ok {
		sink, err := progress.Open()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("engine: failed to open progress sink: %w", err)
		}
		e.prog = sink
		if err := e.prog.Publish(e.durableIndex); err != nil {
			f.Close()
			sink.Close()
			return nil, fmt.Errorf("engine: failed to publish initial progress: %w", err)
		}
	}

	return e, nil
}

// recover reads the entire log, rebuilds the index, and truncates any
// trailing partial or corrupt record.
func (e *Engine) recover() error {
	if _, err := e.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek to start: %w", err)
	}

	info, err := e.file.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	buf := make([]byte, info.Size())
	if _, err := io.ReadFull(e.file, buf); err != nil {
		return fmt.Errorf("read: %w", err)
	}

	var cursor uint64
	var count int
	for int(cursor) < len(buf) {
		rec, n, err := record.Decode(buf[cursor:])
		if err != nil {
			// ShortBuffer, Incomplete, and CrcMismatch are unified here:
			// this is the end of the valid prefix, torn write or bit-rot
			// alike. Stop scanning; the tail is discarded below.
			break
		}
		e.index[string(rec.Key)] = cursor
		cursor += uint64(n)
		count++
	}

	e.pos = cursor
	e.logicalIndex = count
	e.durableIndex = count // recovered data is durable by definition

	if e.pos < uint64(len(buf)) {
		if err := e.file.Truncate(int64(e.pos)); err != nil {
			return fmt.Errorf("truncate torn tail: %w", err)
		}
	}

	if _, err := e.file.Seek(int64(e.pos), 0); err != nil {
		return fmt.Errorf("seek to end of valid prefix: %w", err)
	}

	return nil
}

// Put appends a (key, value) record to the log:
//  1. encode the record, capturing the current write cursor;
//  2. write the encoded bytes (no explicit flush unless the policy demands
//     a sync);
//  3. increment logical_index;
//  4. evaluate the sync decision, and sync if it says so;
//  5. bind key -> record offset in the index;
//  6. advance the write cursor.
//
// Step 5 happens strictly after step 4: a crash between write and index
// binding leaves the key unqueryable from this process but recoverable on
// the next Open's recovery scan, which remains the authoritative source of
// truth regardless of what this process's index says.
func (e *Engine) Put(key, value []byte) error {
	encoded, err := record.Encode(key, value)
	if err != nil {
		return err
	}

	recordOffset := e.pos

	if _, err := e.file.Write(encoded); err != nil {
		return fmt.Errorf("engine: write failed: %w", err)
	}
	e.logicalIndex++

	if e.pol.OnPut() {
		if err := e.Sync(); err != nil {
			return err
		}
	}

	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)
	e.index[string(keyCopy)] = recordOffset
	e.pos += uint64(len(encoded))

	return nil
}

// Sync data-syncs the log file. On success it raises durable_index to
// logical_index, resets the policy's batch/periodic state, and republishes
// durable_index to the progress sink if enabled. If the data-sync fails the
// counters are left unchanged and the error propagates; a progress publish
// failure is returned after durable_index has already been raised.
func (e *Engine) Sync() error {
	if err := datasync.File(e.file); err != nil {
		return fmt.Errorf("engine: sync failed: %w", err)
	}

	now := time.Now()
	e.durableIndex = e.logicalIndex
	e.pol.OnSync(now)

	if e.prog != nil {
		if err := e.prog.Publish(e.durableIndex); err != nil {
			return fmt.Errorf("engine: failed to publish progress: %w", err)
		}
	}

	return nil
}

// ContainsKey reports whether the in-memory index has a binding for key.
// It never touches disk and reflects only puts that have completed step 5
// of Put — a write that has not yet reached index binding is not
// observable here, even if its bytes already reached the file.
func (e *Engine) ContainsKey(key []byte) bool {
	_, ok := e.index[string(key)]
	return ok
}

// LogicalIndex returns the number of successful Put calls since Open,
// including records recovered from a prior run.
func (e *Engine) LogicalIndex() int { return e.logicalIndex }

// DurableIndex returns the number of records guaranteed to survive a crash
// at this instant.
func (e *Engine) DurableIndex() int { return e.durableIndex }

// Close releases the log file handle and, if enabled, the progress sink.
// Close does not sync; a final sync on clean shutdown is the caller's
// responsibility, so that an abnormal termination path can skip it and
// leave the log exactly as an external observer would find it.
func (e *Engine) Close() error {
	var progErr error
	if e.prog != nil {
		progErr = e.prog.Close()
	}
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("engine: close failed: %w", err)
	}
	if progErr != nil {
		return fmt.Errorf("engine: failed to close progress sink: %w", progErr)
	}
	return nil
}
