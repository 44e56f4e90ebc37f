// kvwal-writer is the writer child process of the crash-test protocol. It is
// spawned by kvwal-crashtest, never run by hand in normal operation.
//
// Usage:
//
//	kvwal-writer <mode> <run_id>
//
// mode is one of "always", "batch:<N>", or "periodic:<MS>".
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kvwal/kvwal/internal/engine"
	"github.com/kvwal/kvwal/internal/policy"
)

// dbPath must match the path kvwal-crashtest reopens after killing this
// process.
const dbPath = "crash_test.db"

// totalWrites is the fixed workload size for one crash-test run.
const totalWrites = 10_000

// valueSize is the fixed value size written for every record in a run.
const valueSize = 128

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: kvwal-writer <mode> <run_id>")
		os.Exit(1)
	}

	pol, err := policy.ParseSpec(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvwal-writer: %v\n", err)
		os.Exit(1)
	}

	runID, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvwal-writer: invalid run_id %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}

	// The writer enables progress publishing itself, before opening the
	// engine, so the parent can observe durability as it happens.
	if err := os.Setenv(engine.CrashTestEnvVar, "1"); err != nil {
		fmt.Fprintf(os.Stderr, "kvwal-writer: %v\n", err)
		os.Exit(1)
	}

	e, err := engine.WithSync(dbPath, pol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvwal-writer: %v\n", err)
		os.Exit(1)
	}

	value := make([]byte, valueSize)
	for i := 0; i < totalWrites; i++ {
		for j := range value {
			value[j] = byte(i % 256)
		}
		key := []byte(fmt.Sprintf("key_%d_%d", runID, i))
		if err := e.Put(key, value); err != nil {
			fmt.Fprintf(os.Stderr, "kvwal-writer: put %d: %v\n", i, err)
			os.Exit(1)
		}

		// Yield periodically so the observer can reliably catch this
		// process mid-run and kill it before it finishes normally.
		if i%10 == 0 {
			time.Sleep(200 * time.Microsecond)
		}
	}

	if err := e.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "kvwal-writer: final sync: %v\n", err)
		os.Exit(1)
	}

	os.Exit(0)
}
