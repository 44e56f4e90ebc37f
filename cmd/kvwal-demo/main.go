// kvwal-demo is a demonstration entrypoint. Run with no arguments for a
// quick fsync-strategy sweep across the three durability policies; run
// with --mode repl for an interactive session against a single engine.
//
// Usage:
//
//	kvwal-demo [flags]
//
// Flags:
//
//	--config string Path to a JSONC config file (default: built-in defaults)
//	--mode string   "sweep" (default) or "repl"
//	--db string     Log file path for repl mode (default: the config's data_dir/log_file)
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/kvwal/kvwal/internal/dbconfig"
	"github.com/kvwal/kvwal/internal/engine"
	"github.com/kvwal/kvwal/internal/policy"
	"github.com/kvwal/kvwal/internal/version"
)

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configPath := flag.String("config", "", "path to a JSONC config file (default: built-in defaults)")
	mode := flag.String("mode", envOrDefault("KVWAL_DEMO_MODE", "sweep"), "\"sweep\" or \"repl\"")
	dbPath := flag.String("db", "", "log file path for repl mode (default: the config's data_dir/log_file)")
	showVersion := flag.Bool("version", false, "show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kvwal-demo v%s (built %s)\n", version.Version, version.BuildTime)
		return
	}

	cfg, err := dbconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvwal-demo: %v\n", err)
		os.Exit(1)
	}

	path := *dbPath
	if path == "" {
		path = cfg.DBPath()
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				fmt.Fprintf(os.Stderr, "kvwal-demo: %v\n", err)
				os.Exit(1)
			}
		}
	}

	fmt.Println(`
  _             _
 | | ____ ___ _| |
 | |/ /\ \ /\ /\ \ |
 |   <  \ V  V / \ |
 |_|\_\  \_/\_/   |_|
`)

	switch *mode {
	case "sweep":
		runSweep()
	case "repl":
		pol, err := policy.ParseSpec(cfg.DefaultSyncMode)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kvwal-demo: config: %v\n", err)
			os.Exit(1)
		}
		if err := runRepl(path, pol); err != nil {
			fmt.Fprintf(os.Stderr, "kvwal-demo: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "kvwal-demo: unknown mode %q (want sweep or repl)\n", *mode)
		os.Exit(1)
	}
}

// runSweep demonstrates throughput under each durability policy in turn.
func runSweep() {
	fmt.Println("=== kvwal: fsync strategy demonstration ===")
	fmt.Println()

	type sweepConfig struct {
		name string
		pol  policy.Policy
	}
	configs := []sweepConfig{
		{"Always fsync", policy.NewAlways()},
		{"Batch (100 writes)", policy.NewBatch(100)},
		{"Periodic (10ms)", policy.NewPeriodic(10 * time.Millisecond)},
	}

	for _, c := range configs {
		fmt.Printf("Testing mode: %s\n", c.name)

		path := fmt.Sprintf("demo_%s.db", strings.ReplaceAll(c.name, " ", "_"))
		os.Remove(path)

		e, err := engine.WithSync(path, c.pol)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  error: %v\n", err)
			continue
		}

		start := time.Now()
		for i := 0; i < 1000; i++ {
			key := []byte(fmt.Sprintf("key%d", i))
			value := make([]byte, 128)
			if err := e.Put(key, value); err != nil {
				fmt.Fprintf(os.Stderr, "  put error: %v\n", err)
				break
			}
		}
		elapsed := time.Since(start)
		e.Close()
		os.Remove(path)

		fmt.Printf("  Wrote 1000 records in %v\n", elapsed)
		fmt.Printf("  Throughput: %.2f ops/sec\n", 1000/elapsed.Seconds())
		fmt.Println()
	}

	fmt.Println("Run `kvwal-bench` for detailed latency percentiles, or `kvwal-demo --mode repl` to explore interactively.")
}

// runRepl drives an interactive session against a single engine: put,
// contains (a membership check, since the engine has no value-read path),
// sync, bulk, and stats.
func runRepl(dbPath string, pol policy.Policy) error {
	e, err := engine.WithSync(dbPath, pol)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbPath, err)
	}
	defer e.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Printf("Opened %s (logical_index=%d, durable_index=%d). Type 'help' for commands.\n",
		dbPath, e.LogicalIndex(), e.DurableIndex())

	for {
		input, err := line.Prompt("kvwal> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "put":
			if len(fields) != 3 {
				fmt.Println("usage: put <key> <value>")
				continue
			}
			if err := e.Put([]byte(fields[1]), []byte(fields[2])); err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Println("ok")

		case "contains":
			if len(fields) != 2 {
				fmt.Println("usage: contains <key>")
				continue
			}
			fmt.Println(e.ContainsKey([]byte(fields[1])))

		case "sync":
			if err := e.Sync(); err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Println("ok")

		case "stats":
			fmt.Printf("logical_index=%d durable_index=%d\n", e.LogicalIndex(), e.DurableIndex())

		case "bulk":
			if len(fields) != 2 {
				fmt.Println("usage: bulk <count>")
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			for i := 0; i < n; i++ {
				key := []byte(fmt.Sprintf("bulk_%d", i))
				if err := e.Put(key, []byte("v")); err != nil {
					fmt.Printf("error at %d: %v\n", i, err)
					break
				}
			}
			fmt.Printf("wrote %d records\n", n)

		case "help":
			printReplHelp()

		case "exit", "quit":
			return nil

		default:
			fmt.Printf("unknown command %q, type 'help'\n", fields[0])
		}
	}
}

func printReplHelp() {
	fmt.Println(`commands:
  put <key> <value>   append a record
  contains <key>       check index membership
  sync                 force a data-sync, raising durable_index
  bulk <count>         write <count> throwaway records
  stats                show logical_index / durable_index
  exit                 quit`)
}
