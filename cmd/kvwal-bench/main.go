// kvwal-bench benchmarks Put latency and throughput across the three
// durability policies.
//
// Usage:
//
//	kvwal-bench [flags]
//
// Flags:
//
//	--config string    Path to a JSONC config file (default: built-in defaults)
//	--count int        Number of puts per configuration (default 10000)
//	--size int         Value size in bytes (default 128)
//	--dir string       Scratch directory for benchmark log files (default: the config's data_dir when --config is given, else a temp dir)
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kvwal/kvwal/internal/dbconfig"
	"github.com/kvwal/kvwal/internal/engine"
	"github.com/kvwal/kvwal/internal/policy"
	"github.com/kvwal/kvwal/internal/version"
)

type config struct {
	name  string
	pol   policy.Policy
	count int
	size  int
}

type result struct {
	throughput float64
	totalTime  time.Duration
	latencies  []time.Duration
}

func main() {
	configPath := flag.String("config", "", "path to a JSONC config file (default: built-in defaults)")
	count := flag.Int("count", 10_000, "number of puts per configuration")
	size := flag.Int("size", 128, "value size in bytes")
	dir := flag.String("dir", "", "scratch directory for benchmark log files (default: the config's data_dir when --config is given, else a temp dir)")
	showVersion := flag.Bool("version", false, "show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kvwal-bench v%s (built %s)\n", version.Version, version.BuildTime)
		return
	}

	cfg, err := dbconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvwal-bench: %v\n", err)
		os.Exit(1)
	}

	scratch := *dir
	usingConfigDir := false
	if scratch == "" && *configPath != "" {
		scratch = cfg.DataDir
		usingConfigDir = true
	}
	if scratch == "" {
		tmp, err := os.MkdirTemp("", "kvwal-bench-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "kvwal-bench: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)
		scratch = tmp
	}
	if usingConfigDir {
		if err := os.MkdirAll(scratch, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "kvwal-bench: %v\n", err)
			os.Exit(1)
		}
	}

	configs := []config{
		{"always", policy.NewAlways(), *count, *size},
		{"batch100", policy.NewBatch(100), *count, *size},
		{"batch1000", policy.NewBatch(1000), *count, *size},
		{"periodic10ms", policy.NewPeriodic(10 * time.Millisecond), *count, *size},
		{"periodic100ms", policy.NewPeriodic(100 * time.Millisecond), *count, *size},
	}

	fmt.Println("mode,record_size,count,total_time_ms,throughput,p50_ns,p99_ns,p999_ns")
	for _, c := range configs {
		res, err := runBench(scratch, c)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kvwal-bench: %s: %v\n", c.name, err)
			continue
		}
		fmt.Printf("%s,%d,%d,%.2f,%.2f,%d,%d,%d\n",
			c.name, c.size, c.count,
			float64(res.totalTime.Milliseconds()), res.throughput,
			percentile(res.latencies, 0.50).Nanoseconds(),
			percentile(res.latencies, 0.99).Nanoseconds(),
			percentile(res.latencies, 0.999).Nanoseconds())
	}
}

func runBench(scratchDir string, c config) (result, error) {
	path := filepath.Join(scratchDir, c.name+".db")
	os.Remove(path)

	e, err := engine.WithSync(path, c.pol)
	if err != nil {
		return result{}, err
	}
	defer e.Close()

	// Warm up so the first measured puts aren't paying for page-cache /
	// filesystem-metadata cold-start costs.
	warmupValue := make([]byte, c.size)
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("warmup_%d", i))
		if err := e.Put(key, warmupValue); err != nil {
			return result{}, err
		}
	}

	latencies := make([]time.Duration, 0, c.count)
	value := make([]byte, c.size)

	start := time.Now()
	for i := 0; i < c.count; i++ {
		for j := range value {
			value[j] = byte(i % 256)
		}
		key := []byte(fmt.Sprintf("key%d", i))

		opStart := time.Now()
		if err := e.Put(key, value); err != nil {
			return result{}, err
		}
		latencies = append(latencies, time.Since(opStart))
	}
	totalTime := time.Since(start)

	if err := e.Sync(); err != nil {
		return result{}, err
	}

	return result{
		throughput: float64(c.count) / totalTime.Seconds(),
		totalTime:  totalTime,
		latencies:  latencies,
	}, nil
}

func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
