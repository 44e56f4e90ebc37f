// kvwal-crashtest is the observer half of the crash-test protocol: for each
// configured durability policy it repeatedly spawns kvwal-writer, kills it
// mid-run once durable progress crosses a random target, reopens the log,
// and checks how many of the writer's keys actually survived.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/kvwal/kvwal/internal/dbconfig"
	"github.com/kvwal/kvwal/internal/engine"
	"github.com/kvwal/kvwal/internal/policy"
	"github.com/kvwal/kvwal/internal/progress"
	"github.com/kvwal/kvwal/internal/version"
)

const (
	dbPath      = "crash_test.db"
	totalWrites = 10_000

	pollInterval = 2 * time.Millisecond
	waitTimeout  = 10 * time.Second
	settleDelay  = 50 * time.Millisecond
)

// runResult is one observed crash-kill-recover cycle.
type runResult struct {
	Mode      string `json:"mode"`
	CrashAt   int    `json:"crash_at"`   // durable value D actually observed
	Recovered int    `json:"recovered"`  // n: largest recovered key prefix
	Lost      int    `json:"lost"`       // max(0, D - n)
	TimedOut  bool   `json:"timed_out"`
}

// modeSummary aggregates runResults for one policy.
type modeSummary struct {
	Mode          string  `json:"mode"`
	Runs          int     `json:"runs"`
	TimeoutsRunID []int   `json:"timed_out_runs,omitempty"`
	AvgCrashAt    float64 `json:"avg_crash_at"`
	AvgRecovered  float64 `json:"avg_recovered"`
	AvgLost       float64 `json:"avg_lost"`
	MinRecovered  int     `json:"min_recovered"`
	MaxRecovered  int     `json:"max_recovered"`
	MaxLost       int     `json:"max_lost"`
}

func main() {
	configPath := flag.String("config", "", "path to a JSONC config file (default: built-in defaults)")
	runsPerMode := flag.IntP("runs", "n", 10, "number of crash-kill-recover cycles per mode")
	outPath := flag.StringP("out", "o", "crash_test_report.json", "path to write the JSON report")
	writerPath := flag.String("writer", "", "path to the kvwal-writer binary (default: look next to this binary, then $PATH)")
	dir := flag.String("dir", "", "working directory for the log, progress, and report files (default: the config's data_dir)")
	showVersion := flag.Bool("version", false, "show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kvwal-crashtest v%s (built %s)\n", version.Version, version.BuildTime)
		return
	}

	cfg, err := dbconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvwal-crashtest: %v\n", err)
		os.Exit(1)
	}

	workDir := *dir
	if workDir == "" {
		workDir = cfg.DataDir
	}
	if workDir != "" {
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "kvwal-crashtest: %v\n", err)
			os.Exit(1)
		}
		// The writer child and the progress reader both use paths relative
		// to the process's working directory, so this process moves into
		// workDir rather than threading it through every path below.
		if err := os.Chdir(workDir); err != nil {
			fmt.Fprintf(os.Stderr, "kvwal-crashtest: %v\n", err)
			os.Exit(1)
		}
	}

	writer, err := resolveWriter(*writerPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvwal-crashtest: %v\n", err)
		os.Exit(1)
	}

	modes := []policy.Policy{
		policy.NewAlways(),
		policy.NewBatch(100),
		policy.NewPeriodic(100 * time.Millisecond),
	}

	fmt.Printf("%-15s %6s %12s %12s %12s %10s %10s %10s\n",
		"Mode", "Runs", "AvgDurable", "AvgRecov", "AvgLost", "MinRec", "MaxRec", "MaxLost")

	var summaries []modeSummary
	for runID, pol := range modes {
		results := runCrashTest(writer, pol, *runsPerMode, runID*100_000)
		summary := aggregate(pol.String(), results)
		summaries = append(summaries, summary)

		fmt.Printf("%-15s %6d %12.1f %12.1f %12.1f %10d %10d %10d\n",
			summary.Mode, summary.Runs, summary.AvgCrashAt, summary.AvgRecovered,
			summary.AvgLost, summary.MinRecovered, summary.MaxRecovered, summary.MaxLost)
	}

	report, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvwal-crashtest: marshal report: %v\n", err)
		os.Exit(1)
	}
	// The report is written atomically (write-to-temp + rename) so a reader
	// polling for the file never observes a half-written report, unlike the
	// progress file's in-place truncate/write protocol, which is watched
	// continuously rather than read once.
	if err := atomic.WriteFile(*outPath, bytes.NewReader(report)); err != nil {
		fmt.Fprintf(os.Stderr, "kvwal-crashtest: write report: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nReport written to %s\n", *outPath)
}

func resolveWriter(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "kvwal-writer")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return exec.LookPath("kvwal-writer")
}

func runCrashTest(writerBin string, pol policy.Policy, runs, runIDBase int) []runResult {
	results := make([]runResult, 0, runs)
	fmt.Printf("Testing %s mode (%d runs)...\n", pol.String(), runs)

	for i := 0; i < runs; i++ {
		runID := runIDBase + i
		os.Remove(dbPath)
		os.Remove(progress.FileName)

		target := 2000 + rand.Intn(6000) // within [2000, 8000)

		cmd := exec.Command(writerBin, pol.String(), fmt.Sprintf("%d", runID))
		cmd.Stdout = nil
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "kvwal-crashtest: spawn writer: %v\n", err)
			continue
		}

		durableAt, timedOut := waitForProgress(target, waitTimeout)

		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()

		if timedOut {
			results = append(results, runResult{Mode: pol.String(), TimedOut: true})
			fmt.Print(".")
			continue
		}

		time.Sleep(settleDelay)

		recovered, err := verifyRecovered(runID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nkvwal-crashtest: verify run %d: %v\n", runID, err)
			continue
		}

		lost := 0
		if recovered < durableAt {
			lost = durableAt - recovered
		}

		results = append(results, runResult{
			Mode:      pol.String(),
			CrashAt:   durableAt,
			Recovered: recovered,
			Lost:      lost,
		})
		fmt.Print(".")
	}
	fmt.Println(" done.")

	return results
}

func waitForProgress(target int, timeout time.Duration) (value int, timedOut bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if v, ok := progress.Read(); ok && v >= target {
			return v, false
		}
		time.Sleep(pollInterval)
	}
	return 0, true
}

// verifyRecovered reopens the log (the observer issues no puts, though
// Open's recovery scan truncates a torn tail) and counts the largest prefix n such that key_<run_id>_0 ..
// key_<run_id>_{n-1} are all present.
func verifyRecovered(runID int) (int, error) {
	e, err := engine.Open(dbPath)
	if err != nil {
		return 0, err
	}
	defer e.Close()

	count := 0
	for i := 0; i < totalWrites; i++ {
		key := []byte(fmt.Sprintf("key_%d_%d", runID, i))
		if !e.ContainsKey(key) {
			break
		}
		count = i + 1
	}
	return count, nil
}

func aggregate(mode string, results []runResult) modeSummary {
	summary := modeSummary{Mode: mode}

	var completed []runResult
	for i, r := range results {
		if r.TimedOut {
			summary.TimeoutsRunID = append(summary.TimeoutsRunID, i)
			continue
		}
		completed = append(completed, r)
	}

	summary.Runs = len(completed)
	if summary.Runs == 0 {
		return summary
	}

	var sumCrash, sumRecovered, sumLost int
	summary.MinRecovered = completed[0].Recovered
	for _, r := range completed {
		sumCrash += r.CrashAt
		sumRecovered += r.Recovered
		sumLost += r.Lost
		if r.Recovered < summary.MinRecovered {
			summary.MinRecovered = r.Recovered
		}
		if r.Recovered > summary.MaxRecovered {
			summary.MaxRecovered = r.Recovered
		}
		if r.Lost > summary.MaxLost {
			summary.MaxLost = r.Lost
		}
	}

	summary.AvgCrashAt = float64(sumCrash) / float64(summary.Runs)
	summary.AvgRecovered = float64(sumRecovered) / float64(summary.Runs)
	summary.AvgLost = float64(sumLost) / float64(summary.Runs)

	return summary
}
