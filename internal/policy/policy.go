// Package policy implements the engine's durability policy: the rule that
// decides, after each put, whether to sync the log now.
package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind tags which sync discipline a Policy enforces.
type Kind int

const (
	// Always syncs after every put.
	Always Kind = iota
	// Batch syncs once N unsynced puts have accumulated.
	Batch
	// Periodic syncs once at least D has elapsed since the last sync.
	Periodic
)

func (k Kind) String() string {
	switch k {
	case Always:
		return "always"
	case Batch:
		return "batch"
	case Periodic:
		return "periodic"
	default:
		return "unknown"
	}
}

// Policy is a tagged durability policy plus the per-policy state needed to
// evaluate its sync decision. The zero value is Always, which is also the
// engine's default.
//
// A Policy must not be changed after the owning engine is opened: changing
// the sync discipline mid-run would make the bounded-loss guarantee
// ambiguous across the transition.
type Policy struct {
	kind   Kind
	n      int           // Batch(N)
	period time.Duration // Periodic(D)

	writeCount int       // puts since last sync, Batch only
	lastSync   time.Time // time of last sync, Periodic only
}

// NewAlways returns the Always policy: sync after every put.
func NewAlways() Policy {
	return Policy{kind: Always, lastSync: time.Now()}
}

// NewBatch returns the Batch(n) policy: sync once n puts have accumulated
// since the last sync. n must be positive.
func NewBatch(n int) Policy {
	if n <= 0 {
		panic(fmt.Sprintf("policy: batch size must be positive, got %d", n))
	}
	return Policy{kind: Batch, n: n, lastSync: time.Now()}
}

// NewPeriodic returns the Periodic(d) policy: sync once at least d has
// elapsed since the last sync. d may be zero, meaning "sync on the next
// put, whenever it comes."
func NewPeriodic(d time.Duration) Policy {
	return Policy{kind: Periodic, period: d, lastSync: time.Now()}
}

// Kind reports which discipline this policy enforces.
func (p Policy) Kind() Kind { return p.kind }

// N reports the Batch size, valid only when Kind() == Batch.
func (p Policy) N() int { return p.n }

// Period reports the Periodic interval, valid only when Kind() == Periodic.
func (p Policy) Period() time.Duration { return p.period }

// String renders the policy the way the crash-test CLI spells it on argv:
// "always", "batch:<N>", "periodic:<ms>".
func (p Policy) String() string {
	switch p.kind {
	case Always:
		return "always"
	case Batch:
		return fmt.Sprintf("batch:%d", p.n)
	case Periodic:
		return fmt.Sprintf("periodic:%d", p.period.Milliseconds())
	default:
		return "unknown"
	}
}

// OnPut is called by the engine immediately after a successful write,
// before the index is updated. It reports whether the engine must sync now.
func (p *Policy) OnPut() bool {
	switch p.kind {
	case Always:
		return true
	case Batch:
		p.writeCount++
		return p.writeCount >= p.n
	case Periodic:
		return time.Since(p.lastSync) >= p.period
	default:
		return true
	}
}

// ParseSpec parses the mode spelling used on the writer child's argv:
// "always", "batch:<N>" with N a positive decimal integer, or
// "periodic:<MS>" with MS a non-negative decimal integer of milliseconds.
func ParseSpec(spec string) (Policy, error) {
	switch {
	case spec == "always":
		return NewAlways(), nil

	case strings.HasPrefix(spec, "batch:"):
		n, err := strconv.Atoi(strings.TrimPrefix(spec, "batch:"))
		if err != nil {
			return Policy{}, fmt.Errorf("policy: invalid batch spec %q: %w", spec, err)
		}
		if n <= 0 {
			return Policy{}, fmt.Errorf("policy: batch spec %q: N must be positive", spec)
		}
		return NewBatch(n), nil

	case strings.HasPrefix(spec, "periodic:"):
		ms, err := strconv.Atoi(strings.TrimPrefix(spec, "periodic:"))
		if err != nil {
			return Policy{}, fmt.Errorf("policy: invalid periodic spec %q: %w", spec, err)
		}
		if ms < 0 {
			return Policy{}, fmt.Errorf("policy: periodic spec %q: MS must be non-negative", spec)
		}
		return NewPeriodic(time.Duration(ms) * time.Millisecond), nil

	default:
		return Policy{}, fmt.Errorf("policy: unknown mode %q", spec)
	}
}

// OnSync is called whenever a sync succeeds, whether triggered by OnPut or
// by an explicit caller-initiated Sync. It resets both the batch counter and
// the periodic clock unconditionally, regardless of which policy is active.
func (p *Policy) OnSync(now time.Time) {
	p.writeCount = 0
	p.lastSync = now
}
