// Package guard tracks re-entry into instrumented engine mutators and the
// replay scope used while remote notifications are applied.
//
// A Guard belongs to the simulation goroutine and is not safe for concurrent
// use.
package guard

import (
	"log/slog"
	"sort"
)

// Policy decides what happens when a mutator is entered while already active.
type Policy uint8

const (
	// WarnAndContinue logs the recursion and lets the nested call run.
	WarnAndContinue Policy = iota
	// Reject logs the recursion and refuses the nested call.
	Reject
)

func (p Policy) String() string {
	if p == Reject {
		return "reject"
	}
	return "warn"
}

// ParsePolicy maps a config value to a Policy. Unknown values are reported.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "", "warn":
		return WarnAndContinue, true
	case "reject":
		return Reject, true
	}
	return WarnAndContinue, false
}

type Guard struct {
	policy Policy
	log    *slog.Logger

	depth    map[string]int
	warnings map[string]uint64
	rejected uint64

	replay int
}

func New(policy Policy, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		policy:   policy,
		log:      logger,
		depth:    map[string]int{},
		warnings: map[string]uint64{},
	}
}

func (g *Guard) Policy() Policy { return g.policy }

// Enter marks mutator name as active. When ok is true the caller must call
// exit exactly once, typically with defer; extra calls are ignored. When ok is
// false the nested call was rejected and exit is a no-op.
func (g *Guard) Enter(name string) (exit func(), ok bool) {
	g.depth[name]++
	d := g.depth[name]
	if d > 1 {
		g.warnings[name]++
		g.log.Warn("mutator re-entered", "mutator", name, "depth", d, "policy", g.policy.String())
		if g.policy == Reject {
			g.depth[name]--
			g.rejected++
			return func() {}, false
		}
	}
	done := false
	return func() {
		if done {
			return
		}
		done = true
		g.depth[name]--
	}, true
}

// Depth is the current nesting level of name.
func (g *Guard) Depth(name string) int { return g.depth[name] }

// Warnings is the number of recursion warnings recorded for name.
func (g *Guard) Warnings(name string) uint64 { return g.warnings[name] }

// TotalWarnings sums recursion warnings over every mutator.
func (g *Guard) TotalWarnings() uint64 {
	var n uint64
	for _, w := range g.warnings {
		n += w
	}
	return n
}

func (g *Guard) Rejected() uint64 { return g.rejected }

// Names lists every mutator that has been entered, sorted.
func (g *Guard) Names() []string {
	out := make([]string, 0, len(g.depth))
	for n := range g.depth {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Replaying runs fn inside the replay scope. Interception detours see
// InReplay() == true for its duration and do not publish local events.
func (g *Guard) Replaying(fn func()) {
	g.replay++
	defer func() { g.replay-- }()
	fn()
}

func (g *Guard) InReplay() bool { return g.replay > 0 }
