package replication

import "maps"

// Drop reasons.
const (
	reasonUnknownEntity     = "unknown_entity"
	reasonNotAuthority      = "not_authority"
	reasonNotLoaded         = "not_loaded"
	reasonWrongKind         = "wrong_kind"
	reasonUnresolvedDef     = "unresolved_definition"
	reasonInvalid           = "invalid_event"
	reasonSendFailed        = "send_failed"
	reasonSourceNotReplayed = "source_not_replayed"
)

// Stats is a point-in-time copy of the service counters. Maps are keyed by
// message type (Sent, Applied) or by "type/reason" (Dropped).
type Stats struct {
	Sent          map[string]uint64
	Applied       map[string]uint64
	Dropped       map[string]uint64
	AssertFailed  uint64
	SkippedItems  uint64
	DirtyPending  int
	GuardWarnings uint64
	GuardRejected uint64
}

type counters struct {
	sentN        map[string]uint64
	appliedN     map[string]uint64
	droppedN     map[string]uint64
	asserts      uint64
	skippedItems uint64
}

func newCounters() counters {
	return counters{
		sentN:    map[string]uint64{},
		appliedN: map[string]uint64{},
		droppedN: map[string]uint64{},
	}
}

func (c *counters) sent(typ string)         { c.sentN[typ]++ }
func (c *counters) applied(typ string)      { c.appliedN[typ]++ }
func (c *counters) drop(typ, reason string) { c.droppedN[typ+"/"+reason]++ }
func (c *counters) assertFailed()           { c.asserts++ }
func (c *counters) skipped(n int)           { c.skippedItems += uint64(n) }

// Stats copies the counters. Like every other method it must be called on
// the simulation goroutine.
func (s *Service) Stats() Stats {
	return Stats{
		Sent:          maps.Clone(s.stats.sentN),
		Applied:       maps.Clone(s.stats.appliedN),
		Dropped:       maps.Clone(s.stats.droppedN),
		AssertFailed:  s.stats.asserts,
		SkippedItems:  s.stats.skippedItems,
		DirtyPending:  len(s.dirtyOrder),
		GuardWarnings: s.guard.TotalWarnings(),
		GuardRejected: s.guard.Rejected(),
	}
}
