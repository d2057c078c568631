// Package containers reads the difference between a container's base
// contents and its runtime contents. It never mutates simulation state.
package containers

import (
	"coopsim.io/internal/sim/host"
)

// Entry is one item of a container delta. Count is signed; Extra sub-stacks
// break Count down, they are not added to it.
type Entry struct {
	Item  host.FormID
	Count int
	Extra []host.ExtraData
}

// Delta holds at most one entry per item definition, in engine order.
type Delta []Entry

// Find returns the entry for item.
func (d Delta) Find(item host.FormID) (Entry, bool) {
	for _, e := range d {
		if e.Item == item {
			return e, true
		}
	}
	return Entry{}, false
}

type Tracker struct {
	engine host.Engine
}

func NewTracker(engine host.Engine) *Tracker {
	return &Tracker{engine: engine}
}

// Delta returns the container delta of the reference bound to h. It reports
// false when h is unknown or has no inventory.
func (t *Tracker) Delta(h host.Handle) (Delta, bool) {
	c, ok := t.container(h)
	if !ok {
		return nil, false
	}
	return DeltaOf(c), true
}

// TotalCount is the base count of item plus its signed delta.
func (t *Tracker) TotalCount(h host.Handle, item host.FormID) (int, bool) {
	c, ok := t.container(h)
	if !ok {
		return 0, false
	}
	return TotalCount(c, item), true
}

func (t *Tracker) container(h host.Handle) (host.Container, bool) {
	ref, ok := t.engine.LookupReference(h)
	if !ok {
		return nil, false
	}
	return host.AsContainer(ref)
}

// DeltaOf copies the change entries of c. When the engine holds more than one
// entry for an item, the first one is authoritative and the rest are ignored,
// matching how the engine itself counts items.
func DeltaOf(c host.Container) Delta {
	changes := c.Changes()
	out := make(Delta, 0, len(changes))
	seen := make(map[host.FormID]struct{}, len(changes))
	for _, ch := range changes {
		if ch.Item == 0 {
			continue
		}
		if _, dup := seen[ch.Item]; dup {
			continue
		}
		seen[ch.Item] = struct{}{}
		out = append(out, Entry{
			Item:  ch.Item,
			Count: ch.Count,
			Extra: append([]host.ExtraData(nil), ch.Extra...),
		})
	}
	return out
}

// TotalCount sums the base stacks of item and adds the first change entry
// for it. Extra sub-stack counts are already part of the entry count.
func TotalCount(c host.Container, item host.FormID) int {
	n := 0
	for _, s := range c.BaseContents() {
		if s.Item == item {
			n += s.Count
		}
	}
	if e, ok := DeltaOf(c).Find(item); ok {
		n += e.Count
	}
	return n
}
