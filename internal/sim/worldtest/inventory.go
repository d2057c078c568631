package worldtest

import (
	"coopsim.io/internal/sim/hooks"
	"coopsim.io/internal/sim/host"
)

// Inventory is base contents plus runtime change entries, kept the way the
// engine keeps them: one entry per item, signed relative to base.
type Inventory struct {
	owner   *Object
	base    []host.Stack
	changes []host.ChangeEntry
}

func (inv *Inventory) BaseContents() []host.Stack {
	return append([]host.Stack(nil), inv.base...)
}

func (inv *Inventory) Changes() []host.ChangeEntry {
	out := make([]host.ChangeEntry, len(inv.changes))
	for i, c := range inv.changes {
		c.Extra = append([]host.ExtraData(nil), c.Extra...)
		out[i] = c
	}
	return out
}

// SetChanges replaces the change entries verbatim, bypassing interception.
// Tests use it to build engine states that normal mutation never produces.
func (inv *Inventory) SetChanges(changes ...host.ChangeEntry) {
	inv.changes = changes
}

func (inv *Inventory) entry(item host.FormID) int {
	for i := range inv.changes {
		if inv.changes[i].Item == item {
			return i
		}
	}
	inv.changes = append(inv.changes, host.ChangeEntry{Item: item})
	return len(inv.changes) - 1
}

func (inv *Inventory) apply(item host.FormID, count int, extra *host.ExtraData) {
	i := inv.entry(item)
	c := &inv.changes[i]
	c.Count += count
	if extra != nil {
		x := *extra
		x.Count = count
		c.Extra = mergeExtra(c.Extra, x)
	}
	if c.Count == 0 && len(c.Extra) == 0 {
		inv.changes = append(inv.changes[:i], inv.changes[i+1:]...)
	}
}

// mergeExtra adds x to the sub-stack with the same instance data, dropping
// sub-stacks whose count reaches zero.
func mergeExtra(list []host.ExtraData, x host.ExtraData) []host.ExtraData {
	for i := range list {
		y := list[i]
		if y.Worn == x.Worn && y.WornLeft == x.WornLeft && y.Health == x.Health && y.Charge == x.Charge {
			list[i].Count += x.Count
			if list[i].Count == 0 {
				return append(list[:i], list[i+1:]...)
			}
			return list
		}
	}
	if x.Count == 0 {
		return list
	}
	return append(list, x)
}

func (inv *Inventory) AddItem(item host.FormID, count int, extra *host.ExtraData) {
	e := inv.owner.engine
	original := func() {
		e.Calls.AddItem++
		inv.apply(item, count, extra)
		e.nested(hooks.MutatorAddItem)
	}
	if e.detours == nil {
		original()
		return
	}
	e.detours.AddItem(inv.owner.handle, item, count, 0, original)
}

func (inv *Inventory) RemoveItem(item host.FormID, count int, extra *host.ExtraData) {
	e := inv.owner.engine
	original := func() {
		e.Calls.RemoveItem++
		inv.apply(item, -count, extra)
		e.nested(hooks.MutatorRemoveItem)
	}
	if e.detours == nil {
		original()
		return
	}
	e.detours.RemoveItem(inv.owner.handle, item, count, 0, original)
}

// Chest is a content-placed container.
type Chest struct {
	Object
	inv Inventory
}

func (c *Chest) BaseContents() []host.Stack  { return c.inv.BaseContents() }
func (c *Chest) Changes() []host.ChangeEntry { return c.inv.Changes() }

func (c *Chest) AddItem(item host.FormID, count int, extra *host.ExtraData) {
	c.inv.AddItem(item, count, extra)
}

func (c *Chest) RemoveItem(item host.FormID, count int, extra *host.ExtraData) {
	c.inv.RemoveItem(item, count, extra)
}

// Inventory exposes the backing store, e.g. for SetChanges.
func (c *Chest) Inventory() *Inventory { return &c.inv }

// Inventory exposes the backing store, e.g. for SetChanges.
func (a *Actor) Inventory() *Inventory { return &a.inv }
