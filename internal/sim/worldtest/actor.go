package worldtest

import (
	"coopsim.io/internal/sim/hooks"
	"coopsim.io/internal/sim/host"
)

type Actor struct {
	Object
	loaded   bool
	equipped map[host.CastingSource]host.FormID
	casters  map[host.CastingSource]*Caster
	target   *MagicTarget
	inv      Inventory

	CastersCreated int
	Activations    []Activation
}

// Activation records one activation performed by an actor.
type Activation struct {
	Object            host.Handle
	ObjectToGet       host.FormID
	Count             int
	DefaultProcessing bool
}

func (a *Actor) Loaded() bool          { return a.loaded }
func (a *Actor) SetLoaded(loaded bool) { a.loaded = loaded }

// Equip assigns spell to a casting source slot.
func (a *Actor) Equip(src host.CastingSource, spell host.FormID) {
	a.equipped[src] = spell
}

func (a *Actor) EquippedSpell(src host.CastingSource) (host.FormID, bool) {
	id, ok := a.equipped[src]
	return id, ok && id != 0
}

func (a *Actor) Caster(src host.CastingSource) (host.MagicCaster, bool) {
	c, ok := a.casters[src]
	if !ok {
		return nil, false
	}
	return c, true
}

func (a *Actor) CreateCaster(src host.CastingSource) host.MagicCaster {
	a.CastersCreated++
	c := &Caster{owner: a, src: src}
	a.casters[src] = c
	return c
}

// CasterFor returns the concrete delegate for src, if any.
func (a *Actor) CasterFor(src host.CastingSource) *Caster { return a.casters[src] }

func (a *Actor) InterruptCast() {
	e := a.engine
	original := func() {
		e.Calls.Interrupt++
		e.nested(hooks.MutatorInterrupt)
	}
	if e.detours == nil {
		original()
		return
	}
	e.detours.Interrupt(a.handle, original)
}

func (a *Actor) MagicTarget() host.MagicTarget { return a.target }

// Target returns the concrete magic target of a.
func (a *Actor) Target() *MagicTarget { return a.target }

func (a *Actor) Activate(object host.Reference, objectToGet host.FormID, count int, defaultProcessing bool) {
	e := a.engine
	original := func() {
		e.Calls.Activate++
		var h host.Handle
		if object != nil {
			h = object.Handle()
		}
		a.Activations = append(a.Activations, Activation{
			Object:            h,
			ObjectToGet:       objectToGet,
			Count:             count,
			DefaultProcessing: defaultProcessing,
		})
		e.nested(hooks.MutatorActivate)
	}
	if e.detours == nil {
		original()
		return
	}
	e.detours.Activate(object, a, objectToGet, count, defaultProcessing, original)
}

func (a *Actor) BaseContents() []host.Stack  { return a.inv.BaseContents() }
func (a *Actor) Changes() []host.ChangeEntry { return a.inv.Changes() }

func (a *Actor) AddItem(item host.FormID, count int, extra *host.ExtraData) {
	a.inv.AddItem(item, count, extra)
}

func (a *Actor) RemoveItem(item host.FormID, count int, extra *host.ExtraData) {
	a.inv.RemoveItem(item, count, extra)
}

// Caster is a per-casting-source delegate.
type Caster struct {
	owner *Actor
	src   host.CastingSource
	dual  bool

	Casts []host.FormID
}

func (c *Caster) Source() host.CastingSource { return c.src }
func (c *Caster) DualCasting() bool          { return c.dual }

func (c *Caster) SetDualCasting(on bool) {
	e := c.owner.engine
	original := func() {
		e.Calls.SetDualCasting++
		c.dual = on
		e.nested(hooks.MutatorSetDualCast)
	}
	if e.detours == nil {
		original()
		return
	}
	e.detours.SetDualCasting(original)
}

// CastImmediate is also the path of a cast the engine starts on its own,
// e.g. the local player releasing a spell.
func (c *Caster) CastImmediate(spell host.Spell, _ host.CastOptions) {
	e := c.owner.engine
	original := func() {
		e.Calls.Cast++
		var id host.FormID
		if spell != nil {
			id = spell.FormID()
		}
		c.Casts = append(c.Casts, id)
		e.nested(hooks.MutatorCast)
	}
	if e.detours == nil {
		original()
		return
	}
	e.detours.Cast(c, c.owner.handle, spell, original)
}

// MagicTarget records every effect applied to its owner.
type MagicTarget struct {
	owner *Actor

	Applied []host.TargetData
}

func (t *MagicTarget) AddTarget(data host.TargetData) {
	e := t.owner.engine
	original := func() {
		e.Calls.AddTarget++
		t.Applied = append(t.Applied, data)
		e.nested(hooks.MutatorAddTarget)
	}
	if e.detours == nil {
		original()
		return
	}
	e.detours.AddTarget(t.owner.handle, data, original)
}
