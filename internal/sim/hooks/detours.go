// Package hooks holds the detour bodies the interception bridge installs over
// engine mutators. Every detour publishes its local event first and then
// passes the original call through; no detour ever suppresses the call,
// except a nested one refused by a Reject guard policy.
package hooks

import (
	"coopsim.io/internal/sim/guard"
	"coopsim.io/internal/sim/host"
)

// Guard counter names, one per instrumented mutator.
const (
	MutatorActivate    = "Activate"
	MutatorAddItem     = "AddInventoryItem"
	MutatorRemoveItem  = "RemoveInventoryItem"
	MutatorCast        = "CastSpellImmediate"
	MutatorInterrupt   = "InterruptCast"
	MutatorAddTarget   = "AddTarget"
	MutatorSetDualCast = "SetDualCasting"
)

// Publisher delivers a local event synchronously on the simulation goroutine.
type Publisher interface {
	Dispatch(ev any)
}

type Detours struct {
	guard  *guard.Guard
	events Publisher
}

func New(g *guard.Guard, events Publisher) *Detours {
	return &Detours{guard: g, events: events}
}

func (d *Detours) publish(ev any) {
	if d.guard.InReplay() {
		return
	}
	d.events.Dispatch(ev)
}

func (d *Detours) pass(name string, original func()) {
	exit, ok := d.guard.Enter(name)
	if !ok {
		return
	}
	defer exit()
	original()
}

// Activate wraps the reference activation entry point. Only activations
// performed by actors are published.
func (d *Detours) Activate(object host.Reference, activator host.Reference, objectToGet host.FormID, count int, defaultProcessing bool, original func()) {
	if actor, ok := host.AsActor(activator); ok && object != nil {
		d.publish(host.ActivateEvent{
			Object:            object.Handle(),
			Activator:         actor.Handle(),
			ObjectToGet:       objectToGet,
			Count:             count,
			DefaultProcessing: defaultProcessing,
		})
	}
	d.pass(MutatorActivate, original)
}

func (d *Detours) AddItem(owner host.Handle, item host.FormID, count int, oldOwner host.Handle, original func()) {
	d.publish(host.InventoryAddEvent{Owner: owner, Item: item, Count: count, OldOwner: oldOwner})
	d.pass(MutatorAddItem, original)
}

func (d *Detours) RemoveItem(owner host.Handle, item host.FormID, count int, newOwner host.Handle, original func()) {
	d.publish(host.InventoryRemoveEvent{Owner: owner, Item: item, Count: count, NewOwner: newOwner})
	d.pass(MutatorRemoveItem, original)
}

// Cast wraps the caster delegate's immediate cast. owner is zero when the
// delegate is not attached to an actor.
func (d *Detours) Cast(caster host.MagicCaster, owner host.Handle, spell host.Spell, original func()) {
	ev := host.CastEvent{Caster: owner, Source: caster.Source(), DualCasting: caster.DualCasting()}
	if spell != nil {
		ev.Spell = spell.FormID()
	}
	d.publish(ev)
	d.pass(MutatorCast, original)
}

func (d *Detours) Interrupt(caster host.Handle, original func()) {
	d.publish(host.InterruptEvent{Caster: caster})
	d.pass(MutatorInterrupt, original)
}

func (d *Detours) AddTarget(target host.Handle, data host.TargetData, original func()) {
	ev := host.AddTargetEvent{Target: target, Effect: data.Effect.ID}
	if data.Spell != nil {
		ev.Spell = data.Spell.FormID()
	}
	d.publish(ev)
	d.pass(MutatorAddTarget, original)
}

// SetDualCasting is guarded but not published; the flag travels with the
// cast event.
func (d *Detours) SetDualCasting(original func()) {
	d.pass(MutatorSetDualCast, original)
}
