// Package worldtest is a small in-memory engine implementing the host
// contracts. Mutators are routed through the interception detours the same
// way the real bridge routes engine calls, and every mutation is counted so
// tests can assert exactly what replication did to the simulation.
//
// Like the real engine it is single-threaded: use it from the simulation
// goroutine only.
package worldtest

import (
	"coopsim.io/internal/sim/hooks"
	"coopsim.io/internal/sim/host"
)

// Calls counts mutations that reached the engine (after interception).
type Calls struct {
	Cast           int
	SetDualCasting int
	Interrupt      int
	AddTarget      int
	AddItem        int
	RemoveItem     int
	Activate       int
}

// Total sums every mutation.
func (c Calls) Total() int {
	return c.Cast + c.SetDualCasting + c.Interrupt + c.AddTarget + c.AddItem + c.RemoveItem + c.Activate
}

type Engine struct {
	detours *hooks.Detours

	refs   map[host.Handle]host.Reference
	forms  map[host.FormID]host.Form
	placed map[host.FormID]host.Reference
	next   host.Handle

	Calls Calls
	// Nested, when set, runs inside every mutation after it has been
	// applied. Tests use it to make the engine re-enter a mutator.
	Nested func(mutator string)
}

func NewEngine() *Engine {
	return &Engine{
		refs:   map[host.Handle]host.Reference{},
		forms:  map[host.FormID]host.Form{},
		placed: map[host.FormID]host.Reference{},
		next:   0xFF000800,
	}
}

// Intercept routes subsequent mutations through d. A nil d removes the
// interception.
func (e *Engine) Intercept(d *hooks.Detours) { e.detours = d }

func (e *Engine) LookupReference(h host.Handle) (host.Reference, bool) {
	r, ok := e.refs[h]
	return r, ok
}

func (e *Engine) LookupForm(id host.FormID) (host.Form, bool) {
	f, ok := e.forms[id]
	return f, ok
}

func (e *Engine) LookupPlaced(id host.FormID) (host.Reference, bool) {
	r, ok := e.placed[id]
	return r, ok
}

func (e *Engine) handle() host.Handle {
	h := e.next
	e.next++
	return h
}

func (e *Engine) nested(mutator string) {
	if e.Nested != nil {
		e.Nested(mutator)
	}
}

// AddSpell defines a spell with the given effects.
func (e *Engine) AddSpell(id host.FormID, effects ...host.Effect) *Spell {
	s := &Spell{id: id, effects: effects}
	e.forms[id] = s
	return s
}

// AddItemForm defines an inventory item.
func (e *Engine) AddItemForm(id host.FormID) *Item {
	it := &Item{id: id}
	e.forms[id] = it
	return it
}

type ActorOptions struct {
	// FormID is set for actors placed by content; zero spawns a runtime actor.
	FormID   host.FormID
	Base     host.FormID
	Unloaded bool
	Contents []host.Stack
}

// SpawnActor loads a new actor and returns it.
func (e *Engine) SpawnActor(opts ActorOptions) *Actor {
	a := &Actor{
		Object:   Object{engine: e, handle: e.handle(), formID: opts.FormID, base: opts.Base},
		loaded:   !opts.Unloaded,
		equipped: map[host.CastingSource]host.FormID{},
		casters:  map[host.CastingSource]*Caster{},
	}
	a.inv = Inventory{owner: &a.Object, base: append([]host.Stack(nil), opts.Contents...)}
	a.target = &MagicTarget{owner: a}
	e.refs[a.handle] = a
	if opts.FormID != 0 {
		e.placed[opts.FormID] = a
	}
	return a
}

// SpawnContainer places a container (chest, barrel) defined by content.
func (e *Engine) SpawnContainer(formID host.FormID, contents ...host.Stack) *Chest {
	c := &Chest{Object: Object{engine: e, handle: e.handle(), formID: formID}}
	c.inv = Inventory{owner: &c.Object, base: append([]host.Stack(nil), contents...)}
	e.refs[c.handle] = c
	if formID != 0 {
		e.placed[formID] = c
	}
	return c
}

// SpawnObject places a reference with no actor or container view (a door).
func (e *Engine) SpawnObject(formID host.FormID) *Object {
	o := &Object{engine: e, handle: e.handle(), formID: formID}
	e.refs[o.handle] = o
	if formID != 0 {
		e.placed[formID] = o
	}
	return o
}

// Despawn unloads the reference bound to h.
func (e *Engine) Despawn(h host.Handle) {
	r, ok := e.refs[h]
	if !ok {
		return
	}
	delete(e.refs, h)
	if id := r.FormID(); id != 0 {
		delete(e.placed, id)
	}
}

type Spell struct {
	id      host.FormID
	effects []host.Effect
}

func (s *Spell) FormID() host.FormID     { return s.id }
func (s *Spell) Effects() []host.Effect { return append([]host.Effect(nil), s.effects...) }

type Item struct{ id host.FormID }

func (i *Item) FormID() host.FormID { return i.id }

// Object is a plain reference.
type Object struct {
	engine *Engine
	handle host.Handle
	formID host.FormID
	base   host.FormID
}

func (o *Object) Handle() host.Handle   { return o.handle }
func (o *Object) FormID() host.FormID   { return o.formID }
func (o *Object) BaseForm() host.FormID { return o.base }
