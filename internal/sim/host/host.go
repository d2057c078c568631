// Package host describes the simulation engine as the replication core sees
// it. The engine itself lives outside this module; these interfaces are the
// contract it has to satisfy.
package host

import "fmt"

// Handle is the engine's identifier for a loaded object. It is only valid
// inside the process that assigned it and may change across save/reload.
type Handle uint32

func (h Handle) String() string { return fmt.Sprintf("%08X", uint32(h)) }

// FormID identifies a definition (spell, item, placed reference) in the
// locally loaded content set. The top byte is the load-order index of the
// defining mod; 0xFE marks light mods and 0xFF runtime-created forms.
type FormID uint32

func (id FormID) String() string { return fmt.Sprintf("%08X", uint32(id)) }

// CastingSource selects which magic caster delegate performs a cast.
type CastingSource uint8

const (
	LeftHand CastingSource = iota
	RightHand
	Other
	Instant

	// CastingSourceCount is the first out-of-range source.
	CastingSourceCount
)

func (s CastingSource) Valid() bool { return s < CastingSourceCount }

func (s CastingSource) String() string {
	switch s {
	case LeftHand:
		return "left_hand"
	case RightHand:
		return "right_hand"
	case Other:
		return "other"
	case Instant:
		return "instant"
	}
	return fmt.Sprintf("casting_source(%d)", uint8(s))
}

// Engine is the read side of the simulation.
type Engine interface {
	LookupReference(h Handle) (Reference, bool)
	LookupForm(id FormID) (Form, bool)
	// LookupPlaced finds a reference placed by content (doors, chests) by its
	// definition id.
	LookupPlaced(id FormID) (Reference, bool)
}

// Form is any definition record.
type Form interface {
	FormID() FormID
}

// Spell is the magic-item view of a form.
type Spell interface {
	Form
	Effects() []Effect
}

// Effect is one entry in a spell's effect list.
type Effect struct {
	ID        FormID
	Magnitude float32
	Duration  int
	Area      int
}

// Reference is a loaded object in the world.
type Reference interface {
	Handle() Handle
	// FormID is the content-defined id of a placed reference, zero for
	// references created at runtime.
	FormID() FormID
	BaseForm() FormID
}

// Actor is the actor view of a reference.
type Actor interface {
	Reference
	// Loaded reports whether the actor has a physical presence (3D loaded).
	Loaded() bool
	// EquippedSpell is the spell assigned to a casting source slot.
	EquippedSpell(src CastingSource) (FormID, bool)
	// Caster returns the existing delegate for src.
	Caster(src CastingSource) (MagicCaster, bool)
	// CreateCaster builds and attaches the delegate for src.
	CreateCaster(src CastingSource) MagicCaster
	InterruptCast()
	MagicTarget() MagicTarget
	Activate(object Reference, objectToGet FormID, count int, defaultProcessing bool)
}

// CastOptions mirrors the arguments of the engine's immediate cast.
type CastOptions struct {
	NoHitEffectArt bool
	Target         Handle
	Effectiveness  float32
	HostileOnly    bool
	MagnitudeScale float32
}

// DefaultCastOptions are the options used to replay a remote cast.
func DefaultCastOptions() CastOptions {
	return CastOptions{Effectiveness: 1.0}
}

// MagicCaster is the per-casting-source delegate of an actor.
type MagicCaster interface {
	Source() CastingSource
	DualCasting() bool
	SetDualCasting(on bool)
	CastImmediate(spell Spell, opts CastOptions)
}

// TargetData is what the engine needs to apply one effect to a target.
type TargetData struct {
	Spell     Spell
	Effect    Effect
	Magnitude float32
	Scale     float32
	Source    CastingSource
}

// MagicTarget applies spell effects to its owner.
type MagicTarget interface {
	AddTarget(data TargetData)
}

// Stack is a count of one item definition.
type Stack struct {
	Item  FormID
	Count int
}

// ExtraData is the per-instance data of an item sub-stack.
type ExtraData struct {
	Count    int
	Worn     bool
	WornLeft bool
	Health   float32
	Charge   float32
}

// ChangeEntry is one runtime override of a container's base contents. Count
// is signed and relative to the base container. Extra sub-stacks are a
// breakdown of Count, not an addition to it.
type ChangeEntry struct {
	Item  FormID
	Count int
	Extra []ExtraData
}

// Container is the inventory view of a reference.
type Container interface {
	Reference
	// BaseContents are the contents defined by the base object.
	BaseContents() []Stack
	// Changes are the runtime overrides on top of BaseContents.
	Changes() []ChangeEntry
	AddItem(item FormID, count int, extra *ExtraData)
	RemoveItem(item FormID, count int, extra *ExtraData)
}

// AsActor is the capability query for the actor view of r.
func AsActor(r Reference) (Actor, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.(Actor)
	return a, ok
}

// AsContainer is the capability query for the inventory view of r.
func AsContainer(r Reference) (Container, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.(Container)
	return c, ok
}

// AsSpell is the capability query for the magic-item view of f.
func AsSpell(f Form) (Spell, bool) {
	if f == nil {
		return nil, false
	}
	s, ok := f.(Spell)
	return s, ok
}
