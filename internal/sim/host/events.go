package host

// Local events surfaced by the interception bridge. Each one is published
// before the intercepted engine call runs.

// CastEvent fires when a caster delegate starts a spell.
type CastEvent struct {
	// Caster is the actor owning the delegate; zero when the delegate has none.
	Caster      Handle
	Source      CastingSource
	DualCasting bool
	// Spell is never zero for a well-formed event.
	Spell FormID
}

// InterruptEvent fires when an actor's cast is interrupted.
type InterruptEvent struct {
	Caster Handle
}

// AddTargetEvent fires when a spell effect is applied to a target.
type AddTargetEvent struct {
	Target Handle
	Spell  FormID
	Effect FormID
}

// InventoryAddEvent fires when items enter a container.
type InventoryAddEvent struct {
	Owner    Handle
	Item     FormID
	Count    int
	OldOwner Handle
}

// InventoryRemoveEvent fires when items leave a container.
type InventoryRemoveEvent struct {
	Owner    Handle
	Item     FormID
	Count    int
	NewOwner Handle
}

// ActivateEvent fires when an actor activates a reference.
type ActivateEvent struct {
	Object            Handle
	Activator         Handle
	ObjectToGet       FormID
	Count             int
	DefaultProcessing bool
}
