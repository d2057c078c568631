package hooks_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coopsim.io/internal/sim/guard"
	"coopsim.io/internal/sim/hooks"
	"coopsim.io/internal/sim/host"
	"coopsim.io/internal/sim/worldtest"
)

type recorder struct{ events []any }

func (r *recorder) Dispatch(ev any) { r.events = append(r.events, ev) }

func setup(policy guard.Policy) (*worldtest.Engine, *guard.Guard, *recorder, *hooks.Detours) {
	g := guard.New(policy, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := &recorder{}
	d := hooks.New(g, rec)
	e := worldtest.NewEngine()
	e.Intercept(d)
	return e, g, rec, d
}

func TestDetours_PublishThenPassThrough(t *testing.T) {
	e, _, rec, _ := setup(guard.WarnAndContinue)
	spell := e.AddSpell(0x05012EB7, host.Effect{ID: 1})
	a := e.SpawnActor(worldtest.ActorOptions{})
	door := e.SpawnObject(0x0001D0D0)

	a.AddItem(0x10, 2, nil)
	a.RemoveItem(0x10, 1, nil)
	a.InterruptCast()
	c := a.CreateCaster(host.RightHand)
	c.CastImmediate(spell, host.DefaultCastOptions())
	a.MagicTarget().AddTarget(host.TargetData{Spell: spell, Effect: host.Effect{ID: 1}})
	a.Activate(door, 0, 1, true)

	assert.Equal(t, []any{
		host.InventoryAddEvent{Owner: a.Handle(), Item: 0x10, Count: 2},
		host.InventoryRemoveEvent{Owner: a.Handle(), Item: 0x10, Count: 1},
		host.InterruptEvent{Caster: a.Handle()},
		host.CastEvent{Caster: a.Handle(), Source: host.RightHand, Spell: 0x05012EB7},
		host.AddTargetEvent{Target: a.Handle(), Spell: 0x05012EB7, Effect: 1},
		host.ActivateEvent{Object: door.Handle(), Activator: a.Handle(), Count: 1, DefaultProcessing: true},
	}, rec.events)
	assert.Equal(t, worldtest.Calls{Cast: 1, Interrupt: 1, AddTarget: 1, AddItem: 1, RemoveItem: 1, Activate: 1}, e.Calls)
}

func TestDetours_ActivateByNonActor(t *testing.T) {
	_, _, rec, d := setup(guard.WarnAndContinue)
	e := worldtest.NewEngine()
	lever := e.SpawnObject(0x0001AAAA)
	door := e.SpawnObject(0x0001D0D0)

	ran := false
	d.Activate(door, lever, 0, 1, true, func() { ran = true })

	assert.True(t, ran)
	assert.Empty(t, rec.events)
}

func TestDetours_ReplayScopeSuppressesEvents(t *testing.T) {
	e, g, rec, _ := setup(guard.WarnAndContinue)
	a := e.SpawnActor(worldtest.ActorOptions{})

	g.Replaying(func() {
		a.AddItem(0x10, 1, nil)
		a.InterruptCast()
	})

	assert.Empty(t, rec.events)
	assert.Equal(t, 1, e.Calls.AddItem)
	assert.Equal(t, 1, e.Calls.Interrupt)
}

func TestDetours_NestedCallUnderReject(t *testing.T) {
	e, g, rec, _ := setup(guard.Reject)
	a := e.SpawnActor(worldtest.ActorOptions{})
	e.Nested = func(mutator string) {
		if mutator == hooks.MutatorAddItem {
			a.AddItem(0x10, 1, nil)
		}
	}

	a.AddItem(0x10, 1, nil)

	require.Len(t, rec.events, 2, "both calls publish before the guard decides")
	assert.Equal(t, 1, e.Calls.AddItem)
	assert.Equal(t, uint64(1), g.Rejected())
	assert.Zero(t, g.Depth(hooks.MutatorAddItem))
}
