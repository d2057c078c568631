package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coopsim.io/internal/sim/host"
	"coopsim.io/internal/sim/worldtest"
)

const (
	arrows host.FormID = 0x0001397D
	sword  host.FormID = 0x00012EB7
	potion host.FormID = 0x0003EADE
)

func TestTracker_DeltaAndTotal(t *testing.T) {
	e := worldtest.NewEngine()
	chest := e.SpawnContainer(0x000A1B2C, host.Stack{Item: arrows, Count: 20}, host.Stack{Item: potion, Count: 1})
	chest.AddItem(arrows, 5, nil)
	chest.RemoveItem(potion, 1, nil)
	chest.AddItem(sword, 1, &host.ExtraData{Health: 1.5})

	tr := NewTracker(e)
	d, ok := tr.Delta(chest.Handle())
	require.True(t, ok)
	assert.Equal(t, Delta{
		{Item: arrows, Count: 5, Extra: []host.ExtraData{}},
		{Item: potion, Count: -1, Extra: []host.ExtraData{}},
		{Item: sword, Count: 1, Extra: []host.ExtraData{{Count: 1, Health: 1.5}}},
	}, normalize(d))

	n, ok := tr.TotalCount(chest.Handle(), arrows)
	require.True(t, ok)
	assert.Equal(t, 25, n)
	n, _ = tr.TotalCount(chest.Handle(), potion)
	assert.Equal(t, 0, n)
	n, _ = tr.TotalCount(chest.Handle(), sword)
	assert.Equal(t, 1, n, "extra sub-stacks are not counted twice")
}

func TestTracker_DuplicateEntriesFirstWins(t *testing.T) {
	e := worldtest.NewEngine()
	chest := e.SpawnContainer(0x000A1B2C, host.Stack{Item: arrows, Count: 10})
	chest.Inventory().SetChanges(
		host.ChangeEntry{Item: arrows, Count: 3},
		host.ChangeEntry{Item: arrows, Count: 40},
	)

	assert.Equal(t, 13, TotalCount(chest, arrows))
	d := DeltaOf(chest)
	require.Len(t, d, 1)
	assert.Equal(t, 3, d[0].Count)
}

func TestTracker_BaseStacksAreSummed(t *testing.T) {
	e := worldtest.NewEngine()
	chest := e.SpawnContainer(0, host.Stack{Item: arrows, Count: 10}, host.Stack{Item: arrows, Count: 2})
	assert.Equal(t, 12, TotalCount(chest, arrows))
	assert.Empty(t, DeltaOf(chest))
}

func TestTracker_NotAContainer(t *testing.T) {
	e := worldtest.NewEngine()
	door := e.SpawnObject(0x0001D0D0)
	tr := NewTracker(e)

	_, ok := tr.Delta(door.Handle())
	assert.False(t, ok)
	_, ok = tr.TotalCount(door.Handle(), arrows)
	assert.False(t, ok)
	_, ok = tr.Delta(0xDEAD)
	assert.False(t, ok)
}

func TestTracker_DoesNotMutate(t *testing.T) {
	e := worldtest.NewEngine()
	a := e.SpawnActor(worldtest.ActorOptions{Contents: []host.Stack{{Item: arrows, Count: 1}}})
	a.AddItem(arrows, 1, nil)
	before := e.Calls

	d := DeltaOf(a)
	d[0].Count = 99
	_ = TotalCount(a, arrows)

	assert.Equal(t, before, e.Calls)
	assert.Equal(t, 2, TotalCount(a, arrows))
}

// normalize turns nil extras into empty slices so expectations stay short.
func normalize(d Delta) Delta {
	for i := range d {
		if d[i].Extra == nil {
			d[i].Extra = []host.ExtraData{}
		}
	}
	return d
}
