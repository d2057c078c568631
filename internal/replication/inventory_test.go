package replication_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coopsim.io/internal/protocol"
	"coopsim.io/internal/sim/containers"
	"coopsim.io/internal/sim/guard"
	"coopsim.io/internal/sim/hooks"
	"coopsim.io/internal/sim/host"
	"coopsim.io/internal/sim/worldtest"
)

func TestInventory_FlushSendsDeltaOncePerContainer(t *testing.T) {
	f := newFixture(t)
	a := f.engine.SpawnActor(worldtest.ActorOptions{Contents: []host.Stack{{Item: arrowsID, Count: 20}}})
	require.NoError(t, f.ids.AddLocal(a.Handle(), 0x21))

	a.AddItem(arrowsID, 5, nil)
	a.AddItem(swordID, 1, &host.ExtraData{Worn: true})
	a.RemoveItem(arrowsID, 2, nil)
	assert.Equal(t, 1, f.svc.Stats().DirtyPending)

	f.expectSend(protocol.InventoryChangesRequest{
		TargetID: 0x21,
		Entries: []protocol.ItemDelta{
			{Item: arrowsGID, Count: 3},
			{Item: swordGID, Count: 1, Extra: []protocol.ItemExtra{{Count: 1, Worn: true}}},
		},
	})
	f.svc.Flush()
	f.svc.Flush()

	f.tr.AssertExpectations(t)
	f.tr.AssertNumberOfCalls(t, "Send", 1)
	assert.Zero(t, f.svc.Stats().DirtyPending)
}

func TestInventory_FlushOnTick(t *testing.T) {
	f := newFixture(t)
	chest := f.engine.SpawnContainer(0x000A1B2C)
	require.NoError(t, f.ids.AddLocal(chest.Handle(), 0x30))

	chest.AddItem(arrowsID, 1, nil)
	f.expectSend(protocol.InventoryChangesRequest{
		TargetID: 0x30,
		Entries:  []protocol.ItemDelta{{Item: arrowsGID, Count: 1}},
	})
	f.run.Tick()
	f.tr.AssertExpectations(t)
}

func TestInventory_MirrorsAreNotAnnounced(t *testing.T) {
	f := newFixture(t)
	a := f.remoteActor(0x21)
	a.AddItem(arrowsID, 1, nil)
	f.svc.Flush()
	f.tr.AssertNotCalled(t, "Send", mock.Anything)
}

func TestInventory_RuntimeItemsAreSkipped(t *testing.T) {
	f := newFixture(t)
	a := f.localActor(0x21)
	f.engine.AddItemForm(runtimeID)
	a.AddItem(runtimeID, 1, nil)
	a.AddItem(arrowsID, 2, nil)

	f.expectSend(protocol.InventoryChangesRequest{
		TargetID: 0x21,
		Entries:  []protocol.ItemDelta{{Item: arrowsGID, Count: 2}},
	})
	f.svc.Flush()
	f.tr.AssertExpectations(t)
	assert.Equal(t, uint64(1), f.svc.Stats().SkippedItems)
}

func TestInventory_DespawnedBeforeFlush(t *testing.T) {
	f := newFixture(t)
	a := f.localActor(0x21)
	a.AddItem(arrowsID, 1, nil)
	f.ids.Remove(a.Handle())

	f.svc.Flush()
	f.tr.AssertNotCalled(t, "Send", mock.Anything)
}

func TestNotifyInventory_MovesMirrorToDelta(t *testing.T) {
	f := newFixture(t)
	a := f.engine.SpawnActor(worldtest.ActorOptions{Contents: []host.Stack{{Item: arrowsID, Count: 20}}})
	require.NoError(t, f.ids.AddRemote(a.Handle(), 0x21))
	a.Inventory().SetChanges(host.ChangeEntry{Item: swordID, Count: 1})

	f.deliver(protocol.NotifyInventoryChanges{
		TargetID: 0x21,
		Entries: []protocol.ItemDelta{
			{Item: arrowsGID, Count: -4},
			{Item: protocol.GameID{ModID: 42, BaseID: 7}, Count: 1},
		},
	})

	assert.Equal(t, 16, containers.TotalCount(a, arrowsID))
	assert.Equal(t, 0, containers.TotalCount(a, swordID))
	assert.Equal(t, uint64(1), f.svc.Stats().SkippedItems, "uninstalled content is skipped")
	assert.Equal(t, 2, f.engine.Calls.RemoveItem, "one remove for arrows, one for the sword")
	assert.Zero(t, f.engine.Calls.AddItem)
	assert.Zero(t, f.svc.Stats().DirtyPending, "applied changes are not queued")
	f.svc.Flush()
	f.tr.AssertNotCalled(t, "Send", mock.Anything)
}

func TestNotifyInventory_Extras(t *testing.T) {
	f := newFixture(t)
	a := f.remoteActor(0x21)

	msg := protocol.NotifyInventoryChanges{
		TargetID: 0x21,
		Entries: []protocol.ItemDelta{
			{Item: swordGID, Count: 2, Extra: []protocol.ItemExtra{{Count: 1, Worn: true, Health: 1.5}}},
		},
	}
	f.deliver(msg)

	d := containers.DeltaOf(a)
	require.Len(t, d, 1)
	assert.Equal(t, 2, d[0].Count)
	assert.Equal(t, []host.ExtraData{{Count: 1, Worn: true, Health: 1.5}}, d[0].Extra)

	calls := f.engine.Calls
	f.deliver(msg)
	assert.Equal(t, calls, f.engine.Calls, "already in sync")
}

func TestNotifyInventory_NotAContainer(t *testing.T) {
	f := newFixture(t)
	door := f.engine.SpawnObject(doorID)
	require.NoError(t, f.ids.AddRemote(door.Handle(), 0x50))

	f.deliver(protocol.NotifyInventoryChanges{TargetID: 0x50, Entries: []protocol.ItemDelta{{Item: arrowsGID, Count: 1}}})

	assert.Zero(t, f.engine.Calls.Total())
	assert.Equal(t, uint64(1), f.svc.Stats().Dropped[protocol.TypeNotifyInventoryChanges+"/wrong_kind"])
}

func TestNotifyInventory_EngineReentryIsBalanced(t *testing.T) {
	for _, policy := range []guard.Policy{guard.WarnAndContinue, guard.Reject} {
		t.Run(policy.String(), func(t *testing.T) {
			f := newFixtureWith(t, fixtureOpts{policy: policy, strict: true})
			a := f.remoteActor(0x21)

			// The engine removes a stray item from inside RemoveItem once.
			nested := false
			f.engine.Nested = func(mutator string) {
				if mutator == hooks.MutatorRemoveItem && !nested {
					nested = true
					a.RemoveItem(swordID, 1, nil)
				}
			}
			f.deliver(protocol.NotifyInventoryChanges{
				TargetID: 0x21,
				Entries:  []protocol.ItemDelta{{Item: arrowsGID, Count: -1}},
			})

			assert.Equal(t, 0, f.guard.Depth(hooks.MutatorRemoveItem))
			st := f.svc.Stats()
			assert.Equal(t, uint64(1), st.GuardWarnings)
			if policy == guard.Reject {
				assert.Equal(t, uint64(1), st.GuardRejected)
				assert.Equal(t, 1, f.engine.Calls.RemoveItem)
			} else {
				assert.Zero(t, st.GuardRejected)
				assert.Equal(t, 2, f.engine.Calls.RemoveItem)
			}
			f.tr.AssertNotCalled(t, "Send", mock.Anything)
		})
	}
}
