package replication_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coopsim.io/internal/protocol"
	"coopsim.io/internal/sim/host"
	"coopsim.io/internal/sim/worldtest"
)

func TestActivate_OwnedActorOpensDoor(t *testing.T) {
	f := newFixture(t)
	a := f.localActor(0x7)
	door := f.engine.SpawnObject(doorID)

	f.expectSend(protocol.ActivateRequest{
		ObjectID:          doorGID,
		ActivatorID:       0x7,
		Count:             1,
		DefaultProcessing: true,
	})
	a.Activate(door, 0, 1, true)

	f.tr.AssertExpectations(t)
	assert.Equal(t, 1, f.engine.Calls.Activate)
}

func TestActivate_Drops(t *testing.T) {
	f := newFixture(t)
	mirror := f.remoteActor(0x7)
	mine := f.localActor(0x8)
	door := f.engine.SpawnObject(doorID)
	dropped := f.engine.SpawnObject(0)

	mirror.Activate(door, 0, 1, true)
	mine.Activate(dropped, 0, 1, true)

	f.tr.AssertNotCalled(t, "Send", mock.Anything)
	assert.Equal(t, 2, f.engine.Calls.Activate, "activation itself always passes through")
}

func TestActivate_UnknownActivator(t *testing.T) {
	f := newFixture(t)
	door := f.engine.SpawnObject(doorID)
	lever := f.engine.SpawnObject(0x0001AAAA)

	f.svc.OnActivate(host.ActivateEvent{Object: door.Handle(), Activator: lever.Handle(), Count: 1})

	f.tr.AssertNotCalled(t, "Send", mock.Anything)
	assert.Equal(t, uint64(1), f.svc.Stats().Dropped[protocol.TypeActivateRequest+"/not_authority"])
}

func TestNotifyActivate_ReplaysOnPlacedObject(t *testing.T) {
	f := newFixture(t)
	a := f.remoteActor(0x7)
	chest := f.engine.SpawnContainer(doorID)

	f.deliver(protocol.NotifyActivate{ObjectID: doorGID, ActivatorID: 0x7, Count: 1, DefaultProcessing: true})

	require.Len(t, a.Activations, 1)
	assert.Equal(t, worldtest.Activation{Object: chest.Handle(), Count: 1, DefaultProcessing: true}, a.Activations[0])
	f.tr.AssertNotCalled(t, "Send", mock.Anything)
}

func TestNotifyActivate_Unknowns(t *testing.T) {
	f := newFixture(t)
	f.remoteActor(0x7)

	f.deliver(
		protocol.NotifyActivate{ObjectID: doorGID, ActivatorID: 0x99, Count: 1},
		protocol.NotifyActivate{ObjectID: doorGID, ActivatorID: 0x7, Count: 1},
		protocol.NotifyActivate{ObjectID: protocol.GameID{ModID: 42, BaseID: 1}, ActivatorID: 0x7, Count: 1},
	)

	assert.Zero(t, f.engine.Calls.Total())
	dropped := f.svc.Stats().Dropped
	assert.Equal(t, uint64(1), dropped[protocol.TypeNotifyActivate+"/unknown_entity"])
	assert.Equal(t, uint64(1), dropped[protocol.TypeNotifyActivate+"/not_loaded"])
	assert.Equal(t, uint64(1), dropped[protocol.TypeNotifyActivate+"/unresolved_definition"])
}
