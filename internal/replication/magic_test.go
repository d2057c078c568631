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

func TestOnCast_LocalCasterSendsRequest(t *testing.T) {
	f := newFixture(t)
	a := f.localActor(0x1A2B)
	left := a.CreateCaster(host.LeftHand)
	left.SetDualCasting(true)
	before := f.engine.Calls

	f.expectSend(protocol.CastRequest{
		CasterID:      0x1A2B,
		CastingSource: protocol.CastingSourceLeftHand,
		IsDualCasting: true,
		SpellID:       fireballGID,
	})
	left.CastImmediate(f.fireball, host.DefaultCastOptions())

	f.tr.AssertExpectations(t)
	assert.Equal(t, before.Total()+1, f.engine.Calls.Total(), "only the engine's own cast ran")
	assert.Equal(t, before.Cast+1, f.engine.Calls.Cast)
	assert.Equal(t, uint64(1), f.svc.Stats().Sent[protocol.TypeCastRequest])
}

func TestNotifyCast_UnknownRemoteIsDropped(t *testing.T) {
	f := newFixture(t)

	f.deliver(protocol.NotifyCast{
		CasterID:      0x77,
		CastingSource: protocol.CastingSourceRightHand,
		SpellID:       fireballGID,
	})

	assert.Zero(t, f.engine.Calls.Total())
	assert.Equal(t, 1, f.countLogs("WARN"))
	f.tr.AssertNotCalled(t, "Send", mock.Anything)
	assert.Zero(t, f.ids.Len(), "no placeholder entity")
}

func TestNotifyAddTarget_AppliesEveryEffect(t *testing.T) {
	f := newFixture(t)
	target := f.remoteActor(0x42)

	f.deliver(protocol.NotifyAddTarget{TargetID: 0x42, SpellID: fireballGID})

	require.Equal(t, len(f.fireball.Effects()), f.engine.Calls.AddTarget)
	applied := target.Target().Applied
	require.Len(t, applied, 3)
	for i, d := range applied {
		assert.Equal(t, f.fireball.Effects()[i], d.Effect)
		assert.Equal(t, fireballID, d.Spell.FormID())
		assert.Zero(t, d.Magnitude)
		assert.Equal(t, float32(1.0), d.Scale)
		assert.Equal(t, host.CastingSourceCount, d.Source)
	}
	f.tr.AssertNotCalled(t, "Send", mock.Anything)
}

func TestNotifyInterrupt_IsNotEchoed(t *testing.T) {
	// Authority side: the local interrupt is announced once and an echoed
	// notification for its own actor changes nothing.
	owner := newFixture(t)
	a := owner.localActor(0x1A2B)
	owner.expectSend(protocol.InterruptRequest{CasterID: 0x1A2B})
	a.InterruptCast()
	owner.tr.AssertExpectations(t)
	require.Equal(t, 1, owner.engine.Calls.Interrupt)

	owner.deliver(protocol.NotifyInterrupt{CasterID: 0x1A2B})
	assert.Equal(t, 1, owner.engine.Calls.Interrupt)
	owner.tr.AssertNumberOfCalls(t, "Send", 1)

	// Mirror side: each notification interrupts exactly once and applying
	// it does not produce a new request.
	peer := newFixture(t)
	peer.remoteActor(0x1A2B)
	peer.deliver(protocol.NotifyInterrupt{CasterID: 0x1A2B})
	assert.Equal(t, 1, peer.engine.Calls.Interrupt)
	peer.deliver(protocol.NotifyInterrupt{CasterID: 0x1A2B})
	assert.Equal(t, 2, peer.engine.Calls.Interrupt)
	peer.tr.AssertNotCalled(t, "Send", mock.Anything)
}

func TestNotifyCast_UsesSlotSpell(t *testing.T) {
	f := newFixture(t)
	a := f.remoteActor(0x10)
	a.Equip(host.RightHand, healID)

	f.deliver(protocol.NotifyCast{
		CasterID:      0x10,
		CastingSource: protocol.CastingSourceRightHand,
		IsDualCasting: true,
		SpellID:       fireballGID,
	})

	right := a.CasterFor(host.RightHand)
	require.NotNil(t, right)
	assert.Equal(t, []host.FormID{healID}, right.Casts, "slot lookup wins over the id")
	assert.True(t, a.CasterFor(host.LeftHand).DualCasting(), "dual casting lives on the left hand")
	assert.Equal(t, 3, a.CastersCreated)
	f.tr.AssertNotCalled(t, "Send", mock.Anything)
}

func TestNotifyCast_FallsBackToGameID(t *testing.T) {
	f := newFixture(t)
	a := f.remoteActor(0x10)

	f.deliver(protocol.NotifyCast{CasterID: 0x10, CastingSource: protocol.CastingSourceOther, SpellID: fireballGID})

	assert.Equal(t, []host.FormID{fireballID}, a.CasterFor(host.Other).Casts)
	assert.Empty(t, a.CasterFor(host.LeftHand).Casts)
	assert.Empty(t, a.CasterFor(host.RightHand).Casts)
}

func TestNotifyCast_DelegatesCreatedOnce(t *testing.T) {
	f := newFixture(t)
	a := f.remoteActor(0x10)
	msg := protocol.NotifyCast{CasterID: 0x10, CastingSource: protocol.CastingSourceLeftHand, SpellID: fireballGID}

	f.deliver(msg, msg)

	assert.Equal(t, 3, a.CastersCreated)
	assert.Len(t, a.CasterFor(host.LeftHand).Casts, 2)
	assert.Equal(t, uint64(2), f.svc.Stats().Applied[protocol.TypeNotifyCast])
}

func TestNotifyCast_InstantIsNotReplayed(t *testing.T) {
	f := newFixture(t)
	a := f.remoteActor(0x10)

	f.deliver(protocol.NotifyCast{CasterID: 0x10, CastingSource: protocol.CastingSourceInstant, SpellID: fireballGID})

	assert.Zero(t, f.engine.Calls.Total())
	assert.Zero(t, a.CastersCreated)
}

func TestNotifyCast_OutOfRangeSource(t *testing.T) {
	f := newFixture(t)
	a := f.remoteActor(0x10)

	f.deliver(protocol.NotifyCast{CasterID: 0x10, CastingSource: 7, SpellID: fireballGID})

	assert.Zero(t, f.engine.Calls.Total())
	assert.Zero(t, a.CastersCreated)
	assert.Len(t, f.logsWith("casting source out of range, trying spell id"), 1)
}

func TestNotifyCast_UnresolvedSpell(t *testing.T) {
	f := newFixture(t)
	f.remoteActor(0x10)

	f.deliver(protocol.NotifyCast{
		CasterID:      0x10,
		CastingSource: protocol.CastingSourceLeftHand,
		SpellID:       protocol.GameID{ModID: 99, BaseID: 1},
	})

	assert.Zero(t, f.engine.Calls.Total())
	assert.Equal(t, 1, f.countLogs("ERROR"))
	assert.Equal(t, uint64(1), f.svc.Stats().Dropped[protocol.TypeNotifyCast+"/unresolved_definition"])
}

func TestOnCast_Drops(t *testing.T) {
	t.Run("not loaded", func(t *testing.T) {
		f := newFixture(t)
		a := f.localActor(0x1)
		a.SetLoaded(false)
		a.CreateCaster(host.LeftHand).CastImmediate(f.fireball, host.DefaultCastOptions())
		f.tr.AssertNotCalled(t, "Send", mock.Anything)
		assert.Len(t, f.logsWith("cast event has no actor or actor is not loaded"), 1)
	})
	t.Run("mirror does not announce", func(t *testing.T) {
		f := newFixture(t)
		a := f.remoteActor(0x1)
		a.CreateCaster(host.RightHand).CastImmediate(f.fireball, host.DefaultCastOptions())
		f.tr.AssertNotCalled(t, "Send", mock.Anything)
		assert.Zero(t, f.countLogs("WARN"))
		assert.Zero(t, f.countLogs("ERROR"))
	})
	t.Run("runtime spell", func(t *testing.T) {
		f := newFixture(t)
		a := f.localActor(0x1)
		spell := f.engine.AddSpell(runtimeID, host.Effect{ID: 1})
		a.CreateCaster(host.LeftHand).CastImmediate(spell, host.DefaultCastOptions())
		f.tr.AssertNotCalled(t, "Send", mock.Anything)
		assert.Equal(t, 1, f.countLogs("ERROR"))
	})
}

func TestOnCast_MissingSpellIsAnAssertion(t *testing.T) {
	f := newFixture(t)
	a := f.localActor(0x1)
	assert.Panics(t, func() {
		f.svc.OnCast(host.CastEvent{Caster: a.Handle(), Source: host.LeftHand})
	})

	lenient := newFixtureWith(t, fixtureOpts{})
	b := lenient.localActor(0x1)
	lenient.svc.OnCast(host.CastEvent{Caster: b.Handle(), Source: host.LeftHand})
	recs := lenient.logsWith("cast event has no spell")
	require.Len(t, recs, 1)
	assert.Equal(t, true, recs[0]["assert"])
	assert.Equal(t, uint64(1), lenient.svc.Stats().AssertFailed)
	lenient.tr.AssertNotCalled(t, "Send", mock.Anything)
}

func TestOnCast_SendFailureIsCounted(t *testing.T) {
	f := newFixture(t)
	a := f.localActor(0x1)
	f.tr.On("Send", mock.Anything).Return(assert.AnError).Once()

	a.CreateCaster(host.LeftHand).CastImmediate(f.fireball, host.DefaultCastOptions())

	st := f.svc.Stats()
	assert.Zero(t, st.Sent[protocol.TypeCastRequest])
	assert.Equal(t, uint64(1), st.Dropped[protocol.TypeCastRequest+"/send_failed"])
}

func TestOnAddTarget_LocalOrRemoteTarget(t *testing.T) {
	f := newFixture(t)
	mine := f.localActor(0x5)
	theirs := f.remoteActor(0x6)
	stranger := f.engine.SpawnActor(worldtest.ActorOptions{})

	f.expectSend(protocol.AddTargetRequest{TargetID: 0x5, SpellID: fireballGID})
	f.expectSend(protocol.AddTargetRequest{TargetID: 0x6, SpellID: fireballGID})

	hit := host.TargetData{Spell: f.fireball, Effect: f.fireball.Effects()[0], Scale: 1}
	mine.MagicTarget().AddTarget(hit)
	theirs.MagicTarget().AddTarget(hit)
	stranger.MagicTarget().AddTarget(hit)

	f.tr.AssertExpectations(t)
	f.tr.AssertNumberOfCalls(t, "Send", 2)
	assert.Equal(t, 3, f.engine.Calls.AddTarget)
}

func TestNotifyAddTarget_MatchesLocalTarget(t *testing.T) {
	f := newFixture(t)
	me := f.localActor(0x5)

	f.deliver(protocol.NotifyAddTarget{TargetID: 0x5, SpellID: healGID})

	assert.Len(t, me.Target().Applied, 1)
	f.tr.AssertNotCalled(t, "Send", mock.Anything)
}

func TestNoEngineHandleOnTheWire(t *testing.T) {
	f := newFixture(t)
	var sent []protocol.Message
	f.tr.On("Send", mock.Anything).Run(func(args mock.Arguments) {
		sent = append(sent, args.Get(0).(protocol.Message))
	}).Return(nil)

	for i := protocol.NetworkID(1); i <= 4; i++ {
		a := f.localActor(i)
		c := a.CreateCaster(host.CastingSource(i % 3))
		c.CastImmediate(f.fireball, host.DefaultCastOptions())
		a.InterruptCast()
		a.MagicTarget().AddTarget(host.TargetData{Spell: f.fireball, Effect: f.fireball.Effects()[0]})
	}
	require.Len(t, sent, 12)

	handles := map[uint32]bool{}
	for h := uint32(0xFF000800); h < 0xFF000810; h++ {
		handles[h] = true
	}
	for _, m := range sent {
		switch v := m.(type) {
		case protocol.CastRequest:
			assert.False(t, handles[uint32(v.CasterID)])
		case protocol.InterruptRequest:
			assert.False(t, handles[uint32(v.CasterID)])
		case protocol.AddTargetRequest:
			assert.False(t, handles[uint32(v.TargetID)])
		default:
			t.Fatalf("unexpected %T", m)
		}
	}
}

func TestNotify_UnloadedActorIsDropped(t *testing.T) {
	notes := []protocol.Message{
		protocol.NotifyCast{CasterID: 0x10, CastingSource: protocol.CastingSourceRightHand, SpellID: fireballGID},
		protocol.NotifyInterrupt{CasterID: 0x10},
		protocol.NotifyAddTarget{TargetID: 0x10, SpellID: fireballGID},
		protocol.NotifyActivate{ObjectID: doorGID, ActivatorID: 0x10, Count: 1},
	}
	for _, strict := range []bool{true, false} {
		f := newFixtureWith(t, fixtureOpts{strict: strict})
		a := f.remoteActor(0x10)
		f.engine.SpawnObject(doorID)
		f.engine.Despawn(a.Handle())

		require.NotPanics(t, func() { f.deliver(notes...) }, "strict=%v", strict)

		st := f.svc.Stats()
		assert.Zero(t, st.AssertFailed)
		assert.Zero(t, f.countLogs("ERROR"))
		assert.Equal(t, len(notes), f.countLogs("WARN"))
		for _, m := range notes {
			assert.Equal(t, uint64(1), st.Dropped[m.MessageType()+"/not_loaded"], m.MessageType())
		}
		assert.Zero(t, f.engine.Calls.Total())
		f.tr.AssertNotCalled(t, "Send", mock.Anything)
	}
}

func TestNotify_NonActorIsAnAssertion(t *testing.T) {
	f := newFixtureWith(t, fixtureOpts{})
	door := f.engine.SpawnObject(doorID)
	require.NoError(t, f.ids.AddRemote(door.Handle(), 0x10))

	f.deliver(protocol.NotifyInterrupt{CasterID: 0x10})

	st := f.svc.Stats()
	assert.Equal(t, uint64(1), st.AssertFailed)
	assert.Equal(t, uint64(1), st.Dropped[protocol.TypeNotifyInterrupt+"/wrong_kind"])
	require.Len(t, f.logsWith("remote caster is not an actor"), 1)
}
