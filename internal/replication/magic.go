package replication

import (
	"coopsim.io/internal/protocol"
	"coopsim.io/internal/sim/host"
)

// OnCast announces a cast performed by an actor this participant owns.
func (s *Service) OnCast(ev host.CastEvent) {
	const typ = protocol.TypeCastRequest
	if !s.assert(ev.Spell != 0, "cast event has no spell", "caster", ev.Caster) {
		s.stats.drop(typ, reasonInvalid)
		return
	}
	actor, ok := s.actor(ev.Caster)
	if !ok || !actor.Loaded() {
		s.stats.drop(typ, reasonNotLoaded)
		s.log.Warn("cast event has no actor or actor is not loaded", "caster", ev.Caster)
		return
	}
	id, ok := s.ids.ResolveLocal(ev.Caster)
	if !ok {
		s.stats.drop(typ, reasonNotAuthority)
		return
	}
	spell, ok := s.defs.ToGameID(ev.Spell)
	if !ok {
		s.stats.drop(typ, reasonUnresolvedDef)
		s.log.Error("spell has no cross-participant id", "spell", ev.Spell, "caster_id", id)
		return
	}

	req := protocol.CastRequest{
		CasterID:      id,
		CastingSource: uint8(ev.Source),
		IsDualCasting: ev.DualCasting,
		SpellID:       spell,
	}
	s.log.Info("cast sent", "caster_id", id, "source", ev.Source, "dual", ev.DualCasting)
	s.send(req)
}

// HandleNotifyCast replays a remote actor's cast.
func (s *Service) HandleNotifyCast(n protocol.NotifyCast) {
	const typ = protocol.TypeNotifyCast
	h, ok := s.ids.ResolveInbound(n.CasterID)
	if !ok {
		s.stats.drop(typ, reasonUnknownEntity)
		s.log.Warn("caster not found", "remote_id", n.CasterID)
		return
	}
	actor, ok := s.inboundActor(typ, h, "remote caster")
	if !ok {
		return
	}

	src := host.CastingSource(n.CastingSource)
	if !src.Valid() {
		s.log.Warn("casting source out of range, trying spell id", "source", n.CastingSource)
	}
	spell, ok := s.castSpell(actor, src, n.SpellID)
	if !ok {
		s.stats.drop(typ, reasonUnresolvedDef)
		return
	}
	if src == host.Instant || !src.Valid() {
		// Instant casts complete on the authority; nothing to replay.
		s.stats.drop(typ, reasonSourceNotReplayed)
		return
	}

	s.replay(func() {
		left := s.ensureCaster(actor, host.LeftHand)
		right := s.ensureCaster(actor, host.RightHand)
		other := s.ensureCaster(actor, host.Other)
		// Only the left hand delegate tracks dual casting.
		left.SetDualCasting(n.IsDualCasting)

		opts := host.DefaultCastOptions()
		switch src {
		case host.LeftHand:
			left.CastImmediate(spell, opts)
		case host.RightHand:
			right.CastImmediate(spell, opts)
		case host.Other:
			other.CastImmediate(spell, opts)
		}
	})
	s.stats.applied(typ)
}

// castSpell picks the spell for a remote cast: the actor's slot first, the
// cross-participant id when the slot is empty or the source is out of range.
func (s *Service) castSpell(actor host.Actor, src host.CastingSource, gid protocol.GameID) (host.Spell, bool) {
	if src.Valid() {
		if id, ok := actor.EquippedSpell(src); ok {
			if spell, ok := s.spell(id); ok {
				return spell, true
			}
		}
	}
	id, ok := s.defs.Lookup(gid)
	if !ok {
		s.log.Error("could not find spell for game id", "mod_id", gid.ModID, "base_id", gid.BaseID)
		return nil, false
	}
	spell, ok := s.spell(id)
	if !ok {
		s.log.Error("cannot find spell form", "form_id", id)
		return nil, false
	}
	return spell, true
}

func (s *Service) ensureCaster(actor host.Actor, src host.CastingSource) host.MagicCaster {
	if c, ok := actor.Caster(src); ok {
		return c
	}
	return actor.CreateCaster(src)
}

// OnInterrupt announces an interrupted cast of an owned actor.
func (s *Service) OnInterrupt(ev host.InterruptEvent) {
	id, ok := s.ids.ResolveLocal(ev.Caster)
	if !ok {
		s.stats.drop(protocol.TypeInterruptRequest, reasonNotAuthority)
		return
	}
	s.send(protocol.InterruptRequest{CasterID: id})
}

func (s *Service) HandleNotifyInterrupt(n protocol.NotifyInterrupt) {
	const typ = protocol.TypeNotifyInterrupt
	h, ok := s.ids.ResolveInbound(n.CasterID)
	if !ok {
		s.stats.drop(typ, reasonUnknownEntity)
		s.log.Warn("caster not found", "remote_id", n.CasterID)
		return
	}
	actor, ok := s.inboundActor(typ, h, "remote caster")
	if !ok {
		return
	}
	s.replay(actor.InterruptCast)
	s.stats.applied(typ)
	s.log.Info("interrupt remote cast successful", "remote_id", n.CasterID)
}

// OnAddTarget announces an effect landing on a networked target. The target
// may be owned locally or mirrored from another participant.
func (s *Service) OnAddTarget(ev host.AddTargetEvent) {
	const typ = protocol.TypeAddTargetRequest
	e, ok := s.ids.Lookup(ev.Target)
	if !ok {
		s.stats.drop(typ, reasonUnknownEntity)
		return
	}
	if !s.assert(e.ID != 0, "add target request must have a target id", "handle", ev.Target) {
		s.stats.drop(typ, reasonInvalid)
		return
	}
	spell, ok := s.defs.ToGameID(ev.Spell)
	if !ok {
		s.stats.drop(typ, reasonUnresolvedDef)
		s.log.Error("could not find spell", "spell", ev.Spell)
		return
	}
	s.send(protocol.AddTargetRequest{TargetID: e.ID, SpellID: spell})
}

// HandleNotifyAddTarget applies a remote spell to a target.
//
// The notification does not say which effect fired, so every effect of the
// spell is applied. Spells with several effects are over-applied.
// TODO: carry the effect index in ADD_TARGET_REQUEST and apply only that one.
func (s *Service) HandleNotifyAddTarget(n protocol.NotifyAddTarget) {
	const typ = protocol.TypeNotifyAddTarget
	h, ok := s.ids.ResolveTarget(n.TargetID)
	if !ok {
		s.stats.drop(typ, reasonUnknownEntity)
		s.log.Warn("target not found", "target_id", n.TargetID)
		return
	}
	actor, ok := s.inboundActor(typ, h, "target")
	if !ok {
		return
	}
	id, ok := s.defs.Lookup(n.SpellID)
	if !ok {
		s.stats.drop(typ, reasonUnresolvedDef)
		s.log.Error("failed to retrieve spell id", "mod_id", n.SpellID.ModID, "base_id", n.SpellID.BaseID)
		return
	}
	spell, ok := s.spell(id)
	if !ok {
		s.stats.drop(typ, reasonUnresolvedDef)
		s.log.Error("failed to retrieve spell", "form_id", id)
		return
	}

	target := actor.MagicTarget()
	s.replay(func() {
		for _, eff := range spell.Effects() {
			target.AddTarget(host.TargetData{
				Spell:     spell,
				Effect:    eff,
				Magnitude: 0,
				Scale:     1.0,
				Source:    host.CastingSourceCount,
			})
		}
	})
	s.stats.applied(typ)
}
