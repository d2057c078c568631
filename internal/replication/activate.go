package replication

import (
	"coopsim.io/internal/protocol"
	"coopsim.io/internal/sim/host"
)

// OnActivate announces an owned actor activating a content-placed object
// such as a door or a lever.
func (s *Service) OnActivate(ev host.ActivateEvent) {
	const typ = protocol.TypeActivateRequest
	activator, ok := s.ids.ResolveLocal(ev.Activator)
	if !ok {
		s.stats.drop(typ, reasonNotAuthority)
		return
	}
	ref, ok := s.engine.LookupReference(ev.Object)
	if !ok {
		s.stats.drop(typ, reasonNotLoaded)
		s.log.Warn("activated object not loaded", "handle", ev.Object)
		return
	}
	if ref.FormID() == 0 {
		s.stats.drop(typ, reasonWrongKind)
		s.log.Debug("activated object was created at runtime", "handle", ev.Object)
		return
	}
	object, ok := s.defs.ToGameID(ref.FormID())
	if !ok {
		s.stats.drop(typ, reasonUnresolvedDef)
		s.log.Error("activated object has no cross-participant id", "form_id", ref.FormID())
		return
	}
	s.send(protocol.ActivateRequest{
		ObjectID:          object,
		ActivatorID:       activator,
		Count:             int32(ev.Count),
		DefaultProcessing: ev.DefaultProcessing,
	})
}

// HandleNotifyActivate replays a remote actor's activation.
func (s *Service) HandleNotifyActivate(n protocol.NotifyActivate) {
	const typ = protocol.TypeNotifyActivate
	h, ok := s.ids.ResolveInbound(n.ActivatorID)
	if !ok {
		s.stats.drop(typ, reasonUnknownEntity)
		s.log.Warn("activator not found", "remote_id", n.ActivatorID)
		return
	}
	actor, ok := s.inboundActor(typ, h, "remote activator")
	if !ok {
		return
	}
	id, ok := s.defs.Lookup(n.ObjectID)
	if !ok {
		s.stats.drop(typ, reasonUnresolvedDef)
		s.log.Warn("activated object not installed", "mod_id", n.ObjectID.ModID, "base_id", n.ObjectID.BaseID)
		return
	}
	object, ok := s.engine.LookupPlaced(id)
	if !ok {
		s.stats.drop(typ, reasonNotLoaded)
		s.log.Warn("activated object not loaded", "form_id", id)
		return
	}
	s.replay(func() {
		actor.Activate(object, 0, int(n.Count), n.DefaultProcessing)
	})
	s.stats.applied(typ)
}
