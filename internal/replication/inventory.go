package replication

import (
	"coopsim.io/internal/protocol"
	"coopsim.io/internal/sim/containers"
	"coopsim.io/internal/sim/host"
)

func (s *Service) OnInventoryAdd(ev host.InventoryAddEvent)       { s.markDirty(ev.Owner) }
func (s *Service) OnInventoryRemove(ev host.InventoryRemoveEvent) { s.markDirty(ev.Owner) }

// markDirty queues an owned container for the next Flush. Mirrors of other
// participants' containers are never announced.
func (s *Service) markDirty(h host.Handle) {
	if _, ok := s.ids.ResolveLocal(h); !ok {
		return
	}
	if _, ok := s.dirty[h]; ok {
		return
	}
	s.dirty[h] = struct{}{}
	s.dirtyOrder = append(s.dirtyOrder, h)
}

// Flush sends the full container delta of every container changed since the
// last flush, in the order they first changed.
func (s *Service) Flush() {
	if len(s.dirtyOrder) == 0 {
		return
	}
	pending := s.dirtyOrder
	s.dirtyOrder = nil
	clear(s.dirty)

	const typ = protocol.TypeInventoryChangesRequest
	for _, h := range pending {
		id, ok := s.ids.ResolveLocal(h)
		if !ok {
			s.stats.drop(typ, reasonNotAuthority)
			continue
		}
		delta, ok := s.tracker.Delta(h)
		if !ok {
			s.stats.drop(typ, reasonWrongKind)
			s.log.Warn("inventory change on a reference without inventory", "handle", h)
			continue
		}
		s.send(protocol.InventoryChangesRequest{TargetID: id, Entries: s.wireEntries(delta)})
	}
}

func (s *Service) wireEntries(delta containers.Delta) []protocol.ItemDelta {
	out := make([]protocol.ItemDelta, 0, len(delta))
	skipped := 0
	for _, e := range delta {
		gid, ok := s.defs.ToGameID(e.Item)
		if !ok {
			skipped++
			s.log.Warn("item has no cross-participant id", "item", e.Item)
			continue
		}
		d := protocol.ItemDelta{Item: gid, Count: int32(e.Count)}
		for _, x := range e.Extra {
			d.Extra = append(d.Extra, protocol.ItemExtra{
				Count:    int32(x.Count),
				Worn:     x.Worn,
				WornLeft: x.WornLeft,
				Health:   x.Health,
				Charge:   x.Charge,
			})
		}
		out = append(out, d)
	}
	if skipped > 0 {
		s.stats.skipped(skipped)
	}
	return out
}

// HandleNotifyInventoryChanges moves a mirrored container to the delta its
// owner announced.
func (s *Service) HandleNotifyInventoryChanges(n protocol.NotifyInventoryChanges) {
	const typ = protocol.TypeNotifyInventoryChanges
	h, ok := s.ids.ResolveInbound(n.TargetID)
	if !ok {
		s.stats.drop(typ, reasonUnknownEntity)
		s.log.Warn("inventory owner not found", "remote_id", n.TargetID)
		return
	}
	ref, ok := s.engine.LookupReference(h)
	if !ok {
		s.stats.drop(typ, reasonNotLoaded)
		s.log.Warn("inventory owner not loaded", "remote_id", n.TargetID, "handle", h)
		return
	}
	c, ok := host.AsContainer(ref)
	if !ok {
		s.stats.drop(typ, reasonWrongKind)
		s.log.Warn("inventory owner has no inventory", "remote_id", n.TargetID)
		return
	}

	want := s.localDelta(n.Entries)
	plan := containers.Plan(containers.DeltaOf(c), want)
	s.replay(func() {
		for _, adj := range plan {
			if adj.Count > 0 {
				c.AddItem(adj.Item, adj.Count, adj.Extra)
			} else {
				c.RemoveItem(adj.Item, -adj.Count, adj.Extra)
			}
		}
	})
	s.stats.applied(typ)
}

// localDelta resolves wire entries to local forms. Items whose content is not
// installed here are skipped.
func (s *Service) localDelta(entries []protocol.ItemDelta) containers.Delta {
	out := make(containers.Delta, 0, len(entries))
	skipped := 0
	for _, d := range entries {
		id, ok := s.defs.Lookup(d.Item)
		if !ok {
			skipped++
			s.log.Warn("item not installed", "mod_id", d.Item.ModID, "base_id", d.Item.BaseID)
			continue
		}
		e := containers.Entry{Item: id, Count: int(d.Count)}
		for _, x := range d.Extra {
			e.Extra = append(e.Extra, host.ExtraData{
				Count:    int(x.Count),
				Worn:     x.Worn,
				WornLeft: x.WornLeft,
				Health:   x.Health,
				Charge:   x.Charge,
			})
		}
		out = append(out, e)
	}
	if skipped > 0 {
		s.stats.skipped(skipped)
	}
	return out
}
