// Package identity maps engine handles to network entity ids and
// cross-participant definition ids to locally loaded forms.
package identity

import (
	"errors"
	"fmt"
	"sync"

	"coopsim.io/internal/protocol"
	"coopsim.io/internal/sim/host"
)

var (
	ErrDuplicateHandle = errors.New("handle already registered")
	ErrDuplicateID     = errors.New("network id already registered")
	ErrZeroID          = errors.New("network id must be non-zero")
)

// Authority says which participant is the source of truth for an entity.
type Authority uint8

const (
	Local Authority = iota + 1
	Remote
)

func (a Authority) String() string {
	switch a {
	case Local:
		return "local"
	case Remote:
		return "remote"
	}
	return "unknown"
}

// Entity is one object known to replication. ID is the network id for Local
// entities and the owner's network id (the remote id) for Remote entities.
type Entity struct {
	Handle    host.Handle
	Authority Authority
	ID        protocol.NetworkID
}

// Resolver is the entity registry. It is written by spawn/despawn logic and
// read by the replication service; the service never inserts or removes.
type Resolver struct {
	mu       sync.RWMutex
	byHandle map[host.Handle]Entity
	local    map[protocol.NetworkID]host.Handle
	remote   map[protocol.NetworkID]host.Handle
}

func NewResolver() *Resolver {
	return &Resolver{
		byHandle: map[host.Handle]Entity{},
		local:    map[protocol.NetworkID]host.Handle{},
		remote:   map[protocol.NetworkID]host.Handle{},
	}
}

// AddLocal registers h as an entity this participant is authoritative for.
func (r *Resolver) AddLocal(h host.Handle, id protocol.NetworkID) error {
	return r.add(Entity{Handle: h, Authority: Local, ID: id})
}

// AddRemote registers h as the local mirror of another participant's entity.
func (r *Resolver) AddRemote(h host.Handle, remoteID protocol.NetworkID) error {
	return r.add(Entity{Handle: h, Authority: Remote, ID: remoteID})
}

func (r *Resolver) add(e Entity) error {
	if e.ID == 0 {
		return ErrZeroID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHandle[e.Handle]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandle, e.Handle)
	}
	idx := r.index(e.Authority)
	if _, ok := idx[e.ID]; ok {
		return fmt.Errorf("%w: %s %s", ErrDuplicateID, e.Authority, e.ID)
	}
	r.byHandle[e.Handle] = e
	idx[e.ID] = e.Handle
	return nil
}

func (r *Resolver) index(a Authority) map[protocol.NetworkID]host.Handle {
	if a == Local {
		return r.local
	}
	return r.remote
}

// Remove forgets the entity bound to h. It reports whether one existed.
func (r *Resolver) Remove(h host.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byHandle[h]
	if !ok {
		return false
	}
	delete(r.byHandle, h)
	delete(r.index(e.Authority), e.ID)
	return true
}

// Lookup returns the entity bound to h.
func (r *Resolver) Lookup(h host.Handle) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byHandle[h]
	return e, ok
}

// ResolveLocal returns the network id of h if this participant owns it.
func (r *Resolver) ResolveLocal(h host.Handle) (protocol.NetworkID, bool) {
	e, ok := r.Lookup(h)
	if !ok || e.Authority != Local {
		return 0, false
	}
	return e.ID, true
}

// ResolveRemote returns the remote id of h if h mirrors another participant's
// entity.
func (r *Resolver) ResolveRemote(h host.Handle) (protocol.NetworkID, bool) {
	e, ok := r.Lookup(h)
	if !ok || e.Authority != Remote {
		return 0, false
	}
	return e.ID, true
}

// ResolveInbound maps the id carried by a notification to the local mirror.
// Local entities never match.
func (r *Resolver) ResolveInbound(remoteID protocol.NetworkID) (host.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.remote[remoteID]
	return h, ok
}

// ResolveTarget matches a spell target id against remote mirrors first and
// then against local entities. Effects may be applied to either.
func (r *Resolver) ResolveTarget(id protocol.NetworkID) (host.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.remote[id]; ok {
		return h, true
	}
	h, ok := r.local[id]
	return h, ok
}

// Len returns the number of registered entities.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}
