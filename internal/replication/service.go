// Package replication translates local simulation events into outbound
// requests and applies inbound notifications to the local simulation.
//
// Every handler runs on the simulation goroutine and returns normally:
// failures are logged and counted, never propagated.
package replication

import (
	"fmt"
	"log/slog"

	"coopsim.io/internal/protocol"
	"coopsim.io/internal/sim/containers"
	"coopsim.io/internal/sim/guard"
	"coopsim.io/internal/sim/host"
	"coopsim.io/internal/sim/identity"
	"coopsim.io/internal/sim/runner"
)

// Transport is the outbound half of the wire. Send must not block on the
// network.
type Transport interface {
	Send(m protocol.Message) error
}

type Deps struct {
	Engine      host.Engine
	Resolver    *identity.Resolver
	Definitions *identity.Definitions
	Guard       *guard.Guard
	Tracker     *containers.Tracker
	Transport   Transport
	Logger      *slog.Logger
}

type Config struct {
	// StrictAsserts turns contract violations into panics instead of error
	// logs. Tests and development builds enable it.
	StrictAsserts bool
}

type Service struct {
	engine    host.Engine
	ids       *identity.Resolver
	defs      *identity.Definitions
	guard     *guard.Guard
	tracker   *containers.Tracker
	transport Transport
	log       *slog.Logger
	strict    bool

	dirty      map[host.Handle]struct{}
	dirtyOrder []host.Handle

	stats   counters
	cancels []func()
}

func New(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Engine == nil:
		return nil, fmt.Errorf("replication: nil engine")
	case deps.Resolver == nil:
		return nil, fmt.Errorf("replication: nil resolver")
	case deps.Definitions == nil:
		return nil, fmt.Errorf("replication: nil definitions")
	case deps.Guard == nil:
		return nil, fmt.Errorf("replication: nil guard")
	case deps.Transport == nil:
		return nil, fmt.Errorf("replication: nil transport")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = containers.NewTracker(deps.Engine)
	}
	return &Service{
		engine:    deps.Engine,
		ids:       deps.Resolver,
		defs:      deps.Definitions,
		guard:     deps.Guard,
		tracker:   tracker,
		transport: deps.Transport,
		log:       logger.With("component", "replication"),
		strict:    cfg.StrictAsserts,
		dirty:     map[host.Handle]struct{}{},
		stats:     newCounters(),
	}, nil
}

// Attach subscribes every handler on r. Inventory changes are flushed on
// every runner tick.
func (s *Service) Attach(r *runner.Runner) {
	s.cancels = append(s.cancels,
		runner.Subscribe(r, s.OnCast),
		runner.Subscribe(r, s.OnInterrupt),
		runner.Subscribe(r, s.OnAddTarget),
		runner.Subscribe(r, s.OnInventoryAdd),
		runner.Subscribe(r, s.OnInventoryRemove),
		runner.Subscribe(r, s.OnActivate),
		runner.Subscribe(r, s.HandleNotifyCast),
		runner.Subscribe(r, s.HandleNotifyInterrupt),
		runner.Subscribe(r, s.HandleNotifyAddTarget),
		runner.Subscribe(r, s.HandleNotifyInventoryChanges),
		runner.Subscribe(r, s.HandleNotifyActivate),
		r.OnTick(s.Flush),
	)
}

// Detach removes every subscription made by Attach.
func (s *Service) Detach() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}

func (s *Service) send(m protocol.Message) {
	typ := m.MessageType()
	if err := s.transport.Send(m); err != nil {
		s.stats.drop(typ, reasonSendFailed)
		s.log.Warn("send failed", "type", typ, "err", err)
		return
	}
	s.stats.sent(typ)
}

// assert reports a violated collaborator contract. It reports whether cond
// held so callers can bail out.
func (s *Service) assert(cond bool, msg string, args ...any) bool {
	if cond {
		return true
	}
	s.stats.assertFailed()
	s.log.Error(msg, append([]any{"assert", true}, args...)...)
	if s.strict {
		panic("replication: " + msg)
	}
	return false
}

// replay applies a remote notification. Detours inside fn do not publish.
func (s *Service) replay(fn func()) {
	s.guard.Replaying(fn)
}

func (s *Service) actor(h host.Handle) (host.Actor, bool) {
	ref, ok := s.engine.LookupReference(h)
	if !ok {
		return nil, false
	}
	return host.AsActor(ref)
}

// inboundActor resolves the actor a notification addresses. The engine may
// have unloaded a handle the resolver still knows; that is dropped with a
// warning. A loaded reference that is not an actor is a contract violation.
func (s *Service) inboundActor(typ string, h host.Handle, role string) (host.Actor, bool) {
	ref, ok := s.engine.LookupReference(h)
	if !ok {
		s.stats.drop(typ, reasonNotLoaded)
		s.log.Warn(role+" not loaded", "handle", h)
		return nil, false
	}
	actor, ok := host.AsActor(ref)
	if !s.assert(ok, role+" is not an actor", "handle", h) {
		s.stats.drop(typ, reasonWrongKind)
		return nil, false
	}
	return actor, true
}

func (s *Service) spell(id host.FormID) (host.Spell, bool) {
	f, ok := s.engine.LookupForm(id)
	if !ok {
		return nil, false
	}
	return host.AsSpell(f)
}
