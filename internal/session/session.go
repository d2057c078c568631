// Package session wires one participant's replication core: resolver,
// definition table, guard, runner, interception detours, container tracker
// and the replication service. A Session is process scoped; Close tears it
// down in reverse order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"coopsim.io/internal/config"
	"coopsim.io/internal/protocol"
	"coopsim.io/internal/replication"
	"coopsim.io/internal/sim/containers"
	"coopsim.io/internal/sim/guard"
	"coopsim.io/internal/sim/hooks"
	"coopsim.io/internal/sim/host"
	"coopsim.io/internal/sim/identity"
	"coopsim.io/internal/sim/runner"
)

var ErrClosed = errors.New("session closed")

// Interceptor is implemented by engines whose mutators can be routed through
// the detours. Intercept(nil) removes the routing.
type Interceptor interface {
	Intercept(d *hooks.Detours)
}

type Deps struct {
	Engine    host.Engine
	Transport replication.Transport
	Logger    *slog.Logger
}

type Session struct {
	ID uuid.UUID

	Resolver    *identity.Resolver
	Definitions *identity.Definitions
	Guard       *guard.Guard
	Runner      *runner.Runner
	Detours     *hooks.Detours
	Tracker     *containers.Tracker
	Service     *replication.Service

	engine host.Engine
	log    *slog.Logger

	cancelStats func()
	closeOnce   sync.Once
	closed      chan struct{}
}

type statsRequest struct {
	resp chan replication.Stats
}

func New(cfg config.Config, deps Deps) (*Session, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("session: nil engine")
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("session: nil transport")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	logger = logger.With("session", id.String())

	defs := identity.NewDefinitions()
	if err := cfg.RegisterMods(defs); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	s := &Session{
		ID:          id,
		Resolver:    identity.NewResolver(),
		Definitions: defs,
		Guard:       guard.New(cfg.GuardPolicy(), logger),
		Runner: runner.New(runner.Config{
			InboxSize:    cfg.Session.InboxSize,
			TickInterval: cfg.Session.FlushInterval,
		}),
		Tracker: containers.NewTracker(deps.Engine),
		engine:  deps.Engine,
		log:     logger,
		closed:  make(chan struct{}),
	}
	s.Detours = hooks.New(s.Guard, s.Runner)

	svc, err := replication.New(replication.Deps{
		Engine:      deps.Engine,
		Resolver:    s.Resolver,
		Definitions: s.Definitions,
		Guard:       s.Guard,
		Tracker:     s.Tracker,
		Transport:   deps.Transport,
		Logger:      logger,
	}, replication.Config{StrictAsserts: cfg.Session.StrictAsserts})
	if err != nil {
		return nil, err
	}
	s.Service = svc
	svc.Attach(s.Runner)
	s.cancelStats = runner.Subscribe(s.Runner, func(req statsRequest) {
		req.resp <- s.Service.Stats()
	})

	if ic, ok := deps.Engine.(Interceptor); ok {
		ic.Intercept(s.Detours)
	} else {
		logger.Warn("engine does not accept detours; local events will not be replicated")
	}
	logger.Info("session started", "guard_policy", cfg.GuardPolicy().String(), "mods", len(cfg.Mods))
	return s, nil
}

// Run dispatches events on the calling goroutine until ctx is done or the
// session is closed. It is the simulation goroutine from then on.
func (s *Session) Run(ctx context.Context) error {
	return s.Runner.Run(ctx)
}

// Deliver queues an inbound notification for the simulation goroutine. It is
// safe to call from transport goroutines. Anything but a notification value
// is refused: handlers are keyed by the value type, so a pointer would reach
// none of them.
func (s *Session) Deliver(m protocol.Message) bool {
	if m == nil || reflect.ValueOf(m).Kind() != reflect.Struct || !protocol.IsNotification(m.MessageType()) {
		return false
	}
	select {
	case <-s.closed:
		return false
	default:
	}
	if !s.Runner.Trigger(m) {
		s.log.Warn("inbox full; notification dropped", "type", m.MessageType())
		return false
	}
	return true
}

// Stats asks the simulation goroutine for a stats snapshot. It needs Run to
// be active; callers on the simulation goroutine use Service.Stats directly.
func (s *Session) Stats(ctx context.Context) (replication.Stats, error) {
	req := statsRequest{resp: make(chan replication.Stats, 1)}
	select {
	case <-s.closed:
		return replication.Stats{}, ErrClosed
	default:
	}
	if !s.Runner.Trigger(req) {
		return replication.Stats{}, fmt.Errorf("stats: inbox full")
	}
	select {
	case st := <-req.resp:
		return st, nil
	case <-s.closed:
		return replication.Stats{}, ErrClosed
	case <-ctx.Done():
		return replication.Stats{}, ctx.Err()
	}
}

// Close removes the detours, detaches the service and stops the runner. Call
// it after Run returns or from the simulation goroutine.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if ic, ok := s.engine.(Interceptor); ok {
			ic.Intercept(nil)
		}
		s.cancelStats()
		s.Service.Detach()
		s.Runner.Stop()
		s.log.Info("session closed", "dispatched", s.Runner.Dispatched(), "inbox_dropped", s.Runner.Dropped())
	})
	return nil
}
