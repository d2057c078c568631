package replication_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coopsim.io/internal/protocol"
	"coopsim.io/internal/replication"
	"coopsim.io/internal/sim/guard"
	"coopsim.io/internal/sim/hooks"
	"coopsim.io/internal/sim/host"
	"coopsim.io/internal/sim/identity"
	"coopsim.io/internal/sim/runner"
	"coopsim.io/internal/sim/worldtest"
)

// Content shared by every participant in these tests: Base.esm is mod 1 at
// load slot 0, Spells.esp is mod 3 at load slot 5.
const (
	fireballID host.FormID = 0x05012EB7
	healID     host.FormID = 0x05000D01
	arrowsID   host.FormID = 0x0001397D
	swordID    host.FormID = 0x00012EB7
	doorID     host.FormID = 0x0001D0D0
	runtimeID  host.FormID = 0xFF000A01
)

var (
	fireballGID = protocol.GameID{ModID: 3, BaseID: 0x12EB7}
	healGID     = protocol.GameID{ModID: 3, BaseID: 0xD01}
	arrowsGID   = protocol.GameID{ModID: 1, BaseID: 0x1397D}
	swordGID    = protocol.GameID{ModID: 1, BaseID: 0x12EB7}
	doorGID     = protocol.GameID{ModID: 1, BaseID: 0x1D0D0}
)

type mockTransport struct{ mock.Mock }

func (m *mockTransport) Send(msg protocol.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

type fixture struct {
	t      *testing.T
	engine *worldtest.Engine
	ids    *identity.Resolver
	defs   *identity.Definitions
	guard  *guard.Guard
	run    *runner.Runner
	svc    *replication.Service
	tr     *mockTransport
	logs   *bytes.Buffer

	fireball *worldtest.Spell
}

type fixtureOpts struct {
	policy guard.Policy
	strict bool
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, fixtureOpts{strict: true})
}

func newFixtureWith(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	f := &fixture{
		t:      t,
		engine: worldtest.NewEngine(),
		ids:    identity.NewResolver(),
		defs:   identity.NewDefinitions(),
		run:    runner.New(runner.Config{}),
		tr:     &mockTransport{},
		logs:   logs,
	}
	require.NoError(t, f.defs.RegisterMod(identity.Mod{ServerID: 1, Name: "Base.esm", Index: 0}))
	require.NoError(t, f.defs.RegisterMod(identity.Mod{ServerID: 3, Name: "Spells.esp", Index: 5}))

	f.guard = guard.New(opts.policy, logger)
	f.engine.Intercept(hooks.New(f.guard, f.run))

	svc, err := replication.New(replication.Deps{
		Engine:      f.engine,
		Resolver:    f.ids,
		Definitions: f.defs,
		Guard:       f.guard,
		Transport:   f.tr,
		Logger:      logger,
	}, replication.Config{StrictAsserts: opts.strict})
	require.NoError(t, err)
	svc.Attach(f.run)
	f.svc = svc

	f.fireball = f.engine.AddSpell(fireballID,
		host.Effect{ID: 0x0001CEA0, Magnitude: 25},
		host.Effect{ID: 0x0001CEA1, Magnitude: 5, Duration: 3},
		host.Effect{ID: 0x0001CEA2, Area: 15},
	)
	f.engine.AddSpell(healID, host.Effect{ID: 0x0001CE90, Magnitude: 10})
	f.engine.AddItemForm(arrowsID)
	f.engine.AddItemForm(swordID)
	return f
}

func (f *fixture) localActor(id protocol.NetworkID) *worldtest.Actor {
	f.t.Helper()
	a := f.engine.SpawnActor(worldtest.ActorOptions{})
	require.NoError(f.t, f.ids.AddLocal(a.Handle(), id))
	return a
}

func (f *fixture) remoteActor(remoteID protocol.NetworkID) *worldtest.Actor {
	f.t.Helper()
	a := f.engine.SpawnActor(worldtest.ActorOptions{})
	require.NoError(f.t, f.ids.AddRemote(a.Handle(), remoteID))
	return a
}

// deliver hands a notification to the runner like a transport goroutine
// would and drains it on the test goroutine.
func (f *fixture) deliver(msgs ...protocol.Message) {
	f.t.Helper()
	for _, m := range msgs {
		require.True(f.t, f.run.Trigger(m))
	}
	f.run.Drain()
}

func (f *fixture) expectSend(msg protocol.Message) {
	f.tr.On("Send", msg).Return(nil).Once()
}

// countLogs counts log records at level ("WARN", "ERROR", ...).
func (f *fixture) countLogs(level string) int {
	n := 0
	for _, line := range bytes.Split(f.logs.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		if json.Unmarshal(line, &rec) == nil && rec["level"] == level {
			n++
		}
	}
	return n
}

// logsWith returns the records whose message is msg.
func (f *fixture) logsWith(msg string) []map[string]any {
	var out []map[string]any
	for _, line := range bytes.Split(f.logs.Bytes(), []byte("\n")) {
		var rec map[string]any
		if json.Unmarshal(line, &rec) == nil && rec["msg"] == msg {
			out = append(out, rec)
		}
	}
	return out
}
