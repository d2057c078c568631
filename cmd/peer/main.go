// Command peer joins a relay session with the in-memory engine. It owns one
// actor, mirrors the actors of the other participants and, with -script,
// has its actor cast and loot on a timer so the replication path can be
// watched end to end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"coopsim.io/internal/config"
	"coopsim.io/internal/protocol"
	"coopsim.io/internal/session"
	"coopsim.io/internal/sim/host"
	"coopsim.io/internal/sim/worldtest"
	"coopsim.io/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/coopsim.yaml", "config file (empty for defaults + env)")
		name       = flag.String("name", "", "participant name (overrides peer.name)")
		actorID    = flag.String("actor_id", "0x21", "network id of the actor this peer owns")
		mirrors    = flag.String("mirror", "", "comma separated network ids owned by other peers")
		script     = flag.Bool("script", false, "have the owned actor act every few ticks")
		debug      = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With("app", "peer")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}
	if n := strings.TrimSpace(*name); n != "" {
		cfg.Peer.Name = n
	}
	own, err := parseNetworkID(*actorID)
	if err != nil {
		logger.Error("bad -actor_id", "err", err)
		os.Exit(2)
	}
	others, err := parseNetworkIDs(*mirrors)
	if err != nil {
		logger.Error("bad -mirror", "err", err)
		os.Exit(2)
	}

	ctx, cancel := signalContext()
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := ws.Dial(dialCtx, cfg.Peer.RelayURL, ws.ClientOptions{
		Name:      cfg.Peer.Name,
		SessionID: cfg.Peer.SessionID,
		SendQueue: cfg.Peer.SendQueue,
		Logger:    logger,
	})
	dialCancel()
	if err != nil {
		logger.Error("dial relay", "url", cfg.Peer.RelayURL, "err", err)
		os.Exit(1)
	}
	defer client.Close()
	w := client.Welcome()
	logger.Info("joined", "session", w.SessionID, "participant", w.ParticipantID)

	engine := worldtest.NewEngine()
	sess, err := session.New(cfg, session.Deps{Engine: engine, Transport: client, Logger: logger})
	if err != nil {
		logger.Error("session", "err", err)
		os.Exit(1)
	}
	defer sess.Close()

	demo, err := newWorld(engine, sess, own, others)
	if err != nil {
		logger.Error("demo world", "err", err)
		os.Exit(1)
	}
	if *script {
		sess.Runner.OnTick(demo.step)
	}

	go func() {
		if err := client.Run(ctx, sess.Deliver); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("relay connection lost", "err", err)
		}
		cancel()
	}()

	if addr := strings.TrimSpace(cfg.Peer.MetricsAddr); addr != "" {
		srv := metricsServer(addr, sess, client)
		go func() {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", "err", err)
			}
		}()
	}

	if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("session stopped", "err", err)
	}
}

func metricsServer(addr string, sess *session.Session, client *ws.Client) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		st, err := sess.Stats(ctx)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, st, transportStats{Dropped: client.Dropped(), Received: client.Received()})
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func parseNetworkID(s string) (protocol.NetworkID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, fmt.Errorf("network id must not be zero")
	}
	return protocol.NetworkID(v), nil
}

func parseNetworkIDs(s string) ([]protocol.NetworkID, error) {
	var out []protocol.NetworkID
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := parseNetworkID(part)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// Content every demo peer installs.
var (
	fireballGID = protocol.GameID{ModID: 3, BaseID: 0x12EB7}
	arrowsGID   = protocol.GameID{ModID: 1, BaseID: 0x1397D}
)

type world struct {
	sess     *session.Session
	player   *worldtest.Actor
	fireball *worldtest.Spell
	arrows   host.FormID
	ticks    int
}

func newWorld(e *worldtest.Engine, sess *session.Session, own protocol.NetworkID, others []protocol.NetworkID) (*world, error) {
	w := &world{sess: sess}
	if id, ok := sess.Definitions.Lookup(fireballGID); ok {
		w.fireball = e.AddSpell(id, host.Effect{ID: 1, Magnitude: 25})
	}
	if id, ok := sess.Definitions.Lookup(arrowsGID); ok {
		e.AddItemForm(id)
		w.arrows = id
	}

	w.player = e.SpawnActor(worldtest.ActorOptions{})
	if w.fireball != nil {
		w.player.Equip(host.RightHand, w.fireball.FormID())
	}
	if err := sess.Resolver.AddLocal(w.player.Handle(), own); err != nil {
		return nil, err
	}
	for _, id := range others {
		m := e.SpawnActor(worldtest.ActorOptions{})
		if err := sess.Resolver.AddRemote(m.Handle(), id); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// step runs on the simulation goroutine.
func (w *world) step() {
	w.ticks++
	if w.ticks%10 != 0 {
		return
	}
	switch (w.ticks / 10) % 3 {
	case 0:
		if w.fireball != nil {
			c, ok := w.player.Caster(host.RightHand)
			if !ok {
				c = w.player.CreateCaster(host.RightHand)
			}
			c.CastImmediate(w.fireball, host.DefaultCastOptions())
		}
	case 1:
		if w.arrows != 0 {
			w.player.AddItem(w.arrows, 5, nil)
		}
	case 2:
		w.player.InterruptCast()
	}
}
