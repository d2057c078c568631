package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"coopsim.io/internal/config"
	"coopsim.io/internal/persistence/indexdb"
	persistlog "coopsim.io/internal/persistence/log"
	"coopsim.io/internal/persistence/objstore"
	"coopsim.io/internal/protocol"
	"coopsim.io/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/coopsim.yaml", "config file (empty for defaults + env)")
		addr       = flag.String("addr", "", "http listen address (overrides relay.addr)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides relay.data_dir)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite message index")
		debug      = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With("app", "relay")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}
	if a := strings.TrimSpace(*addr); a != "" {
		cfg.Relay.Addr = a
	}
	if d := strings.TrimSpace(*dataDir); d != "" {
		cfg.Relay.DataDir = d
	}
	if *disableDB {
		cfg.Relay.IndexDB = "off"
	}
	_ = os.MkdirAll(cfg.Relay.DataDir, 0o755)

	rec := &recorder{log: logger}
	if mc := cfg.Relay.Mirror; mc.Enabled() {
		client, err := objstore.New(objstore.ClientConfig{
			Endpoint:        mc.Endpoint,
			Region:          mc.Region,
			Bucket:          mc.Bucket,
			AccessKeyID:     mc.AccessKeyID,
			SecretAccessKey: mc.SecretAccessKey,
		})
		if err != nil {
			logger.Error("journal mirror", "err", err)
			os.Exit(1)
		}
		rec.mirror = objstore.NewMirror(client, objstore.MirrorOptions{
			BaseDir: cfg.Relay.DataDir,
			Prefix:  mc.Prefix,
			Workers: mc.Workers,
			Queue:   mc.Queue,
			Logger:  logger,
		})
		// Deferred before the journal: closes after the last hour is queued.
		defer rec.mirror.Close()
		logger.Info("journal mirror enabled", "endpoint", mc.Endpoint, "bucket", mc.Bucket)
	}
	if cfg.Relay.Journal {
		rec.journal = persistlog.NewJournal(cfg.Relay.DataDir)
		if rec.mirror != nil {
			rec.journal.OnClosed(rec.mirror.Enqueue)
		}
		defer rec.journal.Close()
	}
	if path := cfg.Relay.IndexPath(); path != "" {
		idx, err := indexdb.OpenSQLite(path)
		if err != nil {
			logger.Error("open index", "path", path, "err", err)
			os.Exit(1)
		}
		defer idx.Close()
		if err := idx.SetMeta("protocol_version", protocol.Version); err != nil {
			logger.Warn("index meta", "err", err)
		}
		_ = idx.SetMeta("started_at", time.Now().UTC().Format(time.RFC3339))
		rec.index = idx
	} else {
		logger.Info("message index disabled")
	}

	relay := ws.NewServer(ws.ServerConfig{
		MaxParticipants: cfg.Relay.MaxParticipants,
		MaxMessageBytes: cfg.Relay.MaxMessageBytes,
		SendQueue:       cfg.Relay.SendQueue,
	}, logger, rec)
	// Runs before the sinks above close: Shutdown leaves websocket
	// connections open.
	defer relay.Close()
	for _, id := range cfg.Relay.OpenSessions {
		if id = strings.TrimSpace(id); id != "" {
			relay.OpenSession(id)
			logger.Info("session opened", "session", id)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, relay.Stats(), rec.stats())
	})
	if cfg.Relay.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/session", relay.Handler())

	srv := &http.Server{
		Addr:              cfg.Relay.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening", "addr", cfg.Relay.Addr, "protocol_version", protocol.Version)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("ListenAndServe", "err", err)
		os.Exit(1)
	}
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
