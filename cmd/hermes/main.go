// Command hermes runs the chat bot: transport supervision, plugin
// dispatch, scheduling, health monitoring and the HTTP control plane.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hermesbot/hermes/internal/config"
	"github.com/hermesbot/hermes/internal/connection"
	"github.com/hermesbot/hermes/internal/group"
	"github.com/hermesbot/hermes/internal/health"
	"github.com/hermesbot/hermes/internal/httpapi"
	"github.com/hermesbot/hermes/internal/identity"
	"github.com/hermesbot/hermes/internal/message"
	"github.com/hermesbot/hermes/internal/perm"
	"github.com/hermesbot/hermes/internal/plugin"
	_ "github.com/hermesbot/hermes/internal/plugin/builtin"
	"github.com/hermesbot/hermes/internal/router"
	"github.com/hermesbot/hermes/internal/sched"
	"github.com/hermesbot/hermes/internal/session"
	"github.com/hermesbot/hermes/internal/store"
	"github.com/hermesbot/hermes/internal/transport"
)

const shutdownDeadline = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Configuration: %v", err)
	}

	logger := log.New(log.Writer(), "[MAIN] ", log.LstdFlags)
	startedAt := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Credentials, optionally seeded from a bootstrap blob.
	creds := session.NewStore(cfg.SessionDir)
	if err := creds.Ensure(); err != nil {
		logger.Fatalf("❌ Session directory: %v", err)
	}
	if !creds.HasCreds() && cfg.SessionID != "" {
		creds.ImportBootstrap(cfg.SessionID)
	}

	// Document store. Failure degrades to config-only operation; the
	// health loop keeps trying to bring it back.
	var st *store.Client
	if cfg.MongoURI != "" {
		var err error
		st, err = store.Connect(ctx, cfg.MongoURI, cfg.DatabaseName)
		if err != nil {
			logger.Printf("⚠️ Store unavailable, degrading to config-only: %v", err)
			st = nil
		}
	}

	client := transport.NewWSClient(cfg.GatewayURL, creds.Token)
	sup := connection.NewSupervisor(cfg, client, creds)
	resolver := identity.NewResolver(client)
	normalizer := message.NewNormalizer(client, resolver)

	var backing perm.Backing
	var pluginStore plugin.Store
	var healthStore health.StorePinger
	var apiStore httpapi.Pinger
	if st != nil {
		backing = st
		pluginStore = st
		healthStore = st
		apiStore = st
	}

	oracle := perm.NewOracle(cfg, backing)
	rate := perm.NewRateLimiter(perm.DefaultLimit, perm.DefaultWindow)

	scheduler := sched.New(func() sched.Deps {
		return sched.Deps{Client: sup.Client(), Send: sup.SendSafely}
	})

	registry := plugin.NewRegistry(cfg.PluginDir)
	if err := registry.Load(); err != nil {
		logger.Fatalf("❌ Plugin discovery: %v", err)
	}

	rtr := router.New(router.Deps{
		Config:     cfg,
		Client:     client,
		Normalizer: normalizer,
		Registry:   registry,
		Oracle:     oracle,
		Rate:       rate,
		Store:      pluginStore,
		Sched:      scheduler,
		StartedAt:  startedAt,
		Send:       sup.SendSafely,
	})
	groups := group.NewHandler(cfg, client, resolver, registry, sup.SendSafely)

	loadCtx := func() *plugin.LoadContext {
		return &plugin.LoadContext{
			Client: sup.Client(),
			Config: cfg,
			Logger: log.New(log.Writer(), "[PLUGINS] ", log.LstdFlags),
			Store:  pluginStore,
			Sched:  scheduler,
			Send:   sup.SendSafely,
		}
	}

	bus := sup.Bus()
	bus.Subscribe(connection.TopicMessage, func(ev transport.Event) {
		if me, ok := ev.(transport.MessageEvent); ok {
			go rtr.HandleEnvelope(ctx, me.Envelope)
		}
	})
	bus.Subscribe(connection.TopicParticipants, func(ev transport.Event) {
		if pe, ok := ev.(transport.ParticipantsEvent); ok {
			go groups.HandleParticipants(ctx, pe)
		}
	})
	var loadOnce sync.Once
	bus.Subscribe(connection.TopicStatus, func(ev transport.Event) {
		if _, ok := ev.(transport.ConnectedEvent); ok {
			// OnLoad hooks do store I/O; keep them off the event loop.
			loadOnce.Do(func() {
				go registry.InvokeOnLoad(ctx, loadCtx())
			})
		}
	})

	monitor := health.NewMonitor(cfg, sup, healthStore, registry, resolver, rate)
	monitor.Start(ctx)

	api := httpapi.New(httpapi.Deps{
		Config:    cfg,
		Conn:      sup,
		Registry:  registry,
		Sched:     scheduler,
		Store:     apiStore,
		StartedAt: startedAt,
		LoadCtx:   loadCtx,
	})
	go func() {
		if err := api.Start(); err != nil {
			logger.Printf("⚠️ Control plane stopped: %v", err)
		}
	}()

	sup.Start(ctx)
	logger.Printf("🤖 %s started (mode=%s prefix=%q)", cfg.BotName, cfg.Mode, cfg.Prefix)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Printf("🛑 Shutdown signal received")

	done := make(chan struct{})
	go func() {
		defer close(done)
		cancel()

		httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = api.BeginShutdown(httpCtx)
		httpCancel()

		monitor.Stop()
		scheduler.StopAll()
		sup.Stop()
		if st != nil {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = st.Close(closeCtx)
			closeCancel()
		}
		resolver.Close()
		rate.Reset()
	}()

	select {
	case <-done:
		logger.Printf("👋 Clean shutdown")
		os.Exit(0)
	case <-time.After(shutdownDeadline):
		logger.Printf("⏱ Shutdown deadline exceeded, forcing exit")
		os.Exit(1)
	}
}
