package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vaani/internal/api"
	"vaani/internal/auth"
	"vaani/internal/cluster"
	"vaani/internal/commands"
	"vaani/internal/config"
	"vaani/internal/directory"
	"vaani/internal/http"
	"vaani/internal/logger"
	"vaani/internal/presence"
	"vaani/internal/relay"
	"vaani/internal/storage"
	"vaani/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Answered calls are forgotten after this long even if nobody signals the end.
const maxCallDuration = 4 * time.Hour

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("vaani", flag.ContinueOnError)
	configPath := flags.String("config", "", "Optional YAML config file; environment variables take precedence")
	issueToken := flags.String("issue-token", "", "User id to sign an access token for (prints the token and exits)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if *issueToken != "" {
		return commands.IssueToken(os.Stdout, *issueToken, cfg)
	}

	logg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logg.Sync() }()
	gin.SetMode(gin.ReleaseMode)

	authenticator, err := auth.NewAuthenticator(auth.Config{
		Secret:      cfg.JWTSecret,
		TokenExpiry: cfg.JWTExpiry,
	})
	if err != nil {
		return err
	}

	store, err := openPresence(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	presenceSvc := presence.New(store, logg).WithTimeout(cfg.PresenceTimeout)
	// Markers left by a previous run have no live sockets behind them.
	presenceSvc.WipeAll(ctx)

	hub := ws.NewHub(logg)
	health := api.NewHealthHandler(hub)
	health.AddCheck("presence", presenceSvc.Ping)

	if cfg.NATSURL != "" {
		bus, err := cluster.NewNATSBus(cluster.Config{
			URL:     cfg.NATSURL,
			Subject: cfg.NATSSubject,
			NodeID:  nodeID(),
		}, logg)
		if err != nil {
			return err
		}
		defer func() { _ = bus.Close() }()

		if err := hub.UseBus(bus); err != nil {
			return errors.Wrap(err, "subscribe to cluster bus")
		}
		health.AddCheck("bus", func(context.Context) error {
			if !bus.Connected() {
				return errors.New("nats disconnected")
			}
			return nil
		})
	}

	var dir relay.Directory
	if cfg.VerifyParticipants {
		chats, err := directory.NewMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return err
		}
		defer func() { _ = chats.Close(context.WithoutCancel(ctx)) }()

		dir = chats
		health.AddCheck("directory", chats.Ping)
	}

	calls := relay.NewCallLedger(ctx, cfg.CallRingTimeout, maxCallDuration)
	rl := relay.New(hub, presenceSvc, relay.Options{Directory: dir, Calls: calls}, logg)

	wsServer := ws.NewServer(authenticator, hub, rl, ws.ServerConfig{
		AllowedOrigins:  cfg.AllowedOrigins,
		PingTimeout:     cfg.PingTimeout,
		SendBuffer:      cfg.SendBuffer,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}, logg)

	adminServer := http.NewAdminServer(api.NewAdminHandler(presenceSvc, hub, calls, authenticator), cfg.AdminAddr, logg)
	apiServer := http.NewAPIServer(wsServer.HandleConnections, health, cfg.APIAddr, logg)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logg.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logg.Error("admin server shutdown", zap.Error(err))
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logg.Error("API server shutdown", zap.Error(err))
		}

		// Sockets are hijacked, so Shutdown does not wait for them. Their
		// disconnect handling must finish before the presence store closes.
		hub.CloseAll()
		if err := wsServer.Wait(shutdownCtx); err != nil {
			logg.Warn("connections still closing at shutdown", zap.Int("connections", hub.Count()), zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func openPresence(cfg *config.Config) (storage.PresenceStore, error) {
	switch cfg.PresenceBackend {
	case config.PresenceBolt:
		return storage.NewBoltPresence(cfg.PresenceDB)
	case config.PresenceRedis:
		return storage.NewRedisPresence(cfg.RedisURL)
	}
	return nil, errors.Errorf("unknown presence backend %q", cfg.PresenceBackend)
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "node"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
