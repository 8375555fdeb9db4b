package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lotline/lotline/internal/gateway"
	"github.com/lotline/lotline/internal/notify"
	"github.com/lotline/lotline/internal/queue"
	"github.com/lotline/lotline/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_PRETTY") != "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("no .env file loaded")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCfg := dbConfigFromEnv()
	pool, err := pgxpool.New(ctx, dbCfg.dsn())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create connection pool")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	log.Info().Str("host", dbCfg.Host).Str("database", dbCfg.Database).Msg("connected to database")

	st := store.NewPostgres(pool)

	listener, err := notify.NewListener(cfg.listenerConfig(dbCfg.dsn()))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start store listener")
	}
	go func() {
		if err := listener.Start(ctx); err != nil {
			log.Error().Err(err).Msg("store listener exited")
		}
	}()

	bridge, err := notify.NewBridge(cfg.bridgeConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect NATS bridge")
	}
	defer bridge.Close()
	bridgeCh, unsubBridge := listener.Subscribe("", uuid.Nil)
	defer unsubBridge()
	go bridge.Run(ctx, bridgeCh)

	repair := queue.NewCoordinator(st, queue.NewLoader(st))
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	repair.OnRepair = func(roomID uuid.UUID, totalLots int) {
		ev, err := gateway.NewEvent(roomID, gateway.EventTypeQueueRepaired, gateway.QueueRepairedPayload{TotalLots: totalLots})
		if err != nil {
			return
		}
		cm.BroadcastToRoom(roomID, ev)
	}
	service := gateway.NewService(ctx, st, listener, repair, cm, cfg.timerConfig())
	handler := gateway.NewWebSocketHandler(cm, service)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: cors.AllowAll().Handler(mux),
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown failed")
	}
}
