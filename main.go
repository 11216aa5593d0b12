package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/wfunc/tictactoe/broadcast"
	"github.com/wfunc/tictactoe/config"
	"github.com/wfunc/tictactoe/logger"
	"github.com/wfunc/tictactoe/monitor"
	"github.com/wfunc/tictactoe/network"
	"github.com/wfunc/tictactoe/persistence"
	"github.com/wfunc/tictactoe/room"
	"github.com/wfunc/tictactoe/rpc"
	"github.com/wfunc/tictactoe/server"
	"github.com/wfunc/tictactoe/services"
	"github.com/wfunc/tictactoe/session"
	"github.com/wfunc/tictactoe/syncer"
	"github.com/wfunc/tictactoe/timer"
)

const metricsNamespace = "tictactoe"

func main() {
	configPath := flag.String("config", ".", "directory holding config.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Init("info", false)
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Development)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Log.Errorw("server exited", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable mirror
	mirror, err := persistence.Open(ctx, cfg.Mirror.Backends, persistence.Options{
		Postgres: persistence.PostgresConfig(cfg.Database.Postgres),
		Redis:    persistence.RedisConfig(cfg.Redis),
		NATS:     persistence.NATSConfig(cfg.NATS),
	})
	if err != nil {
		return err
	}

	mon := monitor.NewMonitor(metricsNamespace)
	store := room.NewStore(room.WithCodeGenerator(room.RandomCodes(cfg.Rooms.CodeLength)))
	sessions := session.NewManager()

	synchronizer := syncer.New(mirror, store, mon, syncer.Config{
		Workers:      cfg.Mirror.Workers,
		QueueSize:    cfg.Mirror.QueueSize,
		WriteTimeout: cfg.Mirror.WriteTimeout,
	})
	synchronizer.Start()

	service := services.NewGameService(store, sessions, broadcast.NewDispatcher(sessions, mon), synchronizer, mon)

	timers := timer.NewTimerManager()
	service.StartReaper(timers, cfg.Rooms.IdleTTL, cfg.Rooms.ReapInterval)

	monitorServer := mon.StartServer(cfg.Server.MonitorAddress, func(err error) {
		logger.Log.Errorw("monitor server failed", "error", err)
	})

	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress)
	if err != nil {
		timers.Stop()
		_ = synchronizer.Stop(context.Background())
		_ = mirror.Close()
		_ = monitorServer.Close()
		return err
	}
	go func() {
		if err := rpcServer.Start(); err != nil {
			logger.Log.Errorw("rpc server failed", "error", err)
		}
	}()

	gameServer := server.NewGameServer(server.Config{
		Address: cfg.Server.HTTPAddress,
		WSPath:  cfg.Server.WSPath,
		Conn: network.Options{
			ReadTimeout:     cfg.WebSocket.ReadTimeout,
			PingInterval:    cfg.WebSocket.PingInterval,
			WriteTimeout:    cfg.WebSocket.WriteTimeout,
			SendBuffer:      cfg.WebSocket.SendBuffer,
			MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		},
	}, service, sessions, mon)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- gameServer.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Log.Info("shutdown signal received")
	case runErr = <-serveErr:
	}

	return errors.Join(runErr, shutdown(cfg, gameServer, rpcServer, timers, synchronizer, mirror, monitorServer))
}

// shutdown stops intake first, then drains the mirror queue, then closes
// the backends.
func shutdown(cfg *config.Config, gameServer *server.GameServer, rpcServer *rpc.Server,
	timers *timer.TimerManager, synchronizer *syncer.Synchronizer, mirror persistence.Mirror, monitorServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	rpcServer.Drain()
	if err := gameServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	rpcServer.Stop()
	timers.Stop()

	if err := synchronizer.Stop(ctx); err != nil {
		logger.Log.Warnw("mirror queue not drained", "error", err)
	}
	if err := mirror.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := monitorServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	logger.Log.Info("server stopped")
	return errors.Join(errs...)
}
