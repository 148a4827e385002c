package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/watchparty/server/internal/controller"
	connInmemory "github.com/watchparty/server/internal/repository/connection/inmemory"
	roomRepository "github.com/watchparty/server/internal/repository/room"
	roomInmemory "github.com/watchparty/server/internal/repository/room/inmemory"
	roomRedis "github.com/watchparty/server/internal/repository/room/redis"
	"github.com/watchparty/server/internal/service/room"
	"github.com/watchparty/server/pkg/ctxlogger"
	"github.com/watchparty/server/pkg/redisclient"
)

const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

type AppConfig struct {
	Host             string        `json:"host"`
	Port             int           `json:"port"`
	LogLevel         string        `json:"log_level"`
	CORSOrigin       string        `json:"cors_origin"`
	MembersLimit     int           `json:"members_limit"`
	ReconcileTimeout time.Duration `json:"reconcile_timeout"`
	Storage          string        `json:"storage"`
	RedisPort        int           `json:"redis_port"`
	RedisHost        string        `json:"redis_host"`
	RedisPassword    string        `json:"-"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.MembersLimit < 1 {
		return fmt.Errorf("members limit must be greater than 0")
	}
	if cfg.ReconcileTimeout <= 0 {
		return fmt.Errorf("reconcile timeout must be positive")
	}
	if cfg.Storage != StorageMemory && cfg.Storage != StorageRedis {
		return fmt.Errorf("unknown storage %q", cfg.Storage)
	}
	return nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		log.Fatal(err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	logger := slog.New(&h)

	var roomRepo roomRepository.Repo
	if cfg.Storage == StorageRedis {
		rc, err := redisclient.New(ctx, &redisclient.Config{
			Port:     cfg.RedisPort,
			Host:     cfg.RedisHost,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		defer rc.Close()

		roomRepo = roomRedis.NewRepo(rc, 24*time.Hour)
	} else {
		roomRepo = roomInmemory.NewRepo()
	}

	connectionRepo := connInmemory.NewRepo()
	roomService := room.NewService(roomRepo, connectionRepo, logger, clockwork.NewRealClock(), &room.Config{
		MembersLimit:     cfg.MembersLimit,
		ReconcileTimeout: cfg.ReconcileTimeout,
	})
	controller := controller.NewController(roomService, logger, &controller.Config{
		CORSOrigin: cfg.CORSOrigin,
	})
	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: controller.GetMux()}

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		shutdownCtx, c := context.WithTimeout(serverCtx, 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}
