package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/gochat/internal/logger"
	"github.com/Tyrowin/gochat/internal/server"
	"github.com/Tyrowin/gochat/internal/store"
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	logg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer logg.Sync()

	logg.Info("Starting GoChat relay...", "port", cfg.Port, "store", cfg.StoreDriver)

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.StoreConfig(), logg)
	if err != nil {
		if cfg.StoreRequired {
			logg.Fatal("Event store unavailable", "error", err)
		}
		logg.Error("Event store unavailable; history and persistence will fail", "error", err)
		st = store.Unavailable{Cause: err}
	}

	hub := server.NewHub(*cfg, st, logg)
	go hub.Run()

	httpServer := server.CreateServer(cfg.Addr(), server.SetupRoutes(hub))
	go func() {
		if err := server.StartServer(httpServer, logg); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("HTTP server failed", "error", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"relay": func(ctx context.Context) error {
			// Stop accepting, drain connections, then release the store.
			httpErr := server.ShutdownServer(ctx, httpServer, cfg.ShutdownTimeout, logg)
			hubErr := hub.Shutdown(cfg.ShutdownTimeout)
			storeErr := st.Close()
			return errors.Join(httpErr, hubErr, storeErr)
		},
	})

	exitCode := <-wait
	logg.Info("Relay exited", "code", exitCode)
	logg.Sync()
	os.Exit(exitCode)
}
