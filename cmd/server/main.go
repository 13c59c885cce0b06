// Command server runs the redboard collaboration backend: it loads
// configuration, connects to the backing Store, starts the Checkpointer and
// SessionChecker singleton workers, and serves the /board/{board_id}
// WebSocket upgrade endpoint until interrupted. Grounded on
// original_source/service/src/main.rs's wiring and the teacher's
// cmd/server/main.go signal-handling shape.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lukewestby/redboard/internal/checkpoint"
	"github.com/lukewestby/redboard/internal/concurrency"
	"github.com/lukewestby/redboard/internal/config"
	"github.com/lukewestby/redboard/internal/logging"
	"github.com/lukewestby/redboard/internal/repository"
	"github.com/lukewestby/redboard/internal/store"
	"github.com/lukewestby/redboard/internal/ws"
)

func main() {
	envPath := flag.String("env", ".env", "path to a .env file to load (missing file is not an error)")
	configPath := flag.String("config", "", "path to an optional YAML config overlay (listen_addr, allowed_origins)")
	port := flag.String("addr", "", "override the listen address (host:port)")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		logging.Log.WithError(err).Warn("failed to load .env file")
	}
	logging.Configure()

	cfg, err := config.Load()
	if err != nil {
		logging.Log.WithError(err).Fatal("failed to load configuration")
	}
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			logging.Log.WithError(err).Fatal("failed to load config file")
		}
	}
	if *port != "" {
		cfg.ListenAddr = *port
	}

	redisStore, err := store.NewRedisStore(cfg.StoreURL, config.StorePoolSize)
	if err != nil {
		logging.Log.WithError(err).Fatal("failed to connect to store")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := repository.New(ctx, redisStore)
	defer repo.Close()

	checkpointer := checkpoint.NewCheckpointer(repo)
	sessionChecker := checkpoint.NewSessionChecker(repo)
	concurrency.GoSafe(func() { checkpointer.Start(ctx) })
	concurrency.GoSafe(func() { sessionChecker.Start(ctx) })

	server := ws.NewServer(ctx, repo, cfg.AllowedOrigins)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Log.Info("shutting down")
		cancel()
	}()

	if err := ws.ListenAndServe(ctx, cfg.ListenAddr, mux); err != nil && err != http.ErrServerClosed {
		logging.Log.WithError(err).Fatal("server error")
	}
}
