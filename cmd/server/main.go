// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/whosesong/internal/auth"
	"github.com/jason-s-yu/whosesong/internal/cache"
	"github.com/jason-s-yu/whosesong/internal/config"
	"github.com/jason-s-yu/whosesong/internal/game"
	"github.com/jason-s-yu/whosesong/internal/handlers"
	"github.com/jason-s-yu/whosesong/internal/spotify"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetLevel(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	ctx := context.Background()

	// init auth keys
	if cfg.SessionKeyPath != "" && cfg.SessionPubPath != "" {
		if err := auth.InitFromPath(cfg.SessionKeyPath, cfg.SessionPubPath, cfg.TokenExpireTime); err != nil {
			return err
		}
	} else {
		logger.Warn("no session keys configured; tokens are only valid on this instance until restart")
		if err := auth.Init(cfg.TokenExpireTime); err != nil {
			return err
		}
	}

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	bus := cache.NewEventBus(rdb, logger, cfg.BroadcastRetries, cfg.BroadcastBackoff)
	defer bus.Close()

	mgr := game.NewManager(cache.NewGameStore(rdb, cfg.GameTTL), bus, logger)
	mgr.Defaults = cfg.GameDefaults
	if cfg.SpotifyID != "" && cfg.SpotifySecret != "" {
		mgr.Previews = spotify.NewPreviewResolver(ctx, cfg.SpotifyID, cfg.SpotifySecret, logger)
	} else {
		logger.Info("SPOTIFY_ID/SPOTIFY_SECRET not set; songs without a preview stay unplayable")
	}

	gs := handlers.NewGameServer(mgr, spotify.NewSource(), bus, cfg.GameDefaults, logger)

	// No write timeout: websocket streams stay open for a whole game.
	server := &http.Server{
		Handler:           handlers.NewRouter(gs),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
	}

	l, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	logger.Infof("listening on %s", l.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
