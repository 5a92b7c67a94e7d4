package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Flomik10002/ItemRacePlatform/internal/config"
	"github.com/Flomik10002/ItemRacePlatform/internal/health"
	"github.com/Flomik10002/ItemRacePlatform/internal/httpapi"
	"github.com/Flomik10002/ItemRacePlatform/internal/session"
	"github.com/Flomik10002/ItemRacePlatform/internal/transport"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal("bad configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := session.New(ctx, session.Config{
		ServerURI:         cfg.ServerURI,
		PlayerID:          cfg.PlayerID,
		PlayerName:        cfg.PlayerName,
		CountdownFallback: cfg.CountdownFallback,
		ReconnectCooldown: cfg.ReconnectCooldown,
	}, session.Deps{
		Dialer: transport.NewWebsocketDialer(logger.Named("transport")),
		Prober: health.NewProber(cfg.ProbeTimeout, logger.Named("health")),
		Chat: func(text string) {
			logger.Info("chat", zap.String("text", text))
		},
	}, logger.Named("session"))
	defer sess.Close()

	srv := &http.Server{
		Addr:              cfg.StatusAddr,
		Handler:           httpapi.SetupRoutes(sess),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("status api listening", zap.String("addr", cfg.StatusAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				sess.Tick()
			}
		}
	})

	sess.Connect()

	if err := g.Wait(); err != nil {
		logger.Fatal("shutdown with error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
