package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/ya-subscriber/internal/adapter/driven/gateway/ws"
	historymem "github.com/Wyydra/ya-subscriber/internal/adapter/driven/persistence/memory"
	historyredis "github.com/Wyydra/ya-subscriber/internal/adapter/driven/persistence/redis"
	rtcmem "github.com/Wyydra/ya-subscriber/internal/adapter/driven/rtc/memory"
	handler "github.com/Wyydra/ya-subscriber/internal/adapter/driving/http"
	"github.com/Wyydra/ya-subscriber/internal/config"
	"github.com/Wyydra/ya-subscriber/internal/core/port"
	"github.com/Wyydra/ya-subscriber/internal/core/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ya-subscriber",
		Short: "Remote media subscription engine",
		Long:  "Tracks and drives audio/video subscriptions of remote participants and serves their state over HTTP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			config.FromEnv(&cfg)
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				cfg.Log.Level = level
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return run(cfg)
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().String("config", "", "path to a YAML config file")
	rootCmd.Flags().String("addr", "", "HTTP listen address (overrides config)")
	rootCmd.Flags().String("log-level", "", "minimum log level: debug, info, warn, error")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		l = l.Level(lvl)
	}
	log.Logger = l

	history, closeHistory, err := newHistory(cfg.History)
	if err != nil {
		return err
	}
	defer closeHistory()

	hub := ws.NewHub()
	go hub.Run()

	// loopback client until a transport adapter is attached
	rtc := rtcmem.NewClient(cfg.Loopback.RemoteParticipants()...)

	s := cfg.Subscription
	subscriptions := service.NewSubscriptionService(rtc, history, hub, service.Config{
		MaxRetryAttempts:       s.MaxRetryAttempts,
		RetryDelay:             s.RetryDelay,
		SubscriptionTimeout:    s.SubscriptionTimeout,
		EnableAutoSubscribe:    s.EnableAutoSubscribe,
		AutomatedRetryInterval: s.AutomatedRetryInterval,
		AutomatedMaxAttempts:   s.AutomatedMaxAttempts,
		LogLevel:               cfg.Log.Level,
		Logger:                 &l,
		IsAutomated:            cfg.Automated.IsAutomated(),
	})

	h := handler.NewHandler(subscriptions, hub)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("addr", cfg.Server.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	subscriptions.Destroy()
	hub.Stop()
	l.Info().Msg("Server exited")
	return nil
}

func newHistory(cfg config.HistoryConfig) (port.HistoryRepository, func(), error) {
	if cfg.Backend != config.HistoryRedis {
		return historymem.NewHistoryRepository(), func() {}, nil
	}
	repo, err := historyredis.NewHistoryRepository(historyredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Key:      cfg.Redis.Key,
	})
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), service.DefaultSubscriptionTimeout)
	defer cancel()
	if err := repo.Ping(ctx); err != nil {
		repo.Close()
		return nil, nil, fmt.Errorf("connect redis history: %w", err)
	}
	return repo, func() { repo.Close() }, nil
}
