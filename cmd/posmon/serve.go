package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"posmon/config"
	"posmon/internal/gateway"
	"posmon/internal/history"
	"posmon/internal/logger"
	"posmon/internal/marketdata/feed"
	"posmon/internal/metrics"
	"posmon/internal/model"
	"posmon/internal/monitor"
	"posmon/internal/notification"
	redisstore "posmon/internal/store/redis"
	sqlitestore "posmon/internal/store/sqlite"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor, REST API and WebSocket stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.Service.LogLevel)
	if err != nil {
		return err
	}
	log := logger.Init(cfg.Service.Name, level)
	log.Info("starting", slog.String("history_backend", cfg.History.Backend), slog.Bool("redis", cfg.Redis.Enabled))

	m := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	probes := metrics.Probes{}

	// ---- History ----
	persister, closeStore, err := openPersister(cfg, &probes)
	if err != nil {
		return err
	}
	defer closeStore()

	hist := history.Open(persister, cfg.History.Limit, log)
	hist.OnPersistError = func(error) { m.HistoryPersistErrors.Inc() }

	// ---- Upstream feed ----
	mux := feed.New(feed.Config{
		URLTemplate:      cfg.Feed.URLTemplate,
		ReconnectDelay:   cfg.Feed.ReconnectDelay.Duration,
		HandshakeTimeout: cfg.Feed.HandshakeTimeout.Duration,
	}, log)
	mux.OnMalformed = func(key string) { m.MalformedTicks.WithLabelValues(key).Inc() }
	mux.OnReconnect = func(key string) { m.FeedReconnects.WithLabelValues(key).Inc() }
	probes.Feed = func() (int, int) { return mux.Connections(), len(mux.Keys()) }

	// ---- Broadcast ----
	hub := gateway.NewHub(cfg.API.ReplaySize, log)
	hub.OnDrop = m.WSDrops.Inc
	broadcasters := monitor.Broadcasters{hub}

	var publisher *redisstore.Publisher
	if cfg.Redis.Enabled {
		rcfg := redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
			PriceTTL: cfg.Redis.PriceTTL.Duration,
		}
		client, err := redisstore.NewClient(ctx, rcfg)
		if err != nil {
			log.Warn("redis unreachable at startup, events will buffer", slog.Any("error", err))
			client = goredis.NewClient(&goredis.Options{Addr: rcfg.Addr, Password: rcfg.Password, DB: rcfg.DB})
		}
		defer client.Close()
		probes.Redis = client

		cb := redisstore.NewBreaker(cfg.Redis.BreakerFailures, cfg.Redis.BreakerCooldown.Duration)
		cb.OnStateChange = func(_, to redisstore.State) {
			m.RedisBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				m.RedisBreakerTrips.Inc()
			}
		}
		publisher = redisstore.NewPublisher(client, cb, rcfg, log)
		publisher.OnBuffer = m.RedisBuffered.Inc
		publisher.OnDrop = m.RedisDropped.Inc
		broadcasters = append(broadcasters, publisher)
	}

	// ---- Notifications ----
	notifiers := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.Telegram.Token != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID))
	}
	if cfg.Webhook.URL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.Webhook.URL))
	}
	alerts := notification.NewPositionAlerts(notifiers, cfg.Webhook.Timeout.Duration, log)
	alerts.OnFailure = func(kind notification.AlertKind) {
		m.NotifyFailures.WithLabelValues(string(kind)).Inc()
	}

	// ---- Engine ----
	engine := monitor.New(monitor.Options{
		Feed:           mux,
		History:        hist,
		Broadcaster:    broadcasters,
		Sink:           alerts,
		Logger:         log,
		SuppressWindow: cfg.Monitor.SuppressWindow.Duration,
		TickBuffer:     cfg.Monitor.TickBuffer,
		Hooks: monitor.Hooks{
			OnTick: func(pair string) {
				m.TicksTotal.WithLabelValues(pair).Inc()
				health.SetLastTickTime(time.Now())
			},
			OnClose: func(reason model.CloseReason) {
				m.ClosesTotal.WithLabelValues(string(reason)).Inc()
			},
			OnSuppressed: func(string) { m.SuppressedSyncs.Inc() },
			OnOpen:       func(open int) { m.OpenPositions.Set(float64(open)) },
		},
	})

	api := gateway.NewAPI(engine, gateway.APIConfig{
		DefaultAmount:  cfg.API.DefaultAmount,
		AdminOTPSecret: cfg.API.AdminOTPSecret,
	}, log)
	httpSrv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.Handler(hub),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := metrics.NewServer(cfg.Metrics.Addr, health, nil, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		engine.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hist.Run(gctx)
		return nil
	})
	if publisher != nil {
		g.Go(func() error {
			publisher.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		health.RunLivenessChecker(gctx, probes, cfg.Metrics.CheckInterval.Duration)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				m.FeedConnected.Set(float64(mux.Connections()))
				m.WSClients.Set(float64(hub.ClientCount()))
			}
		}
	})
	g.Go(func() error {
		return metricsSrv.Run(gctx)
	})
	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() {
			log.Info("api listening", slog.String("addr", httpSrv.Addr))
			errCh <- httpSrv.ListenAndServe()
		}()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("api server: %w", err)
		case <-gctx.Done():
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutCtx)
		}
	})

	err = g.Wait()

	log.Info("shutting down")
	hub.Close()
	<-engine.Done()
	mux.Close()
	alerts.Wait()
	if perr := hist.Persist(); perr != nil {
		log.Error("final history persist failed", slog.Any("error", perr))
	}
	log.Info("stopped")
	return err
}

// openPersister builds the durable history backend named in cfg. The
// returned close func is always safe to call.
func openPersister(cfg *config.Config, probes *metrics.Probes) (history.Persister, func(), error) {
	switch cfg.History.Backend {
	case "file":
		return &history.FilePersister{Path: cfg.History.Path}, func() {}, nil
	case "sqlite":
		j, err := sqlitestore.Open(cfg.History.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open history db: %w", err)
		}
		probes.SQLite = j.DB()
		return j, func() { j.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
