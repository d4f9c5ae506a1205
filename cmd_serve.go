package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"f1telemetryhub/pkg/api"
	"f1telemetryhub/pkg/broadcaster"
	"f1telemetryhub/pkg/export"
	"f1telemetryhub/pkg/live"
	"f1telemetryhub/pkg/metrics"
	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/notification"
	"f1telemetryhub/pkg/pubsub"
	"f1telemetryhub/pkg/registry"
	"f1telemetryhub/pkg/replay"
	"f1telemetryhub/pkg/store"
	"f1telemetryhub/pkg/webserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the telemetry server",
	Long:  `Start the HTTP and websocket server that ingests, stores and fans out telemetry`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, lm, logger, err := setup()
	if err != nil {
		return err
	}
	defer lm.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := metrics.NewProvider(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("metrics shutdown", "err", err)
		}
	}()
	instruments, err := metrics.NewInstruments(provider.MeterProvider)
	if err != nil {
		return err
	}

	lifecycle := pubsub.NewPubSub[model.SessionLifecycle](64)
	defer lifecycle.Close()

	st, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL, store.Options{
		WriteQueue: cfg.StoreWriteQueue,
		BatchSize:  cfg.StoreBatchSize,
		PageSize:   cfg.QueryPageSize,
		MaxLimit:   cfg.QueryMaxLimit,
		Lifecycle:  lifecycle,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	reg := registry.New(registry.Config{
		QueueSize:         cfg.SubscriberQueueSize,
		PendingSize:       cfg.SubscriberPendingSize,
		SaturationTimeout: cfg.SaturationTimeout(),
	}, st, registry.SystemClock{}, logger, instruments)

	var taps []broadcaster.Tap
	pumpDone := make(chan struct{})
	sinks, err := exportSinks(ctx, cfg.KafkaBrokerList(), cfg.KafkaTopic, export.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	if len(sinks) > 0 {
		pump := export.NewPump(cfg.ExportQueueSize, logger, instruments, sinks...)
		taps = append(taps, pump)
		go func() {
			defer close(pumpDone)
			pump.Run(ctx)
		}()
	} else {
		close(pumpDone)
	}

	b := broadcaster.New(st, reg, logger, instruments, taps...)
	rc := replay.New(st, reg, cfg.QueryPageSize, logger)
	watchdog := live.NewWatchdog(cfg.RelayTimeout(), b.EndSession, logger)
	defer watchdog.Stop()

	if cfg.TelegramToken != "" {
		bot, err := notification.NewBot(cfg.TelegramToken)
		if err != nil {
			return err
		}
		nm := notification.NewManager(bot, cfg.TelegramChatIDList(), lifecycle, logger)
		go nm.Start(ctx)
	}

	ws := webserver.NewManager(cfg.HTTPAddr, cfg.ResourcesDir, logger)
	api.New(api.Options{
		Store:        st,
		Publisher:    b,
		Loader:       rc,
		ResourcesDir: cfg.ResourcesDir,
		Logger:       logger,
	}).AddHandlers(ws.Router())
	live.NewServer(live.Options{
		Sessions:          st,
		Publisher:         b,
		Registry:          reg,
		Replay:            rc,
		Watchdog:          watchdog,
		DefaultLookbackMs: cfg.DefaultLookbackMs,
		Logger:            logger,
	}).AddHandlers(ws.Router())
	ws.Debug()

	err = ws.Serve(ctx)
	stop()
	<-pumpDone
	logger.Info("server stopped", "viewers", reg.Count())
	return err
}

func exportSinks(ctx context.Context, brokers []string, topic string, redisCfg export.RedisConfig) ([]export.Sink, error) {
	var sinks []export.Sink
	if len(brokers) > 0 {
		k, err := export.NewKafkaSink(brokers, topic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, k)
	}
	if redisCfg.Addr != "" {
		r, err := export.NewRedisSink(ctx, redisCfg)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, r)
	}
	return sinks, nil
}
