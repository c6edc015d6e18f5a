package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/calebrowe/shop_sync/internal/agent"
	"github.com/calebrowe/shop_sync/internal/auth"
	"github.com/calebrowe/shop_sync/internal/config"
	"github.com/calebrowe/shop_sync/internal/connectivity"
	"github.com/calebrowe/shop_sync/internal/deadletter"
	"github.com/calebrowe/shop_sync/internal/logging"
	"github.com/calebrowe/shop_sync/internal/metrics"
	"github.com/calebrowe/shop_sync/internal/queue"
	"github.com/calebrowe/shop_sync/internal/records"
	"github.com/calebrowe/shop_sync/internal/store"
	"github.com/calebrowe/shop_sync/internal/syncer"
	"github.com/calebrowe/shop_sync/internal/tracing"
	"github.com/calebrowe/shop_sync/internal/transport"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	// Initialize structured logging
	logger := logging.New("shopsync-agent")

	// Initialize OpenTelemetry tracing
	shutdownTracing, err := tracing.InitTracing(ctx, "shopsync-agent")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdownTracing()

	// Durable store
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		logger.Plain().WithError(err).Fatal("store open failed")
	}
	defer st.Close()

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	// Sync queue over the store
	q := queue.New(st, logger)
	q.SetDefaultMaxAttempts(cfg.Sync.MaxAttempts)

	// Remote transport: signed + authenticated submissions
	minter := auth.NewMinter(cfg.Remote.TokenSecret, cfg.Remote.TokenIssuer, cfg.Remote.TokenAudience, cfg.Remote.ShopID)
	client := transport.NewClient(cfg.Remote.BaseURL, cfg.Remote.SigningSecret, minter, cfg.Remote.Timeout)

	// Optional dead-letter topic
	var dlqPub deadletter.Publisher = deadletter.NopPublisher{}
	if cfg.DLQ.Publish {
		pub, err := deadletter.NewNSQPublisher(cfg.DLQ.NsqdTCPAddr, cfg.DLQ.Topic)
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer pub.Stop()
		dlqPub = pub
	}

	// Connectivity monitor with HTTP probe fallback
	probe := connectivity.NewHTTPProbe(cfg.Remote.BaseURL+cfg.Remote.HealthPath, 0)
	monitor := connectivity.New(probe, cfg.Sync.ProbeInterval, logger)

	// Drain processor
	processor := syncer.New(q, st, client, monitor.IsOnline, dlqPub, logger, syncer.Options{
		BackoffSchedule: cfg.Sync.BackoffSchedule,
		JitterPercent:   cfg.Sync.JitterPercent,
		SubmitTimeout:   cfg.Remote.Timeout,
	})

	// Reconciliation layer
	reconciler := records.New(st, client, monitor.IsOnline, logger)

	// Facade owned here, injected into the admin HTTP surface
	app := agent.New(st, q, processor, monitor, reconciler, logger)
	app.Start(ctx)

	httpSrv := &http.Server{Addr: cfg.Agent.AdminPort, Handler: agent.Handler(app, st, reg)}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("agent admin server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("agent admin server failed")
		}
	}()

	logger.Plain().WithField("data_dir", cfg.Agent.DataDir).Info("sync agent started")

	// Graceful stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down sync agent")
	_ = httpSrv.Shutdown(context.Background())
	app.Close()
	logger.Plain().Info("sync agent stopped")
}
