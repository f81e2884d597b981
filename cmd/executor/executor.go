package executor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"pmexecutor/src/alert"
	"pmexecutor/src/database"
	executors "pmexecutor/src/executor"
	"pmexecutor/src/gateway"
	"pmexecutor/src/handler"
	"pmexecutor/src/ledger"
	"pmexecutor/src/reconciler"
	"pmexecutor/src/risk"
	"pmexecutor/src/server"
)

type Executor struct {
	Log *logrus.Entry
}

// Start wires the full pipeline and blocks until the process is signalled.
func (t *Executor) Start() error {
	log := t.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		log.WithError(err).Error("Failed to connect to main database")
		return err
	}

	cmdConfig := GetConfig()
	gatewayConfig := gateway.GetConfig()
	execConfig := executors.GetConfig()

	alerts, err := buildAlerts(log, cmdConfig)
	if err != nil {
		log.WithError(err).Error("Failed to build alert dispatcher")
		return err
	}
	defer alerts.Close()

	client, err := gateway.NewClient(log.WithField("component", "gateway"), gatewayConfig)
	if err != nil {
		log.WithError(err).Error("Failed to build exchange gateway")
		return err
	}
	resolver := gateway.NewGammaResolver(log.WithField("component", "gamma"), gatewayConfig)

	led := ledger.NewLedger()
	snapshots := ledger.NewSnapshotStore()
	cache := executors.NewSnapshotCache(
		log.WithField("component", "snapshot"),
		client,
		snapshots,
		execConfig.SnapshotStaleness,
	)

	limits := risk.DefaultLimits()
	limits.SnapshotStaleness = execConfig.SnapshotStaleness

	exec := executors.NewExecutor(
		log.WithField("component", "executor"),
		client,
		resolver,
		led,
		cache,
		alerts,
		limits,
		execConfig,
	)

	rec := reconciler.NewReconciler(
		log.WithField("component", "reconciler"),
		client,
		led,
		cache,
		alerts,
		reconciler.GetConfig(),
	)
	exec.RequestReconcile = rec.Trigger

	stream, err := gateway.NewStream(
		log.WithField("component", "stream"),
		gatewayConfig,
		func(event gateway.OrderEvent) { rec.HandleOrderEvent(ctx, event) },
	)
	if err != nil {
		log.WithError(err).Error("Failed to build user stream")
		return err
	}

	// Settle anything the previous process left in flight before accepting
	// new signals.
	if err := exec.RecoverPending(ctx); err != nil {
		log.WithError(err).Error("Failed to recover pending orders")
		return err
	}

	go cache.Run(ctx, execConfig.SnapshotSyncInterval)
	go rec.Run(ctx)
	go stream.Run(ctx)

	signals := handler.NewSignalHandler(log.WithField("component", "handler"), exec, led)

	return server.StartServer(ctx, server.GetConfig().Port, signals, rec)
}

func buildAlerts(log *logrus.Entry, config *Config) (*alert.Dispatcher, error) {
	sinks := []alert.Sink{alert.LogSink{Log: log.WithField("component", "alerts")}}

	if config.AlertWebhookURL != "" {
		webhook, err := alert.NewWebhookSink(config.AlertWebhookURL, config.AlertWebhookTimeout)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, webhook)
	}

	return alert.NewDispatcher(log.WithField("component", "alerts"), config.AlertBufferSize, sinks...), nil
}
