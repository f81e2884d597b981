package reconcile

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
	"pmexecutor/src/ledger"
	"pmexecutor/src/reconciler"
)

// Reconcile runs a single reconciliation pass and exits. Useful for
// operators verifying ledger/exchange agreement without the long-running
// service.
type Reconcile struct {
	Log *logrus.Entry
}

func (t *Reconcile) Start() error {
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

	if err := database.InitMainDB(); err != nil {
		log.WithError(err).Error("Failed to connect to main database")
		return err
	}

	gatewayConfig := gateway.GetConfig()
	execConfig := executors.GetConfig()

	alerts := alert.NewDispatcher(log, 16, alert.LogSink{Log: log})
	defer alerts.Close()

	client, err := gateway.NewClient(log.WithField("component", "gateway"), gatewayConfig)
	if err != nil {
		log.WithError(err).Error("Failed to build exchange gateway")
		return err
	}
	cache := executors.NewSnapshotCache(
		log.WithField("component", "snapshot"),
		client,
		ledger.NewSnapshotStore(),
		execConfig.SnapshotStaleness,
	)

	rec := reconciler.NewReconciler(
		log.WithField("component", "reconciler"),
		client,
		ledger.NewLedger(),
		cache,
		alerts,
		reconciler.GetConfig(),
	)

	report, err := rec.Reconcile(ctx)
	if err != nil {
		log.WithError(err).Error("Reconciliation pass failed")
		return err
	}

	log.WithFields(map[string]interface{}{
		"resolved":      report.Resolved,
		"stillPending":  report.StillPending,
		"replayed":      report.Replayed,
		"archived":      report.Archived,
		"anomalies":     len(report.Anomalies),
		"snapshotAsOf":  report.SnapshotAsOf,
		"snapshotStale": report.SnapshotStale,
	}).Info("Reconciliation pass complete")

	return nil
}
