package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"pmexecutor/src/alert"
	"pmexecutor/src/executor"
	"pmexecutor/src/gateway"
	"pmexecutor/src/ledger"
	"pmexecutor/src/model"
)

// Gateway is the slice of the exchange client the reconciler needs.
type Gateway interface {
	GetOrderStatus(ctx context.Context, exchangeOrderID string) (gateway.OrderStatus, error)
	FindOrderByClientID(ctx context.Context, clientOrderID string) (gateway.OrderStatus, error)
}

// Ledger is the slice of the idempotency ledger the reconciler needs.
type Ledger interface {
	Update(ctx context.Context, intentID string, update ledger.StatusUpdate) (*model.OrderRecord, error)
	Touch(ctx context.Context, intentID string) error
	FindNonTerminal(ctx context.Context) ([]model.OrderRecord, error)
	FindUnreconciledTerminal(ctx context.Context) ([]model.OrderRecord, error)
	GetByExchangeID(ctx context.Context, exchangeOrderID string) (*model.OrderRecord, error)
	Archive(ctx context.Context, intentID string) error
}

// Anomaly is one unexplained divergence between expected and authoritative
// state.
type Anomaly struct {
	Kind     string          `json:"kind"` // "balance" or "position"
	Key      string          `json:"key"`  // currency or market id
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
	Delta    decimal.Decimal `json:"delta"`
}

// Report summarizes one reconciliation pass.
type Report struct {
	StartedAt     time.Time `json:"started_at"`
	Resolved      int       `json:"resolved"`       // non-terminal records settled this pass
	StillPending  int       `json:"still_pending"`  // records that remain unresolved
	Replayed      int       `json:"replayed"`       // terminal records folded into expectations
	Archived      int       `json:"archived"`       // records whose lifecycle completed
	Anomalies     []Anomaly `json:"anomalies"`
	SnapshotAsOf  time.Time `json:"snapshot_as_of"`
	SnapshotStale bool      `json:"snapshot_stale"`
}

// Reconciler periodically settles non-terminal ledger records against the
// exchange and cross-checks local balance/position expectations against the
// authoritative account snapshot. It is the sole resolver of unknown
// outcomes: it corrects drift only by replacing the cached snapshot and
// reports anything beyond tolerance instead of silently fixing it.
type Reconciler struct {
	log     *logger.Entry
	gateway Gateway
	ledger  Ledger
	cache   *executor.SnapshotCache
	alerts  executor.Alerter
	cfg     Config

	trigger chan struct{}
}

// NewReconciler wires the reconciler.
func NewReconciler(log *logger.Entry, gw Gateway, led Ledger, cache *executor.SnapshotCache, alerts executor.Alerter, cfg Config) *Reconciler {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}

	return &Reconciler{
		log:     log,
		gateway: gw,
		ledger:  led,
		cache:   cache,
		alerts:  alerts,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests an on-demand pass (e.g. after an unknown-producing
// event). Never blocks; a pending trigger coalesces.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run executes passes on the configured interval and on demand until the
// context ends.
func (r *Reconciler) Run(ctx context.Context) {
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.trigger:
		}

		if _, err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
			r.log.WithError(err).Error("reconciliation pass failed")
		}
	}
}

// Reconcile runs one full pass: resolve non-terminal records, refresh the
// snapshot, replay unreconciled terminal fills against the previous
// expectations, and report divergence beyond tolerance.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}

	if err := r.resolveNonTerminal(ctx, report); err != nil {
		return report, err
	}

	previous := r.cache.Current()

	terminal, err := r.ledger.FindUnreconciledTerminal(ctx)
	if err != nil {
		return report, err
	}

	snapshot, err := r.cache.Refresh(ctx)
	if err != nil {
		return report, fmt.Errorf("refresh snapshot: %w", err)
	}
	report.SnapshotAsOf = snapshot.AsOf
	report.SnapshotStale = r.cache.StaleNow()

	// With no previous snapshot there is nothing to diff against; the fresh
	// snapshot simply becomes the baseline.
	if !previous.AsOf.IsZero() {
		r.compare(previous, snapshot, terminal, report)
	}

	for i := range terminal {
		record := terminal[i]
		report.Replayed++

		if err := r.ledger.Archive(ctx, record.IntentID); err != nil {
			return report, err
		}
		report.Archived++
	}

	for _, anomaly := range report.Anomalies {
		event := alert.NewEvent(alert.SeverityCritical, alert.KindReconciliationAnomaly, "",
			fmt.Sprintf("%s drift on %s: expected %s, exchange reports %s",
				anomaly.Kind, anomaly.Key, anomaly.Expected, anomaly.Actual))
		event.MarketID = anomaly.Key
		event.Details = map[string]any{
			"expected": anomaly.Expected.String(),
			"actual":   anomaly.Actual.String(),
			"delta":    anomaly.Delta.String(),
		}
		r.alerts.Publish(event)
	}

	r.log.WithFields(map[string]interface{}{
		"resolved":       report.Resolved,
		"still_pending":  report.StillPending,
		"replayed":       report.Replayed,
		"archived":       report.Archived,
		"anomalies":      len(report.Anomalies),
		"snapshot_stale": report.SnapshotStale,
	}).Info("reconciliation pass complete")

	return report, nil
}

func (r *Reconciler) resolveNonTerminal(ctx context.Context, report *Report) error {
	records, err := r.ledger.FindNonTerminal(ctx)
	if err != nil {
		return err
	}

	for i := range records {
		record := &records[i]

		resolved, err := r.resolveRecord(ctx, record)
		if err != nil {
			r.log.WithError(err).WithField("intent_id", record.IntentID).
				Warn("could not resolve record this pass")
			report.StillPending++
			continue
		}

		if model.IsTerminal(resolved.Status) {
			report.Resolved++

			switch resolved.Status {
			case model.OrderStatusFilled, model.OrderStatusPartiallyFilled:
				event := alert.NewEvent(alert.SeverityInfo, alert.KindOrderFilled, resolved.IntentID,
					fmt.Sprintf("order filled for %s", resolved.FilledSize))
				event.MarketID = resolved.MarketID
				r.alerts.Publish(event)
			case model.OrderStatusFailed:
				reason := resolved.StatusReason
				if reason == "" {
					reason = "order did not execute"
				}
				event := alert.NewEvent(alert.SeverityCritical, alert.KindOrderFailed, resolved.IntentID,
					fmt.Sprintf("order failed: %s", reason))
				event.MarketID = resolved.MarketID
				r.alerts.Publish(event)
			}
		} else if model.NeedsResolution(resolved.Status) {
			report.StillPending++
		}
	}

	return nil
}

func (r *Reconciler) resolveRecord(ctx context.Context, record *model.OrderRecord) (*model.OrderRecord, error) {
	var (
		status gateway.OrderStatus
		err    error
	)

	if record.ExchangeOrderID != "" {
		status, err = r.gateway.GetOrderStatus(ctx, record.ExchangeOrderID)
	} else if model.NeedsResolution(record.Status) {
		status, err = r.gateway.FindOrderByClientID(ctx, record.IntentID)
	} else {
		// pending without an exchange id: a live executor invocation still
		// owns it. Records orphaned by a crash are settled at startup by
		// RecoverPending, so leave it alone here.
		return record, nil
	}

	if errors.Is(err, gateway.ErrOrderNotFound) {
		return r.ledger.Update(ctx, record.IntentID, ledger.StatusUpdate{
			Status:       model.OrderStatusFailed,
			StatusReason: "absent on exchange",
		})
	}
	if err != nil {
		return nil, err
	}

	if status.Status == record.Status {
		if touchErr := r.ledger.Touch(ctx, record.IntentID); touchErr != nil {
			return nil, touchErr
		}
		return record, nil
	}

	return r.ledger.Update(ctx, record.IntentID, ledger.StatusUpdate{
		Status:          status.Status,
		ExchangeOrderID: status.ExchangeOrderID,
		FilledSize:      status.SizeMatched,
	})
}

// compare replays the terminal records on top of the previous snapshot and
// diffs the result against the authoritative one. Divergence beyond
// tolerance is reported, never auto-corrected.
func (r *Reconciler) compare(previous, actual model.AccountSnapshot, terminal []model.OrderRecord, report *Report) {
	expectedBalances := make(map[string]decimal.Decimal, len(previous.Balances))
	for currency, amount := range previous.Balances {
		expectedBalances[currency] = amount
	}
	expectedPositions := make(map[string]decimal.Decimal, len(previous.Positions))
	for market, size := range previous.Positions {
		expectedPositions[market] = size
	}

	for _, record := range terminal {
		filled := record.FilledSize
		if !filled.IsPositive() {
			continue
		}

		cost := filled.Mul(record.Price)
		switch record.Side {
		case model.SideBuy:
			expectedBalances["USDC"] = expectedBalances["USDC"].Sub(cost)
			expectedPositions[record.MarketID] = expectedPositions[record.MarketID].Add(filled)
		case model.SideSell:
			expectedBalances["USDC"] = expectedBalances["USDC"].Add(cost)
			expectedPositions[record.MarketID] = expectedPositions[record.MarketID].Sub(filled)
		}
	}

	balanceTolerance := decimal.NewFromFloat(r.cfg.BalanceTolerance)
	for currency, expected := range expectedBalances {
		actualAmount := actual.Balance(currency)
		delta := actualAmount.Sub(expected)
		if delta.Abs().GreaterThan(balanceTolerance) {
			report.Anomalies = append(report.Anomalies, Anomaly{
				Kind:     "balance",
				Key:      currency,
				Expected: expected,
				Actual:   actualAmount,
				Delta:    delta,
			})
		}
	}

	positionTolerance := decimal.NewFromFloat(r.cfg.PositionTolerance)
	for market, expected := range expectedPositions {
		actualSize := actual.Position(market)
		delta := actualSize.Sub(expected)
		if delta.Abs().GreaterThan(positionTolerance) {
			report.Anomalies = append(report.Anomalies, Anomaly{
				Kind:     "position",
				Key:      market,
				Expected: expected,
				Actual:   actualSize,
				Delta:    delta,
			})
		}
	}
}

// HandleOrderEvent folds a websocket order update into the ledger. Events
// are advisory: invalid transitions and unknown orders are ignored, the next
// periodic pass remains authoritative.
func (r *Reconciler) HandleOrderEvent(ctx context.Context, event gateway.OrderEvent) {
	record, err := r.ledger.GetByExchangeID(ctx, event.ExchangeOrderID)
	if err != nil {
		return
	}
	if model.IsTerminal(record.Status) {
		return
	}

	matched, err := decimal.NewFromString(event.SizeMatched)
	if err != nil {
		matched = decimal.Zero
	}

	status := gateway.OrderStatus{
		ExchangeOrderID: event.ExchangeOrderID,
		RawStatus:       event.Status,
	}

	switch event.Status {
	case "matched", "MATCHED":
		status.Status = model.OrderStatusFilled
	case "canceled", "CANCELED":
		status.Status = model.OrderStatusFailed
	default:
		return
	}

	if _, err := r.ledger.Update(ctx, record.IntentID, ledger.StatusUpdate{
		Status:     status.Status,
		FilledSize: matched,
	}); err != nil && !errors.Is(err, ledger.ErrInvalidTransition) {
		r.log.WithError(err).WithField("intent_id", record.IntentID).
			Warn("failed to apply stream order event")
	}
}
