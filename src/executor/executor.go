package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"pmexecutor/src/alert"
	"pmexecutor/src/gateway"
	"pmexecutor/src/ledger"
	"pmexecutor/src/model"
	"pmexecutor/src/risk"
)

// ErrUnresolvedMarket is returned when a market still carries a
// submitted/unknown record that could not be resolved; no new submission for
// that market is allowed until it is.
var ErrUnresolvedMarket = errors.New("market has an unresolved order pending reconciliation")

// Gateway is the slice of the exchange client the executor needs.
type Gateway interface {
	SubmitOrder(ctx context.Context, intent model.OrderIntent) gateway.SubmitOutcome
	GetOrderStatus(ctx context.Context, exchangeOrderID string) (gateway.OrderStatus, error)
	FindOrderByClientID(ctx context.Context, clientOrderID string) (gateway.OrderStatus, error)
}

// MarketResolver maps market slugs to outcome token IDs.
type MarketResolver interface {
	Resolve(ctx context.Context, slug string) (gateway.MarketTokens, error)
}

// Ledger is the slice of the idempotency ledger the executor needs.
type Ledger interface {
	Reserve(ctx context.Context, intent model.OrderIntent) (*model.OrderRecord, error)
	Update(ctx context.Context, intentID string, update ledger.StatusUpdate) (*model.OrderRecord, error)
	Touch(ctx context.Context, intentID string) error
	FindUnresolvedByMarket(ctx context.Context, marketID string) ([]model.OrderRecord, error)
	FindNonTerminal(ctx context.Context) ([]model.OrderRecord, error)
}

// Alerter publishes structured events without blocking.
type Alerter interface {
	Publish(event alert.Event)
}

// Executor turns signals into at-most-one exchange order each. One
// invocation per signal; markets are serialized so two signals for the same
// market cannot interleave between reserve and submit.
type Executor struct {
	log      *logger.Entry
	gateway  Gateway
	resolver MarketResolver
	ledger   Ledger
	cache    *SnapshotCache
	alerts   Alerter
	limits   risk.Limits
	cfg      Config
	now      func() time.Time

	// RequestReconcile, when set, is invoked after any unknown-producing
	// event so the reconciler runs promptly instead of waiting a full tick.
	RequestReconcile func()

	marketsMu sync.Mutex
	markets   map[string]*sync.Mutex
}

// NewExecutor wires the pipeline. All collaborators are required except the
// alerter, which defaults to a logging no-op via the dispatcher.
func NewExecutor(log *logger.Entry, gw Gateway, resolver MarketResolver, led Ledger, cache *SnapshotCache, alerts Alerter, limits risk.Limits, cfg Config) *Executor {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}

	return &Executor{
		log:      log,
		gateway:  gw,
		resolver: resolver,
		ledger:   led,
		cache:    cache,
		alerts:   alerts,
		limits:   limits,
		cfg:      cfg,
		now:      time.Now,
		markets:  make(map[string]*sync.Mutex),
	}
}

// Execute runs one signal through the pipeline and returns the resulting
// ledger record. Hold signals and dropped pre-reserve cancellations return
// (nil, nil). Once an intent is reserved, execution runs to a terminal or
// unknown resolution.
func (e *Executor) Execute(ctx context.Context, signal model.Signal) (*model.OrderRecord, error) {
	if !signal.Valid() {
		return nil, fmt.Errorf("invalid signal for market %q", signal.MarketID)
	}

	if signal.Direction == model.DirectionHold {
		e.log.WithField("market_id", signal.MarketID).Debug("hold signal, no action")
		return nil, nil
	}

	generatedAt := signal.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = e.now()
	}

	window := NextWindow(generatedAt, time.Duration(e.cfg.WindowMinutes)*time.Minute)
	slug := gateway.MarketSlug(signal.MarketID, window)

	unlock := e.lockMarket(slug)
	defer unlock()

	// A signal may be dropped before reservation.
	if err := ctx.Err(); err != nil {
		e.log.WithField("market_id", slug).Debug("signal dropped before reservation")
		return nil, nil
	}

	if err := e.resolveMarketBacklog(ctx, slug); err != nil {
		return nil, err
	}

	tokens, err := e.resolver.Resolve(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("resolve market %s: %w", slug, err)
	}

	snapshot, err := e.cache.Fresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh account snapshot: %w", err)
	}

	price := decimal.NewFromFloat(e.cfg.OrderPrice)
	size := e.orderSize(snapshot)

	intent := buildIntent(signal, window, tokens, size, price)

	record, err := e.ledger.Reserve(ctx, intent)
	if errors.Is(err, ledger.ErrAlreadyReserved) {
		return e.handleExisting(ctx, record)
	}
	if err != nil {
		return nil, fmt.Errorf("reserve intent %s: %w", intent.IntentID, err)
	}

	if err := risk.CheckOrder(intent, snapshot, e.limits); err != nil {
		return e.refuseLocally(ctx, intent, err)
	}

	return e.submit(ctx, intent)
}

// lockMarket serializes executions per market slug so concurrent duplicate
// signals cannot race between reserve and submit.
func (e *Executor) lockMarket(slug string) func() {
	e.marketsMu.Lock()
	mu, ok := e.markets[slug]
	if !ok {
		mu = &sync.Mutex{}
		e.markets[slug] = mu
	}
	e.marketsMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (e *Executor) orderSize(snapshot model.AccountSnapshot) decimal.Decimal {
	desired := decimal.NewFromFloat(e.cfg.FixedOrderSize)
	if !desired.IsPositive() {
		desired = snapshot.Balance(e.limits.QuoteCurrency).Floor()
	}
	return risk.ClampSize(desired, snapshot, e.limits)
}

// handleExisting implements the idempotent re-execution path: terminal
// records come back unchanged with zero gateway calls; submitted/unknown
// records are resolved by direct exchange query first.
func (e *Executor) handleExisting(ctx context.Context, record *model.OrderRecord) (*model.OrderRecord, error) {
	if model.IsTerminal(record.Status) {
		e.log.WithFields(map[string]interface{}{
			"intent_id": record.IntentID,
			"status":    record.Status,
		}).Info("intent already terminal, idempotent no-op")

		return record, nil
	}

	if model.NeedsResolution(record.Status) {
		resolved, err := e.resolveRecord(ctx, record)
		if err != nil {
			return record, err
		}
		return resolved, nil
	}

	// pending or acknowledged: another invocation owns it.
	e.log.WithFields(map[string]interface{}{
		"intent_id": record.IntentID,
		"status":    record.Status,
	}).Info("intent already in flight, not resubmitting")

	return record, nil
}

// refuseLocally records a risk-limit violation as a rejected-equivalent
// outcome. No gateway call is made.
func (e *Executor) refuseLocally(ctx context.Context, intent model.OrderIntent, cause error) (*model.OrderRecord, error) {
	record, err := e.ledger.Update(ctx, intent.IntentID, ledger.StatusUpdate{
		Status:       model.OrderStatusRejected,
		StatusReason: cause.Error(),
	})
	if err != nil {
		return nil, err
	}

	event := alert.NewEvent(alert.SeverityWarning, alert.KindRiskLimit, intent.IntentID, cause.Error())
	event.MarketID = intent.MarketID
	e.alerts.Publish(event)

	e.log.WithFields(map[string]interface{}{
		"intent_id": intent.IntentID,
		"reason":    cause.Error(),
	}).Warn("order refused by local risk policy")

	return record, nil
}

// submit drives the retry state machine: transport failures that provably
// never reached the exchange are retried with exponential backoff; ambiguous
// outcomes immediately park the record as unknown for the reconciler.
func (e *Executor) submit(ctx context.Context, intent model.OrderIntent) (*model.OrderRecord, error) {
	record, err := e.ledger.Update(ctx, intent.IntentID, ledger.StatusUpdate{
		Status: model.OrderStatusSubmitted,
	})
	if err != nil {
		return nil, err
	}

	state := newRetryState(e.cfg.MaxSubmitAttempts, e.cfg.RetryBackoffBase, e.cfg.RetryBackoffMax)

	for {
		state.attempt++
		outcome := e.gateway.SubmitOrder(ctx, intent)

		switch outcome.Kind {
		case gateway.OutcomeAcknowledged:
			return e.ledger.Update(ctx, intent.IntentID, ledger.StatusUpdate{
				Status:          model.OrderStatusAcknowledged,
				ExchangeOrderID: outcome.ExchangeOrderID,
				RetryCount:      &state.attempt,
			})

		case gateway.OutcomeRejected:
			record, err = e.ledger.Update(ctx, intent.IntentID, ledger.StatusUpdate{
				Status:       model.OrderStatusRejected,
				StatusReason: outcome.Reason,
				RetryCount:   &state.attempt,
			})
			if err != nil {
				return nil, err
			}

			event := alert.NewEvent(alert.SeverityCritical, alert.KindOrderRejected, intent.IntentID,
				fmt.Sprintf("exchange rejected order: %s", outcome.Reason))
			event.MarketID = intent.MarketID
			e.alerts.Publish(event)

			return record, nil

		case gateway.OutcomeAmbiguous:
			record, err = e.ledger.Update(ctx, intent.IntentID, ledger.StatusUpdate{
				Status:       model.OrderStatusUnknown,
				StatusReason: outcome.Reason,
				RetryCount:   &state.attempt,
			})
			if err != nil {
				return nil, err
			}

			event := alert.NewEvent(alert.SeverityWarning, alert.KindOrderUnknown, intent.IntentID,
				"order outcome unknown, pending verification")
			event.MarketID = intent.MarketID
			e.alerts.Publish(event)

			e.requestReconcile()

			return record, nil

		case gateway.OutcomeTransportFailure:
			if state.exhausted() {
				record, err = e.ledger.Update(ctx, intent.IntentID, ledger.StatusUpdate{
					Status:       model.OrderStatusFailed,
					StatusReason: fmt.Sprintf("retries exhausted after %d attempts", state.attempt),
					RetryCount:   &state.attempt,
				})
				if err != nil {
					return nil, err
				}

				event := alert.NewEvent(alert.SeverityCritical, alert.KindRetryExhausted, intent.IntentID,
					fmt.Sprintf("submission retries exhausted after %d attempts", state.attempt))
				event.MarketID = intent.MarketID
				e.alerts.Publish(event)

				return record, nil
			}

			e.log.WithFields(map[string]interface{}{
				"intent_id": intent.IntentID,
				"attempt":   state.attempt,
				"backoff":   state.next.String(),
			}).WithError(outcome.Err).Warn("transport failure before delivery, retrying")

			if err := state.wait(ctx); err != nil {
				// Cancelled mid-flight after reservation: the intent must
				// not be abandoned silently, park it for the reconciler.
				cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				record, updateErr := e.ledger.Update(cleanupCtx, intent.IntentID, ledger.StatusUpdate{
					Status:       model.OrderStatusUnknown,
					StatusReason: "cancelled during retry backoff",
					RetryCount:   &state.attempt,
				})
				cancel()
				if updateErr != nil {
					return nil, updateErr
				}

				e.requestReconcile()

				return record, err
			}

		default:
			return nil, fmt.Errorf("unhandled submit outcome %v", outcome.Kind)
		}
	}
}

// resolveMarketBacklog resolves any submitted/unknown record for the market
// before a new submission is allowed.
func (e *Executor) resolveMarketBacklog(ctx context.Context, marketID string) error {
	records, err := e.ledger.FindUnresolvedByMarket(ctx, marketID)
	if err != nil {
		return err
	}

	for i := range records {
		resolved, err := e.resolveRecord(ctx, &records[i])
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnresolvedMarket, records[i].IntentID)
		}
		if model.NeedsResolution(resolved.Status) {
			return fmt.Errorf("%w: %s", ErrUnresolvedMarket, resolved.IntentID)
		}
	}

	return nil
}

// resolveRecord settles a submitted/unknown record against exchange truth.
// Records with an exchange ID are queried directly; those without are looked
// up by client order ID, and absence means the order never landed.
func (e *Executor) resolveRecord(ctx context.Context, record *model.OrderRecord) (*model.OrderRecord, error) {
	var (
		status gateway.OrderStatus
		err    error
	)

	if record.ExchangeOrderID != "" {
		status, err = e.gateway.GetOrderStatus(ctx, record.ExchangeOrderID)
	} else {
		status, err = e.gateway.FindOrderByClientID(ctx, record.IntentID)
	}

	if errors.Is(err, gateway.ErrOrderNotFound) {
		e.log.WithField("intent_id", record.IntentID).
			Info("order absent on exchange, marking failed")

		failed, updateErr := e.ledger.Update(ctx, record.IntentID, ledger.StatusUpdate{
			Status:       model.OrderStatusFailed,
			StatusReason: "absent on exchange",
		})
		if updateErr != nil {
			return nil, updateErr
		}

		e.alertFailed(failed)

		return failed, nil
	}
	if err != nil {
		return nil, err
	}

	if status.Status == record.Status {
		if touchErr := e.ledger.Touch(ctx, record.IntentID); touchErr != nil {
			return nil, touchErr
		}
		return record, nil
	}

	updated, err := e.ledger.Update(ctx, record.IntentID, ledger.StatusUpdate{
		Status:          status.Status,
		ExchangeOrderID: status.ExchangeOrderID,
		FilledSize:      status.SizeMatched,
	})
	if err != nil {
		return nil, err
	}

	if updated.Status == model.OrderStatusFailed {
		e.alertFailed(updated)
	}

	return updated, nil
}

// alertFailed raises the order_failed event for a record that resolved to
// failed, i.e. a missed trade.
func (e *Executor) alertFailed(record *model.OrderRecord) {
	reason := record.StatusReason
	if reason == "" {
		reason = "order did not execute"
	}

	event := alert.NewEvent(alert.SeverityCritical, alert.KindOrderFailed, record.IntentID,
		fmt.Sprintf("order failed: %s", reason))
	event.MarketID = record.MarketID
	e.alerts.Publish(event)
}

// RecoverPending settles every record left unresolved by a previous run.
// Called once at startup before new signals are accepted, so a crash between
// submission and acknowledgment cannot cause a duplicate order. A record
// still pending at startup was reserved but never submitted; nothing was
// sent, so it is settled as failed and reported as a missed trade.
func (e *Executor) RecoverPending(ctx context.Context) error {
	records, err := e.ledger.FindNonTerminal(ctx)
	if err != nil {
		return err
	}

	for i := range records {
		record := &records[i]

		if record.Status == model.OrderStatusPending {
			e.log.WithField("intent_id", record.IntentID).
				Warn("pending record orphaned by previous run, marking failed")

			failed, err := e.ledger.Update(ctx, record.IntentID, ledger.StatusUpdate{
				Status:       model.OrderStatusFailed,
				StatusReason: "crashed before submission",
			})
			if err != nil {
				return fmt.Errorf("recover %s: %w", record.IntentID, err)
			}

			e.alertFailed(failed)
			continue
		}

		if !model.NeedsResolution(record.Status) {
			continue
		}

		e.log.WithFields(map[string]interface{}{
			"intent_id": record.IntentID,
			"status":    record.Status,
		}).Info("recovering pending record from previous run")

		if _, err := e.resolveRecord(ctx, record); err != nil {
			return fmt.Errorf("recover %s: %w", record.IntentID, err)
		}
	}

	return nil
}

func (e *Executor) requestReconcile() {
	if e.RequestReconcile != nil {
		e.RequestReconcile()
	}
}
