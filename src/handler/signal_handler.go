package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	logger "github.com/sirupsen/logrus"

	"pmexecutor/src/executor"
	"pmexecutor/src/model"
)

// SignalExecutor runs one signal through the order pipeline.
type SignalExecutor interface {
	Execute(ctx context.Context, signal model.Signal) (*model.OrderRecord, error)
}

// RecordLister exposes recent ledger records for operators.
type RecordLister interface {
	FindLatest(ctx context.Context, limit int) ([]model.OrderRecord, error)
}

// SignalHandler is the inbound boundary to the external signal detector.
// Signals are consumed synchronously: the response carries the resulting
// ledger record, so the detector observes exactly what the pipeline decided.
type SignalHandler struct {
	log      *logger.Entry
	executor SignalExecutor
	records  RecordLister
}

// NewSignalHandler wires the handler.
func NewSignalHandler(log *logger.Entry, exec SignalExecutor, records RecordLister) *SignalHandler {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}

	return &SignalHandler{log: log, executor: exec, records: records}
}

// HandleSignal accepts POST /signals with a JSON signal body.
func (h *SignalHandler) HandleSignal(w http.ResponseWriter, r *http.Request) {
	var signal model.Signal

	if err := json.NewDecoder(r.Body).Decode(&signal); err != nil {
		h.log.WithError(err).Warn("rejecting malformed signal payload")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed signal payload"})
		return
	}

	if !signal.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "signal requires market_id and a direction of buy/sell/hold"})
		return
	}

	record, err := h.executor.Execute(r.Context(), signal)
	if err != nil {
		if errors.Is(err, executor.ErrUnresolvedMarket) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}

		h.log.WithError(err).WithField("market_id", signal.MarketID).
			Error("signal execution failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if record == nil {
		// hold signal or dropped pre-reservation
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// HandleOrders accepts GET /orders?limit=N.
func (h *SignalHandler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	records, err := h.records.FindLatest(r.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("failed to list records")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to write response body")
	}
}
