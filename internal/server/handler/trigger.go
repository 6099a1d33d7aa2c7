package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/coverbound/triggerd/internal/domain"
	"github.com/coverbound/triggerd/internal/trigger"
)

// SettlementLister provides read access to archived settlement records.
type SettlementLister interface {
	ListByTrigger(ctx context.Context, triggerID string) ([]domain.SettlementRecord, error)
}

// TriggerHandler serves the trigger endpoints: live state, transition
// history, archived settlements, and the permissionless settlement poke.
type TriggerHandler struct {
	registry    *trigger.Registry
	transitions domain.TransitionStore
	settlements SettlementLister
	locks       domain.LockManager
	logger      *slog.Logger
}

// NewTriggerHandler creates a TriggerHandler. locks is optional; when set,
// settlement pokes for the same trigger are serialized across replicas.
func NewTriggerHandler(registry *trigger.Registry, transitions domain.TransitionStore, settlements SettlementLister, locks domain.LockManager, logger *slog.Logger) *TriggerHandler {
	return &TriggerHandler{
		registry:    registry,
		transitions: transitions,
		settlements: settlements,
		locks:       locks,
		logger:      logHandler(logger, "trigger"),
	}
}

// triggerJSON is the API representation of a trigger.
type triggerJSON struct {
	ID               string   `json:"id"`
	Question         string   `json:"question"`
	State            string   `json:"state"`
	RequestTimestamp int64    `json:"request_timestamp"`
	RefundRecipient  string   `json:"refund_recipient"`
	Bond             string   `json:"bond"`
	LivenessSeconds  int64    `json:"liveness_seconds"`
	MarketIDs        []string `json:"market_ids"`
}

func toTriggerJSON(rec domain.TriggerRecord) triggerJSON {
	return triggerJSON{
		ID:               rec.ID,
		Question:         rec.Question,
		State:            string(rec.State),
		RequestTimestamp: rec.RequestTimestamp,
		RefundRecipient:  rec.RefundRecipient.Hex(),
		Bond:             rec.Bond,
		LivenessSeconds:  rec.LivenessSeconds,
		MarketIDs:        rec.MarketIDs,
	}
}

// ListTriggers returns the live state of every registered trigger.
// GET /api/triggers
func (h *TriggerHandler) ListTriggers(w http.ResponseWriter, r *http.Request) {
	trigs := h.registry.List()
	out := make([]triggerJSON, 0, len(trigs))
	for _, t := range trigs {
		out = append(out, toTriggerJSON(t.Record()))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetTrigger returns one trigger's live state.
// GET /api/triggers/{id}
func (h *TriggerHandler) GetTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := h.registry.Get(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "trigger not found")
		return
	}
	writeJSON(w, http.StatusOK, toTriggerJSON(t.Record()))
}

// ListTransitions returns a trigger's state-transition history.
// GET /api/triggers/{id}/transitions
func (h *TriggerHandler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, "trigger not found")
		return
	}

	trs, err := h.transitions.ListByTrigger(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list transitions failed",
			slog.String("trigger_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list transitions")
		return
	}
	if trs == nil {
		trs = []domain.Transition{}
	}
	writeJSON(w, http.StatusOK, trs)
}

// ListSettlements returns a trigger's archived settlement records.
// GET /api/triggers/{id}/settlements
func (h *TriggerHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, "trigger not found")
		return
	}

	recs, err := h.settlements.ListByTrigger(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list settlements failed",
			slog.String("trigger_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list settlements")
		return
	}
	if recs == nil {
		recs = []domain.SettlementRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// pokeRequest is the body of a settlement poke. The caller address receives
// any leftover reward when the poke trips the trigger.
type pokeRequest struct {
	Caller string `json:"caller"`
}

// PokeSettlement forces settlement of a trigger's outstanding query.
// Permissionless: any caller may poke. Responds 409 when the oracle has no
// finalizable answer yet.
// POST /api/triggers/{id}/poke
func (h *TriggerHandler) PokeSettlement(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	t, err := h.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "trigger not found")
		return
	}

	var req pokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.Caller) {
		writeError(w, http.StatusBadRequest, "caller must be a valid address")
		return
	}

	if h.locks != nil {
		unlock, err := h.locks.Acquire(r.Context(), "poke:"+id, 30*time.Second)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				writeError(w, http.StatusConflict, "a settlement poke is already in progress")
				return
			}
			h.logger.ErrorContext(r.Context(), "acquire poke lock failed",
				slog.String("trigger_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "settlement failed")
			return
		}
		defer unlock()
	}

	state, err := t.PokeSettlement(r.Context(), common.HexToAddress(req.Caller))
	if err != nil {
		if errors.Is(err, domain.ErrUnsettleable) {
			writeError(w, http.StatusConflict, "no finalizable answer available")
			return
		}
		h.logger.ErrorContext(r.Context(), "settlement poke failed",
			slog.String("trigger_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "settlement failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":    id,
		"state": string(state),
	})
}
