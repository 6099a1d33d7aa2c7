package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/coverbound/triggerd/internal/domain"
	"github.com/coverbound/triggerd/internal/oracle"
	"github.com/coverbound/triggerd/internal/token"
	"github.com/coverbound/triggerd/internal/trigger"
)

// OracleHandler drives the embedded oracle: answer proposals, disputes, and
// dispute resolutions, plus a mint/approve faucet for the embedded token
// ledger. Requests address a trigger by id; the handler resolves the
// underlying query instance from the trigger's live state.
type OracleHandler struct {
	orc      *oracle.MemoryOracle
	tok      *token.MemoryToken
	registry *trigger.Registry
	logger   *slog.Logger
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(orc *oracle.MemoryOracle, tok *token.MemoryToken, registry *trigger.Registry, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{
		orc:      orc,
		tok:      tok,
		registry: registry,
		logger:   logHandler(logger, "oracle"),
	}
}

type proposeRequest struct {
	TriggerID string `json:"trigger_id"`
	Proposer  string `json:"proposer"`
	Price     string `json:"price"` // decimal string, token base units
}

type disputeRequest struct {
	TriggerID string `json:"trigger_id"`
	Disputer  string `json:"disputer"`
}

type resolveRequest struct {
	TriggerID string `json:"trigger_id"`
	Price     string `json:"price"` // decimal string, token base units
}

type mintRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"` // decimal string, token base units
	// Approve additionally grants the oracle an allowance of the same
	// amount, so the account can immediately stake a bond.
	Approve bool `json:"approve"`
}

// Propose submits an answer proposal for a trigger's outstanding query.
// POST /api/oracle/propose
func (h *OracleHandler) Propose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, ok := h.lookupTrigger(w, req.TriggerID)
	if !ok {
		return
	}
	proposer, ok := h.parseAddress(w, req.Proposer, "proposer")
	if !ok {
		return
	}
	price, ok := h.parseAmount(w, req.Price, "price")
	if !ok {
		return
	}

	err := h.orc.ProposePrice(r.Context(), proposer, t.Address(),
		trigger.YesOrNoIdentifier, t.RequestTimestamp(), []byte(t.Question()), price)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidProposal) {
			writeError(w, http.StatusUnprocessableEntity, "proposal rejected: only the affirmative answer may be proposed")
			return
		}
		h.writeOracleError(w, r, "propose", req.TriggerID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":    t.ID(),
		"state": string(t.State()),
	})
}

// Dispute disputes the current proposal on a trigger's outstanding query.
// POST /api/oracle/dispute
func (h *OracleHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, ok := h.lookupTrigger(w, req.TriggerID)
	if !ok {
		return
	}
	disputer, ok := h.parseAddress(w, req.Disputer, "disputer")
	if !ok {
		return
	}

	err := h.orc.DisputePrice(r.Context(), disputer, t.Address(),
		trigger.YesOrNoIdentifier, t.RequestTimestamp(), []byte(t.Question()))
	if err != nil {
		h.writeOracleError(w, r, "dispute", req.TriggerID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":    t.ID(),
		"state": string(t.State()),
	})
}

// Resolve records the dispute-resolution outcome for a disputed query.
// POST /api/oracle/resolve
func (h *OracleHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, ok := h.lookupTrigger(w, req.TriggerID)
	if !ok {
		return
	}
	price, ok := h.parseAmount(w, req.Price, "price")
	if !ok {
		return
	}

	err := h.orc.Resolve(r.Context(), t.Address(),
		trigger.YesOrNoIdentifier, t.RequestTimestamp(), []byte(t.Question()), price)
	if err != nil {
		h.writeOracleError(w, r, "resolve", req.TriggerID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":    t.ID(),
		"state": string(t.State()),
	})
}

// Mint credits tokens to an account on the embedded ledger.
// POST /api/token/mint
func (h *OracleHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, ok := h.parseAddress(w, req.Account, "account")
	if !ok {
		return
	}
	amount, ok := h.parseAmount(w, req.Amount, "amount")
	if !ok {
		return
	}

	h.tok.Mint(account, amount)
	if req.Approve {
		if err := h.tok.Approve(r.Context(), account, h.orc.Address(), amount); err != nil {
			writeError(w, http.StatusInternalServerError, "approve failed")
			return
		}
	}

	balance, err := h.tok.BalanceOf(r.Context(), account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "balance read failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"balance": balance.String(),
	})
}

func (h *OracleHandler) lookupTrigger(w http.ResponseWriter, id string) (*trigger.OracleTrigger, bool) {
	t, err := h.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "trigger not found")
		return nil, false
	}
	return t, true
}

func (h *OracleHandler) parseAddress(w http.ResponseWriter, s, field string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		writeError(w, http.StatusBadRequest, field+" must be a valid address")
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func (h *OracleHandler) parseAmount(w http.ResponseWriter, s, field string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		writeError(w, http.StatusBadRequest, field+" must be a non-negative decimal integer")
		return nil, false
	}
	return n, true
}

func (h *OracleHandler) writeOracleError(w http.ResponseWriter, r *http.Request, op, triggerID string, err error) {
	switch {
	case errors.Is(err, oracle.ErrAlreadyProposed),
		errors.Is(err, oracle.ErrAlreadyDisputed),
		errors.Is(err, oracle.ErrAlreadySettled),
		errors.Is(err, oracle.ErrNotProposed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllowance):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "oracle operation failed",
			slog.String("op", op),
			slog.String("trigger_id", triggerID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}
