package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"coffer/internal/core"
)

type receiptResponse struct {
	Sequence uint64 `json:"sequence"`
	Account  string `json:"account"`
	Kind     string `json:"kind"`
	Amount   int64  `json:"amount"`
	Balance  int64  `json:"balance"`
}

type balanceResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

type capacityResponse struct {
	CapacityLimit     int64 `json:"capacity_limit"`
	WithdrawLimit     int64 `json:"withdraw_limit"`
	HeldBalance       int64 `json:"held_balance"`
	RemainingCapacity int64 `json:"remaining_capacity"`
}

type statsResponse struct {
	TotalDeposited     int64  `json:"total_deposited"`
	TotalWithdrawn     int64  `json:"total_withdrawn"`
	DepositOperations  int64  `json:"deposit_operations"`
	WithdrawOperations int64  `json:"withdraw_operations"`
	HeldBalance        int64  `json:"held_balance"`
	RemainingCapacity  int64  `json:"remaining_capacity"`
	Sequence           uint64 `json:"sequence"`
	Accounts           int    `json:"accounts"`
}

type historyResponse struct {
	Account     string  `json:"account"`
	Deposits    []int64 `json:"deposits"`
	Withdrawals []int64 `json:"withdrawals"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, errorResponse{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// writeLedgerError translates ledger errors into HTTP status codes.
// Validation failures map to 422, admission and concurrency conflicts
// to 409, authorization to 403 and settlement failures to 502.
func writeLedgerError(w http.ResponseWriter, err error) {
	var (
		capErr      *core.CapacityError
		balErr      *core.InsufficientBalanceError
		limitErr    *core.WithdrawLimitError
		transferErr *core.TransferError
	)

	switch {
	case errors.Is(err, errBadRequestBody):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	case errors.Is(err, core.ErrZeroAmount):
		writeError(w, http.StatusUnprocessableEntity, "zero_amount", err.Error(), nil)
	case errors.Is(err, core.ErrMalformedAmount):
		writeError(w, http.StatusUnprocessableEntity, "malformed_amount", err.Error(), nil)
	case errors.Is(err, core.ErrAmountOverflow):
		writeError(w, http.StatusUnprocessableEntity, "amount_overflow", err.Error(), nil)
	case errors.Is(err, core.ErrEmptyPrincipal):
		writeError(w, http.StatusUnprocessableEntity, "empty_principal", err.Error(), nil)
	case errors.As(err, &limitErr):
		writeError(w, http.StatusUnprocessableEntity, "withdraw_limit_exceeded", err.Error(), map[string]any{
			"requested": limitErr.Requested,
			"limit":     limitErr.Limit,
		})
	case errors.As(err, &capErr):
		writeError(w, http.StatusConflict, "capacity_exceeded", err.Error(), map[string]any{
			"requested": capErr.Attempted,
			"remaining": capErr.Remaining,
		})
	case errors.As(err, &balErr):
		writeError(w, http.StatusConflict, "insufficient_balance", err.Error(), map[string]any{
			"account":   string(balErr.Principal),
			"available": balErr.Available,
			"requested": balErr.Requested,
		})
	case errors.Is(err, core.ErrReentrancy):
		writeError(w, http.StatusConflict, "operation_in_progress", err.Error(), nil)
	case errors.Is(err, core.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "not_authorized", err.Error(), nil)
	case errors.As(err, &transferErr):
		writeError(w, http.StatusBadGateway, "transfer_failed", err.Error(), map[string]any{
			"account": string(transferErr.To),
			"amount":  transferErr.Amount,
		})
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal server error", nil)
	}
}

func receiptBody(rcpt core.Receipt) receiptResponse {
	return receiptResponse{
		Sequence: rcpt.Sequence,
		Account:  string(rcpt.Account),
		Kind:     string(rcpt.Kind),
		Amount:   rcpt.Amount,
		Balance:  rcpt.Balance,
	}
}
