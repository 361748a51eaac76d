package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"coffer/internal/core"
)

// handleHealth performs a basic liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).String(),
	})
}

// handleReady reports whether the service can take operations. The
// journal is the critical dependency: once an append fails the service
// keeps serving but flags itself not ready so the orchestrator rotates it.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.svc.Ready(ctx); err != nil {
		checks["journal"] = "failed: " + err.Error()
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["journal"] = "ok"
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// handleBalance returns the balance held for one account. Unknown
// accounts read as zero.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", nil)
		return
	}

	account := strings.TrimSpace(r.URL.Query().Get("account"))
	if account == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "account query parameter is required", nil)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		Account: account,
		Balance: s.svc.BalanceOf(core.Principal(account)),
	})
}

// handleCapacity returns the configured bounds and current headroom.
func (s *Server) handleCapacity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", nil)
		return
	}

	stats := s.svc.Stats()
	writeJSON(w, http.StatusOK, capacityResponse{
		CapacityLimit:     s.svc.CapacityLimit(),
		WithdrawLimit:     s.svc.WithdrawLimit(),
		HeldBalance:       stats.HeldBalance,
		RemainingCapacity: stats.RemainingCapacity,
	})
}

// handleStats returns lifetime counters and totals.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", nil)
		return
	}

	if cached, ok := s.queryCache.Get(statsCacheKey); ok {
		writeRawJSON(w, http.StatusOK, cached)
		return
	}

	stats := s.svc.Stats()
	body := statsResponse{
		TotalDeposited:     stats.TotalDeposited,
		TotalWithdrawn:     stats.TotalWithdrawn,
		DepositOperations:  stats.DepositOperations,
		WithdrawOperations: stats.WithdrawOperations,
		HeldBalance:        stats.HeldBalance,
		RemainingCapacity:  stats.RemainingCapacity,
		Sequence:           stats.Sequence,
		Accounts:           stats.Accounts,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal server error", nil)
		return
	}
	s.queryCache.Set(statsCacheKey, raw)
	writeRawJSON(w, http.StatusOK, raw)
}

// handleHistory returns the movements of one account. Only the account
// itself and the configured owner may read it.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", nil)
		return
	}

	account := strings.TrimSpace(r.URL.Query().Get("account"))
	if account == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "account query parameter is required", nil)
		return
	}
	caller := callerPrincipal(r)

	// The cache key includes the caller so a hit implies the caller was
	// already authorized for this account.
	key := historyCacheKeyPrefix + account + ":" + string(caller)
	if cached, ok := s.queryCache.Get(key); ok {
		writeRawJSON(w, http.StatusOK, cached)
		return
	}

	history, err := s.svc.HistoryOf(caller, core.Principal(account))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	body := historyResponse{
		Account:     string(history.Account),
		Deposits:    history.Deposits,
		Withdrawals: history.Withdrawals,
	}
	if body.Deposits == nil {
		body.Deposits = []int64{}
	}
	if body.Withdrawals == nil {
		body.Withdrawals = []int64{}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal server error", nil)
		return
	}
	s.queryCache.Set(key, raw)
	writeRawJSON(w, http.StatusOK, raw)
}

func writeRawJSON(w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(raw)
}
