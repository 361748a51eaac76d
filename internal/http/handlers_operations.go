package http

import (
	"errors"
	"net/http"
	"time"

	"coffer/internal/core"
	"coffer/internal/metrics"
)

// handleDeposit credits the caller account with the posted amount.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST", nil)
		return
	}

	caller := callerPrincipal(r)
	amount, err := decodeAmountRequest(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	start := time.Now()
	rcpt, err := s.svc.Deposit(r.Context(), caller, amount)
	if err != nil {
		metrics.RecordOperation(string(core.KindDeposit), "rejected", time.Since(start))
		writeLedgerError(w, err)
		return
	}
	metrics.RecordOperation(string(core.KindDeposit), "ok", time.Since(start))

	s.invalidateAccount(rcpt.Account)
	s.publishLedgerGauges()
	writeJSON(w, http.StatusCreated, receiptBody(rcpt))
}

// handleWithdraw debits the caller account and settles the amount outward.
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST", nil)
		return
	}

	caller := callerPrincipal(r)
	amount, err := decodeAmountRequest(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	start := time.Now()
	rcpt, err := s.svc.Withdraw(r.Context(), caller, amount)
	if err != nil {
		outcome := "rejected"
		if isTransferFailure(err) {
			outcome = "failed"
		}
		metrics.RecordOperation(string(core.KindWithdraw), outcome, time.Since(start))
		writeLedgerError(w, err)
		return
	}
	metrics.RecordOperation(string(core.KindWithdraw), "ok", time.Since(start))

	s.invalidateAccount(rcpt.Account)
	s.publishLedgerGauges()
	writeJSON(w, http.StatusCreated, receiptBody(rcpt))
}

// handleInboundTransfer credits value arriving from another system.
// The sender is asserted by the bridging caller in the request body.
func (s *Server) handleInboundTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST", nil)
		return
	}

	sender, amount, err := decodeInboundTransfer(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	start := time.Now()
	rcpt, err := s.svc.Receive(r.Context(), sender, amount)
	if err != nil {
		metrics.RecordOperation(string(core.KindDeposit), "rejected", time.Since(start))
		writeLedgerError(w, err)
		return
	}
	metrics.RecordOperation(string(core.KindDeposit), "ok", time.Since(start))

	s.invalidateAccount(rcpt.Account)
	s.publishLedgerGauges()
	writeJSON(w, http.StatusCreated, receiptBody(rcpt))
}

func (s *Server) publishLedgerGauges() {
	stats := s.svc.Stats()
	metrics.SetLedgerGauges(stats.HeldBalance, stats.RemainingCapacity)
}

func isTransferFailure(err error) bool {
	var transferErr *core.TransferError
	return errors.As(err, &transferErr)
}
