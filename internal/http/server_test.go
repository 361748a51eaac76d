package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"coffer/internal/config"
	"coffer/internal/core"
	"coffer/internal/log"
)

// stubService adapts a bare executor to the Service interface so the
// handlers can be exercised without storage or a broker.
type stubService struct {
	exec     *core.Executor
	readyErr error
}

func (s *stubService) Deposit(ctx context.Context, account core.Principal, amount int64) (core.Receipt, error) {
	return s.exec.Deposit(ctx, account, amount)
}

func (s *stubService) Withdraw(ctx context.Context, account core.Principal, amount int64) (core.Receipt, error) {
	return s.exec.Withdraw(ctx, account, amount)
}

func (s *stubService) Receive(ctx context.Context, sender core.Principal, amount int64) (core.Receipt, error) {
	return s.exec.Receive(ctx, sender, amount)
}

func (s *stubService) BalanceOf(account core.Principal) int64 { return s.exec.BalanceOf(account) }
func (s *stubService) RemainingCapacity() int64               { return s.exec.RemainingCapacity() }
func (s *stubService) CapacityLimit() int64                   { return s.exec.CapacityLimit() }
func (s *stubService) WithdrawLimit() int64                   { return s.exec.WithdrawLimit() }
func (s *stubService) Stats() core.Stats                      { return s.exec.Stats() }

func (s *stubService) HistoryOf(caller, account core.Principal) (core.History, error) {
	return s.exec.HistoryOf(caller, account)
}

func (s *stubService) Ready(ctx context.Context) error { return s.readyErr }

// Ensure interface conformance
var _ Service = (*stubService)(nil)

func quietLogger() *log.Logger {
	return log.New(log.Config{
		Level:     slog.LevelError,
		Component: "test",
		Handler:   slog.NewTextHandler(io.Discard, nil),
	})
}

func newTestServer(t *testing.T, transfer core.TransferFunc, mutate ...func(*config.Config)) (*Server, *stubService) {
	t.Helper()

	ledger, err := core.NewLedger(1000, 100, core.WithOwner("owner"))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	if transfer == nil {
		transfer = func(ctx context.Context, to core.Principal, amount int64) error { return nil }
	}
	svc := &stubService{exec: core.NewExecutor(ledger, transfer, nil)}

	cfg := &config.Config{
		Port:           "0",
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}
	for _, m := range mutate {
		m(cfg)
	}

	srv, err := NewServer(cfg, svc, quietLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv, svc
}

func doRequest(t *testing.T, srv *Server, method, path, principal, body string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if principal != "" {
		req.Header.Set(principalHeader, principal)
	}
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return resp.Error
}

func decodeReceipt(t *testing.T, rr *httptest.ResponseRecorder) receiptResponse {
	t.Helper()
	var resp receiptResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode receipt %q: %v", rr.Body.String(), err)
	}
	return resp
}

func TestAdmissionScript(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// Zero deposit is rejected before anything else.
	rr := doRequest(t, srv, http.MethodPost, "/api/v1/deposits", "alice", `{"amount":"0"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("zero deposit status = %d, want 422", rr.Code)
	}
	if code := decodeError(t, rr).Code; code != "zero_amount" {
		t.Fatalf("zero deposit code = %q", code)
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/v1/deposits", "alice", `{"amount":"600"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	rcpt := decodeReceipt(t, rr)
	if rcpt.Sequence != 1 || rcpt.Balance != 600 || rcpt.Kind != "deposit" {
		t.Fatalf("unexpected receipt %+v", rcpt)
	}

	// 500 over the remaining 400 of capacity.
	rr = doRequest(t, srv, http.MethodPost, "/api/v1/deposits", "bob", `{"amount":"500"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("over-capacity status = %d, want 409", rr.Code)
	}
	eb := decodeError(t, rr)
	if eb.Code != "capacity_exceeded" {
		t.Fatalf("over-capacity code = %q", eb.Code)
	}
	if got := eb.Details["remaining"]; got != float64(400) {
		t.Fatalf("remaining detail = %v, want 400", got)
	}

	// 150 is over the per-operation withdraw limit.
	rr = doRequest(t, srv, http.MethodPost, "/api/v1/withdrawals", "alice", `{"amount":"150"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("over-limit status = %d, want 422", rr.Code)
	}
	if code := decodeError(t, rr).Code; code != "withdraw_limit_exceeded" {
		t.Fatalf("over-limit code = %q", code)
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/v1/withdrawals", "alice", `{"amount":"100"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("withdraw status = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	if rcpt := decodeReceipt(t, rr); rcpt.Balance != 500 {
		t.Fatalf("balance after withdraw = %d, want 500", rcpt.Balance)
	}

	// The withdrawal freed capacity for bob.
	rr = doRequest(t, srv, http.MethodPost, "/api/v1/deposits", "bob", `{"amount":"400"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("bob deposit status = %d, want 201", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/v1/stats", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rr.Code)
	}
	var stats statsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.HeldBalance != 900 || stats.RemainingCapacity != 100 {
		t.Fatalf("stats = %+v, want held 900 remaining 100", stats)
	}
	if stats.DepositOperations != 2 || stats.WithdrawOperations != 1 {
		t.Fatalf("operation counters = %d/%d, want 2/1", stats.DepositOperations, stats.WithdrawOperations)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/deposits"},
		{http.MethodGet, "/api/v1/withdrawals"},
		{http.MethodGet, "/api/v1/transfers/inbound"},
		{http.MethodPost, "/api/v1/balance"},
		{http.MethodDelete, "/api/v1/stats"},
		{http.MethodPost, "/api/v1/history"},
	}

	for _, c := range cases {
		rr := doRequest(t, srv, c.method, c.path, "alice", "")
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s status = %d, want 405", c.method, c.path, rr.Code)
		}
	}
}

func TestRequestValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	cases := []struct {
		name      string
		principal string
		body      string
		status    int
		code      string
	}{
		{"missing principal", "", `{"amount":"5"}`, http.StatusUnprocessableEntity, "empty_principal"},
		{"empty body", "alice", "", http.StatusBadRequest, "invalid_request"},
		{"not json", "alice", "amount=5", http.StatusBadRequest, "invalid_request"},
		{"missing amount", "alice", `{}`, http.StatusUnprocessableEntity, "malformed_amount"},
		{"negative amount", "alice", `{"amount":"-5"}`, http.StatusUnprocessableEntity, "malformed_amount"},
		{"fractional amount", "alice", `{"amount":"1.5"}`, http.StatusUnprocessableEntity, "malformed_amount"},
		{"non numeric amount", "alice", `{"amount":"abc"}`, http.StatusUnprocessableEntity, "malformed_amount"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rr := doRequest(t, srv, http.MethodPost, "/api/v1/deposits", c.principal, c.body)
			if rr.Code != c.status {
				t.Fatalf("status = %d, want %d: %s", rr.Code, c.status, rr.Body.String())
			}
			if code := decodeError(t, rr).Code; code != c.code {
				t.Fatalf("code = %q, want %q", code, c.code)
			}
		})
	}

	// JSON integers are accepted as amounts.
	rr := doRequest(t, srv, http.MethodPost, "/api/v1/deposits", "alice", `{"amount":600}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("integer amount status = %d, want 201: %s", rr.Code, rr.Body.String())
	}
}

func TestBalanceAndCapacity(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	doRequest(t, srv, http.MethodPost, "/api/v1/deposits", "alice", `{"amount":"600"}`)

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/balance?account=alice", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("balance status = %d", rr.Code)
	}
	var bal balanceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &bal); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if bal.Balance != 600 {
		t.Fatalf("balance = %d, want 600", bal.Balance)
	}

	// Unknown accounts read as zero.
	rr = doRequest(t, srv, http.MethodGet, "/api/v1/balance?account=nobody", "", "")
	if err := json.Unmarshal(rr.Body.Bytes(), &bal); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if bal.Balance != 0 {
		t.Fatalf("unknown balance = %d, want 0", bal.Balance)
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/v1/balance", "", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing account status = %d, want 400", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/v1/capacity", "", "")
	var capBody capacityResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &capBody); err != nil {
		t.Fatalf("decode capacity: %v", err)
	}
	if capBody.CapacityLimit != 1000 || capBody.WithdrawLimit != 100 {
		t.Fatalf("limits = %d/%d, want 1000/100", capBody.CapacityLimit, capBody.WithdrawLimit)
	}
	if capBody.HeldBalance != 600 || capBody.RemainingCapacity != 400 {
		t.Fatalf("capacity = %+v", capBody)
	}
}

func TestHistoryAuthorization(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	doRequest(t, srv, http.MethodPost, "/api/v1/deposits", "alice", `{"amount":"600"}`)

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/history?account=alice", "alice", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("own history status = %d: %s", rr.Code, rr.Body.String())
	}
	var hist historyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Deposits) != 1 || hist.Deposits[0] != 600 {
		t.Fatalf("history deposits = %v, want [600]", hist.Deposits)
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/v1/history?account=alice", "bob", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("stranger history status = %d, want 403", rr.Code)
	}
	if code := decodeError(t, rr).Code; code != "not_authorized" {
		t.Fatalf("stranger history code = %q", code)
	}

	// The configured owner may audit any account.
	rr = doRequest(t, srv, http.MethodGet, "/api/v1/history?account=alice", "owner", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("owner history status = %d, want 200", rr.Code)
	}
}

func TestHistoryCacheInvalidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	doRequest(t, srv, http.MethodPost, "/api/v1/deposits", "alice", `{"amount":"100"}`)
	rr := doRequest(t, srv, http.MethodGet, "/api/v1/history?account=alice", "alice", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("first history status = %d", rr.Code)
	}

	// A later operation must not be hidden by the cached response.
	doRequest(t, srv, http.MethodPost, "/api/v1/deposits", "alice", `{"amount":"50"}`)
	rr = doRequest(t, srv, http.MethodGet, "/api/v1/history?account=alice", "alice", "")
	var hist historyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Deposits) != 2 {
		t.Fatalf("history deposits = %v, want two entries", hist.Deposits)
	}

	// Stats cache is invalidated by operations as well.
	doRequest(t, srv, http.MethodGet, "/api/v1/stats", "", "")
	doRequest(t, srv, http.MethodPost, "/api/v1/deposits", "bob", `{"amount":"25"}`)
	rr = doRequest(t, srv, http.MethodGet, "/api/v1/stats", "", "")
	var stats statsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.HeldBalance != 175 {
		t.Fatalf("held after bob deposit = %d, want 175", stats.HeldBalance)
	}
}

func TestInboundTransfer(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := doRequest(t, srv, http.MethodPost, "/api/v1/transfers/inbound", "bridge",
		`{"sender":"chain:alice","amount":"250"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("inbound status = %d: %s", rr.Code, rr.Body.String())
	}
	rcpt := decodeReceipt(t, rr)
	if rcpt.Account != "chain:alice" || rcpt.Amount != 250 || rcpt.Kind != "deposit" {
		t.Fatalf("inbound receipt = %+v", rcpt)
	}

	// A blank sender fails principal validation.
	rr = doRequest(t, srv, http.MethodPost, "/api/v1/transfers/inbound", "bridge",
		`{"sender":"  ","amount":"10"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("blank sender status = %d, want 422", rr.Code)
	}
	if code := decodeError(t, rr).Code; code != "empty_principal" {
		t.Fatalf("blank sender code = %q", code)
	}
}

func TestWithdrawSettlementFailure(t *testing.T) {
	cause := errors.New("settlement rail down")
	srv, _ := newTestServer(t, func(ctx context.Context, to core.Principal, amount int64) error {
		return cause
	})

	doRequest(t, srv, http.MethodPost, "/api/v1/deposits", "alice", `{"amount":"600"}`)

	rr := doRequest(t, srv, http.MethodPost, "/api/v1/withdrawals", "alice", `{"amount":"50"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("failed settlement status = %d, want 502: %s", rr.Code, rr.Body.String())
	}
	if code := decodeError(t, rr).Code; code != "transfer_failed" {
		t.Fatalf("failed settlement code = %q", code)
	}

	// The debit was reversed, the balance is intact.
	rr = doRequest(t, srv, http.MethodGet, "/api/v1/balance?account=alice", "", "")
	var bal balanceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &bal); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if bal.Balance != 600 {
		t.Fatalf("balance after reversal = %d, want 600", bal.Balance)
	}
}

func TestProbes(t *testing.T) {
	srv, svc := newTestServer(t, nil)

	rr := doRequest(t, srv, http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("healthz body = %s", rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodGet, "/readyz", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz status = %d", rr.Code)
	}

	svc.readyErr = errors.New("journal append failed")
	rr = doRequest(t, srv, http.MethodGet, "/readyz", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded readyz status = %d, want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "not_ready") {
		t.Fatalf("degraded readyz body = %s", rr.Body.String())
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/stats", "", "")
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options = %q", got)
	}
	if got := rr.Header().Get("X-Request-ID"); !strings.HasPrefix(got, "req_") {
		t.Fatalf("X-Request-ID = %q", got)
	}
}

func TestRateLimitExhaustion(t *testing.T) {
	srv, _ := newTestServer(t, nil, func(cfg *config.Config) {
		cfg.RateLimitRPS = 1
		cfg.RateLimitBurst = 2
	})

	var throttled int
	for i := 0; i < 5; i++ {
		rr := doRequest(t, srv, http.MethodGet, "/api/v1/stats", "", "")
		if rr.Code == http.StatusTooManyRequests {
			throttled++
			if code := decodeError(t, rr).Code; code != "rate_limited" {
				t.Fatalf("throttled code = %q", code)
			}
		}
	}
	if throttled != 3 {
		t.Fatalf("throttled %d of 5 requests, want 3", throttled)
	}

	// Probes are exempt from throttling.
	for i := 0; i < 5; i++ {
		if rr := doRequest(t, srv, http.MethodGet, "/healthz", "", ""); rr.Code != http.StatusOK {
			t.Fatalf("probe %d throttled with status %d", i, rr.Code)
		}
	}
}
