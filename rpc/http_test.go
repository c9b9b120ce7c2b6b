package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"pawnpool/core/events"
	"pawnpool/crypto"
	"pawnpool/native/loan"
	"pawnpool/storage"
)

const testAuthToken = "rpc-secret"

type recordedTransfer struct {
	receiptID string
	kind      string
}

type stubSender struct {
	sent []recordedTransfer
}

func (s *stubSender) SendValue(_ context.Context, receiptID string, _ crypto.Address, _ *big.Int) error {
	s.sent = append(s.sent, recordedTransfer{receiptID: receiptID, kind: "value"})
	return nil
}

func (s *stubSender) SendToken(_ context.Context, receiptID string, _ crypto.Address, _ string, _ crypto.Address) error {
	s.sent = append(s.sent, recordedTransfer{receiptID: receiptID, kind: "token"})
	return nil
}

func (s *stubSender) last(t *testing.T) recordedTransfer {
	t.Helper()
	if len(s.sent) == 0 {
		t.Fatalf("expected an outbound transfer")
	}
	return s.sent[len(s.sent)-1]
}

type rpcFixture struct {
	server *httptest.Server
	sender *stubSender
	owner  crypto.Address
	vault  crypto.Address
}

func testAddress(t *testing.T, last byte) crypto.Address {
	t.Helper()
	raw := make([]byte, 20)
	raw[19] = last
	addr, err := crypto.NewAddress(crypto.PawnPrefix, raw)
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	return addr
}

func newFixture(t *testing.T) *rpcFixture {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "ledger.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	owner := testAddress(t, 0xAA)
	vault := testAddress(t, 0xFE)
	sender := &stubSender{}
	engine := loan.NewEngine(owner, vault)
	engine.SetState(store)
	engine.SetTransferSender(sender)
	recorder := events.NewRecorder(0)
	engine.SetEmitter(recorder)

	srv := NewServer(engine, recorder, testAuthToken, 0, 0)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &rpcFixture{server: ts, sender: sender, owner: owner, vault: vault}
}

func (f *rpcFixture) call(t *testing.T, method string, params any, authed bool) (json.RawMessage, *RPCError) {
	t.Helper()
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []any{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAuthToken)
	}
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("rpc call: %v", err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded.Result, decoded.Error
}

func (f *rpcFixture) mustCall(t *testing.T, method string, params any, authed bool) json.RawMessage {
	t.Helper()
	result, rpcErr := f.call(t, method, params, authed)
	if rpcErr != nil {
		t.Fatalf("%s failed: %d %s", method, rpcErr.Code, rpcErr.Message)
	}
	return result
}

func (f *rpcFixture) resolveLast(t *testing.T, success bool) {
	t.Helper()
	transfer := f.sender.last(t)
	f.mustCall(t, "loan_resolveTransfer", map[string]any{
		"receiptId": transfer.receiptID,
		"success":   success,
	}, true)
}

func (f *rpcFixture) deposit(t *testing.T, caller crypto.Address, amount string) {
	t.Helper()
	f.mustCall(t, "loan_deposit", map[string]any{
		"caller": caller.String(),
		"amount": amount,
	}, false)
	f.resolveLast(t, true)
}

func TestDepositAndAccountQuery(t *testing.T) {
	f := newFixture(t)
	alice := testAddress(t, 0x01)

	f.deposit(t, alice, "1000")

	result := f.mustCall(t, "loan_getAccount", map[string]any{"address": alice.String()}, false)
	var account accountResult
	if err := json.Unmarshal(result, &account); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if account.Balance != "1000" {
		t.Fatalf("balance = %s, want 1000", account.Balance)
	}
	if account.Shares != "100" {
		t.Fatalf("shares = %s, want 100", account.Shares)
	}

	totals := f.mustCall(t, "loan_poolTotals", nil, false)
	var pool poolTotalsResult
	if err := json.Unmarshal(totals, &pool); err != nil {
		t.Fatalf("decode totals: %v", err)
	}
	if pool.TotalBalance != "1000" || pool.TotalShares != "100" {
		t.Fatalf("pool totals = %s/%s, want 1000/100", pool.TotalBalance, pool.TotalShares)
	}
}

func TestWithdrawRoundTrip(t *testing.T) {
	f := newFixture(t)
	alice := testAddress(t, 0x01)
	f.deposit(t, alice, "1000")

	f.mustCall(t, "loan_withdraw", map[string]any{
		"caller": alice.String(),
		"amount": "400",
	}, false)
	f.resolveLast(t, true)

	result := f.mustCall(t, "loan_getAccount", map[string]any{"address": alice.String()}, false)
	var account accountResult
	if err := json.Unmarshal(result, &account); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if account.Balance != "600" {
		t.Fatalf("balance = %s, want 600", account.Balance)
	}
}

func TestLoanLifecycleOverRPC(t *testing.T) {
	f := newFixture(t)
	contract := testAddress(t, 0xC0)
	borrower := testAddress(t, 0x02)
	lender := testAddress(t, 0x03)

	f.mustCall(t, "loan_setTerms", map[string]any{
		"caller":   f.owner.String(),
		"contract": contract.String(),
		"price":    "10000",
		"percent":  20,
	}, true)
	f.mustCall(t, "loan_whitelistAdd", map[string]any{
		"caller":   f.owner.String(),
		"contract": contract.String(),
	}, true)
	f.deposit(t, lender, "50000")

	f.mustCall(t, "loan_openLoan", map[string]any{
		"caller":   borrower.String(),
		"contract": contract.String(),
		"tokenId":  "42",
	}, false)
	f.resolveLast(t, true) // custody in
	f.resolveLast(t, true) // payout

	result := f.mustCall(t, "loan_getLoan", map[string]any{
		"contract": contract.String(),
		"tokenId":  "42",
	}, false)
	var view loan.LoanView
	if err := json.Unmarshal(result, &view); err != nil {
		t.Fatalf("decode loan: %v", err)
	}
	if view.Principal.String() != "8000" {
		t.Fatalf("principal = %s, want 8000", view.Principal)
	}
	if view.Custodian != borrower.String() {
		t.Fatalf("custodian = %s, want %s", view.Custodian, borrower)
	}

	listed := f.mustCall(t, "loan_listLoans", map[string]any{
		"custodian": borrower.String(),
	}, false)
	var views []loan.LoanView
	if err := json.Unmarshal(listed, &views); err != nil {
		t.Fatalf("decode loans: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("loan count = %d, want 1", len(views))
	}

	// Principal 8000 at 9% commission demands 8720 exactly.
	f.mustCall(t, "loan_repay", map[string]any{
		"caller":   borrower.String(),
		"contract": contract.String(),
		"tokenId":  "42",
		"payment":  "8720",
	}, false)
	f.resolveLast(t, true) // custody out chained behind the repayment
	repayReceipt := f.sender.sent[len(f.sender.sent)-2]
	f.mustCall(t, "loan_resolveTransfer", map[string]any{
		"receiptId": repayReceipt.receiptID,
		"success":   true,
	}, true)

	_, rpcErr := f.call(t, "loan_getLoan", map[string]any{
		"contract": contract.String(),
		"tokenId":  "42",
	}, false)
	if rpcErr == nil || rpcErr.Code != codeNotFound {
		t.Fatalf("expected not-found after claim, got %+v", rpcErr)
	}
}

func TestPrivilegedMethodsRequireAuth(t *testing.T) {
	f := newFixture(t)
	contract := testAddress(t, 0xC0)
	params := map[string]any{
		"caller":   f.owner.String(),
		"contract": contract.String(),
	}
	for _, method := range []string{"loan_whitelistAdd", "loan_whitelistRemove", "loan_setTerms", "loan_resolveTransfer"} {
		_, rpcErr := f.call(t, method, params, false)
		if rpcErr == nil || rpcErr.Code != codeUnauthorized {
			t.Fatalf("%s without auth: got %+v, want code %d", method, rpcErr, codeUnauthorized)
		}
	}
}

func TestErrorCodeMapping(t *testing.T) {
	f := newFixture(t)
	alice := testAddress(t, 0x01)

	_, rpcErr := f.call(t, "loan_withdraw", map[string]any{
		"caller": alice.String(),
		"amount": "100",
	}, false)
	if rpcErr == nil || rpcErr.Code != codeInsufficientFunds {
		t.Fatalf("overdraft: got %+v, want code %d", rpcErr, codeInsufficientFunds)
	}

	_, rpcErr = f.call(t, "loan_getLoan", map[string]any{
		"contract": testAddress(t, 0xC0).String(),
		"tokenId":  "missing",
	}, false)
	if rpcErr == nil || rpcErr.Code != codeNotFound {
		t.Fatalf("missing loan: got %+v, want code %d", rpcErr, codeNotFound)
	}

	_, rpcErr = f.call(t, "loan_deposit", map[string]any{
		"caller": "not-an-address",
		"amount": "100",
	}, false)
	if rpcErr == nil || rpcErr.Code != codeInvalidParams {
		t.Fatalf("bad address: got %+v, want code %d", rpcErr, codeInvalidParams)
	}

	_, rpcErr = f.call(t, "loan_unknown", nil, false)
	if rpcErr == nil || rpcErr.Code != codeMethodNotFound {
		t.Fatalf("unknown method: got %+v, want code %d", rpcErr, codeMethodNotFound)
	}
}

func TestMalformedRequests(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/", "application/json", bytes.NewBufferString("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != codeParseError {
		t.Fatalf("parse error: got %+v, want code %d", decoded.Error, codeParseError)
	}

	resp2, err := http.Post(f.server.URL+"/", "application/json", bytes.NewBufferString(`{"jsonrpc":"1.0","method":"loan_poolTotals","id":1}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp2.Body.Close()
	var decoded2 RPCResponse
	if err := json.NewDecoder(resp2.Body).Decode(&decoded2); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded2.Error == nil || decoded2.Error.Code != codeInvalidRequest {
		t.Fatalf("version check: got %+v, want code %d", decoded2.Error, codeInvalidRequest)
	}
}

func TestEventFeed(t *testing.T) {
	f := newFixture(t)
	alice := testAddress(t, 0x01)
	f.deposit(t, alice, "1000")

	result := f.mustCall(t, "loan_events", map[string]any{"after": 0, "limit": 10}, false)
	var feed []eventResult
	if err := json.Unmarshal(result, &feed); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(feed) == 0 {
		t.Fatalf("expected at least one event")
	}
	if feed[0].Type != "loan.ft.deposit" {
		t.Fatalf("first event type = %s, want loan.ft.deposit", feed[0].Type)
	}
	if feed[0].Sequence == 0 {
		t.Fatalf("expected monotonically assigned sequence numbers")
	}

	// Cursoring past the latest sequence yields an empty page.
	latest := feed[len(feed)-1].Sequence
	empty := f.mustCall(t, "loan_events", map[string]any{"after": latest, "limit": 10}, false)
	var tail []eventResult
	if err := json.Unmarshal(empty, &tail); err != nil {
		t.Fatalf("decode tail: %v", err)
	}
	if len(tail) != 0 {
		t.Fatalf("expected empty tail, got %d events", len(tail))
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestRateLimitRejectsBursts(t *testing.T) {
	limited := NewServer(nil, nil, "", 1, 1)
	ts := httptest.NewServer(limited.Handler())
	defer ts.Close()

	var sawThrottle bool
	for i := 0; i < 5; i++ {
		body := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"loan_unknown"}`, i)
		resp, err := http.Post(ts.URL+"/", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		var decoded RPCResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			resp.Body.Close()
			t.Fatalf("decode: %v", err)
		}
		resp.Body.Close()
		if decoded.Error != nil && decoded.Error.Code == codeRateLimited {
			sawThrottle = true
			break
		}
	}
	if !sawThrottle {
		t.Fatalf("expected a rate-limited response")
	}
}
