package pawn

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
)

type capturedRequest struct {
	method string
	params []map[string]any
	auth   string
}

func newTestServer(t *testing.T, result any, rpcErr *RPCError) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string           `json:"method"`
			Params []map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		captured.method = req.Method
		captured.params = req.Params
		captured.auth = r.Header.Get("Authorization")

		response := map[string]any{"jsonrpc": "2.0", "id": 1}
		if rpcErr != nil {
			response["error"] = rpcErr
		} else {
			response["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, captured
}

func TestDepositReturnsUpdatedBalance(t *testing.T) {
	server, captured := newTestServer(t, map[string]string{"amount": "1000"}, nil)
	client, err := New(server.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	balance, err := client.Deposit(context.Background(), "pawn1caller", big.NewInt(1000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if balance.String() != "1000" {
		t.Fatalf("balance = %s, want 1000", balance)
	}
	if captured.method != "loan_deposit" {
		t.Fatalf("method = %s, want loan_deposit", captured.method)
	}
	if got := captured.params[0]["amount"]; got != "1000" {
		t.Fatalf("amount param = %v, want 1000", got)
	}
	if captured.auth != "" {
		t.Fatalf("unexpected Authorization header %q", captured.auth)
	}
}

func TestPrivilegedCallSendsBearerToken(t *testing.T) {
	server, captured := newTestServer(t, map[string]bool{"resolved": true}, nil)
	client, err := New(server.URL, WithAuthToken("operator-token"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := client.ResolveTransfer(context.Background(), "receipt-1", true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if captured.auth != "Bearer operator-token" {
		t.Fatalf("auth header = %q", captured.auth)
	}
	if got := captured.params[0]["receiptId"]; got != "receipt-1" {
		t.Fatalf("receiptId param = %v", got)
	}
}

func TestPrivilegedCallWithoutTokenFailsLocally(t *testing.T) {
	server, _ := newTestServer(t, nil, nil)
	client, err := New(server.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.WhitelistAdd(context.Background(), "pawn1owner", "pawn1contract"); err == nil {
		t.Fatalf("expected missing-token error")
	}
}

func TestServerErrorsSurfaceAsRPCError(t *testing.T) {
	server, _ := newTestServer(t, nil, &RPCError{Code: -32010, Message: "insufficient funds"})
	client, err := New(server.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Withdraw(context.Background(), "pawn1caller", big.NewInt(500))
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	if rpcErr.Code != -32010 {
		t.Fatalf("code = %d, want -32010", rpcErr.Code)
	}
}

func TestPoolTotalsDecodes(t *testing.T) {
	server, captured := newTestServer(t, map[string]any{
		"totalBalance": "1500",
		"totalShares":  "150",
		"totalLoan":    "0",
		"totalRewards": "25",
		"available":    "1500",
		"activeLoans":  0,
		"commission":   9,
	}, nil)
	client, err := New(server.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	totals, err := client.PoolTotals(context.Background())
	if err != nil {
		t.Fatalf("pool totals: %v", err)
	}
	if totals.TotalBalance != "1500" || totals.Commission != 9 {
		t.Fatalf("totals = %+v", totals)
	}
	if len(captured.params) != 0 {
		t.Fatalf("expected no params, got %v", captured.params)
	}
}

func TestNewRejectsEmptyBaseURL(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
