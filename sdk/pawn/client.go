// Package pawn provides a typed Go client for the pawnd JSON-RPC API.
package pawn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// Client wraps the pawnd JSON-RPC endpoint with typed helpers.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// Option mutates the client configuration during construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAuthToken sets the bearer token sent on privileged methods.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// New constructs a client pointed at the supplied base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("baseURL required")
	}
	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return client, nil
}

// RPCError carries a JSON-RPC error returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params any, authed bool, out any) error {
	req := rpcRequest{JSONRPC: "2.0", Method: method, ID: 1}
	if params != nil {
		req.Params = []any{params}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if authed {
		if c.authToken == "" {
			return fmt.Errorf("%s requires an auth token", method)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out != nil {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

type amountPayload struct {
	Amount string `json:"amount"`
}

func parseAmount(method, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("%s: malformed amount %q in response", method, value)
	}
	return amount, nil
}

// Deposit adds liquidity to the pool and returns the caller's post-deposit
// balance.
func (c *Client) Deposit(ctx context.Context, caller string, amount *big.Int) (*big.Int, error) {
	var result amountPayload
	err := c.call(ctx, "loan_deposit", map[string]any{
		"caller": caller,
		"amount": amount.String(),
	}, false, &result)
	if err != nil {
		return nil, err
	}
	return parseAmount("loan_deposit", result.Amount)
}

// Withdraw removes liquidity and returns the amount withdrawn.
func (c *Client) Withdraw(ctx context.Context, caller string, amount *big.Int) (*big.Int, error) {
	var result amountPayload
	err := c.call(ctx, "loan_withdraw", map[string]any{
		"caller": caller,
		"amount": amount.String(),
	}, false, &result)
	if err != nil {
		return nil, err
	}
	return parseAmount("loan_withdraw", result.Amount)
}

// WithdrawAll drains the caller's entire deposited balance.
func (c *Client) WithdrawAll(ctx context.Context, caller string) (*big.Int, error) {
	var result amountPayload
	err := c.call(ctx, "loan_withdrawAll", map[string]any{"caller": caller}, false, &result)
	if err != nil {
		return nil, err
	}
	return parseAmount("loan_withdrawAll", result.Amount)
}

// ClaimRewards pays out the caller's accrued rewards.
func (c *Client) ClaimRewards(ctx context.Context, caller string) (*big.Int, error) {
	var result amountPayload
	err := c.call(ctx, "loan_claimRewards", map[string]any{"caller": caller}, false, &result)
	if err != nil {
		return nil, err
	}
	return parseAmount("loan_claimRewards", result.Amount)
}

// OpenLoan pledges the identified token as collateral for a new loan.
func (c *Client) OpenLoan(ctx context.Context, caller, contract, tokenID string) error {
	return c.call(ctx, "loan_openLoan", map[string]any{
		"caller":   caller,
		"contract": contract,
		"tokenId":  tokenID,
	}, false, nil)
}

// Repay settles the loan with the exact principal-plus-fee payment.
func (c *Client) Repay(ctx context.Context, caller, contract, tokenID string, payment *big.Int) error {
	return c.call(ctx, "loan_repay", map[string]any{
		"caller":   caller,
		"contract": contract,
		"tokenId":  tokenID,
		"payment":  payment.String(),
	}, false, nil)
}

// ClaimCollateral asks for the token back once the loan principal is zero.
func (c *Client) ClaimCollateral(ctx context.Context, contract, tokenID string) error {
	return c.call(ctx, "loan_claimCollateral", map[string]any{
		"contract": contract,
		"tokenId":  tokenID,
	}, false, nil)
}

// SeizeExpired writes off a defaulted loan and reassigns custody to the pool
// owner.
func (c *Client) SeizeExpired(ctx context.Context, caller, contract, tokenID string) error {
	return c.call(ctx, "loan_seizeExpired", map[string]any{
		"caller":   caller,
		"contract": contract,
		"tokenId":  tokenID,
	}, false, nil)
}

// ResolveTransfer reports the outcome of an external transfer. Privileged.
func (c *Client) ResolveTransfer(ctx context.Context, receiptID string, success bool) error {
	return c.call(ctx, "loan_resolveTransfer", map[string]any{
		"receiptId": receiptID,
		"success":   success,
	}, true, nil)
}

// SetTerms updates appraisal terms for a collection. Privileged.
func (c *Client) SetTerms(ctx context.Context, caller, contract string, price *big.Int, percent uint64) error {
	return c.call(ctx, "loan_setTerms", map[string]any{
		"caller":   caller,
		"contract": contract,
		"price":    price.String(),
		"percent":  percent,
	}, true, nil)
}

// WhitelistAdd enables a collection for lending. Privileged.
func (c *Client) WhitelistAdd(ctx context.Context, caller, contract string) error {
	return c.call(ctx, "loan_whitelistAdd", map[string]any{
		"caller":   caller,
		"contract": contract,
	}, true, nil)
}

// WhitelistRemove disables a collection. Privileged.
func (c *Client) WhitelistRemove(ctx context.Context, caller, contract string) error {
	return c.call(ctx, "loan_whitelistRemove", map[string]any{
		"caller":   caller,
		"contract": contract,
	}, true, nil)
}

// Account mirrors the loan_getAccount result.
type Account struct {
	Address  string `json:"address"`
	Balance  string `json:"balance"`
	Shares   string `json:"shares"`
	Reward   string `json:"reward"`
	Borrowed string `json:"borrowed"`
}

// Account returns the ledger view of a depositor.
func (c *Client) Account(ctx context.Context, address string) (*Account, error) {
	var result Account
	if err := c.call(ctx, "loan_getAccount", map[string]any{"address": address}, false, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Loan mirrors the loan_getLoan result.
type Loan struct {
	Contract  string   `json:"contract"`
	TokenID   string   `json:"tokenId"`
	Custodian string   `json:"custodian"`
	Principal *big.Int `json:"principal"`
	StartedAt uint64   `json:"startedAt"`
	ExpiresAt uint64   `json:"expiresAt"`
	Expired   bool     `json:"expired"`
}

// Loan returns the state of one collateral entry.
func (c *Client) Loan(ctx context.Context, contract, tokenID string) (*Loan, error) {
	var result Loan
	err := c.call(ctx, "loan_getLoan", map[string]any{
		"contract": contract,
		"tokenId":  tokenID,
	}, false, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Loans pages through the loans recorded for one custodian.
func (c *Client) Loans(ctx context.Context, custodian string, offset, limit uint64) ([]Loan, error) {
	var result []Loan
	err := c.call(ctx, "loan_listLoans", map[string]any{
		"custodian": custodian,
		"offset":    offset,
		"limit":     limit,
	}, false, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PoolTotals mirrors the loan_poolTotals result.
type PoolTotals struct {
	TotalBalance string `json:"totalBalance"`
	TotalShares  string `json:"totalShares"`
	TotalLoan    string `json:"totalLoan"`
	TotalRewards string `json:"totalRewards"`
	Available    string `json:"available"`
	ActiveLoans  uint64 `json:"activeLoans"`
	Commission   uint64 `json:"commission"`
}

// PoolTotals returns the aggregate pool accounting state.
func (c *Client) PoolTotals(ctx context.Context) (*PoolTotals, error) {
	var result PoolTotals
	if err := c.call(ctx, "loan_poolTotals", nil, false, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// EligibleContracts lists the collections currently accepted as collateral.
func (c *Client) EligibleContracts(ctx context.Context) ([]string, error) {
	var result []string
	if err := c.call(ctx, "loan_eligibleContracts", nil, false, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Terms mirrors the loan_getTerms result.
type Terms struct {
	Contract string `json:"contract"`
	Price    string `json:"price"`
	Percent  uint64 `json:"percent"`
}

// Terms returns the appraisal terms recorded for a collection.
func (c *Client) Terms(ctx context.Context, contract string) (*Terms, error) {
	var result Terms
	if err := c.call(ctx, "loan_getTerms", map[string]any{"contract": contract}, false, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Event is one entry from the ledger event feed.
type Event struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Events pages through the ledger event feed starting after the given
// sequence cursor.
func (c *Client) Events(ctx context.Context, after uint64, limit int) ([]Event, error) {
	var result []Event
	err := c.call(ctx, "loan_events", map[string]any{
		"after": after,
		"limit": limit,
	}, false, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}
