package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"pawnpool/crypto"
	"pawnpool/native/loan"
	"pawnpool/observability"
)

type depositParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type withdrawAllParams struct {
	Caller string `json:"caller"`
}

type loanKeyParams struct {
	Caller   string `json:"caller"`
	Contract string `json:"contract"`
	TokenID  string `json:"tokenId"`
}

type repayParams struct {
	Caller   string `json:"caller"`
	Contract string `json:"contract"`
	TokenID  string `json:"tokenId"`
	Payment  string `json:"payment"`
}

type resolveTransferParams struct {
	ReceiptID string `json:"receiptId"`
	Success   bool   `json:"success"`
}

type setTermsParams struct {
	Caller   string `json:"caller"`
	Contract string `json:"contract"`
	Price    string `json:"price"`
	Percent  uint64 `json:"percent"`
}

type whitelistParams struct {
	Caller   string `json:"caller"`
	Contract string `json:"contract"`
}

type accountParams struct {
	Address string `json:"address"`
}

type collateralParams struct {
	Contract string `json:"contract"`
	TokenID  string `json:"tokenId"`
}

type listLoansParams struct {
	Custodian string `json:"custodian"`
	Offset    uint64 `json:"offset"`
	Limit     uint64 `json:"limit"`
}

type eventsParams struct {
	After uint64 `json:"after"`
	Limit int    `json:"limit"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

type accountResult struct {
	Address  string `json:"address"`
	Balance  string `json:"balance"`
	Shares   string `json:"shares"`
	Reward   string `json:"reward"`
	Borrowed string `json:"borrowed"`
}

type poolTotalsResult struct {
	TotalBalance string `json:"totalBalance"`
	TotalShares  string `json:"totalShares"`
	TotalLoan    string `json:"totalLoan"`
	TotalRewards string `json:"totalRewards"`
	Available    string `json:"available"`
	ActiveLoans  uint64 `json:"activeLoans"`
	Commission   uint64 `json:"commission"`
}

type termsResult struct {
	Contract string `json:"contract"`
	Price    string `json:"price"`
	Percent  uint64 `json:"percent"`
}

type eventResult struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func decodeParams(req *RPCRequest, out any) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("params object required")
	}
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single params object, got %d", len(req.Params))
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid params payload: %w", err)
	}
	return nil
}

func parseAddress(field, value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("%s address required", field)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s address: %w", field, err)
	}
	return addr, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: expected base-10 integer", field)
	}
	return amount, nil
}

func parseCollateralID(contract, tokenID string) (loan.CollateralID, error) {
	addr, err := parseAddress("contract", contract)
	if err != nil {
		return loan.CollateralID{}, err
	}
	token := strings.TrimSpace(tokenID)
	if token == "" {
		return loan.CollateralID{}, fmt.Errorf("tokenId required")
	}
	return loan.CollateralID{Contract: addr, TokenID: token}, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params depositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.engine.Deposit(r.Context(), caller, amount)
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: bigString(balance)})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params depositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	withdrawn, err := s.engine.Withdraw(r.Context(), caller, amount)
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: bigString(withdrawn)})
}

func (s *Server) handleWithdrawAll(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params withdrawAllParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	withdrawn, err := s.engine.WithdrawAll(r.Context(), caller)
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: bigString(withdrawn)})
}

func (s *Server) handleClaimRewards(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params withdrawAllParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	claimed, err := s.engine.ClaimRewards(r.Context(), caller)
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: bigString(claimed)})
}

func (s *Server) handleOpenLoan(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params loanKeyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseCollateralID(params.Contract, params.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.OpenLoan(r.Context(), caller, id); err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "pending"})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params repayParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseCollateralID(params.Contract, params.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	payment, err := parseAmount("payment", params.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.Repay(r.Context(), caller, id, payment); err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "pending"})
}

func (s *Server) handleClaimCollateral(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseCollateralID(params.Contract, params.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.Claim(r.Context(), id); err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "pending"})
}

func (s *Server) handleSeizeExpired(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params loanKeyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseCollateralID(params.Contract, params.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.SeizeExpired(caller, id); err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "seized"})
}

func (s *Server) handleResolveTransfer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params resolveTransferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if strings.TrimSpace(params.ReceiptID) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "receiptId required", nil)
		return
	}
	if err := s.engine.ResolveTransfer(r.Context(), params.ReceiptID, params.Success); err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	observability.Ledger().ObserveResolution(params.Success)
	writeResult(w, req.ID, map[string]bool{"resolved": true})
}

func (s *Server) handleSetTerms(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params setTermsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	contract, err := parseAddress("contract", params.Contract)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, err := parseAmount("price", params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.SetTerms(caller, contract, price, params.Percent); err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"updated": true})
}

func (s *Server) handleWhitelistAdd(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params whitelistParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	contract, err := parseAddress("contract", params.Contract)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.WhitelistAdd(caller, contract); err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"whitelisted": true})
}

func (s *Server) handleWhitelistRemove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params whitelistParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	contract, err := parseAddress("contract", params.Contract)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.WhitelistRemove(caller, contract); err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"whitelisted": false})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.engine.BalanceOf(addr)
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	shares, err := s.engine.SharesOf(addr)
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	reward, err := s.engine.RewardOf(addr)
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	borrowed, err := s.engine.BorrowedOf(addr)
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, accountResult{
		Address:  addr.String(),
		Balance:  bigString(balance),
		Shares:   bigString(shares),
		Reward:   bigString(reward),
		Borrowed: bigString(borrowed),
	})
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseCollateralID(params.Contract, params.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	view, err := s.engine.LoanByID(id)
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, view)
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params listLoansParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	custodian, err := parseAddress("custodian", params.Custodian)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	views, err := s.engine.LoansByCustodian(custodian, params.Offset, params.Limit)
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, views)
}

func (s *Server) handlePoolTotals(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	pool, err := s.engine.PoolTotals()
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	available, err := s.engine.AvailableBalance()
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	active, err := s.engine.ActiveLoanCount()
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, poolTotalsResult{
		TotalBalance: bigString(pool.TotalBalance),
		TotalShares:  bigString(pool.TotalShares),
		TotalLoan:    bigString(pool.TotalLoan),
		TotalRewards: bigString(pool.TotalRewards),
		Available:    bigString(available),
		ActiveLoans:  active,
		Commission:   pool.Commission,
	})
}

func (s *Server) handleEligibleContracts(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	contracts, err := s.engine.EligibleContracts()
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	encoded := make([]string, 0, len(contracts))
	for _, contract := range contracts {
		encoded = append(encoded, contract.String())
	}
	writeResult(w, req.ID, encoded)
}

func (s *Server) handleIsWhitelisted(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	contract, err := parseAddress("contract", params.Contract)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	eligible, err := s.engine.IsEligible(contract)
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"whitelisted": eligible})
}

func (s *Server) handleGetTerms(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	contract, err := parseAddress("contract", params.Contract)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, percent, err := s.engine.Terms(contract)
	if err != nil {
		writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, termsResult{
		Contract: contract.String(),
		Price:    bigString(price),
		Percent:  percent,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params eventsParams
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	if s.events == nil {
		writeResult(w, req.ID, []eventResult{})
		return
	}
	recorded := s.events.After(params.After, params.Limit)
	results := make([]eventResult, 0, len(recorded))
	for _, entry := range recorded {
		results = append(results, eventResult{
			Sequence:   entry.Sequence,
			Type:       entry.Event.Type,
			Attributes: entry.Event.Attributes,
		})
	}
	writeResult(w, req.ID, results)
}
