package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"pawnpool/core/events"
	nativecommon "pawnpool/native/common"
	"pawnpool/native/loan"
	"pawnpool/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError        = -32700
	codeInvalidRequest    = -32600
	codeMethodNotFound    = -32601
	codeInvalidParams     = -32602
	codeServerError       = -32000
	codeUnauthorized      = -32001
	codePermissionDenied  = -32005
	codeNotFound          = -32004
	codeInsufficientFunds = -32010
	codeExpired           = -32011
	codeModulePaused      = -32012
	codeRateLimited       = -32020
)

// Server exposes the lending ledger over JSON-RPC 2.0 together with the
// health and metrics endpoints.
type Server struct {
	engine    *loan.Engine
	events    *events.Recorder
	authToken string
	limiter   *rate.Limiter
}

// NewServer wires the RPC surface around a loan engine. An empty auth token
// disables every privileged method rather than opening it up. A non-positive
// limit disables rate limiting.
func NewServer(engine *loan.Engine, recorder *events.Recorder, authToken string, limit float64, burst int) *Server {
	var limiter *rate.Limiter
	if limit > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	return &Server{
		engine:    engine,
		events:    recorder,
		authToken: strings.TrimSpace(authToken),
		limiter:   limiter,
	}
}

// Handler returns the HTTP handler serving the RPC endpoint, health probe and
// Prometheus metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id any, code int, message string, data any) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id any, result any) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if s.limiter != nil && !s.limiter.Allow() {
		observability.RPC().ObserveThrottle()
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "too many requests", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	started := time.Now()
	outcome := s.dispatch(w, r, req)
	observability.RPC().ObserveRequest(req.Method, outcome, time.Since(started).Seconds())
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	switch req.Method {
	case "loan_deposit":
		s.handleDeposit(w, r, req)
	case "loan_withdraw":
		s.handleWithdraw(w, r, req)
	case "loan_withdrawAll":
		s.handleWithdrawAll(w, r, req)
	case "loan_claimRewards":
		s.handleClaimRewards(w, r, req)
	case "loan_openLoan":
		s.handleOpenLoan(w, r, req)
	case "loan_repay":
		s.handleRepay(w, r, req)
	case "loan_claimCollateral":
		s.handleClaimCollateral(w, r, req)
	case "loan_seizeExpired":
		s.handleSeizeExpired(w, r, req)
	case "loan_resolveTransfer":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, nil)
			return "unauthorized"
		}
		s.handleResolveTransfer(w, r, req)
	case "loan_setTerms":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, nil)
			return "unauthorized"
		}
		s.handleSetTerms(w, r, req)
	case "loan_whitelistAdd":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, nil)
			return "unauthorized"
		}
		s.handleWhitelistAdd(w, r, req)
	case "loan_whitelistRemove":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, nil)
			return "unauthorized"
		}
		s.handleWhitelistRemove(w, r, req)
	case "loan_getAccount":
		s.handleGetAccount(w, r, req)
	case "loan_getLoan":
		s.handleGetLoan(w, r, req)
	case "loan_listLoans":
		s.handleListLoans(w, r, req)
	case "loan_poolTotals":
		s.handlePoolTotals(w, r, req)
	case "loan_eligibleContracts":
		s.handleEligibleContracts(w, r, req)
	case "loan_isWhitelisted":
		s.handleIsWhitelisted(w, r, req)
	case "loan_getTerms":
		s.handleGetTerms(w, r, req)
	case "loan_events":
		s.handleEvents(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return "not_found"
	}
	return "handled"
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// writeEngineError maps the engine error taxonomy onto JSON-RPC error codes
// so clients can branch on outcomes without string matching.
func writeEngineError(w http.ResponseWriter, id any, method string, err error) {
	code := codeServerError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, loan.ErrValidation):
		code = codeInvalidParams
		status = http.StatusBadRequest
	case errors.Is(err, loan.ErrPermission):
		code = codePermissionDenied
		status = http.StatusForbidden
	case errors.Is(err, loan.ErrNotFound):
		code = codeNotFound
		status = http.StatusNotFound
	case errors.Is(err, loan.ErrInsufficientFunds):
		code = codeInsufficientFunds
		status = http.StatusBadRequest
	case errors.Is(err, loan.ErrExpired):
		code = codeExpired
		status = http.StatusBadRequest
	case errors.Is(err, nativecommon.ErrModulePaused):
		code = codeModulePaused
		status = http.StatusServiceUnavailable
	}
	observability.RPC().ObserveError(method, fmt.Sprintf("%d", code))
	writeError(w, status, id, code, err.Error(), nil)
}
