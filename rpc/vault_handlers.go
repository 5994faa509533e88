package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"sudovault/native/vault"
)

type callerParams struct {
	Caller string `json:"caller"`
}

type amountParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type stakeParams struct {
	Caller    string `json:"caller"`
	Validator string `json:"validator"`
	Amount    string `json:"amount,omitempty"`
}

type requestLiquidityParams struct {
	Caller     string `json:"caller"`
	Token      string `json:"token"`
	Amount     string `json:"amount"`
	Interest   string `json:"interest"`
	Collateral string `json:"collateral"`
	Duration   int64  `json:"duration"`
}

type tokenReceivedParams struct {
	Sender string `json:"sender"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
	Msg    string `json:"msg"`
}

type counterOfferParams struct {
	Caller   string `json:"caller"`
	Proposer string `json:"proposer"`
	Amount   string `json:"amount"`
}

type retryRefundsParams struct {
	Caller string   `json:"caller"`
	IDs    []uint64 `json:"ids,omitempty"`
}

type withdrawParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token,omitempty"`
	Amount string `json:"amount"`
	To     string `json:"to,omitempty"`
}

type transferOwnershipParams struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"newOwner"`
}

type callResult struct {
	Call string `json:"call,omitempty"`
}

type callsResult struct {
	Calls []string `json:"calls"`
}

func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

// parseNonNegativeAmount admits zero. Interest-free liquidity requests are
// valid at the engine.
func parseNonNegativeAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return value, nil
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

// engineErrorCode maps engine failures onto JSON-RPC codes: validation
// failures are the caller's fault, anything else is a server error.
func engineErrorCode(err error) (int, int) {
	switch {
	case errors.Is(err, vault.ErrLockBusy):
		return http.StatusConflict, codeServerError
	case errors.Is(err, vault.ErrNotOwner),
		errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrInsufficientBalance),
		errors.Is(err, vault.ErrValidatorLimit),
		errors.Is(err, vault.ErrValidatorNotActive),
		errors.Is(err, vault.ErrNoUnstakeEntry),
		errors.Is(err, vault.ErrNotYetClaimable),
		errors.Is(err, vault.ErrRequestOpen),
		errors.Is(err, vault.ErrNoRequest),
		errors.Is(err, vault.ErrOfferAccepted),
		errors.Is(err, vault.ErrNoAcceptedOffer),
		errors.Is(err, vault.ErrLiquidationActive),
		errors.Is(err, vault.ErrRefundsPending),
		errors.Is(err, vault.ErrOfferNotFound),
		errors.Is(err, vault.ErrOfferMismatch),
		errors.Is(err, vault.ErrOfferTooLow),
		errors.Is(err, vault.ErrOfferOutOfRange),
		errors.Is(err, vault.ErrTokenMismatch),
		errors.Is(err, vault.ErrMessageMismatch),
		errors.Is(err, vault.ErrInsufficientCollateral),
		errors.Is(err, vault.ErrLoanNotExpired),
		errors.Is(err, vault.ErrNoRefundsForCaller),
		errors.Is(err, vault.ErrNotListed),
		errors.Is(err, vault.ErrAlreadyListed),
		errors.Is(err, vault.ErrSelfClaim),
		errors.Is(err, vault.ErrWrongDeposit),
		errors.Is(err, vault.ErrSameOwner),
		errors.Is(err, vault.ErrWithdrawBlocked):
		return http.StatusBadRequest, codeInvalidParams
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	status, code := engineErrorCode(err)
	writeError(w, status, id, code, err.Error(), nil)
}

func (s *Server) handleState(w http.ResponseWriter, req *RPCRequest) {
	st, err := s.engine.Snapshot()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, st)
}

func (s *Server) handleDeposit(w http.ResponseWriter, req *RPCRequest) {
	var params amountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.Deposit(vault.AccountID(params.Caller), amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{})
}

func (s *Server) handleDelegate(w http.ResponseWriter, req *RPCRequest) {
	var params stakeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	call, err := s.engine.Delegate(vault.AccountID(params.Caller), vault.AccountID(params.Validator), amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{Call: string(call)})
}

func (s *Server) handleUndelegate(w http.ResponseWriter, req *RPCRequest) {
	var params stakeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	call, err := s.engine.Undelegate(vault.AccountID(params.Caller), vault.AccountID(params.Validator), amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{Call: string(call)})
}

func (s *Server) handleClaimUnstaked(w http.ResponseWriter, req *RPCRequest) {
	var params stakeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	call, err := s.engine.ClaimUnstaked(vault.AccountID(params.Caller), vault.AccountID(params.Validator))
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{Call: string(call)})
}

func (s *Server) handleRequestLiquidity(w http.ResponseWriter, req *RPCRequest) {
	var params requestLiquidityParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("amount: %v", err), nil)
		return
	}
	interest, err := parseNonNegativeAmount(params.Interest)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("interest: %v", err), nil)
		return
	}
	collateral, err := parseAmount(params.Collateral)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("collateral: %v", err), nil)
		return
	}
	call, err := s.engine.RequestLiquidity(vault.AccountID(params.Caller), vault.AccountID(params.Token),
		amount, interest, collateral, params.Duration)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{Call: string(call)})
}

func (s *Server) handleTokenReceived(w http.ResponseWriter, req *RPCRequest) {
	var params tokenReceivedParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	err = s.engine.OnTokenReceived(vault.AccountID(params.Sender), vault.AccountID(params.Token), amount, params.Msg)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{})
}

func (s *Server) handleAcceptCounterOffer(w http.ResponseWriter, req *RPCRequest) {
	var params counterOfferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	err = s.engine.AcceptCounterOffer(vault.AccountID(params.Caller), vault.AccountID(params.Proposer), amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{})
}

func (s *Server) handleCancelCounterOffer(w http.ResponseWriter, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	if err := s.engine.CancelCounterOffer(vault.AccountID(params.Caller)); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{})
}

func (s *Server) handleCancelLiquidityRequest(w http.ResponseWriter, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	if err := s.engine.CancelLiquidityRequest(vault.AccountID(params.Caller)); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{})
}

func (s *Server) handleRepayLoan(w http.ResponseWriter, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	call, err := s.engine.RepayLoan(vault.AccountID(params.Caller))
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{Call: string(call)})
}

func (s *Server) handleProcessClaims(w http.ResponseWriter, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	call, err := s.engine.ProcessClaims(vault.AccountID(params.Caller))
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{Call: string(call)})
}

func (s *Server) handleRetryRefunds(w http.ResponseWriter, req *RPCRequest) {
	var params retryRefundsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	calls, err := s.engine.RetryRefunds(vault.AccountID(params.Caller), params.IDs)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	out := make([]string, 0, len(calls))
	for _, call := range calls {
		out = append(out, string(call))
	}
	writeResult(w, req.ID, callsResult{Calls: out})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, req *RPCRequest) {
	var params withdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	call, err := s.engine.WithdrawBalance(vault.AccountID(params.Caller), vault.AccountID(params.Token),
		amount, vault.AccountID(params.To))
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{Call: string(call)})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, req *RPCRequest) {
	var params transferOwnershipParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	err := s.engine.TransferOwnership(vault.AccountID(params.Caller), vault.AccountID(params.NewOwner))
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{})
}

func (s *Server) handleListForTakeover(w http.ResponseWriter, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	if err := s.engine.ListForTakeover(vault.AccountID(params.Caller)); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{})
}

func (s *Server) handleCancelTakeover(w http.ResponseWriter, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	if err := s.engine.CancelTakeover(vault.AccountID(params.Caller)); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{})
}

func (s *Server) handleClaimVault(w http.ResponseWriter, req *RPCRequest) {
	var params amountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	deposit, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	call, err := s.engine.ClaimVault(vault.AccountID(params.Caller), deposit)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{Call: string(call)})
}
