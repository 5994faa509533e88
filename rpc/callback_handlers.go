package rpc

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"sudovault/native/vault"
)

type completeCallParams struct {
	Call    string               `json:"call"`
	Kind    string               `json:"kind"`
	Error   string               `json:"error,omitempty"`
	Results []completeCallResult `json:"results,omitempty"`
}

type completeCallResult struct {
	Validator string `json:"validator"`
	Amount    string `json:"amount,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleCompleteCall is the relayer-facing continuation endpoint. The relayer
// posts each call outcome exactly once; the engine rejects unknown or already
// consumed correlation ids.
func (s *Server) handleCompleteCall(w http.ResponseWriter, req *RPCRequest) {
	var params completeCallParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	id := vault.CallID(strings.TrimSpace(params.Call))
	if id == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "call id required", nil)
		return
	}
	// Route on the staged intent, not the reported label: several intents
	// share the same relayer operation.
	intent, err := s.engine.StagedCall(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	kind := intent.Kind

	var callErr error
	if params.Error != "" {
		callErr = errors.New(params.Error)
	}

	var followUp vault.CallID
	switch kind {
	case vault.CallDelegate:
		err = s.engine.CompleteDelegate(id, callErr)
	case vault.CallUndelegateUnstake:
		followUp, err = s.engine.CompleteUndelegate(id, callErr)
	case vault.CallUndelegateBalance:
		var results []vault.BalanceResult
		if results, err = balanceResults(params.Results); err == nil {
			err = s.engine.CompleteUndelegateBalance(id, results)
		}
	case vault.CallClaimUnstaked:
		err = s.engine.CompleteClaimUnstaked(id, callErr)
	case vault.CallCollateralCheck:
		var results []vault.BalanceResult
		if results, err = balanceResults(params.Results); err == nil {
			err = s.engine.CompleteCollateralCheck(id, results)
		}
	case vault.CallRepayLoan:
		err = s.engine.CompleteRepayLoan(id, callErr)
	case vault.CallRefundTransfer:
		err = s.engine.CompleteRefundTransfer(id, callErr)
	case vault.CallRetryRefund:
		err = s.engine.CompleteRetryRefund(id, callErr)
	case vault.CallBatchClaimUnstaked:
		err = s.engine.CompleteBatchClaimUnstaked(id, callResults(params.Results))
	case vault.CallLiquidationBalances:
		var results []vault.BalanceResult
		if results, err = balanceResults(params.Results); err == nil {
			err = s.engine.CompleteLiquidationBalances(id, results)
		}
	case vault.CallBatchUnstake:
		err = s.engine.CompleteBatchUnstake(id, callResults(params.Results))
	case vault.CallLenderPayout:
		err = s.engine.CompleteLenderPayout(id, callErr)
	case vault.CallClaimVault:
		err = s.engine.CompleteClaimVault(id, callErr)
	case vault.CallTokenWithdraw:
		err = s.engine.CompleteTokenWithdraw(id, callErr)
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("unhandled call kind %q", params.Kind), nil)
		return
	}
	if err != nil {
		if errors.Is(err, vault.ErrUnknownCall) {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, callResult{Call: string(followUp)})
}

func callResults(in []completeCallResult) []vault.CallResult {
	out := make([]vault.CallResult, 0, len(in))
	for _, res := range in {
		var resErr error
		if res.Error != "" {
			resErr = errors.New(res.Error)
		}
		out = append(out, vault.CallResult{Validator: vault.AccountID(res.Validator), Err: resErr})
	}
	return out
}

func balanceResults(in []completeCallResult) ([]vault.BalanceResult, error) {
	out := make([]vault.BalanceResult, 0, len(in))
	for _, res := range in {
		if res.Error != "" {
			out = append(out, vault.BalanceResult{Validator: vault.AccountID(res.Validator), Err: errors.New(res.Error)})
			continue
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(res.Amount), 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("invalid balance for validator %s", res.Validator)
		}
		out = append(out, vault.BalanceResult{Validator: vault.AccountID(res.Validator), Amount: amount})
	}
	return out, nil
}
