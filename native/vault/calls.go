package vault

import "math/big"

// CallID correlates an asynchronous external call with the continuation that
// resolves it. The host runtime must deliver at most one outcome per id.
type CallID string

// CallKind tags the staged intent so a continuation can verify it is resolving
// the call it was issued for.
type CallKind uint8

const (
	CallDelegate CallKind = iota + 1
	CallUndelegateUnstake
	CallUndelegateBalance
	CallClaimUnstaked
	CallCollateralCheck
	CallRepayLoan
	CallRefundTransfer
	CallRetryRefund
	CallBatchClaimUnstaked
	CallLiquidationBalances
	CallBatchUnstake
	CallLenderPayout
	CallClaimVault
	CallTokenWithdraw
)

// String renders the call kind for events and metrics labels.
func (k CallKind) String() string {
	switch k {
	case CallDelegate:
		return "deposit_and_stake"
	case CallUndelegateUnstake:
		return "unstake"
	case CallUndelegateBalance:
		return "staked_balance"
	case CallClaimUnstaked:
		return "withdraw_all"
	case CallCollateralCheck:
		return "collateral_check"
	case CallRepayLoan:
		return "repay_transfer"
	case CallRefundTransfer:
		return "refund_transfer"
	case CallRetryRefund:
		return "retry_refund"
	case CallBatchClaimUnstaked:
		return "batch_withdraw_all"
	case CallLiquidationBalances:
		return "batch_staked_balance"
	case CallBatchUnstake:
		return "batch_unstake"
	case CallLenderPayout:
		return "lender_payout"
	case CallClaimVault:
		return "claim_vault_transfer"
	case CallTokenWithdraw:
		return "token_withdraw"
	default:
		return "unknown"
	}
}

// ParseCallKind maps the wire label back to the kind. Returns zero for an
// unknown label.
func ParseCallKind(label string) CallKind {
	for k := CallDelegate; k <= CallTokenWithdraw; k++ {
		if k.String() == label {
			return k
		}
	}
	return 0
}

// CallIntent is the persisted phase-1 record of an asynchronous external
// call. The continuation consumes it exactly once; whatever parameters the
// continuation needs to commit or roll back are staged here.
type CallIntent struct {
	ID   CallID   `json:"id"`
	Kind CallKind `json:"kind"`

	Validator    AccountID            `json:"validator,omitempty"`
	Validators   []AccountID          `json:"validators,omitempty"`
	Instructions []UnstakeInstruction `json:"instructions,omitempty"`

	Token    AccountID `json:"token,omitempty"`
	Receiver AccountID `json:"receiver,omitempty"`
	Claimant AccountID `json:"claimant,omitempty"`
	Amount   *big.Int  `json:"amount,omitempty"`
	RefundID uint64    `json:"refundId,omitempty"`
	Finalize bool      `json:"finalize,omitempty"`

	StartedAt int64 `json:"startedAt"`
}

// CallResult reports the outcome of one call in a batch.
type CallResult struct {
	Validator AccountID
	Err       error
}

// BalanceResult reports one validator's staked balance, or the query failure.
type BalanceResult struct {
	Validator AccountID
	Amount    *big.Int
	Err       error
}

// StakingPool is the asynchronous client for external validator pool
// services. Each method hands the call to the host runtime together with the
// correlation id; the runtime later routes the outcome to the matching
// Complete* continuation on the engine. Batched methods visit the supplied
// validators in order.
type StakingPool interface {
	DepositAndStake(call CallID, validator AccountID, amount *big.Int)
	Unstake(call CallID, validator AccountID, amount *big.Int)
	WithdrawAll(call CallID, validator AccountID)
	BatchWithdrawAll(call CallID, validators []AccountID)
	BatchStakedBalance(call CallID, validators []AccountID)
	BatchUnstake(call CallID, instructions []UnstakeInstruction)
}

// TokenTransfer is the asynchronous client for outbound payments. An empty
// token means the native balance; otherwise token names the fungible asset
// contract to transfer through.
type TokenTransfer interface {
	Transfer(call CallID, token AccountID, receiver AccountID, amount *big.Int, memo string)
}
