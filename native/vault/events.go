package vault

import (
	"math/big"
	"strconv"

	"sudovault/core/types"
)

const (
	EventTypeLockAcquired = "vault.lock_acquired"
	EventTypeLockReleased = "vault.lock_released"

	EventTypeDelegateCompleted   = "vault.delegate_completed"
	EventTypeDelegateFailed      = "vault.delegate_failed"
	EventTypeUndelegateCompleted = "vault.undelegate_completed"
	EventTypeUndelegateFailed    = "vault.undelegate_failed"
	EventTypeValidatorRemoved    = "vault.validator_removed"
	EventTypeUnstakeRecorded     = "vault.unstake_recorded"
	EventTypeUnstakeFailed       = "vault.unstake_failed"
	EventTypeClaimUnstakedDone   = "vault.claim_unstaked_completed"
	EventTypeClaimUnstakedFailed = "vault.claim_unstaked_failed"

	EventTypeRequestOpened        = "vault.liquidity_request_opened"
	EventTypeRequestRejected      = "vault.liquidity_request_rejected"
	EventTypeRequestAccepted      = "vault.liquidity_request_accepted"
	EventTypeRequestCancelled     = "vault.liquidity_request_cancelled"
	EventTypeCounterOfferCreated  = "vault.counter_offer_created"
	EventTypeCounterOfferReplaced = "vault.counter_offer_replaced"
	EventTypeCounterOfferEvicted  = "vault.counter_offer_evicted"
	EventTypeCounterOfferCancel   = "vault.counter_offer_cancelled"
	EventTypeCounterOfferAccepted = "vault.counter_offer_accepted"
	EventTypeOfferRejected        = "vault.offer_rejected"
	EventTypeRepaySucceeded       = "vault.repay_succeeded"
	EventTypeRepayFailed          = "vault.repay_failed"

	EventTypeLiquidationStarted  = "vault.liquidation_started"
	EventTypeLiquidationProgress = "vault.liquidation_progress"
	EventTypeLiquidationComplete = "vault.liquidation_complete"
	EventTypeLenderPayoutOK      = "vault.lender_payout_succeeded"
	EventTypeLenderPayoutFailed  = "vault.lender_payout_failed"

	EventTypeRefundRecorded   = "vault.refund_recorded"
	EventTypeRefundRetryOK    = "vault.refund_retry_succeeded"
	EventTypeRefundRetryAgain = "vault.refund_retry_failed"
	EventTypeRefundExpired    = "vault.refund_expired"

	EventTypeDeposit              = "vault.deposit"
	EventTypeWithdraw             = "vault.withdraw"
	EventTypeWithdrawFailed       = "vault.withdraw_failed"
	EventTypeOwnershipTransferred = "vault.ownership_transferred"
	EventTypeListedForTakeover    = "vault.listed_for_takeover"
	EventTypeTakeoverCancelled    = "vault.takeover_cancelled"
	EventTypeClaimed              = "vault.claimed"
	EventTypeClaimVaultFailed     = "vault.claim_vault_failed"
)

type vaultEvent struct {
	evt *types.Event
}

func (e vaultEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e vaultEvent) Event() *types.Event { return e.evt }

func newEvent(eventType string, attrs map[string]string) *types.Event {
	if attrs == nil {
		attrs = make(map[string]string)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatEpoch(epoch uint64) string {
	return strconv.FormatUint(epoch, 10)
}

func formatTimestamp(ts int64) string {
	return strconv.FormatInt(ts, 10)
}
