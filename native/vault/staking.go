package vault

import (
	"fmt"
	"math/big"
)

// Delegate stakes part of the vault's liquid balance with a validator pool.
// Phase 1 validates and stages the deposit-and-stake intent; no balance moves
// until the continuation confirms the call, so a failure needs no rollback.
func (e *Engine) Delegate(caller, validator AccountID, amount *big.Int) (CallID, error) {
	if err := e.requireClients(); err != nil {
		return "", err
	}
	st, err := e.loadState()
	if err != nil {
		return "", err
	}
	if caller != st.Owner {
		return "", ErrNotOwner
	}
	if !validator.Valid() {
		return "", fmt.Errorf("vault: invalid validator account")
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	if amount.Cmp(st.AvailableBalance()) > 0 {
		return "", fmt.Errorf("%w: requested %s, available %s",
			ErrInsufficientBalance, amount, st.AvailableBalance())
	}
	if len(st.Refunds) > 0 {
		return "", ErrRefundsPending
	}
	if st.Liquidation != nil {
		return "", ErrLiquidationActive
	}
	if !st.HasValidator(validator) && len(st.ActiveValidators) >= MaxActiveValidators {
		return "", fmt.Errorf("%w: at most %d validators", ErrValidatorLimit, MaxActiveValidators)
	}
	if err := e.acquireLock(st, ProcessingDelegate); err != nil {
		return "", err
	}

	intent := e.stageCall(st, &CallIntent{
		Kind:      CallDelegate,
		Validator: validator,
		Amount:    cloneBigInt(amount),
	})
	if err := e.putState(st); err != nil {
		return "", err
	}
	e.staking.DepositAndStake(intent.ID, validator, cloneBigInt(amount))
	return intent.ID, nil
}

// CompleteDelegate resolves a delegation. On success the staked amount leaves
// the liquid balance and the validator joins the active set; on failure the
// vault is unchanged.
func (e *Engine) CompleteDelegate(id CallID, callErr error) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	intent, err := consumeCall(st, id, CallDelegate)
	if err != nil {
		return err
	}
	defer e.releaseLock(st)

	if callErr != nil {
		e.emit(newEvent(EventTypeDelegateFailed, map[string]string{
			"validator": string(intent.Validator),
			"amount":    formatAmount(intent.Amount),
			"error":     callErr.Error(),
		}))
		e.metrics.WorkflowOutcome(ProcessingDelegate.String(), "failure")
		if putErr := e.putState(st); putErr != nil {
			return putErr
		}
		return fmt.Errorf("%w: deposit_and_stake on %s: %v", ErrExternalCall, intent.Validator, callErr)
	}

	st.LiquidBalance = new(big.Int).Sub(st.LiquidBalance, intent.Amount)
	st.addValidator(intent.Validator)
	e.emit(newEvent(EventTypeDelegateCompleted, map[string]string{
		"validator": string(intent.Validator),
		"amount":    formatAmount(intent.Amount),
	}))
	e.metrics.WorkflowOutcome(ProcessingDelegate.String(), "success")
	return e.putState(st)
}

// Undelegate starts unstaking part of the vault's position with a validator.
// The continuation records the unstake entry and then queries the validator's
// remaining staked balance so an emptied validator can leave the active set.
func (e *Engine) Undelegate(caller, validator AccountID, amount *big.Int) (CallID, error) {
	if err := e.requireClients(); err != nil {
		return "", err
	}
	st, err := e.loadState()
	if err != nil {
		return "", err
	}
	if caller != st.Owner {
		return "", ErrNotOwner
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	if !st.HasValidator(validator) {
		return "", ErrValidatorNotActive
	}
	if st.Request != nil {
		return "", fmt.Errorf("%w: cannot undelegate while a liquidity request is open", ErrRequestOpen)
	}
	if err := e.acquireLock(st, ProcessingUndelegate); err != nil {
		return "", err
	}

	intent := e.stageCall(st, &CallIntent{
		Kind:      CallUndelegateUnstake,
		Validator: validator,
		Amount:    cloneBigInt(amount),
	})
	if err := e.putState(st); err != nil {
		return "", err
	}
	e.staking.Unstake(intent.ID, validator, cloneBigInt(amount))
	return intent.ID, nil
}

// CompleteUndelegate resolves the unstake call. On success it records the
// unstake entry and issues the follow-up staked-balance query; the processing
// lock stays held until CompleteUndelegateBalance.
func (e *Engine) CompleteUndelegate(id CallID, callErr error) (CallID, error) {
	st, err := e.loadState()
	if err != nil {
		return "", err
	}
	intent, err := consumeCall(st, id, CallUndelegateUnstake)
	if err != nil {
		return "", err
	}

	if callErr != nil {
		e.releaseLock(st)
		e.emit(newEvent(EventTypeUndelegateFailed, map[string]string{
			"validator": string(intent.Validator),
			"amount":    formatAmount(intent.Amount),
			"error":     callErr.Error(),
		}))
		e.metrics.WorkflowOutcome(ProcessingUndelegate.String(), "failure")
		if putErr := e.putState(st); putErr != nil {
			return "", putErr
		}
		return "", fmt.Errorf("%w: unstake on %s: %v", ErrExternalCall, intent.Validator, callErr)
	}

	e.mergeUnstakeEntry(st, intent.Validator, intent.Amount)
	e.emit(newEvent(EventTypeUndelegateCompleted, map[string]string{
		"validator": string(intent.Validator),
		"amount":    formatAmount(intent.Amount),
		"epoch":     formatEpoch(e.epoch()),
	}))

	next := e.stageCall(st, &CallIntent{
		Kind:      CallUndelegateBalance,
		Validator: intent.Validator,
	})
	if err := e.putState(st); err != nil {
		return "", err
	}
	e.staking.BatchStakedBalance(next.ID, []AccountID{intent.Validator})
	return next.ID, nil
}

// CompleteUndelegateBalance resolves the staked-balance query issued after a
// successful unstake. A confirmed zero balance removes the validator from the
// active set; a failed query keeps it, to be pruned by a later workflow.
func (e *Engine) CompleteUndelegateBalance(id CallID, results []BalanceResult) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	intent, err := consumeCall(st, id, CallUndelegateBalance)
	if err != nil {
		return err
	}
	defer e.releaseLock(st)

	if len(results) == 1 && results[0].Err == nil && results[0].Amount != nil && results[0].Amount.Sign() == 0 {
		st.removeValidator(intent.Validator)
		e.emit(newEvent(EventTypeValidatorRemoved, map[string]string{
			"validator": string(intent.Validator),
			"reason":    "zero_staked_balance",
		}))
	}
	e.metrics.WorkflowOutcome(ProcessingUndelegate.String(), "success")
	return e.putState(st)
}

// ClaimUnstaked withdraws a validator's matured unstaked balance into the
// vault's liquid balance.
func (e *Engine) ClaimUnstaked(caller, validator AccountID) (CallID, error) {
	if err := e.requireClients(); err != nil {
		return "", err
	}
	st, err := e.loadState()
	if err != nil {
		return "", err
	}
	if caller != st.Owner {
		return "", ErrNotOwner
	}
	entry, ok := st.UnstakeEntries[validator]
	if !ok {
		return "", ErrNoUnstakeEntry
	}
	epoch := e.epoch()
	if !entry.MaturedAt(epoch) {
		return "", fmt.Errorf("%w: current epoch %d, claimable at %d",
			ErrNotYetClaimable, epoch, entry.Epoch+UnlockEpochs)
	}
	if st.Liquidation != nil {
		return "", ErrLiquidationActive
	}
	if err := e.acquireLock(st, ProcessingClaimUnstaked); err != nil {
		return "", err
	}

	intent := e.stageCall(st, &CallIntent{
		Kind:      CallClaimUnstaked,
		Validator: validator,
		Amount:    cloneBigInt(entry.Amount),
	})
	if err := e.putState(st); err != nil {
		return "", err
	}
	e.staking.WithdrawAll(intent.ID, validator)
	return intent.ID, nil
}

// CompleteClaimUnstaked resolves the withdraw-all call: the entry clears and
// its amount joins the liquid balance.
func (e *Engine) CompleteClaimUnstaked(id CallID, callErr error) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	intent, err := consumeCall(st, id, CallClaimUnstaked)
	if err != nil {
		return err
	}
	defer e.releaseLock(st)

	if callErr != nil {
		e.emit(newEvent(EventTypeClaimUnstakedFailed, map[string]string{
			"validator": string(intent.Validator),
			"error":     callErr.Error(),
		}))
		e.metrics.WorkflowOutcome(ProcessingClaimUnstaked.String(), "failure")
		if putErr := e.putState(st); putErr != nil {
			return putErr
		}
		return fmt.Errorf("%w: withdraw_all on %s: %v", ErrExternalCall, intent.Validator, callErr)
	}

	st.LiquidBalance = new(big.Int).Add(st.LiquidBalance, intent.Amount)
	delete(st.UnstakeEntries, intent.Validator)
	e.emit(newEvent(EventTypeClaimUnstakedDone, map[string]string{
		"validator": string(intent.Validator),
		"amount":    formatAmount(intent.Amount),
	}))
	e.metrics.WorkflowOutcome(ProcessingClaimUnstaked.String(), "success")
	return e.putState(st)
}

// mergeUnstakeEntry adds the amount to the validator's entry, resetting the
// unlock timer for the merged total.
func (e *Engine) mergeUnstakeEntry(st *State, validator AccountID, amount *big.Int) {
	epoch := e.epoch()
	if entry, ok := st.UnstakeEntries[validator]; ok {
		entry.Amount = new(big.Int).Add(entry.Amount, amount)
		entry.Epoch = epoch
		return
	}
	st.UnstakeEntries[validator] = &UnstakeEntry{Amount: cloneBigInt(amount), Epoch: epoch}
}
