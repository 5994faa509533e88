package vault

import (
	"fmt"
	"math/big"
)

// TransferOwnership hands the vault to a new owner directly. No funds move.
func (e *Engine) TransferOwnership(caller, newOwner AccountID) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if caller != st.Owner {
		return ErrNotOwner
	}
	if !newOwner.Valid() {
		return fmt.Errorf("invalid account %q", newOwner)
	}
	if newOwner == st.Owner {
		return ErrSameOwner
	}
	if err := e.ensureIdle(st); err != nil {
		return err
	}
	old := st.Owner
	st.Owner = newOwner
	st.ListedForTakeover = false
	e.emit(newEvent(EventTypeOwnershipTransferred, map[string]string{
		"old_owner": string(old),
		"new_owner": string(newOwner),
	}))
	return e.putState(st)
}

// ListForTakeover opens the vault to a buyout at the fixed takeover price.
func (e *Engine) ListForTakeover(caller AccountID) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if caller != st.Owner {
		return ErrNotOwner
	}
	if st.ListedForTakeover {
		return ErrAlreadyListed
	}
	if err := e.ensureIdle(st); err != nil {
		return err
	}
	st.ListedForTakeover = true
	e.emit(newEvent(EventTypeListedForTakeover, map[string]string{
		"owner": string(caller),
		"price": formatAmount(TakeoverPrice()),
	}))
	return e.putState(st)
}

func (e *Engine) CancelTakeover(caller AccountID) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if caller != st.Owner {
		return ErrNotOwner
	}
	if !st.ListedForTakeover {
		return ErrNotListed
	}
	if err := e.ensureIdle(st); err != nil {
		return err
	}
	st.ListedForTakeover = false
	e.emit(newEvent(EventTypeTakeoverCancelled, map[string]string{
		"owner": string(caller),
	}))
	return e.putState(st)
}

// ClaimVault buys a listed vault. The claimant attaches exactly the takeover
// price, which is forwarded to the current owner; ownership changes only once
// that payout is confirmed.
func (e *Engine) ClaimVault(caller AccountID, deposit *big.Int) (CallID, error) {
	if err := e.requireClients(); err != nil {
		return "", err
	}
	st, err := e.loadState()
	if err != nil {
		return "", err
	}
	if !st.ListedForTakeover {
		return "", ErrNotListed
	}
	if caller == st.Owner {
		return "", ErrSelfClaim
	}
	if deposit == nil || deposit.Cmp(TakeoverPrice()) != 0 {
		return "", fmt.Errorf("%w: takeover price is %s", ErrWrongDeposit, TakeoverPrice())
	}
	if err := e.acquireLock(st, ProcessingClaimVault); err != nil {
		return "", err
	}

	intent := e.stageCall(st, &CallIntent{
		Kind:     CallClaimVault,
		Receiver: st.Owner,
		Claimant: caller,
		Amount:   cloneBigInt(deposit),
	})
	if err := e.putState(st); err != nil {
		return "", err
	}
	e.tokens.Transfer(intent.ID, "", st.Owner, cloneBigInt(deposit), "vault takeover")
	return intent.ID, nil
}

// CompleteClaimVault resolves the takeover payout. Failure leaves ownership
// untouched and records the claimant's deposit in the refund ledger.
func (e *Engine) CompleteClaimVault(id CallID, callErr error) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	intent, err := consumeCall(st, id, CallClaimVault)
	if err != nil {
		return err
	}
	defer e.releaseLock(st)

	if callErr != nil {
		st.LiquidBalance = new(big.Int).Add(st.LiquidBalance, intent.Amount)
		e.recordRefund(st, "", intent.Claimant, intent.Amount)
		e.emit(newEvent(EventTypeClaimVaultFailed, map[string]string{
			"claimant": string(intent.Claimant),
			"owner":    string(intent.Receiver),
			"error":    callErr.Error(),
		}))
		e.metrics.WorkflowOutcome(ProcessingClaimVault.String(), "failure")
		return e.putState(st)
	}

	st.Owner = intent.Claimant
	st.ListedForTakeover = false
	e.emit(newEvent(EventTypeClaimed, map[string]string{
		"old_owner": string(intent.Receiver),
		"new_owner": string(intent.Claimant),
		"price":     formatAmount(intent.Amount),
	}))
	e.metrics.WorkflowOutcome(ProcessingClaimVault.String(), "success")
	return e.putState(st)
}
