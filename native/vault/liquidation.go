package vault

import (
	"fmt"
	"math/big"
	"sort"
)

// ProcessClaims is the liquidation entry point, callable by anyone once the
// loan expired. Each invocation pays whatever is liquid first, then advances
// the waterfall: withdraw matured unstake entries, wait on maturing ones, or
// unstake fresh funds sized to the shortfall. The flow is resumable; clearing
// the full debt may take several invocations across epochs because of the
// unlock delay.
func (e *Engine) ProcessClaims(caller AccountID) (CallID, error) {
	if err := e.requireClients(); err != nil {
		return "", err
	}
	st, err := e.loadState()
	if err != nil {
		return "", err
	}
	if st.Accepted == nil {
		return "", ErrNoAcceptedOffer
	}
	started := false
	var startedAt int64
	if st.Liquidation == nil {
		if st.Request == nil {
			return "", ErrNoRequest
		}
		now := e.now()
		expiry := st.Accepted.AcceptedAt + st.Request.Duration
		if now < expiry {
			return "", fmt.Errorf("%w: expires at %d, now %d", ErrLoanNotExpired, expiry, now)
		}
		st.Liquidation = &Liquidation{Liquidated: big.NewInt(0)}
		started = true
		startedAt = now
	}
	if err := e.acquireLock(st, ProcessingClaims); err != nil {
		return "", err
	}
	// Announce the start only once the lock is held; a busy lock must leave
	// no trace of this attempt.
	if started {
		e.emit(newEvent(EventTypeLiquidationStarted, map[string]string{
			"lender": string(st.Accepted.Lender),
			"caller": string(caller),
			"at":     formatTimestamp(startedAt),
		}))
	}

	lender := st.Accepted.Lender
	payout, finalize := e.stageRepayment(st, lender)
	if finalize {
		// The final payout's continuation clears the loan and the lock.
		if err := e.putState(st); err != nil {
			return "", err
		}
		e.dispatchPayout(payout)
		return payout.ID, nil
	}
	return e.nextLiquidationStep(st, payout)
}

// nextLiquidationStep schedules the next asynchronous action required to
// complete liquidation, dispatching a staged partial payout alongside it.
func (e *Engine) nextLiquidationStep(st *State, payout *CallIntent) (CallID, error) {
	matured, maturingTotal := unstakeStats(st, e.epoch())
	remaining := remainingDebt(st)
	owed, _ := new(big.Float).SetInt(remaining).Float64()
	e.metrics.SetLiquidationOwed(owed)

	switch {
	case len(matured) > 0:
		// Immediate claim: some validators already have matured funds.
		intent := e.stageCall(st, &CallIntent{
			Kind:       CallBatchClaimUnstaked,
			Validators: matured,
		})
		if err := e.putState(st); err != nil {
			return "", err
		}
		e.dispatchPayout(payout)
		e.staking.BatchWithdrawAll(intent.ID, matured)
		return intent.ID, nil

	case maturingTotal.Cmp(remaining) >= 0:
		// Nothing matured yet but sufficient funds are maturing.
		e.emitWaiting("unstaked balance maturing")
		e.releaseLock(st)
		if err := e.putState(st); err != nil {
			return "", err
		}
		e.dispatchPayout(payout)
		if payout != nil {
			return payout.ID, nil
		}
		return "", nil

	default:
		// Need to unstake additional funds.
		validators := st.SortedValidators()
		intent := e.stageCall(st, &CallIntent{
			Kind:       CallLiquidationBalances,
			Validators: validators,
		})
		if err := e.putState(st); err != nil {
			return "", err
		}
		e.dispatchPayout(payout)
		e.staking.BatchStakedBalance(intent.ID, validators)
		return intent.ID, nil
	}
}

// CompleteBatchClaimUnstaked resolves the batched withdraw-all issued during
// liquidation. Claimed entries join the liquid balance, a fresh payout is
// staged, and the waterfall decides whether more unstaking is required.
func (e *Engine) CompleteBatchClaimUnstaked(id CallID, results []CallResult) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if _, err := consumeCall(st, id, CallBatchClaimUnstaked); err != nil {
		return err
	}

	for _, res := range results {
		entry, ok := st.UnstakeEntries[res.Validator]
		if !ok {
			continue
		}
		if res.Err != nil {
			e.emit(newEvent(EventTypeClaimUnstakedFailed, map[string]string{
				"validator": string(res.Validator),
				"error":     res.Err.Error(),
			}))
			continue
		}
		st.LiquidBalance = new(big.Int).Add(st.LiquidBalance, entry.Amount)
		delete(st.UnstakeEntries, res.Validator)
	}

	lender := st.Accepted.Lender
	payout, finalize := e.stageRepayment(st, lender)
	if finalize {
		if err := e.putState(st); err != nil {
			return err
		}
		e.dispatchPayout(payout)
		return nil
	}

	_, maturingTotal := unstakeStats(st, e.epoch())
	remaining := remainingDebt(st)
	if maturingTotal.Cmp(remaining) < 0 {
		validators := st.SortedValidators()
		intent := e.stageCall(st, &CallIntent{
			Kind:       CallLiquidationBalances,
			Validators: validators,
		})
		if err := e.putState(st); err != nil {
			return err
		}
		e.dispatchPayout(payout)
		e.staking.BatchStakedBalance(intent.ID, validators)
		return nil
	}

	e.emitWaiting("unstaked balance maturing")
	e.releaseLock(st)
	if err := e.putState(st); err != nil {
		return err
	}
	e.dispatchPayout(payout)
	return nil
}

// CompleteLiquidationBalances resolves the staked-balance fan-out and issues
// batch unstakes sized to cover the shortfall not already maturing.
func (e *Engine) CompleteLiquidationBalances(id CallID, results []BalanceResult) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if _, err := consumeCall(st, id, CallLiquidationBalances); err != nil {
		return err
	}

	_, maturingTotal := unstakeStats(st, e.epoch())
	deficit := new(big.Int).Sub(remainingDebt(st), maturingTotal)
	if deficit.Sign() < 0 {
		deficit = big.NewInt(0)
	}

	var instructions []UnstakeInstruction
	for _, res := range results {
		if res.Err != nil || res.Amount == nil {
			continue
		}
		if res.Amount.Sign() == 0 {
			st.removeValidator(res.Validator)
			e.emit(newEvent(EventTypeValidatorRemoved, map[string]string{
				"validator": string(res.Validator),
				"reason":    "zero_staked_balance",
			}))
			continue
		}
		if deficit.Sign() == 0 {
			continue
		}
		amount := new(big.Int).Set(res.Amount)
		if amount.Cmp(deficit) > 0 {
			amount = new(big.Int).Set(deficit)
		}
		instructions = append(instructions, UnstakeInstruction{
			Validator: res.Validator,
			Amount:    amount,
			Full:      amount.Cmp(res.Amount) == 0,
		})
		deficit = new(big.Int).Sub(deficit, amount)
	}

	if len(instructions) == 0 {
		e.emitWaiting("no staked balance available to unstake")
		e.releaseLock(st)
		return e.putState(st)
	}

	intent := e.stageCall(st, &CallIntent{
		Kind:         CallBatchUnstake,
		Instructions: instructions,
	})
	if err := e.putState(st); err != nil {
		return err
	}
	e.staking.BatchUnstake(intent.ID, instructions)
	return nil
}

// CompleteBatchUnstake resolves the batch unstake: successful instructions
// record unstake entries (and retire fully drained validators); failures are
// reported and retried by a later invocation.
func (e *Engine) CompleteBatchUnstake(id CallID, results []CallResult) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	intent, err := consumeCall(st, id, CallBatchUnstake)
	if err != nil {
		return err
	}
	defer e.releaseLock(st)

	outcomes := make(map[AccountID]error, len(results))
	for _, res := range results {
		outcomes[res.Validator] = res.Err
	}
	for _, inst := range intent.Instructions {
		resErr, seen := outcomes[inst.Validator]
		if !seen || resErr != nil {
			attrs := map[string]string{
				"validator": string(inst.Validator),
				"amount":    formatAmount(inst.Amount),
			}
			if resErr != nil {
				attrs["error"] = resErr.Error()
			}
			e.emit(newEvent(EventTypeUnstakeFailed, attrs))
			continue
		}
		if inst.Full {
			st.removeValidator(inst.Validator)
		}
		e.mergeUnstakeEntry(st, inst.Validator, inst.Amount)
		e.emit(newEvent(EventTypeUnstakeRecorded, map[string]string{
			"validator": string(inst.Validator),
			"amount":    formatAmount(inst.Amount),
			"epoch":     formatEpoch(e.epoch()),
		}))
	}
	return e.putState(st)
}

// CompleteLenderPayout resolves a native transfer to the lender. A delivery
// failure does not revive the debt: the funds return to the liquid balance
// and the obligation moves into the refund ledger, so the recovered total
// stays monotone.
func (e *Engine) CompleteLenderPayout(id CallID, callErr error) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	intent, err := consumeCall(st, id, CallLenderPayout)
	if err != nil {
		return err
	}

	if callErr != nil {
		st.LiquidBalance = new(big.Int).Add(st.LiquidBalance, intent.Amount)
		e.recordRefund(st, "", intent.Receiver, intent.Amount)
		e.emit(newEvent(EventTypeLenderPayoutFailed, map[string]string{
			"lender": string(intent.Receiver),
			"amount": formatAmount(intent.Amount),
			"error":  callErr.Error(),
		}))
	} else {
		e.emit(newEvent(EventTypeLenderPayoutOK, map[string]string{
			"lender": string(intent.Receiver),
			"amount": formatAmount(intent.Amount),
		}))
	}

	if intent.Finalize {
		status := "transferred"
		if callErr != nil {
			status = "refunded"
		}
		total := formatAmount(totalDebt(st))
		e.clearLoanState(st)
		e.emit(newEvent(EventTypeLiquidationComplete, map[string]string{
			"lender":       string(intent.Receiver),
			"total_repaid": total,
			"payout":       status,
		}))
		e.metrics.SetLiquidationOwed(0)
		e.metrics.WorkflowOutcome(ProcessingClaims.String(), "success")
	}
	return e.putState(st)
}

// stageRepayment stages a native payout to the lender from whatever liquid
// balance is available. It reports whether the payout settles the remaining
// debt; the recovered total advances when the payout is staged because the
// funds leave the vault with the call.
func (e *Engine) stageRepayment(st *State, lender AccountID) (*CallIntent, bool) {
	outstanding := remainingDebt(st)
	if outstanding.Sign() == 0 {
		return nil, false
	}
	available := st.AvailableBalance()
	if available.Sign() == 0 {
		return nil, false
	}

	payout := new(big.Int).Set(outstanding)
	if payout.Cmp(available) > 0 {
		payout = new(big.Int).Set(available)
	}
	finalize := payout.Cmp(outstanding) == 0

	st.Liquidation.Liquidated = new(big.Int).Add(st.Liquidation.Liquidated, payout)
	st.LiquidBalance = new(big.Int).Sub(st.LiquidBalance, payout)
	intent := e.stageCall(st, &CallIntent{
		Kind:     CallLenderPayout,
		Receiver: lender,
		Amount:   payout,
		Finalize: finalize,
	})
	return intent, finalize
}

func (e *Engine) dispatchPayout(intent *CallIntent) {
	if intent == nil {
		return
	}
	e.tokens.Transfer(intent.ID, "", intent.Receiver, cloneBigInt(intent.Amount), "liquidation payout")
}

// clearLoanState removes every trace of the loan and releases the lock.
func (e *Engine) clearLoanState(st *State) {
	st.Request = nil
	st.PendingRequest = nil
	st.Accepted = nil
	st.Liquidation = nil
	st.CounterOffers = nil
	e.releaseLock(st)
}

func (e *Engine) emitWaiting(reason string) {
	e.emit(newEvent(EventTypeLiquidationProgress, map[string]string{
		"status": "waiting",
		"reason": reason,
	}))
}

// totalDebt is the amount owed to the lender at expiry: the committed
// collateral.
func totalDebt(st *State) *big.Int {
	if st.Request == nil {
		return big.NewInt(0)
	}
	return cloneBigInt(st.Request.Collateral)
}

func remainingDebt(st *State) *big.Int {
	if st.Liquidation == nil {
		return big.NewInt(0)
	}
	remaining := new(big.Int).Sub(totalDebt(st), st.Liquidation.Liquidated)
	if remaining.Sign() < 0 {
		return big.NewInt(0)
	}
	return remaining
}

// unstakeStats partitions the unstake entries at the given epoch into the
// sorted list of validators with matured balances and the total still
// maturing.
func unstakeStats(st *State, epoch uint64) ([]AccountID, *big.Int) {
	matured := make([]AccountID, 0, len(st.UnstakeEntries))
	maturing := big.NewInt(0)
	for validator, entry := range st.UnstakeEntries {
		if entry.MaturedAt(epoch) {
			matured = append(matured, validator)
		} else {
			maturing.Add(maturing, entry.Amount)
		}
	}
	sort.Slice(matured, func(i, j int) bool { return matured[i] < matured[j] })
	return matured, maturing
}
