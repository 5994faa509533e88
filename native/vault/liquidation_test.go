package vault

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func defaultedLoan(liquid int64) *State {
	st := fundedState(liquid)
	openRequest(st, 0)
	st.Request.Collateral = amt(600)
	st.Accepted = &AcceptedOffer{Lender: testLender, AcceptedAt: 1}
	return st
}

func TestProcessClaimsBeforeExpiry(t *testing.T) {
	st := defaultedLoan(200)
	env := newTestEnv(st)
	env.now = 100 // accepted at 1, duration 86400

	_, err := env.engine.ProcessClaims("anyone.test")
	require.ErrorIs(t, err, ErrLoanNotExpired)
	require.Nil(t, env.state.st.Liquidation)
}

func TestProcessClaimsRequiresAcceptedOffer(t *testing.T) {
	env := newTestEnv(fundedState(200))
	_, err := env.engine.ProcessClaims("anyone.test")
	require.ErrorIs(t, err, ErrNoAcceptedOffer)
}

func TestProcessClaimsBusyLockEmitsNothing(t *testing.T) {
	st := defaultedLoan(200)
	st.Lock = &ProcessingLock{Kind: ProcessingDelegate, StartedAt: 1_000_000}
	env := newTestEnv(st)

	_, err := env.engine.ProcessClaims("anyone.test")
	require.ErrorIs(t, err, ErrLockBusy)
	require.Empty(t, env.events.Events)
	require.Zero(t, env.state.putCount)
}

func TestLiquidationWaterfallLiquidThenMatured(t *testing.T) {
	st := defaultedLoan(200)
	st.UnstakeEntries[valAlpha] = &UnstakeEntry{Amount: amt(500), Epoch: 90}
	env := newTestEnv(st)

	// Entry point: the liquid 200 is paid out first and the matured entry
	// is claimed.
	step, err := env.engine.ProcessClaims("anyone.test")
	require.NoError(t, err)

	require.NotNil(t, env.state.st.Liquidation)
	require.Equal(t, amt(200), env.state.st.Liquidation.Liquidated)
	require.Equal(t, amt(1), env.state.st.LiquidBalance)
	require.Len(t, env.tokens.Transfers, 1)
	payout := env.tokens.Transfers[0]
	require.Equal(t, testLender, payout.Receiver)
	require.Equal(t, amt(200), payout.Amount)
	require.Equal(t, AccountID(""), payout.Token)
	require.Len(t, env.staking.BatchWithdraw, 1)
	require.Equal(t, []AccountID{valAlpha}, env.staking.BatchWithdraw[0])

	// Partial payout confirmed; the waterfall keeps the lock.
	require.NoError(t, env.engine.CompleteLenderPayout(payout.Call, nil))
	require.NotNil(t, env.state.st.Lock)

	// Claimed funds arrive and settle the remaining 400.
	require.NoError(t, env.engine.CompleteBatchClaimUnstaked(step, []CallResult{{Validator: valAlpha}}))
	require.NotContains(t, env.state.st.UnstakeEntries, valAlpha)
	require.Equal(t, amt(600), env.state.st.Liquidation.Liquidated)
	require.Len(t, env.tokens.Transfers, 2)
	final := env.tokens.Transfers[1]
	require.Equal(t, amt(400), final.Amount)

	require.NoError(t, env.engine.CompleteLenderPayout(final.Call, nil))
	require.Nil(t, env.state.st.Request)
	require.Nil(t, env.state.st.Accepted)
	require.Nil(t, env.state.st.Liquidation)
	require.Nil(t, env.state.st.Lock)
	require.True(t, env.events.has(EventTypeLiquidationComplete))
	// 100 remains after the debt of 600 was recovered from 200 + 500.
	require.Equal(t, amt(101), env.state.st.LiquidBalance)
}

func TestLiquidationPayoutFailureStaysMonotone(t *testing.T) {
	st := defaultedLoan(200)
	st.UnstakeEntries[valAlpha] = &UnstakeEntry{Amount: amt(500), Epoch: 90}
	env := newTestEnv(st)

	step, err := env.engine.ProcessClaims("anyone.test")
	require.NoError(t, err)
	require.NoError(t, env.engine.CompleteLenderPayout(env.tokens.Transfers[0].Call, nil))
	require.NoError(t, env.engine.CompleteBatchClaimUnstaked(step, []CallResult{{Validator: valAlpha}}))

	// The final payout fails to deliver: the debt does not revive, the
	// obligation moves to the refund ledger.
	final := env.tokens.Transfers[1]
	require.NoError(t, env.engine.CompleteLenderPayout(final.Call, errors.New("account deleted")))

	require.Nil(t, env.state.st.Request)
	require.Nil(t, env.state.st.Liquidation)
	require.Nil(t, env.state.st.Lock)
	require.Len(t, env.state.st.Refunds, 1)
	for _, entry := range env.state.st.Refunds {
		require.Equal(t, testLender, entry.Proposer)
		require.Equal(t, amt(400), entry.Amount)
		require.True(t, entry.Native())
	}
	// The failed payout's funds are back in the liquid balance.
	require.Equal(t, amt(501), env.state.st.LiquidBalance)
	require.True(t, env.events.has(EventTypeLenderPayoutFailed))
	require.True(t, env.events.has(EventTypeLiquidationComplete))
}

func TestLiquidationWaitsOnMaturingFunds(t *testing.T) {
	st := defaultedLoan(200)
	st.UnstakeEntries[valAlpha] = &UnstakeEntry{Amount: amt(500), Epoch: 98}
	env := newTestEnv(st) // epoch 100: entry matures at 102

	step, err := env.engine.ProcessClaims("anyone.test")
	require.NoError(t, err)

	// The partial payout went out, then the vault parks until maturity.
	require.Len(t, env.tokens.Transfers, 1)
	require.Equal(t, CallID(step), env.tokens.Transfers[0].Call)
	require.Equal(t, amt(200), env.tokens.Transfers[0].Amount)
	require.Nil(t, env.state.st.Lock)
	require.True(t, env.events.has(EventTypeLiquidationProgress))
	require.Empty(t, env.staking.BatchWithdraw)
	require.Empty(t, env.staking.BalanceQueries)

	require.NoError(t, env.engine.CompleteLenderPayout(step, nil))
	require.Equal(t, amt(200), env.state.st.Liquidation.Liquidated)

	// A later invocation picks the matured funds up.
	env.epoch = 102
	next, err := env.engine.ProcessClaims("anyone.test")
	require.NoError(t, err)
	require.Len(t, env.staking.BatchWithdraw, 1)
	require.NoError(t, env.engine.CompleteBatchClaimUnstaked(next, []CallResult{{Validator: valAlpha}}))
	require.Equal(t, amt(600), env.state.st.Liquidation.Liquidated)
}

func TestLiquidationUnstakesDeficitAcrossValidators(t *testing.T) {
	st := defaultedLoan(0)
	st.LiquidBalance = amt(1) // nothing available above the reserve
	st.ActiveValidators = []AccountID{valAlpha, valBeta}
	env := newTestEnv(st)

	query, err := env.engine.ProcessClaims("anyone.test")
	require.NoError(t, err)
	require.Empty(t, env.tokens.Transfers)
	require.Len(t, env.staking.BalanceQueries, 1)
	require.Equal(t, []AccountID{valAlpha, valBeta}, env.staking.BalanceQueries[0])

	err = env.engine.CompleteLiquidationBalances(query, []BalanceResult{
		{Validator: valAlpha, Amount: amt(400)},
		{Validator: valBeta, Amount: amt(700)},
	})
	require.NoError(t, err)
	require.Len(t, env.staking.BatchUnstakes, 1)
	instructions := env.staking.BatchUnstakes[0]
	require.Len(t, instructions, 2)
	// Alpha is fully drained, beta covers the remaining 200 of the 600 debt.
	require.Equal(t, valAlpha, instructions[0].Validator)
	require.Equal(t, amt(400), instructions[0].Amount)
	require.True(t, instructions[0].Full)
	require.Equal(t, valBeta, instructions[1].Validator)
	require.Equal(t, amt(200), instructions[1].Amount)
	require.False(t, instructions[1].Full)

	unstakeCall := CallID("call-2")
	require.NoError(t, env.engine.CompleteBatchUnstake(unstakeCall, []CallResult{
		{Validator: valAlpha},
		{Validator: valBeta},
	}))
	require.Nil(t, env.state.st.Lock)
	require.Equal(t, []AccountID{valBeta}, env.state.st.ActiveValidators)
	require.Equal(t, amt(400), env.state.st.UnstakeEntries[valAlpha].Amount)
	require.Equal(t, amt(200), env.state.st.UnstakeEntries[valBeta].Amount)
	require.True(t, env.events.has(EventTypeUnstakeRecorded))
}

func TestLiquidationBalancesSkipsMaturingCoverage(t *testing.T) {
	st := defaultedLoan(0)
	st.LiquidBalance = amt(1)
	st.ActiveValidators = []AccountID{valAlpha}
	st.UnstakeEntries[valBeta] = &UnstakeEntry{Amount: amt(500), Epoch: 99}
	env := newTestEnv(st)

	query, err := env.engine.ProcessClaims("anyone.test")
	require.NoError(t, err)

	// 500 is maturing, so only 100 of the 600 debt needs fresh unstaking.
	err = env.engine.CompleteLiquidationBalances(query, []BalanceResult{
		{Validator: valAlpha, Amount: amt(400)},
	})
	require.NoError(t, err)
	require.Len(t, env.staking.BatchUnstakes, 1)
	instructions := env.staking.BatchUnstakes[0]
	require.Len(t, instructions, 1)
	require.Equal(t, amt(100), instructions[0].Amount)
	require.False(t, instructions[0].Full)
}

func TestLiquidationNoStakeAvailableWaits(t *testing.T) {
	st := defaultedLoan(0)
	st.LiquidBalance = amt(1)
	st.ActiveValidators = []AccountID{valAlpha}
	env := newTestEnv(st)

	query, err := env.engine.ProcessClaims("anyone.test")
	require.NoError(t, err)

	err = env.engine.CompleteLiquidationBalances(query, []BalanceResult{
		{Validator: valAlpha, Amount: amt(0)},
	})
	require.NoError(t, err)
	require.Nil(t, env.state.st.Lock)
	require.Empty(t, env.staking.BatchUnstakes)
	// The zero-balance validator is pruned.
	require.Empty(t, env.state.st.ActiveValidators)
}
