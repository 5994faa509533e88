package vault

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestLiquidityCollateralCheck(t *testing.T) {
	st := fundedState(100)
	st.ActiveValidators = []AccountID{valBeta, valAlpha}
	env := newTestEnv(st)

	call, err := env.engine.RequestLiquidity(testOwner, testToken, amt(1000), amt(100), amt(600), 86_400)
	require.NoError(t, err)
	require.NotNil(t, env.state.st.PendingRequest)
	require.Nil(t, env.state.st.Request)
	require.Len(t, env.staking.BalanceQueries, 1)
	// Batched queries visit validators in sorted order.
	require.Equal(t, []AccountID{valAlpha, valBeta}, env.staking.BalanceQueries[0])

	err = env.engine.CompleteCollateralCheck(call, []BalanceResult{
		{Validator: valAlpha, Amount: amt(400)},
		{Validator: valBeta, Amount: amt(300)},
	})
	require.NoError(t, err)

	require.Nil(t, env.state.st.PendingRequest)
	require.NotNil(t, env.state.st.Request)
	require.Equal(t, amt(1000), env.state.st.Request.Amount)
	require.Equal(t, env.now, env.state.st.Request.CreatedAt)
	require.Nil(t, env.state.st.Lock)
	require.True(t, env.events.has(EventTypeRequestOpened))
}

func TestCollateralCheckRejectsInsufficientStake(t *testing.T) {
	st := fundedState(100)
	st.ActiveValidators = []AccountID{valAlpha}
	env := newTestEnv(st)

	call, err := env.engine.RequestLiquidity(testOwner, testToken, amt(1000), amt(100), amt(600), 86_400)
	require.NoError(t, err)

	err = env.engine.CompleteCollateralCheck(call, []BalanceResult{
		{Validator: valAlpha, Amount: amt(500)},
	})
	require.ErrorIs(t, err, ErrInsufficientCollateral)
	require.Nil(t, env.state.st.PendingRequest)
	require.Nil(t, env.state.st.Request)
	require.Nil(t, env.state.st.Lock)
	require.True(t, env.events.has(EventTypeRequestRejected))
}

func TestCollateralCheckPrunesZeroBalanceValidators(t *testing.T) {
	st := fundedState(100)
	st.ActiveValidators = []AccountID{valAlpha, valBeta}
	env := newTestEnv(st)

	call, err := env.engine.RequestLiquidity(testOwner, testToken, amt(1000), amt(100), amt(600), 86_400)
	require.NoError(t, err)

	err = env.engine.CompleteCollateralCheck(call, []BalanceResult{
		{Validator: valAlpha, Amount: amt(700)},
		{Validator: valBeta, Amount: amt(0)},
	})
	require.NoError(t, err)
	require.Equal(t, []AccountID{valAlpha}, env.state.st.ActiveValidators)
}

func TestRequestLiquidityRejectsSecondRequest(t *testing.T) {
	st := fundedState(100)
	openRequest(st, 0)
	env := newTestEnv(st)

	_, err := env.engine.RequestLiquidity(testOwner, testToken, amt(1000), amt(100), amt(600), 86_400)
	require.ErrorIs(t, err, ErrRequestOpen)
}

func TestExactTransferAcceptsRequest(t *testing.T) {
	st := fundedState(100)
	openRequest(st, 0)
	env := newTestEnv(st)

	err := env.engine.OnTokenReceived(testLender, testToken, amt(1000), offerMessageJSON(ActionAcceptRequest))
	require.NoError(t, err)
	require.NotNil(t, env.state.st.Accepted)
	require.Equal(t, testLender, env.state.st.Accepted.Lender)
	require.True(t, env.events.has(EventTypeRequestAccepted))
	require.Empty(t, env.tokens.Transfers)
}

func TestExactCounterOfferAcceptsImmediately(t *testing.T) {
	st := fundedState(100)
	openRequest(st, 0)
	env := newTestEnv(st)

	err := env.engine.OnTokenReceived(testLender, testToken, amt(1000), offerMessageJSON(ActionNewCounterOffer))
	require.NoError(t, err)
	require.NotNil(t, env.state.st.Accepted)
	require.Empty(t, env.state.st.CounterOffers)
}

func TestAcceptRefundsOutstandingCounterOffers(t *testing.T) {
	st := fundedState(100)
	openRequest(st, 0)
	env := newTestEnv(st)

	// A offers 400, then B transfers the exact requested amount.
	require.NoError(t, env.engine.OnTokenReceived("a.test", testToken, amt(400), offerMessageJSON(ActionNewCounterOffer)))
	require.NoError(t, env.engine.OnTokenReceived(testLender, testToken, amt(1000), offerMessageJSON(ActionAcceptRequest)))

	require.Equal(t, testLender, env.state.st.Accepted.Lender)
	require.Empty(t, env.state.st.CounterOffers)
	require.Len(t, env.tokens.Transfers, 1)
	refund := env.tokens.Transfers[0]
	require.Equal(t, AccountID("a.test"), refund.Receiver)
	require.Equal(t, amt(400), refund.Amount)
	require.Equal(t, testToken, refund.Token)
}

func TestCounterOfferUpsertRefundsPrevious(t *testing.T) {
	st := fundedState(100)
	openRequest(st, 0)
	env := newTestEnv(st)

	require.NoError(t, env.engine.OnTokenReceived(testLender, testToken, amt(400), offerMessageJSON(ActionNewCounterOffer)))
	require.NoError(t, env.engine.OnTokenReceived(testLender, testToken, amt(500), offerMessageJSON(ActionNewCounterOffer)))

	require.Len(t, env.state.st.CounterOffers, 1)
	require.Equal(t, amt(500), env.state.st.CounterOffers[testLender].Amount)
	require.Len(t, env.tokens.Transfers, 1)
	require.Equal(t, amt(400), env.tokens.Transfers[0].Amount)
	require.True(t, env.events.has(EventTypeCounterOfferReplaced))
}

func TestCounterOfferBookEvictsLowestAtCapacity(t *testing.T) {
	st := fundedState(100)
	openRequest(st, 0)
	env := newTestEnv(st)

	for i := 0; i < MaxCounterOffers; i++ {
		proposer := AccountID(fmt.Sprintf("lender-%d.test", i))
		require.NoError(t, env.engine.OnTokenReceived(proposer, testToken, amt(int64(100+i)), offerMessageJSON(ActionNewCounterOffer)))
	}
	require.Len(t, env.state.st.CounterOffers, MaxCounterOffers)

	// Matching the current lowest (100) does not displace it.
	err := env.engine.OnTokenReceived("late.test", testToken, amt(100), offerMessageJSON(ActionNewCounterOffer))
	require.ErrorIs(t, err, ErrOfferTooLow)
	require.Len(t, env.state.st.CounterOffers, MaxCounterOffers)
	require.NotContains(t, env.state.st.CounterOffers, AccountID("late.test"))

	// Beating it evicts lender-0 and refunds their deposit.
	require.NoError(t, env.engine.OnTokenReceived("late.test", testToken, amt(900), offerMessageJSON(ActionNewCounterOffer)))
	require.Len(t, env.state.st.CounterOffers, MaxCounterOffers)
	require.Contains(t, env.state.st.CounterOffers, AccountID("late.test"))
	require.NotContains(t, env.state.st.CounterOffers, AccountID("lender-0.test"))
	require.True(t, env.events.has(EventTypeCounterOfferEvicted))
}

func TestOfferAboveRequestedAmountRejected(t *testing.T) {
	st := fundedState(100)
	openRequest(st, 0)
	env := newTestEnv(st)

	err := env.engine.OnTokenReceived(testLender, testToken, amt(1500), offerMessageJSON(ActionNewCounterOffer))
	require.ErrorIs(t, err, ErrOfferOutOfRange)
	// The full deposit goes back.
	require.Len(t, env.tokens.Transfers, 1)
	require.Equal(t, amt(1500), env.tokens.Transfers[0].Amount)
	require.True(t, env.events.has(EventTypeOfferRejected))
}

func TestOfferValidation(t *testing.T) {
	st := fundedState(100)
	openRequest(st, 0)
	env := newTestEnv(st)

	err := env.engine.OnTokenReceived(testOwner, testToken, amt(400), offerMessageJSON(ActionNewCounterOffer))
	require.Error(t, err)
	require.Len(t, env.tokens.Transfers, 1)

	err = env.engine.OnTokenReceived(testLender, "othertoken.test", amt(400), offerMessageJSON(ActionNewCounterOffer))
	require.ErrorIs(t, err, ErrTokenMismatch)

	err = env.engine.OnTokenReceived(testLender, testToken, amt(400), `{"action":"NewCounterOffer","token":"usdc.test","amount":"1","interest":"1","collateral":"1","duration":1}`)
	require.ErrorIs(t, err, ErrMessageMismatch)

	err = env.engine.OnTokenReceived(testLender, testToken, amt(400), "not json")
	require.Error(t, err)

	// Four rejections, four refunds.
	require.Len(t, env.tokens.Transfers, 4)
}

func TestOfferAfterAcceptanceRejected(t *testing.T) {
	st := fundedState(100)
	openRequest(st, 0)
	st.Accepted = &AcceptedOffer{Lender: testLender, AcceptedAt: 1}
	env := newTestEnv(st)

	err := env.engine.OnTokenReceived("b.test", testToken, amt(400), offerMessageJSON(ActionNewCounterOffer))
	require.ErrorIs(t, err, ErrOfferAccepted)
	require.Len(t, env.tokens.Transfers, 1)
}

func TestAcceptCounterOffer(t *testing.T) {
	st := fundedState(100)
	openRequest(st, 0)
	env := newTestEnv(st)

	require.NoError(t, env.engine.OnTokenReceived("a.test", testToken, amt(400), offerMessageJSON(ActionNewCounterOffer)))
	require.NoError(t, env.engine.OnTokenReceived("b.test", testToken, amt(500), offerMessageJSON(ActionNewCounterOffer)))

	require.ErrorIs(t, env.engine.AcceptCounterOffer(testOwner, "a.test", amt(999)), ErrOfferMismatch)
	require.ErrorIs(t, env.engine.AcceptCounterOffer("a.test", "a.test", amt(400)), ErrNotOwner)

	require.NoError(t, env.engine.AcceptCounterOffer(testOwner, "a.test", amt(400)))
	require.Equal(t, AccountID("a.test"), env.state.st.Accepted.Lender)
	require.Empty(t, env.state.st.CounterOffers)

	// Only b's deposit is refunded.
	require.Len(t, env.tokens.Transfers, 1)
	require.Equal(t, AccountID("b.test"), env.tokens.Transfers[0].Receiver)
	require.Equal(t, amt(500), env.tokens.Transfers[0].Amount)
}

func TestCancelCounterOffer(t *testing.T) {
	st := fundedState(100)
	openRequest(st, 0)
	env := newTestEnv(st)

	require.NoError(t, env.engine.OnTokenReceived("a.test", testToken, amt(400), offerMessageJSON(ActionNewCounterOffer)))
	require.ErrorIs(t, env.engine.CancelCounterOffer("b.test"), ErrOfferNotFound)

	require.NoError(t, env.engine.CancelCounterOffer("a.test"))
	require.Empty(t, env.state.st.CounterOffers)
	require.Equal(t, amt(400), env.tokens.last().Amount)
}

func TestCancelLiquidityRequestRefundsBook(t *testing.T) {
	st := fundedState(100)
	openRequest(st, 0)
	env := newTestEnv(st)

	require.NoError(t, env.engine.OnTokenReceived("a.test", testToken, amt(400), offerMessageJSON(ActionNewCounterOffer)))
	require.NoError(t, env.engine.CancelLiquidityRequest(testOwner))

	require.Nil(t, env.state.st.Request)
	require.Empty(t, env.state.st.CounterOffers)
	require.Len(t, env.tokens.Transfers, 1)

	st2 := fundedState(100)
	openRequest(st2, 0)
	st2.Accepted = &AcceptedOffer{Lender: testLender, AcceptedAt: 1}
	env2 := newTestEnv(st2)
	require.ErrorIs(t, env2.engine.CancelLiquidityRequest(testOwner), ErrOfferAccepted)
}

func TestRepayLoanLifecycle(t *testing.T) {
	st := fundedState(100)
	openRequest(st, 0)
	st.Accepted = &AcceptedOffer{Lender: testLender, AcceptedAt: 1}
	env := newTestEnv(st)

	call, err := env.engine.RepayLoan(testOwner)
	require.NoError(t, err)
	require.Len(t, env.tokens.Transfers, 1)
	// Principal plus interest.
	require.Equal(t, amt(1100), env.tokens.Transfers[0].Amount)
	require.Equal(t, testLender, env.tokens.Transfers[0].Receiver)
	require.Equal(t, testToken, env.tokens.Transfers[0].Token)

	require.NoError(t, env.engine.CompleteRepayLoan(call, nil))
	require.Nil(t, env.state.st.Request)
	require.Nil(t, env.state.st.Accepted)
	require.Nil(t, env.state.st.Lock)
	require.True(t, env.events.has(EventTypeRepaySucceeded))
}

func TestRepayLoanFailureKeepsLoanOpen(t *testing.T) {
	st := fundedState(100)
	openRequest(st, 0)
	st.Accepted = &AcceptedOffer{Lender: testLender, AcceptedAt: 1}
	env := newTestEnv(st)

	call, err := env.engine.RepayLoan(testOwner)
	require.NoError(t, err)

	err = env.engine.CompleteRepayLoan(call, fmt.Errorf("token contract paused"))
	require.ErrorIs(t, err, ErrExternalCall)
	require.NotNil(t, env.state.st.Request)
	require.NotNil(t, env.state.st.Accepted)
	require.Nil(t, env.state.st.Lock)
}
