package vault

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransferOwnership(t *testing.T) {
	env := newTestEnv(fundedState(10))

	require.ErrorIs(t, env.engine.TransferOwnership("mallory.test", "new.test"), ErrNotOwner)
	require.ErrorIs(t, env.engine.TransferOwnership(testOwner, testOwner), ErrSameOwner)

	require.NoError(t, env.engine.TransferOwnership(testOwner, "new.test"))
	require.Equal(t, AccountID("new.test"), env.state.st.Owner)
	require.True(t, env.events.has(EventTypeOwnershipTransferred))
}

func TestTakeoverListing(t *testing.T) {
	env := newTestEnv(fundedState(10))

	require.ErrorIs(t, env.engine.CancelTakeover(testOwner), ErrNotListed)
	require.NoError(t, env.engine.ListForTakeover(testOwner))
	require.True(t, env.state.st.ListedForTakeover)
	require.ErrorIs(t, env.engine.ListForTakeover(testOwner), ErrAlreadyListed)

	require.NoError(t, env.engine.CancelTakeover(testOwner))
	require.False(t, env.state.st.ListedForTakeover)
}

func TestListForTakeoverBlockedWhileBusy(t *testing.T) {
	env := newTestEnv(fundedState(10))
	require.NoError(t, env.engine.acquireLock(env.state.st, ProcessingDelegate))
	require.ErrorIs(t, env.engine.ListForTakeover(testOwner), ErrLockBusy)
}

func TestClaimVaultTransfersOwnershipOnConfirmedPayout(t *testing.T) {
	st := fundedState(10)
	st.ListedForTakeover = true
	env := newTestEnv(st)

	_, err := env.engine.ClaimVault("buyer.test", amt(1))
	require.ErrorIs(t, err, ErrWrongDeposit)
	_, err = env.engine.ClaimVault(testOwner, TakeoverPrice())
	require.ErrorIs(t, err, ErrSelfClaim)

	call, err := env.engine.ClaimVault("buyer.test", TakeoverPrice())
	require.NoError(t, err)
	require.Len(t, env.tokens.Transfers, 1)
	require.Equal(t, testOwner, env.tokens.Transfers[0].Receiver)
	require.Equal(t, TakeoverPrice(), env.tokens.Transfers[0].Amount)

	// Ownership does not change until the payout is confirmed.
	require.Equal(t, testOwner, env.state.st.Owner)

	require.NoError(t, env.engine.CompleteClaimVault(call, nil))
	require.Equal(t, AccountID("buyer.test"), env.state.st.Owner)
	require.False(t, env.state.st.ListedForTakeover)
	require.Nil(t, env.state.st.Lock)
	require.True(t, env.events.has(EventTypeClaimed))
}

func TestClaimVaultPayoutFailureKeepsOwner(t *testing.T) {
	st := fundedState(10)
	st.ListedForTakeover = true
	env := newTestEnv(st)

	call, err := env.engine.ClaimVault("buyer.test", TakeoverPrice())
	require.NoError(t, err)

	require.NoError(t, env.engine.CompleteClaimVault(call, errors.New("owner account gone")))
	require.Equal(t, testOwner, env.state.st.Owner)
	require.True(t, env.state.st.ListedForTakeover)
	require.Nil(t, env.state.st.Lock)
	// The buyer's deposit is held for refund.
	require.Len(t, env.state.st.Refunds, 1)
	require.Equal(t, AccountID("buyer.test"), env.state.st.Refunds[0].Proposer)
	require.Equal(t, TakeoverPrice(), env.state.st.Refunds[0].Amount)
}

func TestClaimVaultRequiresListing(t *testing.T) {
	env := newTestEnv(fundedState(10))
	_, err := env.engine.ClaimVault("buyer.test", TakeoverPrice())
	require.ErrorIs(t, err, ErrNotListed)
}
