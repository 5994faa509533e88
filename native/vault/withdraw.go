package vault

import (
	"fmt"
	"math/big"
)

// Deposit credits the liquid balance. Anyone may top up the vault; the
// factory funds freshly created vaults through the same path.
func (e *Engine) Deposit(caller AccountID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	st.LiquidBalance = new(big.Int).Add(st.LiquidBalance, amount)
	e.emit(newEvent(EventTypeDeposit, map[string]string{
		"from":   string(caller),
		"amount": formatAmount(amount),
	}))
	return e.putState(st)
}

// WithdrawBalance moves funds out of the vault through the asynchronous
// transfer path. An empty token means the native balance, debited from the
// liquid pool when the transfer is issued.
func (e *Engine) WithdrawBalance(caller AccountID, token AccountID, amount *big.Int, to AccountID) (CallID, error) {
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
	if err := e.ensureIdle(st); err != nil {
		return "", err
	}
	if len(st.Refunds) > 0 {
		return "", fmt.Errorf("%w: %d refund entries pending", ErrWithdrawBlocked, len(st.Refunds))
	}
	if to == "" {
		to = caller
	}

	if err := e.requireClients(); err != nil {
		return "", err
	}

	if token == "" {
		if st.Liquidation != nil {
			return "", fmt.Errorf("%w: liquidation in progress", ErrWithdrawBlocked)
		}
		if st.AvailableBalance().Cmp(amount) < 0 {
			return "", fmt.Errorf("%w: requested %s, available %s",
				ErrInsufficientBalance, amount, st.AvailableBalance())
		}
		st.LiquidBalance = new(big.Int).Sub(st.LiquidBalance, amount)
	} else if st.Request != nil && st.Accepted == nil && st.Request.Token == token {
		// Counter-offer deposits in the requested token are escrowed here.
		return "", fmt.Errorf("%w: token %s backs an open liquidity request", ErrWithdrawBlocked, token)
	}
	intent := e.stageCall(st, &CallIntent{
		Kind:     CallTokenWithdraw,
		Token:    token,
		Receiver: to,
		Amount:   cloneBigInt(amount),
	})
	if err := e.putState(st); err != nil {
		return "", err
	}
	e.tokens.Transfer(intent.ID, token, to, cloneBigInt(amount), "balance withdrawal")
	return intent.ID, nil
}

// CompleteTokenWithdraw resolves the asynchronous token withdrawal. A failed
// delivery becomes a refund ledger entry owed to the receiver.
func (e *Engine) CompleteTokenWithdraw(id CallID, callErr error) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	intent, err := consumeCall(st, id, CallTokenWithdraw)
	if err != nil {
		return err
	}
	if callErr != nil {
		if intent.Token == "" {
			st.LiquidBalance = new(big.Int).Add(st.LiquidBalance, intent.Amount)
		}
		e.recordRefund(st, intent.Token, intent.Receiver, intent.Amount)
		e.emit(newEvent(EventTypeWithdrawFailed, map[string]string{
			"token":  string(intent.Token),
			"to":     string(intent.Receiver),
			"amount": formatAmount(intent.Amount),
			"error":  callErr.Error(),
		}))
	} else {
		e.emit(newEvent(EventTypeWithdraw, map[string]string{
			"token":  string(intent.Token),
			"to":     string(intent.Receiver),
			"amount": formatAmount(intent.Amount),
		}))
	}
	return e.putState(st)
}
