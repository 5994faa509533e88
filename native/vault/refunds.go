package vault

import (
	"fmt"
	"math/big"
	"sort"
)

// recordRefund appends a failed-transfer obligation to the refund ledger.
// Entries carry the epoch they were added at so stale ones can be expired
// after repeated delivery failures.
func (e *Engine) recordRefund(st *State, token AccountID, proposer AccountID, amount *big.Int) uint64 {
	id := st.nextRefundID()
	st.Refunds[id] = &RefundEntry{
		Token:        token,
		Proposer:     proposer,
		Amount:       cloneBigInt(amount),
		AddedAtEpoch: e.epoch(),
	}
	e.emit(newEvent(EventTypeRefundRecorded, map[string]string{
		"id":       formatEpoch(id),
		"token":    string(token),
		"proposer": string(proposer),
		"amount":   formatAmount(amount),
		"epoch":    formatEpoch(e.epoch()),
	}))
	e.metrics.SetRefundEntries(len(st.Refunds))
	return id
}

// CompleteRefundTransfer resolves a counter-offer refund issued during the
// negotiation flow. Delivery failures land in the refund ledger rather than
// blocking the workflow that triggered them.
func (e *Engine) CompleteRefundTransfer(id CallID, callErr error) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	intent, err := consumeCall(st, id, CallRefundTransfer)
	if err != nil {
		return err
	}
	if callErr != nil {
		e.recordRefund(st, intent.Token, intent.Receiver, intent.Amount)
	}
	return e.putState(st)
}

// RetryRefunds re-issues transfers for ledger entries. The owner may retry
// any entry; other callers only their own. Native entries debit the liquid
// balance when the transfer is issued and credit it back on failure.
func (e *Engine) RetryRefunds(caller AccountID, ids []uint64) ([]CallID, error) {
	if err := e.requireClients(); err != nil {
		return nil, err
	}
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := e.ensureIdle(st); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		for id, entry := range st.Refunds {
			if caller == st.Owner || entry.Proposer == caller {
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var intents []*CallIntent
	for _, id := range ids {
		entry, ok := st.Refunds[id]
		if !ok {
			continue
		}
		if caller != st.Owner && entry.Proposer != caller {
			continue
		}
		if entry.Native() {
			if st.AvailableBalance().Cmp(entry.Amount) < 0 {
				continue
			}
			st.LiquidBalance = new(big.Int).Sub(st.LiquidBalance, entry.Amount)
		}
		intents = append(intents, e.stageCall(st, &CallIntent{
			Kind:     CallRetryRefund,
			Token:    entry.Token,
			Receiver: entry.Proposer,
			Amount:   cloneBigInt(entry.Amount),
			RefundID: id,
		}))
	}
	if len(intents) == 0 {
		return nil, fmt.Errorf("%w: caller %s", ErrNoRefundsForCaller, caller)
	}
	if err := e.putState(st); err != nil {
		return nil, err
	}

	out := make([]CallID, 0, len(intents))
	for _, intent := range intents {
		e.tokens.Transfer(intent.ID, intent.Token, intent.Receiver, cloneBigInt(intent.Amount), "refund retry")
		out = append(out, intent.ID)
	}
	return out, nil
}

// CompleteRetryRefund resolves one retried transfer. Success retires the
// ledger entry; failure keeps it unless the entry has aged past the expiry
// window, in which case it is dropped for good.
func (e *Engine) CompleteRetryRefund(id CallID, callErr error) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	intent, err := consumeCall(st, id, CallRetryRefund)
	if err != nil {
		return err
	}

	entry := st.Refunds[intent.RefundID]
	switch {
	case callErr == nil:
		delete(st.Refunds, intent.RefundID)
		e.emit(newEvent(EventTypeRefundRetryOK, map[string]string{
			"id":       formatEpoch(intent.RefundID),
			"proposer": string(intent.Receiver),
			"amount":   formatAmount(intent.Amount),
		}))

	case entry != nil && entry.ExpiredAt(e.epoch()):
		if entry.Native() {
			st.LiquidBalance = new(big.Int).Add(st.LiquidBalance, intent.Amount)
		}
		delete(st.Refunds, intent.RefundID)
		e.emit(newEvent(EventTypeRefundExpired, map[string]string{
			"id":       formatEpoch(intent.RefundID),
			"proposer": string(intent.Receiver),
			"amount":   formatAmount(intent.Amount),
			"epoch":    formatEpoch(e.epoch()),
		}))

	default:
		if entry != nil && entry.Native() {
			st.LiquidBalance = new(big.Int).Add(st.LiquidBalance, intent.Amount)
		}
		e.emit(newEvent(EventTypeRefundRetryAgain, map[string]string{
			"id":       formatEpoch(intent.RefundID),
			"proposer": string(intent.Receiver),
			"amount":   formatAmount(intent.Amount),
			"error":    callErr.Error(),
		}))
	}
	e.metrics.SetRefundEntries(len(st.Refunds))
	return e.putState(st)
}

// Refunds returns the ledger snapshot in id order.
func (e *Engine) Refunds() (map[uint64]*RefundEntry, error) {
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]*RefundEntry, len(st.Refunds))
	for id, entry := range st.Refunds {
		out[id] = &RefundEntry{
			Token:        entry.Token,
			Proposer:     entry.Proposer,
			Amount:       cloneBigInt(entry.Amount),
			AddedAtEpoch: entry.AddedAtEpoch,
		}
	}
	return out, nil
}
