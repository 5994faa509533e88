package vault

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
)

// Message actions carried by transfer-and-notify payloads from lenders.
const (
	ActionAcceptRequest   = "AcceptLiquidityRequest"
	ActionNewCounterOffer = "NewCounterOffer"
)

// OfferMessage is the tagged message attached to an inbound token transfer.
// The terms restate the open request so a stale client cannot bid against a
// request it has not seen. Amounts travel as decimal strings.
type OfferMessage struct {
	Action     string    `json:"action"`
	Token      AccountID `json:"token"`
	Amount     string    `json:"amount"`
	Interest   string    `json:"interest"`
	Collateral string    `json:"collateral"`
	Duration   int64     `json:"duration"`
}

func (m *OfferMessage) matches(req *LiquidityRequest) bool {
	amount, okA := new(big.Int).SetString(m.Amount, 10)
	interest, okI := new(big.Int).SetString(m.Interest, 10)
	collateral, okC := new(big.Int).SetString(m.Collateral, 10)
	if !okA || !okI || !okC {
		return false
	}
	return m.Token == req.Token &&
		amount.Cmp(req.Amount) == 0 &&
		interest.Cmp(req.Interest) == 0 &&
		collateral.Cmp(req.Collateral) == 0 &&
		m.Duration == req.Duration
}

// RequestLiquidity posts a borrow request. Phase 1 stages the pending request
// and batch-queries the staked balance across the sorted active validator
// set; the continuation finalizes or rejects it.
func (e *Engine) RequestLiquidity(caller, token AccountID, amount, interest, collateral *big.Int, duration int64) (CallID, error) {
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
	if st.PendingRequest != nil || st.Request != nil {
		return "", ErrRequestOpen
	}
	if st.Accepted != nil {
		return "", ErrOfferAccepted
	}
	if len(st.CounterOffers) > 0 {
		return "", fmt.Errorf("%w: counter offers must be cleared", ErrRequestOpen)
	}
	if !token.Valid() {
		return "", fmt.Errorf("vault: invalid token account")
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	if interest == nil || interest.Sign() < 0 {
		return "", fmt.Errorf("%w: interest must be non-negative", ErrInvalidAmount)
	}
	if collateral == nil || collateral.Sign() <= 0 {
		return "", fmt.Errorf("%w: collateral must be positive", ErrInvalidAmount)
	}
	if duration <= 0 {
		return "", fmt.Errorf("%w: duration must be non-zero", ErrInvalidAmount)
	}
	if err := e.acquireLock(st, ProcessingRequestLiquidity); err != nil {
		return "", err
	}

	st.PendingRequest = &PendingLiquidityRequest{
		Token:      token,
		Amount:     cloneBigInt(amount),
		Interest:   cloneBigInt(interest),
		Collateral: cloneBigInt(collateral),
		Duration:   duration,
	}
	validators := st.SortedValidators()
	intent := e.stageCall(st, &CallIntent{
		Kind:       CallCollateralCheck,
		Validators: validators,
	})
	if err := e.putState(st); err != nil {
		return "", err
	}
	e.staking.BatchStakedBalance(intent.ID, validators)
	return intent.ID, nil
}

// CompleteCollateralCheck resolves the staked-balance fan-out for a pending
// request. Zero-balance validators are pruned; the request finalizes only
// when the summed stake covers the collateral, otherwise no pending state
// persists.
func (e *Engine) CompleteCollateralCheck(id CallID, results []BalanceResult) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if _, err := consumeCall(st, id, CallCollateralCheck); err != nil {
		return err
	}
	defer e.releaseLock(st)

	pending := st.PendingRequest
	st.PendingRequest = nil
	if pending == nil {
		if putErr := e.putState(st); putErr != nil {
			return putErr
		}
		return fmt.Errorf("vault: no pending liquidity request to finalize")
	}

	total := big.NewInt(0)
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
		total.Add(total, res.Amount)
	}

	if total.Cmp(pending.Collateral) < 0 {
		e.emit(newEvent(EventTypeRequestRejected, map[string]string{
			"collateral": formatAmount(pending.Collateral),
			"staked":     formatAmount(total),
		}))
		e.metrics.WorkflowOutcome(ProcessingRequestLiquidity.String(), "failure")
		if putErr := e.putState(st); putErr != nil {
			return putErr
		}
		return fmt.Errorf("%w: staked %s, collateral %s", ErrInsufficientCollateral, total, pending.Collateral)
	}

	st.Request = &LiquidityRequest{
		Token:      pending.Token,
		Amount:     pending.Amount,
		Interest:   pending.Interest,
		Collateral: pending.Collateral,
		Duration:   pending.Duration,
		CreatedAt:  e.now(),
	}
	e.emit(newEvent(EventTypeRequestOpened, map[string]string{
		"token":      string(pending.Token),
		"amount":     formatAmount(pending.Amount),
		"interest":   formatAmount(pending.Interest),
		"collateral": formatAmount(pending.Collateral),
		"duration":   formatTimestamp(pending.Duration),
	}))
	e.metrics.WorkflowOutcome(ProcessingRequestLiquidity.String(), "success")
	return e.putState(st)
}

// OnTokenReceived is the inbound transfer-and-notify hook lenders use to bid.
// A transfer failing validation is refunded in full; the refund itself runs
// through the asynchronous transfer path and lands in the refund ledger if it
// cannot be delivered.
func (e *Engine) OnTokenReceived(sender, token AccountID, amount *big.Int, rawMsg string) error {
	if err := e.requireClients(); err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	var msg OfferMessage
	if err := json.Unmarshal([]byte(rawMsg), &msg); err != nil {
		return e.rejectOffer(st, sender, token, amount, fmt.Errorf("vault: malformed offer message: %w", err))
	}

	switch msg.Action {
	case ActionAcceptRequest:
		return e.tryAcceptRequest(st, sender, token, amount, &msg)
	case ActionNewCounterOffer:
		return e.tryAddCounterOffer(st, sender, token, amount, &msg)
	default:
		return e.rejectOffer(st, sender, token, amount, fmt.Errorf("vault: unsupported offer action %q", msg.Action))
	}
}

func (e *Engine) validateOffer(st *State, sender, token AccountID, msg *OfferMessage) error {
	if st.Request == nil {
		return ErrNoRequest
	}
	if st.Accepted != nil {
		return ErrOfferAccepted
	}
	if sender == st.Owner {
		return fmt.Errorf("vault: owner cannot fund their own request")
	}
	if token != st.Request.Token {
		return ErrTokenMismatch
	}
	if !msg.matches(st.Request) {
		return ErrMessageMismatch
	}
	return nil
}

func (e *Engine) tryAcceptRequest(st *State, sender, token AccountID, amount *big.Int, msg *OfferMessage) error {
	if err := e.validateOffer(st, sender, token, msg); err != nil {
		return e.rejectOffer(st, sender, token, amount, err)
	}
	if amount.Cmp(st.Request.Amount) != 0 {
		return e.rejectOffer(st, sender, token, amount,
			fmt.Errorf("vault: acceptance must transfer the exact requested amount"))
	}
	return e.acceptLender(st, sender, amount)
}

func (e *Engine) tryAddCounterOffer(st *State, sender, token AccountID, amount *big.Int, msg *OfferMessage) error {
	if err := e.validateOffer(st, sender, token, msg); err != nil {
		return e.rejectOffer(st, sender, token, amount, err)
	}

	// An exact-match bid accepts immediately regardless of the tag.
	if amount.Cmp(st.Request.Amount) == 0 {
		return e.acceptLender(st, sender, amount)
	}
	if amount.Cmp(st.Request.Amount) > 0 {
		return e.rejectOffer(st, sender, token, amount, ErrOfferOutOfRange)
	}

	var issued []*CallIntent
	if st.CounterOffers == nil {
		st.CounterOffers = make(map[AccountID]*CounterOffer)
	}

	if prev, ok := st.CounterOffers[sender]; ok {
		// Upsert by proposer: the replaced amount goes back to the lender.
		issued = append(issued, e.queueRefundTransfer(st, st.Request.Token, sender, prev.Amount))
		e.emit(newEvent(EventTypeCounterOfferReplaced, map[string]string{
			"proposer":   string(sender),
			"old_amount": formatAmount(prev.Amount),
			"new_amount": formatAmount(amount),
		}))
	} else if len(st.CounterOffers) >= MaxCounterOffers {
		lowest := lowestOffer(st.CounterOffers)
		if amount.Cmp(lowest.Amount) <= 0 {
			return e.rejectOffer(st, sender, token, amount, ErrOfferTooLow)
		}
		delete(st.CounterOffers, lowest.Proposer)
		issued = append(issued, e.queueRefundTransfer(st, st.Request.Token, lowest.Proposer, lowest.Amount))
		e.emit(newEvent(EventTypeCounterOfferEvicted, map[string]string{
			"proposer": string(lowest.Proposer),
			"amount":   formatAmount(lowest.Amount),
		}))
	}

	st.CounterOffers[sender] = &CounterOffer{
		Proposer:  sender,
		Amount:    cloneBigInt(amount),
		Timestamp: e.now(),
	}
	e.emit(newEvent(EventTypeCounterOfferCreated, map[string]string{
		"proposer": string(sender),
		"amount":   formatAmount(amount),
	}))
	e.metrics.SetCounterOffers(len(st.CounterOffers))
	if err := e.putState(st); err != nil {
		return err
	}
	e.dispatchRefunds(issued)
	return nil
}

func (e *Engine) acceptLender(st *State, lender AccountID, amount *big.Int) error {
	st.Accepted = &AcceptedOffer{Lender: lender, AcceptedAt: e.now()}
	issued := e.refundAllCounterOffers(st, "")
	e.emit(newEvent(EventTypeRequestAccepted, map[string]string{
		"lender": string(lender),
		"amount": formatAmount(amount),
		"at":     formatTimestamp(st.Accepted.AcceptedAt),
	}))
	e.metrics.SetCounterOffers(0)
	if err := e.putState(st); err != nil {
		return err
	}
	e.dispatchRefunds(issued)
	return nil
}

// rejectOffer refunds the full transferred amount back to the sender and
// reports why the transfer was not admitted.
func (e *Engine) rejectOffer(st *State, sender, token AccountID, amount *big.Int, cause error) error {
	intent := e.queueRefundTransfer(st, token, sender, amount)
	e.emit(newEvent(EventTypeOfferRejected, map[string]string{
		"proposer": string(sender),
		"amount":   formatAmount(amount),
		"reason":   cause.Error(),
	}))
	if err := e.putState(st); err != nil {
		return err
	}
	e.dispatchRefunds([]*CallIntent{intent})
	return cause
}

// AcceptCounterOffer lets the owner choose one stored offer. Every other
// offer is queued for refund and the book clears.
func (e *Engine) AcceptCounterOffer(caller, proposer AccountID, amount *big.Int) error {
	if err := e.requireClients(); err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if caller != st.Owner {
		return ErrNotOwner
	}
	if err := e.ensureIdle(st); err != nil {
		return err
	}
	if st.Request == nil {
		return ErrNoRequest
	}
	if st.Accepted != nil {
		return ErrOfferAccepted
	}
	offer, ok := st.CounterOffers[proposer]
	if !ok {
		return ErrOfferNotFound
	}
	if amount == nil || amount.Cmp(offer.Amount) != 0 {
		return ErrOfferMismatch
	}

	delete(st.CounterOffers, proposer)
	st.Accepted = &AcceptedOffer{Lender: proposer, AcceptedAt: e.now()}
	issued := e.refundAllCounterOffers(st, "")
	e.emit(newEvent(EventTypeCounterOfferAccepted, map[string]string{
		"proposer": string(proposer),
		"amount":   formatAmount(amount),
		"at":       formatTimestamp(st.Accepted.AcceptedAt),
	}))
	e.metrics.SetCounterOffers(0)
	if err := e.putState(st); err != nil {
		return err
	}
	e.dispatchRefunds(issued)
	return nil
}

// CancelCounterOffer withdraws the caller's own unaccepted offer.
func (e *Engine) CancelCounterOffer(caller AccountID) error {
	if err := e.requireClients(); err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if st.Request == nil {
		return ErrNoRequest
	}
	if st.Accepted != nil {
		return ErrOfferAccepted
	}
	offer, ok := st.CounterOffers[caller]
	if !ok {
		return ErrOfferNotFound
	}
	delete(st.CounterOffers, caller)
	intent := e.queueRefundTransfer(st, st.Request.Token, caller, offer.Amount)
	e.emit(newEvent(EventTypeCounterOfferCancel, map[string]string{
		"proposer": string(caller),
		"amount":   formatAmount(offer.Amount),
	}))
	e.metrics.SetCounterOffers(len(st.CounterOffers))
	if err := e.putState(st); err != nil {
		return err
	}
	e.dispatchRefunds([]*CallIntent{intent})
	return nil
}

// CancelLiquidityRequest closes an unaccepted request and refunds every
// outstanding counter offer.
func (e *Engine) CancelLiquidityRequest(caller AccountID) error {
	if err := e.requireClients(); err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if caller != st.Owner {
		return ErrNotOwner
	}
	if st.Request == nil {
		return ErrNoRequest
	}
	if st.Accepted != nil {
		return ErrOfferAccepted
	}
	issued := e.refundAllCounterOffers(st, st.Request.Token)
	st.Request = nil
	st.PendingRequest = nil
	e.emit(newEvent(EventTypeRequestCancelled, nil))
	e.metrics.SetCounterOffers(0)
	if err := e.putState(st); err != nil {
		return err
	}
	e.dispatchRefunds(issued)
	return nil
}

// RepayLoan transfers principal plus interest to the lender. On failure the
// loan stays open; retry is the owner's responsibility, so no refund entry is
// recorded.
func (e *Engine) RepayLoan(caller AccountID) (CallID, error) {
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
	if st.Request == nil {
		return "", ErrNoRequest
	}
	if st.Accepted == nil {
		return "", ErrNoAcceptedOffer
	}
	if st.Liquidation != nil {
		return "", ErrLiquidationActive
	}
	if err := e.acquireLock(st, ProcessingRepayLoan); err != nil {
		return "", err
	}

	total := new(big.Int).Add(st.Request.Amount, st.Request.Interest)
	intent := e.stageCall(st, &CallIntent{
		Kind:     CallRepayLoan,
		Token:    st.Request.Token,
		Receiver: st.Accepted.Lender,
		Amount:   total,
	})
	if err := e.putState(st); err != nil {
		return "", err
	}
	e.tokens.Transfer(intent.ID, intent.Token, intent.Receiver, cloneBigInt(total), "loan repayment")
	return intent.ID, nil
}

// CompleteRepayLoan resolves the repayment transfer.
func (e *Engine) CompleteRepayLoan(id CallID, callErr error) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	intent, err := consumeCall(st, id, CallRepayLoan)
	if err != nil {
		return err
	}
	defer e.releaseLock(st)

	if callErr != nil {
		e.emit(newEvent(EventTypeRepayFailed, map[string]string{
			"lender": string(intent.Receiver),
			"amount": formatAmount(intent.Amount),
			"error":  callErr.Error(),
		}))
		e.metrics.WorkflowOutcome(ProcessingRepayLoan.String(), "failure")
		if putErr := e.putState(st); putErr != nil {
			return putErr
		}
		return fmt.Errorf("%w: repayment transfer to %s: %v", ErrExternalCall, intent.Receiver, callErr)
	}

	st.Request = nil
	st.Accepted = nil
	e.emit(newEvent(EventTypeRepaySucceeded, map[string]string{
		"lender": string(intent.Receiver),
		"amount": formatAmount(intent.Amount),
	}))
	e.metrics.WorkflowOutcome(ProcessingRepayLoan.String(), "success")
	return e.putState(st)
}

// refundAllCounterOffers queues a refund transfer for every stored offer and
// clears the book. An empty token falls back to the open request's token.
func (e *Engine) refundAllCounterOffers(st *State, token AccountID) []*CallIntent {
	if token == "" && st.Request != nil {
		token = st.Request.Token
	}
	issued := make([]*CallIntent, 0, len(st.CounterOffers))
	for _, proposer := range sortedProposers(st.CounterOffers) {
		offer := st.CounterOffers[proposer]
		issued = append(issued, e.queueRefundTransfer(st, token, proposer, offer.Amount))
	}
	st.CounterOffers = nil
	return issued
}

// queueRefundTransfer stages the outbound refund intent. The caller persists
// state and then dispatches the staged transfers.
func (e *Engine) queueRefundTransfer(st *State, token, receiver AccountID, amount *big.Int) *CallIntent {
	return e.stageCall(st, &CallIntent{
		Kind:     CallRefundTransfer,
		Token:    token,
		Receiver: receiver,
		Amount:   cloneBigInt(amount),
	})
}

func (e *Engine) dispatchRefunds(issued []*CallIntent) {
	for _, intent := range issued {
		if intent == nil {
			continue
		}
		e.tokens.Transfer(intent.ID, intent.Token, intent.Receiver, cloneBigInt(intent.Amount), "offer refund")
	}
}

// lowestOffer picks the eviction candidate: smallest amount, ties broken by
// proposer id so the choice is deterministic.
func lowestOffer(offers map[AccountID]*CounterOffer) *CounterOffer {
	var lowest *CounterOffer
	for _, proposer := range sortedProposers(offers) {
		offer := offers[proposer]
		if lowest == nil || offer.Amount.Cmp(lowest.Amount) < 0 {
			lowest = offer
		}
	}
	return lowest
}

func sortedProposers(offers map[AccountID]*CounterOffer) []AccountID {
	out := make([]AccountID, 0, len(offers))
	for proposer := range offers {
		out = append(out, proposer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
