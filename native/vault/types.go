package vault

import (
	"math/big"
	"sort"
	"strings"
)

// Protocol constants. Amounts are denominated in the chain's smallest unit
// (1e24 units per whole token).
const (
	// MaxActiveValidators bounds the validator set a vault may delegate to.
	MaxActiveValidators = 2
	// MaxCounterOffers bounds the competitive offer book per request.
	MaxCounterOffers = 7
	// UnlockEpochs is the number of epochs before unstaked funds mature.
	UnlockEpochs = 4
	// RefundExpiryEpochs is the age after which an unclaimed refund entry is
	// dropped on a failed retry.
	RefundExpiryEpochs = 4
	// LockTimeoutSeconds is the age after which a processing lock is treated
	// as stale and may be overwritten by the next acquire.
	LockTimeoutSeconds = 30 * 60
)

// storageReserve is the native balance the vault always keeps back so the
// account can continue to pay for its own storage. Every "available balance"
// computation subtracts it.
var storageReserve = func() *big.Int {
	v, _ := new(big.Int).SetString("10000000000000000000000", 10) // 0.01 token
	return v
}()

// takeoverPrice is the flat amount a claimant must attach to take over a
// vault listed by its owner.
var takeoverPrice = func() *big.Int {
	v, _ := new(big.Int).SetString("100000000000000000000000", 10) // 0.1 token
	return v
}()

// StorageReserve returns a copy of the reserved-balance constant.
func StorageReserve() *big.Int { return new(big.Int).Set(storageReserve) }

// TakeoverPrice returns a copy of the vault takeover price.
func TakeoverPrice() *big.Int { return new(big.Int).Set(takeoverPrice) }

// AccountID identifies an external account: the vault owner, a validator pool
// service, a token contract, or a lender.
type AccountID string

// Valid reports whether the account identifier is non-empty after trimming.
func (a AccountID) Valid() bool { return strings.TrimSpace(string(a)) != "" }

// ProcessingState identifies which long-running workflow currently holds the
// vault's processing lock.
type ProcessingState uint8

const (
	// ProcessingIdle means no workflow is in flight.
	ProcessingIdle ProcessingState = iota
	ProcessingDelegate
	ProcessingUndelegate
	ProcessingClaimUnstaked
	ProcessingRequestLiquidity
	ProcessingRepayLoan
	ProcessingClaims
	ProcessingClaimVault
)

// String renders the workflow kind for events and metrics labels.
func (s ProcessingState) String() string {
	switch s {
	case ProcessingIdle:
		return "idle"
	case ProcessingDelegate:
		return "delegate"
	case ProcessingUndelegate:
		return "undelegate"
	case ProcessingClaimUnstaked:
		return "claim_unstaked"
	case ProcessingRequestLiquidity:
		return "request_liquidity"
	case ProcessingRepayLoan:
		return "repay_loan"
	case ProcessingClaims:
		return "process_claims"
	case ProcessingClaimVault:
		return "claim_vault"
	default:
		return "unknown"
	}
}

// ProcessingLock records the workflow kind holding the vault and when it was
// acquired. Absent (nil) when the vault is idle.
type ProcessingLock struct {
	Kind      ProcessingState `json:"kind"`
	StartedAt int64           `json:"startedAt"`
}

// UnstakeEntry tracks funds unstaked from one validator and the epoch of the
// most recent unstake. The amount accumulates across undelegations; the epoch
// resets, restarting the unlock timer for the whole entry.
type UnstakeEntry struct {
	Amount *big.Int `json:"amount"`
	Epoch  uint64   `json:"epoch"`
}

// MaturedAt reports whether the entry is withdrawable at the given epoch.
func (u *UnstakeEntry) MaturedAt(epoch uint64) bool {
	return u != nil && epoch >= u.Epoch+UnlockEpochs
}

// PendingLiquidityRequest holds a request while the vault confirms its staked
// balance covers the collateral. At most one pending or finalized request may
// exist at a time.
type PendingLiquidityRequest struct {
	Token      AccountID `json:"token"`
	Amount     *big.Int  `json:"amount"`
	Interest   *big.Int  `json:"interest"`
	Collateral *big.Int  `json:"collateral"`
	Duration   int64     `json:"duration"`
}

// LiquidityRequest is an owner-posted borrow offer collateralized by staked
// funds, finalized once the collateral check passed.
type LiquidityRequest struct {
	Token      AccountID `json:"token"`
	Amount     *big.Int  `json:"amount"`
	Interest   *big.Int  `json:"interest"`
	Collateral *big.Int  `json:"collateral"`
	Duration   int64     `json:"duration"`
	CreatedAt  int64     `json:"createdAt"`
}

// CounterOffer is a lender's bid below the requested amount.
type CounterOffer struct {
	Proposer  AccountID `json:"proposer"`
	Amount    *big.Int  `json:"amount"`
	Timestamp int64     `json:"timestamp"`
}

// AcceptedOffer marks the loan as active and enforceable.
type AcceptedOffer struct {
	Lender     AccountID `json:"lender"`
	AcceptedAt int64     `json:"acceptedAt"`
}

// Liquidation tracks the cumulative native amount recovered for the lender
// once the loan defaulted past expiry.
type Liquidation struct {
	Liquidated *big.Int `json:"liquidated"`
}

// RefundEntry is a durable record of an outbound transfer that failed to
// deliver. An empty Token means the native balance.
type RefundEntry struct {
	Token        AccountID `json:"token,omitempty"`
	Proposer     AccountID `json:"proposer"`
	Amount       *big.Int  `json:"amount"`
	AddedAtEpoch uint64    `json:"addedAtEpoch"`
}

// Native reports whether the refund is owed from the native balance.
func (r *RefundEntry) Native() bool { return r != nil && r.Token == "" }

// ExpiredAt reports whether the entry is past its retry window.
func (r *RefundEntry) ExpiredAt(epoch uint64) bool {
	return r != nil && epoch >= r.AddedAtEpoch+RefundExpiryEpochs
}

// UnstakeInstruction sizes one validator's share of a batch unstake during
// liquidation. Full marks that the instruction drains the validator's entire
// staked balance.
type UnstakeInstruction struct {
	Validator AccountID `json:"validator"`
	Amount    *big.Int  `json:"amount"`
	Full      bool      `json:"full"`
}

// State is the complete persisted state of one vault.
type State struct {
	Owner   AccountID `json:"owner"`
	Index   uint64    `json:"index"`
	Version uint64    `json:"version"`

	LiquidBalance *big.Int `json:"liquidBalance"`

	ActiveValidators []AccountID                 `json:"activeValidators"`
	UnstakeEntries   map[AccountID]*UnstakeEntry `json:"unstakeEntries"`

	PendingRequest *PendingLiquidityRequest    `json:"pendingRequest,omitempty"`
	Request        *LiquidityRequest           `json:"request,omitempty"`
	CounterOffers  map[AccountID]*CounterOffer `json:"counterOffers,omitempty"`
	Accepted       *AcceptedOffer              `json:"accepted,omitempty"`
	Liquidation    *Liquidation                `json:"liquidation,omitempty"`

	Refunds     map[uint64]*RefundEntry `json:"refunds"`
	RefundNonce uint64                  `json:"refundNonce"`

	ListedForTakeover bool `json:"listedForTakeover"`

	Lock  *ProcessingLock        `json:"lock,omitempty"`
	Calls map[CallID]*CallIntent `json:"calls,omitempty"`
}

// NewState initializes the state of a freshly created vault. The factory
// collaborator supplies owner, index and version.
func NewState(owner AccountID, index, version uint64) *State {
	return &State{
		Owner:          owner,
		Index:          index,
		Version:        version,
		LiquidBalance:  big.NewInt(0),
		UnstakeEntries: make(map[AccountID]*UnstakeEntry),
		Refunds:        make(map[uint64]*RefundEntry),
		Calls:          make(map[CallID]*CallIntent),
	}
}

func (s *State) normalize() {
	if s.LiquidBalance == nil {
		s.LiquidBalance = big.NewInt(0)
	}
	if s.UnstakeEntries == nil {
		s.UnstakeEntries = make(map[AccountID]*UnstakeEntry)
	}
	if s.Refunds == nil {
		s.Refunds = make(map[uint64]*RefundEntry)
	}
	if s.Calls == nil {
		s.Calls = make(map[CallID]*CallIntent)
	}
}

// AvailableBalance returns the liquid balance minus the storage reserve,
// clamped at zero.
func (s *State) AvailableBalance() *big.Int {
	avail := new(big.Int).Sub(s.LiquidBalance, storageReserve)
	if avail.Sign() < 0 {
		return big.NewInt(0)
	}
	return avail
}

// HasValidator reports membership in the active validator set.
func (s *State) HasValidator(validator AccountID) bool {
	for _, v := range s.ActiveValidators {
		if v == validator {
			return true
		}
	}
	return false
}

func (s *State) addValidator(validator AccountID) {
	if s.HasValidator(validator) {
		return
	}
	s.ActiveValidators = append(s.ActiveValidators, validator)
	sort.Slice(s.ActiveValidators, func(i, j int) bool {
		return s.ActiveValidators[i] < s.ActiveValidators[j]
	})
}

func (s *State) removeValidator(validator AccountID) {
	out := s.ActiveValidators[:0]
	for _, v := range s.ActiveValidators {
		if v != validator {
			out = append(out, v)
		}
	}
	s.ActiveValidators = out
}

// SortedValidators returns a sorted snapshot of the active validator set.
// Every batched external call iterates this snapshot so the same logical
// operation always visits validators in the same order.
func (s *State) SortedValidators() []AccountID {
	out := append([]AccountID(nil), s.ActiveValidators...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *State) nextRefundID() uint64 {
	id := s.RefundNonce
	s.RefundNonce++
	return id
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
