package vault

import "errors"

var (
	errNilState = errors.New("vault engine: state not configured")

	// ErrLockBusy is returned when a workflow cannot start because another
	// non-stale workflow holds the processing lock. Retryable.
	ErrLockBusy = errors.New("vault: processing lock busy")

	// ErrNotOwner guards owner-only operations.
	ErrNotOwner = errors.New("vault: caller is not the vault owner")

	// ErrInvalidAmount rejects zero or negative amounts.
	ErrInvalidAmount = errors.New("vault: amount must be greater than zero")

	// ErrInsufficientBalance rejects spends beyond the available balance.
	ErrInsufficientBalance = errors.New("vault: amount exceeds available balance")

	// ErrValidatorLimit rejects delegation beyond the active-set capacity.
	ErrValidatorLimit = errors.New("vault: active validator limit reached")

	// ErrValidatorNotActive rejects operations on unknown validators.
	ErrValidatorNotActive = errors.New("vault: validator is not currently active")

	// ErrNoUnstakeEntry means nothing is maturing for the validator.
	ErrNoUnstakeEntry = errors.New("vault: no unstake entry for validator")

	// ErrNotYetClaimable means the unlock delay has not elapsed.
	ErrNotYetClaimable = errors.New("vault: unstaked funds not yet claimable")

	// ErrRequestOpen rejects a second concurrent liquidity request.
	ErrRequestOpen = errors.New("vault: a liquidity request is already open")

	// ErrNoRequest means no liquidity request exists.
	ErrNoRequest = errors.New("vault: no liquidity request available")

	// ErrOfferAccepted rejects mutations after a lender was matched.
	ErrOfferAccepted = errors.New("vault: liquidity request already accepted")

	// ErrNoAcceptedOffer means no loan is active.
	ErrNoAcceptedOffer = errors.New("vault: no accepted offer")

	// ErrLiquidationActive blocks operations while the waterfall runs.
	ErrLiquidationActive = errors.New("vault: liquidation in progress")

	// ErrRefundsPending blocks balance movements while refunds are owed.
	ErrRefundsPending = errors.New("vault: pending refund entries must be settled first")

	// ErrOfferNotFound means the proposer has no stored counter offer.
	ErrOfferNotFound = errors.New("vault: counter offer not found")

	// ErrOfferMismatch means the supplied amount differs from the stored offer.
	ErrOfferMismatch = errors.New("vault: amount does not match counter offer")

	// ErrOfferTooLow rejects an offer that would not displace the current
	// lowest offer in a full book.
	ErrOfferTooLow = errors.New("vault: offer does not beat the lowest stored offer")

	// ErrOfferOutOfRange rejects offers outside (0, requested amount).
	ErrOfferOutOfRange = errors.New("vault: offer must be below the requested amount")

	// ErrTokenMismatch means the transferred token is not the requested one.
	ErrTokenMismatch = errors.New("vault: token does not match liquidity request")

	// ErrMessageMismatch means the tagged message terms differ from the
	// open request.
	ErrMessageMismatch = errors.New("vault: message terms do not match liquidity request")

	// ErrInsufficientCollateral rejects a request the staked balance cannot
	// back.
	ErrInsufficientCollateral = errors.New("vault: insufficient staked balance for collateral")

	// ErrLoanNotExpired means liquidation was attempted before expiry.
	ErrLoanNotExpired = errors.New("vault: loan has not expired")

	// ErrUnknownCall means a continuation arrived for a call that was never
	// issued, or was already resolved.
	ErrUnknownCall = errors.New("vault: unknown or already resolved call")

	// ErrExternalCall wraps a failure reported by the host runtime for an
	// issued external call.
	ErrExternalCall = errors.New("vault: external call failed")

	// ErrNoRefundsForCaller means retry found nothing the caller may claim.
	ErrNoRefundsForCaller = errors.New("vault: no refundable entries for caller")

	// ErrNotListed and ErrAlreadyListed guard the takeover listing.
	ErrNotListed     = errors.New("vault: not listed for takeover")
	ErrAlreadyListed = errors.New("vault: already listed for takeover")

	// ErrSelfClaim rejects an owner claiming their own listed vault.
	ErrSelfClaim = errors.New("vault: owner cannot claim their own vault")

	// ErrWrongDeposit rejects a takeover deposit that is not exactly the
	// listed price.
	ErrWrongDeposit = errors.New("vault: deposit must equal the takeover price")

	// ErrSameOwner rejects transferring ownership to the current owner.
	ErrSameOwner = errors.New("vault: new owner must differ from current owner")

	// ErrWithdrawBlocked rejects withdrawals forbidden by the loan state.
	ErrWithdrawBlocked = errors.New("vault: withdrawal not permitted in current state")
)
