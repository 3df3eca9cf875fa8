package errors

import "errors"

var (
	ErrAllocationNotFound     = errors.New("allocation not found")
	ErrAllocationExists       = errors.New("allocation already exists for school, caterer and delivery date")
	ErrDeliveryNotFound       = errors.New("delivery not found")
	ErrConfirmationNotFound   = errors.New("delivery confirmation not found")
	ErrConfirmationExists     = errors.New("delivery already has a confirmation")
	ErrInvalidAllocationInput = errors.New("invalid allocation input")
	ErrInvalidConfirmation    = errors.New("invalid delivery confirmation input")
	ErrUnauthorizedVerifier   = errors.New("verifier is not authorized for the delivery school")
	ErrAllocationNotLocked    = errors.New("allocation is not in locked state")
	ErrInvalidStateTransition = errors.New("invalid allocation state transition")

	// ErrEscrowLockFailed and ErrEscrowReleaseFailed signal that the on-chain
	// call failed or timed out. Local state has been rolled back to the
	// pre-attempt values, so the caller may verify allocation status and retry.
	ErrEscrowLockFailed    = errors.New("escrow lock call failed, allocation reverted and retryable")
	ErrEscrowReleaseFailed = errors.New("escrow release call failed, confirmation rolled back and retryable")
)
