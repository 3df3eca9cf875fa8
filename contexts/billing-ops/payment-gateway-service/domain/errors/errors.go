package errors

import "errors"

var (
	ErrInvalidSignature = errors.New("callback signature verification failed")
	ErrInvalidCallback  = errors.New("invalid callback payload")
	ErrEntryNotFound    = errors.New("payment ledger entry not found")
)
