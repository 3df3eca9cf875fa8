package errors

import "errors"

var (
	ErrFeedEntryNotFound = errors.New("feed entry not found")
	ErrInvalidFeedInput  = errors.New("invalid feed input")
)
