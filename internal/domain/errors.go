package domain

import "errors"

var (
	ErrLockHeld          = errors.New("lock already held")
	ErrDuplicateDecision = errors.New("decision already recorded for this candle")
	ErrZeroQuantity      = errors.New("sized quantity rounds to zero")
	ErrInvalidSnapshot   = errors.New("invalid market snapshot")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrOrderRejected     = errors.New("order rejected")
	ErrCancelUnconfirmed = errors.New("cancel not confirmed")
	ErrNotFound          = errors.New("not found")
)
