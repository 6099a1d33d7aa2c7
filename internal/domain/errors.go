package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrUnauthorized          = errors.New("unauthorized callback")
	ErrInvalidProposal       = errors.New("proposed answer is not the affirmative value")
	ErrUnsettleable          = errors.New("oracle has no settleable answer yet")
	ErrIllegalTransition     = errors.New("illegal trigger state transition")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrLockHeld              = errors.New("lock already held")
	ErrContextDone           = errors.New("context cancelled")
)
