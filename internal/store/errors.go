package store

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrNoOpenSession          = errors.New("no open cash session")
	ErrSessionAlreadyOpen     = errors.New("a cash session is already open")
	ErrSessionClosed          = errors.New("cash session is closed")
	ErrInsufficientPayment    = errors.New("insufficient payment")
	ErrExceedsAvailable       = errors.New("amount exceeds available cash")
	ErrNoSpotAvailable        = errors.New("no spot available")
	ErrBlacklistedVehicle     = errors.New("vehicle is blacklisted")
	ErrNotPrepaid             = errors.New("stay is not prepaid")
	ErrAlreadyResolved        = errors.New("blacklist entry already resolved")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUndoInitial            = errors.New("initial transaction cannot be undone")
)
