package cart

import "errors"

var (
	ErrDuplicateItem  = errors.New("item already in cart")
	ErrItemIDRequired = errors.New("item id required")
	ErrNotFound       = errors.New("item not in cart")
	ErrNotLocked      = errors.New("cart line has no active reservation")
	ErrInvalidTaxRate = errors.New("tax rate must be >= 0")
	ErrAlreadyRunning = errors.New("expiration loop already running")
)
