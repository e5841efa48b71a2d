package entity

import "errors"

// Error kinds reported by the store and the circulation engine. Wrap them with
// fmt.Errorf("%w: ...") and match with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("already exists")
	ErrForbidden       = errors.New("forbidden")
	ErrOutOfStock      = errors.New("no copies available")
	ErrAlreadyBorrowed = errors.New("already borrowed")
	ErrUnauthorized    = errors.New("invalid credentials")
	ErrLimitReached    = errors.New("lending limit reached")
	ErrInvalidInput    = errors.New("invalid input")
)
