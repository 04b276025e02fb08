package friendship

import "errors"

// Caller-facing failures. They are returned wrapped with context, so
// callers should test them with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrSelfReference    = errors.New("cannot target yourself")
	ErrDuplicateRequest = errors.New("friend request already sent")
	ErrAlreadyFriends   = errors.New("already friends")
	ErrBlocked          = errors.New("blocked")
	ErrForbidden        = errors.New("not a party to this friendship")
	ErrInvalidState     = errors.New("friendship is not in the required state")
	ErrNotFriends       = errors.New("not friends")
	ErrNotBlocked       = errors.New("user is not blocked")
)

var domainErrors = []error{
	ErrNotFound,
	ErrSelfReference,
	ErrDuplicateRequest,
	ErrAlreadyFriends,
	ErrBlocked,
	ErrForbidden,
	ErrInvalidState,
	ErrNotFriends,
	ErrNotBlocked,
}

// IsDomainError reports whether err is one of the recoverable friendship
// errors rather than an unexpected store failure.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
