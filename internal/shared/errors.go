package shared

import "errors"

// Error taxonomy shared by every domain package. Handlers map these to HTTP
// problems through httpx.RespondError.
var (
	// ErrUnauthenticated indicates the request carries no valid session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates a valid session whose role may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition indicates a lifecycle edge outside the allowed set.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrDebtLimitExceeded indicates a charge that would breach the dealer debt limit.
	ErrDebtLimitExceeded = errors.New("debt limit exceeded")
	// ErrInvalidAmount indicates a non-positive or out-of-range monetary amount.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrExpired indicates a quotation past its validity window.
	ErrExpired = errors.New("expired")
	// ErrConfiguration indicates a programming error such as an unknown role or route.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the stored state no longer matches the expected state.
	ErrConflict = errors.New("state conflict")
	// ErrValidation indicates a malformed request payload.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
