package authflow

import "errors"

var (
	// ErrNotRegistered is returned by SubmitEmail when no account uses the address.
	ErrNotRegistered = errors.New("email not registered")
	// ErrInvalidCredential covers a wrong password, email code, TOTP or backup code.
	ErrInvalidCredential = errors.New("invalid code or password")
	// ErrAttemptsExhausted is returned once the failure cap of the current step is reached.
	ErrAttemptsExhausted = errors.New("too many attempts")
	// ErrRateLimited is returned when the email lookup limiter rejects a submission.
	ErrRateLimited = errors.New("too many requests, slow down")
	// ErrUnavailable is returned for store, cache or mail failures. Retrying is safe.
	ErrUnavailable = errors.New("service temporarily unavailable")

	// ErrInvalidStep is returned when an operation does not apply to the current step.
	ErrInvalidStep = errors.New("operation not valid for current sign-in step")
	// ErrAttemptNotFound is returned when a persisted attempt expired or never existed.
	ErrAttemptNotFound = errors.New("sign-in attempt not found")
	// ErrAttemptConflict is returned when a persisted attempt was saved by another request first.
	ErrAttemptConflict = errors.New("sign-in attempt modified concurrently")

	// ErrUserNotFound is returned by CredentialStore implementations for unknown users.
	ErrUserNotFound = errors.New("user not found")
	// ErrPasswordRequired is returned when enabling two-factor for an account without a password.
	ErrPasswordRequired = errors.New("a password is required to enable two-factor authentication")
	// ErrTwoFactorAlreadyEnabled is returned by enrollment on an account that already has two-factor.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	// ErrTwoFactorNotEnabled is returned by operations that need an active two-factor setup.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication not enabled")
	// ErrEnrollmentExpired is returned when no pending TOTP secret exists for the user.
	ErrEnrollmentExpired = errors.New("two-factor setup expired, start again")
	// ErrEngineNotReady is returned when the engine is nil or missing a dependency.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorKind groups errors into the categories a UI needs to render.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNotRegistered
	KindInvalidCredential
	KindAttemptsExhausted
	KindRateLimited
	KindTransient
	KindInvalidRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotRegistered:
		return "not_registered"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindAttemptsExhausted:
		return "attempts_exhausted"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "unavailable"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// KindOf classifies err. Errors not produced by this package are transient.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotRegistered):
		return KindNotRegistered
	case errors.Is(err, ErrInvalidCredential):
		return KindInvalidCredential
	case errors.Is(err, ErrAttemptsExhausted):
		return KindAttemptsExhausted
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrEngineNotReady):
		return KindTransient
	case errors.Is(err, ErrInvalidStep),
		errors.Is(err, ErrAttemptNotFound),
		errors.Is(err, ErrAttemptConflict),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrPasswordRequired),
		errors.Is(err, ErrTwoFactorAlreadyEnabled),
		errors.Is(err, ErrTwoFactorNotEnabled),
		errors.Is(err, ErrEnrollmentExpired):
		return KindInvalidRequest
	default:
		return KindTransient
	}
}
