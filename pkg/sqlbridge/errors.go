package sqlbridge

import "errors"

// sentinel errors returned by the bridge. callers are expected to match with
// errors.Is as all returned errors wrap one of these.
var (
	// ErrRegistration indicates the engine rejected a function registration,
	// e.g. a reserved name or an arity outside the supported range.
	ErrRegistration = errors.New("function registration rejected")

	// ErrExtensionUnavailable indicates the engine refused the registration
	// call itself, i.e. it was built without user-function support.
	ErrExtensionUnavailable = errors.New("engine built without user-function support")

	// ErrConnClosed is returned on any operation against a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrContractViolation marks a callback that broke the invocation
	// protocol, e.g. panicked instead of reporting through its CallContext.
	// A second result setter is downgraded to a logged no-op; a panic is
	// recovered and surfaced to the engine as the statement error wrapping
	// this sentinel.
	ErrContractViolation = errors.New("callback contract violation")
)
