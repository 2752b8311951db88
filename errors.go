package hcid

import "fmt"

// Error is a request error carrying a symbolic name so a transport
// front-end can map it onto its own error namespace without parsing
// message text.
type Error struct {
	Name    string
	Message string
}

func (e *Error) Error() string { return e.Message }

const (
	nameInvalidArguments     = "InvalidArguments"
	nameNotReady             = "NotReady"
	nameInProgress           = "InProgress"
	nameNotAuthorized        = "NotAuthorized"
	nameAlreadyExists        = "AlreadyExists"
	nameBondingDoesNotExist  = "DoesNotExist"
	nameNotConnected         = "NotConnected"
	nameNotAvailable         = "NotAvailable"
	nameRequestDeferred      = "RequestDeferred"
	nameConnectionAttemptErr = "ConnectionAttemptFailed"
	nameAuthenticationCancel = "AuthenticationCanceled"
	nameAuthenticationFailed = "AuthenticationFailed"
	nameFailed               = "Failed"
)

var (
	errNotReady      = &Error{Name: nameNotReady, Message: "adapter is not ready"}
	errNotConnected  = &Error{Name: nameNotConnected, Message: "device is not connected"}
	errNotAvailable  = &Error{Name: nameNotAvailable, Message: "requested information not available"}
	errNotAuthorized = &Error{Name: nameNotAuthorized, Message: "rejected or canceled request"}

	// ErrDeferred is returned by operations that will deliver their
	// result later through a notification instead of a direct reply.
	ErrDeferred = &Error{Name: nameRequestDeferred, Message: "request queued"}

	errNoSuchBonding = &Error{Name: nameBondingDoesNotExist, Message: "bonding does not exist"}

	errConnectionAttempt = &Error{Name: nameConnectionAttemptErr, Message: "connection attempt failed"}
	errAuthCanceled      = &Error{Name: nameAuthenticationCancel, Message: "authentication canceled"}

	// errNoReply marks a deferred reply whose requester vanished before
	// the result was known; front-ends should drop it on the floor.
	errNoReply = &Error{Name: nameFailed, Message: "requester exited"}
)

func errInvalidArgs(msg string) *Error {
	return &Error{Name: nameInvalidArguments, Message: msg}
}

func errInProgress(msg string) *Error {
	return &Error{Name: nameInProgress, Message: msg}
}

func errAlreadyExists(msg string) *Error {
	return &Error{Name: nameAlreadyExists, Message: msg}
}

func errFailed(msg string) *Error {
	return &Error{Name: nameFailed, Message: msg}
}

func failedFrom(err error) *Error {
	return &Error{Name: nameFailed, Message: err.Error()}
}

// authFailure wraps a baseband authentication status code. Status zero
// means the controller gave no specific reason.
func authFailure(status uint8) *Error {
	if status == 0 {
		status = hciAuthenticationFailure
	}
	return &Error{
		Name:    nameAuthenticationFailed,
		Message: fmt.Sprintf("authentication failed (status 0x%02X)", status),
	}
}
