package hcid

// Agent is the user-facing authorization surface. Calls must not block;
// results arrive through the done callbacks, which the adapter runs
// under its own lock.
type Agent interface {
	// ConfirmModeChange asks whether a mode downgrade or a session
	// upgrade may proceed. done receives nil on approval.
	ConfirmModeChange(mode string, done func(error))
	// RequestPinCode asks for a PIN for the given peer.
	RequestPinCode(addr BDAddr, done func(pin string, err error))
	// Cancel aborts whatever question the agent is currently showing.
	Cancel()
	// Release tells the agent it is no longer needed.
	Release()
}
