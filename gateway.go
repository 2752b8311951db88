package hcid

// ScanEnable is the controller's scan-enable bitmask.
type ScanEnable uint8

const (
	ScanDisabled ScanEnable = 0x00
	ScanPage     ScanEnable = 0x01
	ScanInquiry  ScanEnable = 0x02
)

// General and limited inquiry access codes, wire byte order.
var (
	GeneralInquiryLAP = [3]byte{0x33, 0x8B, 0x9E}
	LimitedInquiryLAP = [3]byte{0x00, 0x8B, 0x9E}
)

// Baseband disconnect reason used for host-initiated teardown
// (remote user terminated connection).
const ReasonUserEnded = 0x13

// Gateway issues controller commands on behalf of the adapter. Each
// method returns once the controller has acknowledged the command;
// asynchronous outcomes (inquiry results, name lookups, authentication
// completion) come back through the Adapter's event entry points.
type Gateway interface {
	Up() error
	Down() error

	WriteScanEnable(ScanEnable) error
	// SetLimitedDiscoverable switches the advertised inquiry access
	// codes and the service-class bits between general and limited
	// discoverable mode.
	SetLimitedDiscoverable(class [3]byte, limited bool) error

	Inquiry(lap [3]byte, length, numResponses uint8) error
	InquiryCancel() error
	PeriodicInquiry(lap [3]byte, maxPeriod, minPeriod uint16, length uint8) error
	ExitPeriodicInquiry() error

	RemoteNameRequest(BDAddr) error
	RemoteNameCancel(BDAddr) error

	AuthRequested(handle uint16) error
	PinCodeReply(addr BDAddr, pin string) error
	PinCodeNegReply(BDAddr) error
	DeleteStoredLinkKey(BDAddr) error

	Disconnect(handle uint16, reason uint8) error
}

// IOCond is a condition reported by a Link readiness watch.
type IOCond uint8

const (
	IOOut IOCond = 1 << iota
	IOErr
	IOHup
	IONval
)

// Link is a raw link-layer connection to a peer, dialed non-blocking.
// Bonding uses it only to force the baseband connection up and to keep
// an eye on its health.
type Link interface {
	// SocketError drains the pending socket error, zero if the connect
	// succeeded.
	SocketError() (int, error)
	// Handle returns the baseband connection handle once connected.
	Handle() (uint16, error)
	// Watch arms a one-shot readiness callback for cond. Arming again
	// replaces the previous watch.
	Watch(cond IOCond, fn func(IOCond))
	Close() error
}

// LinkDialer opens raw links; the linux package provides the real one.
type LinkDialer interface {
	Dial(local, peer BDAddr) (Link, error)
}
