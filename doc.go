// Package hcid implements the control plane of a classic Bluetooth
// host adapter: scan-mode arbitration, device discovery, pairing and
// connection management for one local controller.
//
// The Adapter type is the core. It consumes a Gateway (the command
// surface of the controller), a Storage (per-peer persistent records),
// a Notifier (broadcast events) and a ClientWatcher (requester
// liveness), and is driven from two directions: request methods called
// on behalf of clients, and event methods called by the transport when
// the controller reports something. The linux subpackage provides the
// Gateway over an HCI socket and the bus subpackage exposes the adapter
// on the D-Bus system bus under the org.bluez name.
//
// ARBITRATION
//
// The adapter keeps one global scan mode (off, connectable,
// discoverable or limited) plus transient per-client sessions layered
// on top of it. A session requested through RequestMode elevates the
// mode after the authorization agent confirms; when the last session
// ends, by release or by its requester exiting the bus, the global mode
// is restored. A discoverable timeout demotes an unattended
// discoverable adapter back to connectable.
//
// Long-running operations (discovery cancellation, bonding,
// disconnection) answer through a Reply once the controller reports
// the outcome. Every requester is watched for the duration of its
// operation, so a client that dies mid-flight has its work unwound.
//
// SETUP
//
// The daemon in examples/hcid needs raw HCI socket access, so it must
// run as root or be granted the capability:
//
//	sudo setcap 'CAP_NET_ADMIN=+ep' <executable>
//
// Stop any other Bluetooth daemon holding the controller first, e.g.:
//
//	sudo service bluetooth stop
package hcid
