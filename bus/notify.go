package bus

import (
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

// notifier broadcasts adapter events as D-Bus signals on the adapter
// object path.
type notifier struct {
	conn *dbus.Conn
	path dbus.ObjectPath
	log  logrus.FieldLogger
}

func (n *notifier) emit(member string, args ...interface{}) {
	if err := n.conn.Emit(n.path, adapterInterface+"."+member, args...); err != nil {
		n.log.WithError(err).WithField("signal", member).Warn("signal emission failed")
	}
}

func (n *notifier) ModeChanged(mode string)                 { n.emit("ModeChanged", mode) }
func (n *notifier) DiscoverableTimeoutChanged(secs uint32)  { n.emit("DiscoverableTimeoutChanged", secs) }
func (n *notifier) DiscoveryStarted()                       { n.emit("DiscoveryStarted") }
func (n *notifier) DiscoveryCompleted()                     { n.emit("DiscoveryCompleted") }
func (n *notifier) PeriodicDiscoveryStarted()               { n.emit("PeriodicDiscoveryStarted") }
func (n *notifier) PeriodicDiscoveryStopped()               { n.emit("PeriodicDiscoveryStopped") }
func (n *notifier) RemoteNameUpdated(addr, name string)     { n.emit("RemoteNameUpdated", addr, name) }
func (n *notifier) RemoteNameFailed(addr string)            { n.emit("RemoteNameFailed", addr) }
func (n *notifier) RemoteDeviceConnected(addr string)       { n.emit("RemoteDeviceConnected", addr) }
func (n *notifier) RemoteDeviceDisconnected(addr string)    { n.emit("RemoteDeviceDisconnected", addr) }
func (n *notifier) DisconnectRequested(addr string)         { n.emit("RemoteDeviceDisconnectRequested", addr) }
func (n *notifier) BondingCreated(addr string)              { n.emit("BondingCreated", addr) }
func (n *notifier) BondingRemoved(addr string)              { n.emit("BondingRemoved", addr) }
func (n *notifier) TrustAdded(addr string)                  { n.emit("TrustAdded", addr) }
func (n *notifier) TrustRemoved(addr string)                { n.emit("TrustRemoved", addr) }

func (n *notifier) RemoteDeviceFound(addr string, class uint32, rssi int16) {
	n.emit("RemoteDeviceFound", addr, class, rssi)
}
