package hcid

// Notifier receives the adapter's broadcast events. The bus package
// turns these into D-Bus signals. Calls are made under the adapter lock
// and must not call back into the adapter.
type Notifier interface {
	ModeChanged(mode string)
	DiscoverableTimeoutChanged(seconds uint32)

	DiscoveryStarted()
	DiscoveryCompleted()
	PeriodicDiscoveryStarted()
	PeriodicDiscoveryStopped()
	RemoteDeviceFound(addr string, class uint32, rssi int16)
	RemoteNameUpdated(addr, name string)
	RemoteNameFailed(addr string)

	RemoteDeviceConnected(addr string)
	RemoteDeviceDisconnected(addr string)
	DisconnectRequested(addr string)

	BondingCreated(addr string)
	BondingRemoved(addr string)

	TrustAdded(addr string)
	TrustRemoved(addr string)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) ModeChanged(string)                    {}
func (NopNotifier) DiscoverableTimeoutChanged(uint32)     {}
func (NopNotifier) DiscoveryStarted()                     {}
func (NopNotifier) DiscoveryCompleted()                   {}
func (NopNotifier) PeriodicDiscoveryStarted()             {}
func (NopNotifier) PeriodicDiscoveryStopped()             {}
func (NopNotifier) RemoteDeviceFound(string, uint32, int16) {}
func (NopNotifier) RemoteNameUpdated(string, string)      {}
func (NopNotifier) RemoteNameFailed(string)               {}
func (NopNotifier) RemoteDeviceConnected(string)          {}
func (NopNotifier) RemoteDeviceDisconnected(string)       {}
func (NopNotifier) DisconnectRequested(string)            {}
func (NopNotifier) BondingCreated(string)                 {}
func (NopNotifier) BondingRemoved(string)                 {}
func (NopNotifier) TrustAdded(string)                     {}
func (NopNotifier) TrustRemoved(string)                   {}
