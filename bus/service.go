// Package bus exposes an adapter over D-Bus: the method surface, the
// broadcast signals, client liveness tracking and the passkey-agent
// proxy.
package bus

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/XC-/hcid"
)

const (
	busName          = "org.bluez"
	adapterInterface = "org.bluez.Adapter"
)

// Service binds one adapter to a D-Bus connection.
type Service struct {
	conn    *dbus.Conn
	adapter *hcid.Adapter
	path    dbus.ObjectPath
	log     logrus.FieldLogger
}

// New exports the adapter at /org/bluez/hciN and returns the wired
// notifier and watcher so the caller can hand them to the adapter's
// constructor.
func New(conn *dbus.Conn, devID int) (*Service, hcid.Notifier, *Watcher, error) {
	path := dbus.ObjectPath(fmt.Sprintf("/org/bluez/hci%d", devID))
	w, err := NewWatcher(conn)
	if err != nil {
		return nil, nil, nil, err
	}
	s := &Service{
		conn: conn,
		path: path,
		log:  logrus.WithField("path", string(path)),
	}
	n := &notifier{conn: conn, path: path, log: s.log}
	return s, n, w, nil
}

// Serve exports the method table and claims the well-known bus name.
func (s *Service) Serve(a *hcid.Adapter) error {
	s.adapter = a
	if err := s.conn.Export(s, s.path, adapterInterface); err != nil {
		return err
	}
	reply, err := s.conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already taken", busName)
	}
	s.log.Info("adapter exported")
	return nil
}

// deferred bridges a Reply-based operation to a blocking method
// handler. D-Bus handlers run on their own goroutines, so blocking
// here holds up only this caller.
func deferred(fn func(r *hcid.Reply)) *dbus.Error {
	ch := make(chan error, 1)
	fn(hcid.NewReply(func(err error) { ch <- err }))
	return mapErr(<-ch)
}

// Mode and sessions

func (s *Service) GetAddress() (string, *dbus.Error) {
	return s.adapter.Address().String(), nil
}

func (s *Service) GetMode() (string, *dbus.Error) {
	return s.adapter.Mode().String(), nil
}

func (s *Service) ListAvailableModes() ([]string, *dbus.Error) {
	return s.adapter.AvailableModes(), nil
}

func (s *Service) IsConnectable() (bool, *dbus.Error) {
	return s.adapter.IsConnectable(), nil
}

func (s *Service) IsDiscoverable() (bool, *dbus.Error) {
	return s.adapter.IsDiscoverable(), nil
}

func (s *Service) SetMode(sender dbus.Sender, mode string) *dbus.Error {
	return deferred(func(r *hcid.Reply) {
		s.adapter.SetMode(string(sender), mode, r)
	})
}

func (s *Service) RequestMode(sender dbus.Sender, mode string) *dbus.Error {
	return deferred(func(r *hcid.Reply) {
		s.adapter.RequestMode(string(sender), mode, r)
	})
}

func (s *Service) ReleaseMode(sender dbus.Sender) *dbus.Error {
	return mapErr(s.adapter.ReleaseMode(string(sender)))
}

func (s *Service) GetDiscoverableTimeout() (uint32, *dbus.Error) {
	return s.adapter.DiscoverableTimeout(), nil
}

func (s *Service) SetDiscoverableTimeout(seconds uint32) *dbus.Error {
	return mapErr(s.adapter.SetDiscoverableTimeout(seconds))
}

// Discovery

func (s *Service) DiscoverDevices(sender dbus.Sender) *dbus.Error {
	return mapErr(s.adapter.DiscoverDevices(string(sender)))
}

func (s *Service) DiscoverDevicesWithoutNameResolving(sender dbus.Sender) *dbus.Error {
	return mapErr(s.adapter.DiscoverDevicesWithoutNameResolving(string(sender)))
}

func (s *Service) CancelDiscovery(sender dbus.Sender) *dbus.Error {
	return deferred(func(r *hcid.Reply) {
		s.adapter.CancelDiscovery(string(sender), r)
	})
}

func (s *Service) StartPeriodicDiscovery(sender dbus.Sender) *dbus.Error {
	return mapErr(s.adapter.StartPeriodicDiscovery(string(sender)))
}

func (s *Service) StopPeriodicDiscovery(sender dbus.Sender) *dbus.Error {
	return mapErr(s.adapter.StopPeriodicDiscovery(string(sender)))
}

func (s *Service) IsPeriodicDiscovery() (bool, *dbus.Error) {
	return s.adapter.IsPeriodicDiscovery(), nil
}

func (s *Service) SetPeriodicDiscoveryNameResolving(resolve bool) *dbus.Error {
	s.adapter.SetPeriodicDiscoveryNameResolving(resolve)
	return nil
}

func (s *Service) GetPeriodicDiscoveryNameResolving() (bool, *dbus.Error) {
	return s.adapter.PeriodicDiscoveryNameResolving(), nil
}

func (s *Service) GetRemoteName(address string) (string, *dbus.Error) {
	name, err := s.adapter.GetRemoteName(address)
	if err != nil {
		return "", mapErr(err)
	}
	return name, nil
}

// Bonding

func (s *Service) CreateBonding(sender dbus.Sender, address string) *dbus.Error {
	return deferred(func(r *hcid.Reply) {
		s.adapter.CreateBonding(string(sender), address, r)
	})
}

func (s *Service) CreatePairedDevice(sender dbus.Sender, address string, agentPath dbus.ObjectPath) *dbus.Error {
	agent := newAgentProxy(s.conn, string(sender), agentPath)
	return deferred(func(r *hcid.Reply) {
		s.adapter.CreatePairedDevice(string(sender), address, agent, r)
	})
}

func (s *Service) CancelBondingProcess(sender dbus.Sender, address string) *dbus.Error {
	return mapErr(s.adapter.CancelBondingProcess(string(sender), address))
}

func (s *Service) RemoveBonding(address string) *dbus.Error {
	return mapErr(s.adapter.RemoveBonding(address))
}

func (s *Service) HasBonding(address string) (bool, *dbus.Error) {
	ok, err := s.adapter.HasBonding(address)
	if err != nil {
		return false, mapErr(err)
	}
	return ok, nil
}

// Connections

func (s *Service) ListConnections() ([]string, *dbus.Error) {
	return s.adapter.ListConnections(), nil
}

func (s *Service) DisconnectRemoteDevice(address string) *dbus.Error {
	return deferred(func(r *hcid.Reply) {
		s.adapter.DisconnectRemoteDevice(address, r)
	})
}

// Trust

func (s *Service) SetTrusted(address string) *dbus.Error {
	return mapErr(s.adapter.SetTrusted(address))
}

func (s *Service) IsTrusted(address string) (bool, *dbus.Error) {
	ok, err := s.adapter.IsTrusted(address)
	if err != nil {
		return false, mapErr(err)
	}
	return ok, nil
}

func (s *Service) RemoveTrust(address string) *dbus.Error {
	return mapErr(s.adapter.RemoveTrust(address))
}

// Device records

func (s *Service) RemoveDevice(address string) *dbus.Error {
	return mapErr(s.adapter.RemoveDevice(address))
}

// Agent

func (s *Service) RegisterAgent(sender dbus.Sender, path dbus.ObjectPath) *dbus.Error {
	agent := newAgentProxy(s.conn, string(sender), path)
	return mapErr(s.adapter.RegisterAgent(string(sender), agent))
}

func (s *Service) UnregisterAgent(sender dbus.Sender) *dbus.Error {
	return mapErr(s.adapter.UnregisterAgent(string(sender)))
}
