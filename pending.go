package hcid

import (
	"time"

	"github.com/sirupsen/logrus"
)

type nameStatus int

const (
	// nameNotRequested: discovered, nobody asked for the name yet.
	nameNotRequested nameStatus = iota
	// nameRequired: a client asked; resolve before anything else.
	nameRequired
	// nameRequested: the lookup is on the wire. At most one entry is in
	// this state.
	nameRequested
)

// foundDevice is one entry of the per-discovery device cache. The cache
// doubles as the name-resolution queue.
type foundDevice struct {
	addr   BDAddr
	class  uint32
	status nameStatus
}

func (a *Adapter) requestedNameLocked() *foundDevice {
	for _, d := range a.found {
		if d.status == nameRequested {
			return d
		}
	}
	return nil
}

func (a *Adapter) clearFoundLocked() {
	for addr := range a.found {
		delete(a.found, addr)
	}
}

// cancelPendingNameLookupLocked aborts a leftover name lookup before an
// operation that needs the radio. The cache is flushed only when a
// lookup was actually in flight.
func (a *Adapter) cancelPendingNameLookupLocked() {
	d := a.requestedNameLocked()
	if d == nil {
		return
	}
	if err := a.gw.RemoteNameCancel(d.addr); err != nil {
		a.log.WithError(err).WithField("peer", d.addr.String()).Warn("remote name cancel failed")
	}
	a.clearFoundLocked()
}

// GetRemoteName returns the stored name for a peer, or queues a lookup
// on the running discovery and defers. With no discovery running there
// is nothing to piggyback on.
func (a *Adapter) GetRemoteName(address string) (string, error) {
	addr, err := ParseBDAddr(address)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if name, _ := a.store.Get(AttrNames, addr.String()); name != "" {
		return name, nil
	}
	if !a.up {
		return "", errNotReady
	}
	if a.discovery.kind == discoveryIdle {
		return "", errNotAvailable
	}
	d, ok := a.found[addr]
	if !ok {
		d = &foundDevice{addr: addr}
		a.found[addr] = d
	}
	if d.status != nameRequested {
		d.status = nameRequired
	}
	return "", ErrDeferred
}

// pinRequest is the record of one outstanding PIN exchange. Once the
// reply went to the controller the exchange can no longer be canceled.
type pinRequest struct {
	addr    BDAddr
	replied bool
}

// PinRequested handles the controller asking for a PIN. The question is
// forwarded to the bonding's own agent when one is bound to this peer,
// otherwise to the adapter agent; with neither, the request is refused
// outright. Event entry.
func (a *Adapter) PinRequested(addr BDAddr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pinReqs[addr]; ok {
		return
	}
	agent := a.agent
	if b := a.bonding; b != nil && b.addr == addr && b.agent != nil {
		agent = b.agent
	}
	if agent == nil {
		if err := a.gw.PinCodeNegReply(addr); err != nil {
			a.log.WithError(err).Warn("pin negative reply failed")
		}
		return
	}
	p := &pinRequest{addr: addr}
	a.pinReqs[addr] = p
	agent.RequestPinCode(addr, func(pin string, err error) {
		a.pinCodeResult(addr, pin, err)
	})
}

func (a *Adapter) pinCodeResult(addr BDAddr, pin string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pinReqs[addr]
	if !ok || p.replied {
		return
	}
	if err != nil || len(pin) < 1 || len(pin) > 16 {
		delete(a.pinReqs, addr)
		if err := a.gw.PinCodeNegReply(addr); err != nil {
			a.log.WithError(err).Warn("pin negative reply failed")
		}
		return
	}
	if err := a.gw.PinCodeReply(addr, pin); err != nil {
		delete(a.pinReqs, addr)
		a.log.WithError(err).Warn("pin reply failed")
		return
	}
	p.replied = true
}

// pendingDisconnect holds a disconnection back for the configured grace
// period. Only one may be pending at a time.
type pendingDisconnect struct {
	addr   BDAddr
	handle uint16
	reply  *Reply
	timer  *time.Timer
}

// DisconnectRemoteDevice schedules the teardown of the baseband link to
// a peer. Listeners get an early warning; the command goes out when the
// grace period ends and only then is the reply delivered.
func (a *Adapter) DisconnectRemoteDevice(address string, r *Reply) {
	addr, err := ParseBDAddr(address)
	if err != nil {
		r.Resolve(err)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.up {
		r.Resolve(errNotReady)
		return
	}
	handle, ok := a.conns[addr]
	if !ok {
		r.Resolve(errNotConnected)
		return
	}
	if a.pendingDC != nil {
		r.Resolve(errInProgress("disconnection in progress"))
		return
	}
	pd := &pendingDisconnect{addr: addr, handle: handle, reply: r}
	pd.timer = time.AfterFunc(a.cfg.DisconnectGrace, a.disconnectGraceExpired)
	a.pendingDC = pd
	a.notify.DisconnectRequested(addr.String())
	a.log.WithField("peer", addr.String()).Info("disconnection scheduled")
}

func (a *Adapter) disconnectGraceExpired() {
	a.mu.Lock()
	defer a.mu.Unlock()
	pd := a.pendingDC
	if pd == nil {
		return
	}
	a.pendingDC = nil
	if err := a.gw.Disconnect(pd.handle, ReasonUserEnded); err != nil {
		pd.reply.Resolve(failedFrom(err))
		return
	}
	pd.reply.Resolve(nil)
}

// ConnectionComplete records a new baseband link. Event entry.
func (a *Adapter) ConnectionComplete(addr BDAddr, handle uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conns[addr] = handle
	if err := a.store.Set(AttrLastUsed, addr.String(), nowUTC()); err != nil {
		a.log.WithError(err).Debug("last-used not persisted")
	}
	a.notify.RemoteDeviceConnected(addr.String())
}

// DisconnectionComplete drops a baseband link. Event entry.
func (a *Adapter) DisconnectionComplete(handle uint16, reason uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for addr, h := range a.conns {
		if h != handle {
			continue
		}
		delete(a.conns, addr)
		a.log.WithFields(logrus.Fields{
			"peer":   addr.String(),
			"reason": reason,
		}).Info("link down")
		a.notify.RemoteDeviceDisconnected(addr.String())
		return
	}
}

// ListConnections lists the peers with an active baseband link.
func (a *Adapter) ListConnections() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.conns))
	for addr := range a.conns {
		out = append(out, addr.String())
	}
	return out
}

func nowUTC() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05 MST")
}
