package hcid

type discoveryKind int

const (
	discoveryIdle discoveryKind = iota
	discoveryStandard
	discoveryPeriodic
)

// discoveryState tracks the one discovery that may run at a time.
// For standard discovery the lifecycle is inquiry, then an optional
// name-resolution drain, then completion; cancellation defers its reply
// until that completion. Periodic discovery alternates between inquiry
// phases and idle gaps until explicitly stopped.
type discoveryState struct {
	kind         discoveryKind
	client       string
	watch        WatchToken
	resolveNames bool

	cancelRequested bool
	cancelReply     *Reply

	// periodic only: the controller is between inquiry phases.
	inqIdle bool
}

// DiscoverDevices starts a standard discovery owned by client, with
// remote names resolved after the inquiry finishes.
func (a *Adapter) DiscoverDevices(client string) error {
	return a.discoverDevices(client, true)
}

// DiscoverDevicesWithoutNameResolving skips the name-resolution drain.
func (a *Adapter) DiscoverDevicesWithoutNameResolving(client string) error {
	return a.discoverDevices(client, false)
}

func (a *Adapter) discoverDevices(client string, resolveNames bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.up {
		return errNotReady
	}
	if a.discovery.kind != discoveryIdle {
		return errInProgress("discover in progress")
	}
	if a.bonding != nil {
		return errInProgress("bonding in progress")
	}
	a.cancelPendingNameLookupLocked()

	if err := a.gw.Inquiry(GeneralInquiryLAP, a.cfg.InquiryLength, 0); err != nil {
		return failedFrom(err)
	}
	a.discovery = discoveryState{
		kind:         discoveryStandard,
		client:       client,
		resolveNames: resolveNames,
	}
	a.discovery.watch = a.watcher.Watch(client, a.discoveryOwnerExited)
	a.notify.DiscoveryStarted()
	a.log.WithField("client", client).Info("discovery started")
	return nil
}

// CancelDiscovery aborts a standard discovery. Only the owner may
// cancel, and only once; the reply is held back until the discovery has
// actually wound down.
func (a *Adapter) CancelDiscovery(client string, r *Reply) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.up {
		r.Resolve(errNotReady)
		return
	}
	d := &a.discovery
	if d.kind != discoveryStandard || d.client != client || d.cancelRequested {
		r.Resolve(errNotAuthorized)
		return
	}
	if err := a.abortDiscoveryLocked(); err != nil {
		r.Resolve(err)
		return
	}
	d.cancelRequested = true
	d.cancelReply = r
}

// abortDiscoveryLocked stops whatever phase the discovery is in: the
// name lookup if one is on the wire, otherwise the inquiry itself. The
// found-device cache is flushed either way; completion still arrives
// through InquiryComplete.
func (a *Adapter) abortDiscoveryLocked() error {
	if d := a.requestedNameLocked(); d != nil {
		if err := a.gw.RemoteNameCancel(d.addr); err != nil {
			return failedFrom(err)
		}
	} else if err := a.gw.InquiryCancel(); err != nil {
		return failedFrom(err)
	}
	a.clearFoundLocked()
	return nil
}

// StartPeriodicDiscovery puts the controller into periodic inquiry mode
// on behalf of client.
func (a *Adapter) StartPeriodicDiscovery(client string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.up {
		return errNotReady
	}
	if a.discovery.kind != discoveryIdle {
		return errInProgress("discover in progress")
	}
	if a.bonding != nil {
		return errInProgress("bonding in progress")
	}
	a.cancelPendingNameLookupLocked()

	if err := a.gw.PeriodicInquiry(GeneralInquiryLAP, a.cfg.PeriodicMaxPeriod,
		a.cfg.PeriodicMinPeriod, a.cfg.InquiryLength); err != nil {
		return failedFrom(err)
	}
	a.discovery = discoveryState{
		kind:         discoveryPeriodic,
		client:       client,
		resolveNames: a.pdiscovResolve,
	}
	a.discovery.watch = a.watcher.Watch(client, a.discoveryOwnerExited)
	a.notify.PeriodicDiscoveryStarted()
	a.log.WithField("client", client).Info("periodic discovery started")
	return nil
}

// StopPeriodicDiscovery exits periodic inquiry mode. Owner only.
func (a *Adapter) StopPeriodicDiscovery(client string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.up {
		return errNotReady
	}
	if a.discovery.kind != discoveryPeriodic || a.discovery.client != client {
		return errNotAuthorized
	}
	if err := a.exitPeriodicLocked(); err != nil {
		return err
	}
	a.finishPeriodicLocked()
	return nil
}

func (a *Adapter) exitPeriodicLocked() error {
	if d := a.requestedNameLocked(); d != nil {
		if err := a.gw.RemoteNameCancel(d.addr); err != nil {
			return failedFrom(err)
		}
	}
	if err := a.gw.ExitPeriodicInquiry(); err != nil {
		return failedFrom(err)
	}
	a.clearFoundLocked()
	return nil
}

func (a *Adapter) finishPeriodicLocked() {
	a.watcher.Remove(a.discovery.watch)
	a.discovery = discoveryState{}
	a.notify.PeriodicDiscoveryStopped()
}

// SetPeriodicDiscoveryNameResolving toggles whether periodic discovery
// resolves names between inquiry phases. Takes effect immediately for a
// running periodic discovery.
func (a *Adapter) SetPeriodicDiscoveryNameResolving(resolve bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pdiscovResolve = resolve
	if a.discovery.kind == discoveryPeriodic {
		a.discovery.resolveNames = resolve
	}
}

func (a *Adapter) PeriodicDiscoveryNameResolving() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pdiscovResolve
}

func (a *Adapter) IsPeriodicDiscovery() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.discovery.kind == discoveryPeriodic
}

func (a *Adapter) IsDiscovering() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.discovery.kind != discoveryIdle
}

// discoveryOwnerExited tears down a discovery whose owning client is
// gone, without a reply. Safe on double delivery: the second call finds
// nothing to do.
func (a *Adapter) discoveryOwnerExited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.discovery.kind {
	case discoveryStandard:
		if !a.discovery.cancelRequested {
			if err := a.abortDiscoveryLocked(); err != nil {
				a.log.WithError(err).Warn("discovery abort after owner exit failed")
			}
			a.discovery.cancelRequested = true
		}
	case discoveryPeriodic:
		if err := a.exitPeriodicLocked(); err != nil {
			a.log.WithError(err).Warn("periodic exit after owner exit failed")
		}
		a.finishPeriodicLocked()
	}
}

// InquiryResult records one discovered peer. Event entry.
func (a *Adapter) InquiryResult(addr BDAddr, class uint32, rssi int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.discovery.kind == discoveryIdle {
		return
	}
	if a.discovery.kind == discoveryPeriodic {
		a.discovery.inqIdle = false
	}
	if d, ok := a.found[addr]; ok {
		d.class = class
		return
	}
	a.found[addr] = &foundDevice{addr: addr, class: class}
	if err := a.store.Set(AttrLastSeen, addr.String(), nowUTC()); err != nil {
		a.log.WithError(err).Debug("last-seen not persisted")
	}
	a.notify.RemoteDeviceFound(addr.String(), class, rssi)
}

// InquiryComplete marks the end of an inquiry phase. For standard
// discovery this either hands over to the name-resolution drain or
// completes the discovery; for periodic it opens an idle gap. Entries
// a client explicitly asked for are resolved even when the discovery
// itself does not resolve names.
// Event entry.
func (a *Adapter) InquiryComplete() {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.discovery.kind {
	case discoveryStandard:
		if !a.discovery.cancelRequested && a.resolveNextNameLocked() {
			return
		}
		a.finishDiscoveryLocked()
	case discoveryPeriodic:
		a.discovery.inqIdle = true
		a.resolveNextNameLocked()
	}
}

// finishDiscoveryLocked completes a standard discovery: a deferred
// cancellation reply is answered now, then the state is wound down and
// completion broadcast.
func (a *Adapter) finishDiscoveryLocked() {
	a.discovery.cancelReply.Resolve(nil)
	a.watcher.Remove(a.discovery.watch)
	a.clearFoundLocked()
	a.discovery = discoveryState{}
	a.notify.DiscoveryCompleted()
	a.log.Info("discovery completed")
}

// resolveNextNameLocked kicks off the next remote-name lookup: entries
// a client asked for first, then, when the discovery resolves names,
// the remaining ones. Reports whether a lookup is now in flight.
func (a *Adapter) resolveNextNameLocked() bool {
	next := a.nextNameCandidateLocked()
	if next == nil {
		return false
	}
	if err := a.gw.RemoteNameRequest(next.addr); err != nil {
		a.log.WithError(err).WithField("peer", next.addr.String()).Warn("remote name request failed")
		delete(a.found, next.addr)
		return a.resolveNextNameLocked()
	}
	next.status = nameRequested
	return true
}

func (a *Adapter) nextNameCandidateLocked() *foundDevice {
	var fallback *foundDevice
	for _, d := range a.found {
		switch d.status {
		case nameRequired:
			return d
		case nameNotRequested:
			if a.discovery.resolveNames && fallback == nil {
				fallback = d
			}
		}
	}
	return fallback
}

// RemoteNameComplete delivers the outcome of a remote-name lookup and
// moves the drain along. Event entry.
func (a *Adapter) RemoteNameComplete(addr BDAddr, name string, status uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.found, addr)
	if status == 0 {
		if err := a.store.Set(AttrNames, addr.String(), name); err != nil {
			a.log.WithError(err).Warn("remote name not persisted")
		}
		a.notify.RemoteNameUpdated(addr.String(), name)
	} else {
		a.notify.RemoteNameFailed(addr.String())
	}

	switch a.discovery.kind {
	case discoveryStandard:
		if !a.discovery.cancelRequested && a.resolveNextNameLocked() {
			return
		}
		a.finishDiscoveryLocked()
	case discoveryPeriodic:
		a.resolveNextNameLocked()
	}
}
