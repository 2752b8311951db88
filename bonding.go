package hcid

// Controller status code reported when authentication fails without a
// more specific reason.
const hciAuthenticationFailure = 0x05

// bondingRequest is the one bonding that may be in flight. The raw link
// forces the baseband connection up; once it is writable the
// authentication request goes out and the link is watched for failure
// until the controller reports the outcome.
type bondingRequest struct {
	addr   BDAddr
	client string
	reply  *Reply
	agent  Agent

	link   Link
	handle uint16
	watch  WatchToken

	authActive      bool
	cancelRequested bool
	hciStatus       uint8
	done            bool
}

// CreateBonding initiates pairing with a peer using the adapter agent
// for the PIN exchange. The reply is deferred until the controller
// reports the authentication outcome.
func (a *Adapter) CreateBonding(client, address string, r *Reply) {
	a.createBonding(client, address, nil, r)
}

// CreatePairedDevice is CreateBonding with a dedicated agent for this
// one exchange; it is released when the bonding ends.
func (a *Adapter) CreatePairedDevice(client, address string, agent Agent, r *Reply) {
	a.createBonding(client, address, agent, r)
}

func (a *Adapter) createBonding(client, address string, agent Agent, r *Reply) {
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
	if a.discovery.kind == discoveryStandard ||
		(a.discovery.kind == discoveryPeriodic && !a.discovery.inqIdle) {
		r.Resolve(errInProgress("discover in progress"))
		return
	}
	if a.bonding != nil {
		r.Resolve(errInProgress("bonding in progress"))
		return
	}
	if _, ok := a.pinReqs[addr]; ok {
		r.Resolve(errInProgress("bonding in progress"))
		return
	}
	if key, _ := a.store.Get(AttrLinkKeys, addr.String()); key != "" {
		r.Resolve(errAlreadyExists("bonding already exists"))
		return
	}
	if a.dialer == nil {
		r.Resolve(errFailed("no link dialer"))
		return
	}
	a.cancelPendingNameLookupLocked()

	link, err := a.dialer.Dial(a.addr, addr)
	if err != nil {
		a.log.WithError(err).WithField("peer", addr.String()).Warn("bonding connect failed")
		r.Resolve(errConnectionAttempt)
		return
	}
	b := &bondingRequest{
		addr:   addr,
		client: client,
		reply:  r,
		agent:  agent,
		link:   link,
	}
	b.watch = a.watcher.Watch(client, a.bondingOwnerExited)
	a.bonding = b
	link.Watch(IOOut|IOErr|IOHup|IONval, a.bondingIOReady)
	a.log.WithField("peer", addr.String()).Info("bonding started")
}

// bondingIOReady runs on link readiness, twice per bonding at most:
// once when the connect resolves, once if the link dies while the
// authentication is outstanding.
func (a *Adapter) bondingIOReady(cond IOCond) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.bonding
	if b == nil || b.done {
		return
	}
	if cond&IONval != 0 {
		b.reply.Resolve(errAuthCanceled)
		a.tearDownBondingLocked(false)
		return
	}
	if cond&(IOHup|IOErr) != 0 {
		if b.authActive {
			b.reply.Resolve(authFailure(b.hciStatus))
		} else {
			b.reply.Resolve(errConnectionAttempt)
		}
		a.tearDownBondingLocked(true)
		return
	}

	soerr, err := b.link.SocketError()
	if err != nil {
		b.reply.Resolve(failedFrom(err))
		a.tearDownBondingLocked(true)
		return
	}
	if soerr != 0 {
		a.log.WithField("errno", soerr).Warn("bonding connect refused")
		if b.authActive {
			b.reply.Resolve(authFailure(b.hciStatus))
		} else {
			b.reply.Resolve(errConnectionAttempt)
		}
		a.tearDownBondingLocked(true)
		return
	}
	handle, err := b.link.Handle()
	if err != nil {
		b.reply.Resolve(failedFrom(err))
		a.tearDownBondingLocked(true)
		return
	}
	if err := a.gw.AuthRequested(handle); err != nil {
		b.reply.Resolve(failedFrom(err))
		a.tearDownBondingLocked(true)
		return
	}
	b.handle = handle
	b.authActive = true
	b.link.Watch(IOErr|IOHup|IONval, a.bondingIOReady)
}

// CancelBondingProcess aborts an in-flight bonding. Owner only. Once
// the PIN reply reached the controller the exchange is past the point
// of no return and cancellation is refused.
func (a *Adapter) CancelBondingProcess(client, address string) error {
	addr, err := ParseBDAddr(address)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.up {
		return errNotReady
	}
	b := a.bonding
	if b == nil || b.addr != addr {
		return errNoSuchBonding
	}
	if b.client != client {
		return errNotAuthorized
	}
	if p := a.pinReqs[addr]; p != nil {
		if p.replied {
			return errNotAuthorized
		}
		delete(a.pinReqs, addr)
		if err := a.gw.PinCodeNegReply(addr); err != nil {
			a.log.WithError(err).Warn("pin negative reply failed")
		}
	}
	b.cancelRequested = true
	b.reply.Resolve(errAuthCanceled)
	a.tearDownBondingLocked(true)
	return nil
}

// bondingOwnerExited cleans up a bonding whose requester vanished: the
// agent is dismissed, an unanswered PIN refused and the link dropped.
// No reply goes anywhere. Idempotent.
func (a *Adapter) bondingOwnerExited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.bonding
	if b == nil || b.done {
		return
	}
	a.log.WithField("peer", b.addr.String()).Info("bonding requester exited")
	if b.agent != nil {
		b.agent.Cancel()
		b.agent.Release()
	}
	if p := a.pinReqs[b.addr]; p != nil && !p.replied {
		delete(a.pinReqs, b.addr)
		if err := a.gw.PinCodeNegReply(b.addr); err != nil {
			a.log.WithError(err).Warn("pin negative reply failed")
		}
	}
	b.reply.Drop()
	a.tearDownBondingLocked(true)
}

// BondingComplete delivers the authentication outcome for a peer.
// Event entry; also reachable from the link-key path.
func (a *Adapter) BondingComplete(addr BDAddr, status uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bondingCompleteLocked(addr, status)
}

// AuthenticationComplete is BondingComplete keyed by connection handle.
// Event entry.
func (a *Adapter) AuthenticationComplete(handle uint16, status uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b := a.bonding; b != nil && b.authActive && b.handle == handle {
		a.bondingCompleteLocked(b.addr, status)
		return
	}
	for addr, h := range a.conns {
		if h == handle {
			a.bondingCompleteLocked(addr, status)
			return
		}
	}
}

func (a *Adapter) bondingCompleteLocked(addr BDAddr, status uint8) {
	delete(a.pinReqs, addr)
	b := a.bonding
	if b == nil || b.addr != addr {
		// Pairing initiated by the peer; just announce the result.
		if status == 0 {
			a.notify.BondingCreated(addr.String())
		}
		return
	}
	if status != 0 {
		b.hciStatus = status
		if b.cancelRequested {
			b.reply.Resolve(errAuthCanceled)
		} else {
			b.reply.Resolve(authFailure(status))
		}
	} else {
		b.reply.Resolve(nil)
		a.notify.BondingCreated(addr.String())
	}
	if b.agent != nil {
		b.agent.Release()
	}
	a.tearDownBondingLocked(true)
}

// LinkKeyRequested looks up the stored link key for a peer asking to
// reuse it. Event entry.
func (a *Adapter) LinkKeyRequested(addr BDAddr) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key, _ := a.store.Get(AttrLinkKeys, addr.String())
	return key, key != ""
}

// LinkKeyNotification stores the negotiated link key and counts as a
// successful bonding. Event entry.
func (a *Adapter) LinkKeyNotification(addr BDAddr, key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.store.Set(AttrLinkKeys, addr.String(), key); err != nil {
		a.log.WithError(err).Error("link key not persisted")
	}
	a.bondingCompleteLocked(addr, 0)
}

// tearDownBondingLocked releases everything the bonding holds. Guarded
// so the racing cleanup paths (cancel, link death, owner exit, event)
// collapse into one.
func (a *Adapter) tearDownBondingLocked(closeLink bool) {
	b := a.bonding
	if b == nil || b.done {
		return
	}
	b.done = true
	a.bonding = nil
	if closeLink {
		if err := b.link.Close(); err != nil {
			a.log.WithError(err).Debug("bonding link close failed")
		}
	}
	a.watcher.Remove(b.watch)
}

// HasBonding reports whether a link key is stored for the peer.
func (a *Adapter) HasBonding(address string) (bool, error) {
	addr, err := ParseBDAddr(address)
	if err != nil {
		return false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	key, _ := a.store.Get(AttrLinkKeys, addr.String())
	return key != "", nil
}

// RemoveBonding discards the stored link key for a peer, flushes it
// from the controller and drops any live link to the peer.
func (a *Adapter) RemoveBonding(address string) error {
	addr, err := ParseBDAddr(address)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.up {
		return errNotReady
	}
	return a.removeBondingLocked(addr, true)
}

// removeBondingLocked does the work; with report false every failure is
// swallowed, for callers that are forgetting the device wholesale.
func (a *Adapter) removeBondingLocked(addr BDAddr, report bool) error {
	key, _ := a.store.Get(AttrLinkKeys, addr.String())
	if key == "" {
		if report {
			return errNoSuchBonding
		}
		return nil
	}
	if err := a.store.Delete(AttrLinkKeys, addr.String()); err != nil {
		if report {
			return failedFrom(err)
		}
		a.log.WithError(err).Warn("link key removal failed")
	}
	if err := a.gw.DeleteStoredLinkKey(addr); err != nil {
		a.log.WithError(err).Debug("stored link key delete failed")
	}
	if handle, ok := a.conns[addr]; ok {
		if err := a.gw.Disconnect(handle, ReasonUserEnded); err != nil {
			if report {
				return failedFrom(err)
			}
			a.log.WithError(err).Warn("disconnect after unbond failed")
		}
	}
	a.notify.BondingRemoved(addr.String())
	return nil
}
