package hcid

import (
	"strconv"
	"time"
)

// Mode is the adapter's visibility mode. Limited is a flavor of
// discoverable, not a step above it.
type Mode uint8

const (
	ModeOff Mode = iota
	ModeConnectable
	ModeDiscoverable
	ModeLimited

	ModeUnknown Mode = 0xFE
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeConnectable:
		return "connectable"
	case ModeDiscoverable:
		return "discoverable"
	case ModeLimited:
		return "limited"
	}
	return "unknown"
}

// rank orders modes by openness; discoverable and limited tie.
func (m Mode) rank() int {
	switch m {
	case ModeConnectable:
		return 1
	case ModeDiscoverable, ModeLimited:
		return 2
	}
	return 0
}

func (m Mode) scanEnable() ScanEnable {
	switch m {
	case ModeConnectable:
		return ScanPage
	case ModeDiscoverable, ModeLimited:
		return ScanPage | ScanInquiry
	}
	return ScanDisabled
}

// session is one client's transient mode requirement. While any session
// is alive the discoverable timeout is suspended and the baseline mode
// is remembered for restoration.
type session struct {
	client string
	mode   Mode
	watch  WatchToken
}

// parseModeLocked resolves a mode name; "on" maps to the stored on-mode
// preference, defaulting to connectable.
func (a *Adapter) parseModeLocked(s string) Mode {
	if s == "on" {
		s, _ = a.store.Get(AttrOnMode, "")
		if s == "" || s == "on" {
			return ModeConnectable
		}
	}
	switch s {
	case "off":
		return ModeOff
	case "connectable":
		return ModeConnectable
	case "discoverable":
		return ModeDiscoverable
	case "limited":
		return ModeLimited
	}
	return ModeUnknown
}

func (a *Adapter) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *Adapter) AvailableModes() []string {
	return []string{"off", "connectable", "discoverable", "limited"}
}

func (a *Adapter) IsConnectable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanEnable&ScanPage != 0
}

func (a *Adapter) IsDiscoverable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanEnable&ScanInquiry != 0
}

// SetMode changes the baseline mode. If sessions are holding the
// adapter in a more open mode, a downgrade needs agent confirmation
// before it is applied. The reply may therefore be deferred.
func (a *Adapter) SetMode(client, mode string, r *Reply) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := a.parseModeLocked(mode)
	if m == ModeUnknown {
		r.Resolve(errInvalidArgs("invalid mode: " + mode))
		return
	}
	a.globalMode = m
	if m == a.mode {
		r.Resolve(nil)
		return
	}
	if len(a.sessions) > 0 && m.rank() < a.mode.rank() {
		a.confirmModeLocked(m, r)
		return
	}
	r.Resolve(a.applyModeLocked(m))
}

// confirmModeLocked routes a contested downgrade through the agent.
// With no agent registered there is nobody to ask: the request succeeds
// without taking effect, and the sessions keep the current mode.
func (a *Adapter) confirmModeLocked(m Mode, r *Reply) {
	if a.agent == nil {
		r.Resolve(nil)
		return
	}
	a.agent.ConfirmModeChange(m.String(), func(err error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if err != nil {
			r.Resolve(errNotAuthorized)
			return
		}
		r.Resolve(a.applyModeLocked(m))
	})
}

// applyModeLocked drives the controller to mode m and persists it.
// Which command is needed depends on the off-mode policy and on whether
// the scan-enable bits actually change.
func (a *Adapter) applyModeLocked(m Mode) error {
	scan := m.scanEnable()
	switch {
	case !a.up && (a.cfg.OffMode == OffModeNoScan || scan != ScanDisabled):
		if err := a.gw.Up(); err != nil {
			return failedFrom(err)
		}
		a.up = true
		if scan != ScanDisabled {
			if err := a.gw.WriteScanEnable(scan); err != nil {
				return failedFrom(err)
			}
		}
		a.scanEnable = scan
	case a.up && scan == ScanDisabled && a.cfg.OffMode == OffModeDevDown:
		if err := a.gw.Down(); err != nil {
			return failedFrom(err)
		}
		a.up = false
		a.scanEnable = ScanDisabled
	default:
		if scan&ScanInquiry != 0 {
			if err := a.gw.SetLimitedDiscoverable(a.class, m == ModeLimited); err != nil {
				return failedFrom(err)
			}
		}
		if a.scanEnable != scan {
			if err := a.gw.WriteScanEnable(scan); err != nil {
				return failedFrom(err)
			}
			a.scanEnable = scan
		}
	}

	old := a.mode
	a.mode = m
	if err := a.store.Set(AttrMode, "", m.String()); err != nil {
		a.log.WithError(err).Warn("mode not persisted")
	}
	if m != ModeOff {
		if err := a.store.Set(AttrOnMode, "", m.String()); err != nil {
			a.log.WithError(err).Warn("on-mode not persisted")
		}
	}
	if scan&ScanInquiry != 0 && m != old {
		a.notify.ModeChanged(m.String())
	}
	a.resetDiscovTimerLocked(scan&ScanInquiry != 0)
	a.log.WithField("mode", m.String()).Info("mode applied")
	return nil
}

// RequestMode opens a mode session for client: the adapter is held at
// least at mode for as long as the session lives. Raising the effective
// mode needs agent confirmation, so the reply may be deferred.
func (a *Adapter) RequestMode(client, mode string, r *Reply) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := a.parseModeLocked(mode)
	if m != ModeConnectable && m != ModeDiscoverable {
		r.Resolve(errInvalidArgs("invalid mode: " + mode))
		return
	}
	if a.agent == nil {
		r.Resolve(errFailed("no agent registered"))
		return
	}
	if _, ok := a.sessions[client]; ok {
		r.Resolve(errFailed("mode already requested"))
		return
	}

	if len(a.sessions) == 0 {
		a.globalMode = a.mode
	}
	s := &session{client: client, mode: m}
	s.watch = a.watcher.Watch(client, func() { a.sessionOwnerExited(client) })
	a.sessions[client] = s
	a.resetDiscovTimerLocked(false)

	if a.mode.rank() >= m.rank() {
		r.Resolve(nil)
		return
	}
	a.agent.ConfirmModeChange(m.String(), func(err error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if err != nil {
			r.Resolve(errNotAuthorized)
			a.dropSessionLocked(client)
			return
		}
		r.Resolve(a.applyModeLocked(m))
	})
}

// ReleaseMode ends the caller's mode session.
func (a *Adapter) ReleaseMode(client string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[client]; !ok {
		return errFailed("no mode to release")
	}
	a.dropSessionLocked(client)
	return nil
}

func (a *Adapter) sessionOwnerExited(client string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropSessionLocked(client)
}

// dropSessionLocked removes a session; when the last one goes the
// baseline mode is restored best effort.
func (a *Adapter) dropSessionLocked(client string) {
	s, ok := a.sessions[client]
	if !ok {
		return
	}
	delete(a.sessions, client)
	a.watcher.Remove(s.watch)
	if len(a.sessions) > 0 {
		return
	}
	if a.globalMode != a.mode {
		a.log.WithField("mode", a.globalMode.String()).Debug("last session gone, restoring baseline mode")
		if err := a.applyModeLocked(a.globalMode); err != nil {
			a.log.WithError(err).Warn("baseline mode restore failed")
		}
	} else {
		a.resetDiscovTimerLocked(a.scanEnable&ScanInquiry != 0)
	}
}

func (a *Adapter) DiscoverableTimeout() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.discovTimeout
}

// SetDiscoverableTimeout sets how long the adapter stays discoverable
// before demoting itself to connectable; zero disables the demotion.
func (a *Adapter) SetDiscoverableTimeout(seconds uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.up {
		return errNotReady
	}
	a.discovTimeout = seconds
	a.resetDiscovTimerLocked(a.scanEnable&ScanInquiry != 0)
	if err := a.store.Set(AttrDiscoverableTimeout, "", strconv.FormatUint(uint64(seconds), 10)); err != nil {
		a.log.WithError(err).Warn("discoverable timeout not persisted")
	}
	a.notify.DiscoverableTimeoutChanged(seconds)
	return nil
}

// resetDiscovTimerLocked rearms the demotion timer. It only runs while
// the adapter is discoverable, a timeout is configured and no session
// is pinning the mode.
func (a *Adapter) resetDiscovTimerLocked(inquiryScan bool) {
	if a.discovTimer != nil {
		a.discovTimer.Stop()
		a.discovTimer = nil
	}
	if inquiryScan && a.discovTimeout != 0 && len(a.sessions) == 0 {
		a.discovTimer = time.AfterFunc(time.Duration(a.discovTimeout)*time.Second, a.discovTimeoutExpired)
	}
}

func (a *Adapter) discovTimeoutExpired() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.discovTimer = nil
	if a.scanEnable&ScanInquiry == 0 {
		return
	}
	a.log.Info("discoverable timeout reached")
	old := a.mode
	if err := a.applyModeLocked(ModeConnectable); err != nil {
		a.log.WithError(err).Warn("discoverable timeout demotion failed")
		return
	}
	a.globalMode = ModeConnectable
	if old != ModeConnectable {
		a.notify.ModeChanged(ModeConnectable.String())
	}
}
