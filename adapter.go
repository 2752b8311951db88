package hcid

import (
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Adapter is the control plane for one local Bluetooth controller. All
// state is guarded by a single mutex; timers, link watches, agent
// callbacks and liveness notifications re-acquire it, so every state
// change runs to completion before the next one is looked at.
type Adapter struct {
	mu sync.Mutex

	cfg Config
	log logrus.FieldLogger

	gw      Gateway
	dialer  LinkDialer
	store   Storage
	notify  Notifier
	watcher ClientWatcher

	id    int
	addr  BDAddr
	class [3]byte
	up    bool

	mode       Mode
	globalMode Mode
	scanEnable ScanEnable

	discovTimeout uint32
	discovTimer   *time.Timer

	sessions map[string]*session

	discovery      discoveryState
	pdiscovResolve bool

	bonding *bondingRequest
	pinReqs map[BDAddr]*pinRequest

	found map[BDAddr]*foundDevice
	conns map[BDAddr]uint16

	pendingDC *pendingDisconnect

	agent      Agent
	agentOwner string
}

// Option configures an Adapter at construction time.
type Option func(*Adapter)

func WithConfig(cfg Config) Option         { return func(a *Adapter) { a.cfg = cfg } }
func WithLogger(l logrus.FieldLogger) Option { return func(a *Adapter) { a.log = l } }
func WithStorage(s Storage) Option         { return func(a *Adapter) { a.store = s } }
func WithNotifier(n Notifier) Option       { return func(a *Adapter) { a.notify = n } }
func WithClientWatcher(w ClientWatcher) Option { return func(a *Adapter) { a.watcher = w } }
func WithLinkDialer(d LinkDialer) Option   { return func(a *Adapter) { a.dialer = d } }
func WithDeviceID(id int) Option           { return func(a *Adapter) { a.id = id } }
func WithDeviceClass(class [3]byte) Option { return func(a *Adapter) { a.class = class } }

// NewAdapter wires an adapter for the controller at addr. The adapter
// starts powered, connectable, with page scan enabled, matching a
// freshly initialized controller.
func NewAdapter(addr BDAddr, gw Gateway, opts ...Option) *Adapter {
	a := &Adapter{
		cfg:        DefaultConfig(),
		log:        logrus.StandardLogger(),
		gw:         gw,
		store:      NewMemoryStore(),
		notify:     NopNotifier{},
		watcher:    NopWatcher{},
		addr:       addr,
		up:         true,
		mode:       ModeConnectable,
		globalMode: ModeConnectable,
		scanEnable: ScanPage,
		sessions:   make(map[string]*session),
		pinReqs:    make(map[BDAddr]*pinRequest),
		found:      make(map[BDAddr]*foundDevice),
		conns:      make(map[BDAddr]uint16),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.WithField("adapter", addr.String())
	if v, _ := a.store.Get(AttrDiscoverableTimeout, ""); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			a.discovTimeout = uint32(n)
		}
	}
	return a
}

func (a *Adapter) Address() BDAddr {
	return a.addr
}

func (a *Adapter) DeviceID() int {
	return a.id
}

func (a *Adapter) Powered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.up
}

// SetPowered tracks externally observed power transitions (the kernel
// can bring the device up or down behind our back).
func (a *Adapter) SetPowered(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.up == on {
		return
	}
	a.up = on
	if !on {
		a.scanEnable = ScanDisabled
		a.mode = ModeOff
		a.resetDiscovTimerLocked(false)
	}
}

// RegisterAgent installs the default authorization agent. Only one may
// be registered at a time.
func (a *Adapter) RegisterAgent(client string, agent Agent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.agent != nil {
		return errAlreadyExists("agent already exists")
	}
	a.agent = agent
	a.agentOwner = client
	a.log.WithField("client", client).Debug("agent registered")
	return nil
}

func (a *Adapter) UnregisterAgent(client string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.agent == nil || a.agentOwner != client {
		return &Error{Name: nameBondingDoesNotExist, Message: "no such agent"}
	}
	agent := a.agent
	a.agent = nil
	a.agentOwner = ""
	agent.Release()
	return nil
}

// SetTrusted marks the peer as trusted for unattended service access.
func (a *Adapter) SetTrusted(address string) error {
	addr, err := ParseBDAddr(address)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, _ := a.store.Get(AttrTrusts, addr.String()); v != "" {
		return errAlreadyExists("trust record already exists")
	}
	if err := a.store.Set(AttrTrusts, addr.String(), "1"); err != nil {
		return failedFrom(err)
	}
	a.notify.TrustAdded(addr.String())
	return nil
}

func (a *Adapter) IsTrusted(address string) (bool, error) {
	addr, err := ParseBDAddr(address)
	if err != nil {
		return false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	v, _ := a.store.Get(AttrTrusts, addr.String())
	return v != "", nil
}

func (a *Adapter) RemoveTrust(address string) error {
	addr, err := ParseBDAddr(address)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, _ := a.store.Get(AttrTrusts, addr.String()); v == "" {
		return &Error{Name: nameBondingDoesNotExist, Message: "no trust record"}
	}
	if err := a.store.Delete(AttrTrusts, addr.String()); err != nil {
		return failedFrom(err)
	}
	a.notify.TrustRemoved(addr.String())
	return nil
}

// RemoveDevice forgets everything stored about a peer: bonding, name,
// alias, trust and usage timestamps. Storage errors on the individual
// attributes are not reported; the bonding removal is best effort too.
func (a *Adapter) RemoveDevice(address string) error {
	addr, err := ParseBDAddr(address)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeBondingLocked(addr, false)
	for _, attr := range []string{AttrNames, AttrAliases, AttrTrusts, AttrLastSeen, AttrLastUsed} {
		if err := a.store.Delete(attr, addr.String()); err != nil {
			a.log.WithError(err).WithField("attr", attr).Warn("device record cleanup failed")
		}
	}
	return nil
}
