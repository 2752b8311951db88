package hcid

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// mockGateway records every command and lets tests inject failures per
// command name.
type mockGateway struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func newMockGateway() *mockGateway {
	return &mockGateway{fail: make(map[string]error)}
}

func (g *mockGateway) record(call string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
	return g.fail[callName(call)]
}

func callName(call string) string {
	for i := 0; i < len(call); i++ {
		if call[i] == '(' {
			return call[:i]
		}
	}
	return call
}

func (g *mockGateway) callLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *mockGateway) names() []string {
	var out []string
	for _, c := range g.callLog() {
		out = append(out, callName(c))
	}
	return out
}

func (g *mockGateway) Up() error   { return g.record("Up") }
func (g *mockGateway) Down() error { return g.record("Down") }

func (g *mockGateway) WriteScanEnable(s ScanEnable) error {
	return g.record(fmt.Sprintf("WriteScanEnable(0x%02X)", uint8(s)))
}

func (g *mockGateway) SetLimitedDiscoverable(class [3]byte, limited bool) error {
	return g.record(fmt.Sprintf("SetLimitedDiscoverable(%02X%02X%02X,%v)", class[0], class[1], class[2], limited))
}

func (g *mockGateway) Inquiry(lap [3]byte, length, num uint8) error {
	return g.record(fmt.Sprintf("Inquiry(%d)", length))
}

func (g *mockGateway) InquiryCancel() error { return g.record("InquiryCancel") }

func (g *mockGateway) PeriodicInquiry(lap [3]byte, max, min uint16, length uint8) error {
	return g.record(fmt.Sprintf("PeriodicInquiry(%d,%d,%d)", max, min, length))
}

func (g *mockGateway) ExitPeriodicInquiry() error { return g.record("ExitPeriodicInquiry") }

func (g *mockGateway) RemoteNameRequest(a BDAddr) error {
	return g.record(fmt.Sprintf("RemoteNameRequest(%s)", a))
}

func (g *mockGateway) RemoteNameCancel(a BDAddr) error {
	return g.record(fmt.Sprintf("RemoteNameCancel(%s)", a))
}

func (g *mockGateway) AuthRequested(handle uint16) error {
	return g.record(fmt.Sprintf("AuthRequested(%d)", handle))
}

func (g *mockGateway) PinCodeReply(a BDAddr, pin string) error {
	return g.record(fmt.Sprintf("PinCodeReply(%s,%s)", a, pin))
}

func (g *mockGateway) PinCodeNegReply(a BDAddr) error {
	return g.record(fmt.Sprintf("PinCodeNegReply(%s)", a))
}

func (g *mockGateway) DeleteStoredLinkKey(a BDAddr) error {
	return g.record(fmt.Sprintf("DeleteStoredLinkKey(%s)", a))
}

func (g *mockGateway) Disconnect(handle uint16, reason uint8) error {
	return g.record(fmt.Sprintf("Disconnect(%d,0x%02X)", handle, reason))
}

// mockLink is a Link whose readiness the test delivers by hand.
type mockLink struct {
	mu      sync.Mutex
	soErr   int
	handle  uint16
	closed  bool
	watched IOCond
	watchFn func(IOCond)
}

func (l *mockLink) SocketError() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.soErr, nil
}

func (l *mockLink) Handle() (uint16, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle, nil
}

func (l *mockLink) Watch(cond IOCond, fn func(IOCond)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watched = cond
	l.watchFn = fn
}

func (l *mockLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// fire delivers a readiness condition the way the poll loop would: from
// outside the adapter lock.
func (l *mockLink) fire(cond IOCond) {
	l.mu.Lock()
	fn := l.watchFn
	l.mu.Unlock()
	if fn != nil {
		fn(cond)
	}
}

func (l *mockLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type mockDialer struct {
	link *mockLink
	err  error
}

func (d *mockDialer) Dial(local, peer BDAddr) (Link, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.link, nil
}

// mockAgent answers mode confirmations and PIN requests from canned
// values, synchronously.
type mockAgent struct {
	mu        sync.Mutex
	denyMode  bool
	pin       string
	pinErr    error
	confirms  int
	pinAsks   int
	canceled  bool
	released  bool
	holdPin   bool
	heldPinCb func(string, error)
}

// The real agent proxy answers from its own goroutine, never from
// inside the adapter's call; the mock does the same.
func (m *mockAgent) ConfirmModeChange(mode string, done func(error)) {
	m.mu.Lock()
	m.confirms++
	deny := m.denyMode
	m.mu.Unlock()
	go func() {
		if deny {
			done(fmt.Errorf("rejected"))
			return
		}
		done(nil)
	}()
}

func (m *mockAgent) RequestPinCode(addr BDAddr, done func(string, error)) {
	m.mu.Lock()
	m.pinAsks++
	hold := m.holdPin
	if hold {
		m.heldPinCb = done
	}
	pin, err := m.pin, m.pinErr
	m.mu.Unlock()
	if hold {
		return
	}
	go done(pin, err)
}

func (m *mockAgent) answerHeldPin() {
	m.mu.Lock()
	cb := m.heldPinCb
	pin, err := m.pin, m.pinErr
	m.heldPinCb = nil
	m.mu.Unlock()
	if cb != nil {
		cb(pin, err)
	}
}

func (m *mockAgent) Cancel()  { m.mu.Lock(); m.canceled = true; m.mu.Unlock() }
func (m *mockAgent) Release() { m.mu.Lock(); m.released = true; m.mu.Unlock() }

// manualWatcher lets a test impersonate the bus daemon's exit
// notifications, including duplicate delivery.
type manualWatcher struct {
	mu      sync.Mutex
	next    WatchToken
	watches map[WatchToken]watchEntry
}

type watchEntry struct {
	client string
	fn     func()
}

func newManualWatcher() *manualWatcher {
	return &manualWatcher{watches: make(map[WatchToken]watchEntry)}
}

func (w *manualWatcher) Watch(client string, exited func()) WatchToken {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	w.watches[w.next] = watchEntry{client: client, fn: exited}
	return w.next
}

func (w *manualWatcher) Remove(token WatchToken) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watches, token)
}

// exit fires every watch registered for the client, without removing
// them, so a second call reproduces double delivery.
func (w *manualWatcher) exit(client string) {
	w.mu.Lock()
	var fns []func()
	for _, e := range w.watches {
		if e.client == client {
			fns = append(fns, e.fn)
		}
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (w *manualWatcher) active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}

// recNotifier records broadcast events in order.
type recNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recNotifier) add(e string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func (n *recNotifier) count(e string) int {
	c := 0
	for _, x := range n.all() {
		if x == e {
			c++
		}
	}
	return c
}

func (n *recNotifier) ModeChanged(mode string)                { n.add("ModeChanged:" + mode) }
func (n *recNotifier) DiscoverableTimeoutChanged(s uint32)    { n.add(fmt.Sprintf("DiscoverableTimeoutChanged:%d", s)) }
func (n *recNotifier) DiscoveryStarted()                      { n.add("DiscoveryStarted") }
func (n *recNotifier) DiscoveryCompleted()                    { n.add("DiscoveryCompleted") }
func (n *recNotifier) PeriodicDiscoveryStarted()              { n.add("PeriodicDiscoveryStarted") }
func (n *recNotifier) PeriodicDiscoveryStopped()              { n.add("PeriodicDiscoveryStopped") }
func (n *recNotifier) RemoteNameUpdated(addr, name string)    { n.add("RemoteNameUpdated:" + addr + ":" + name) }
func (n *recNotifier) RemoteNameFailed(addr string)           { n.add("RemoteNameFailed:" + addr) }
func (n *recNotifier) RemoteDeviceConnected(addr string)      { n.add("RemoteDeviceConnected:" + addr) }
func (n *recNotifier) RemoteDeviceDisconnected(addr string)   { n.add("RemoteDeviceDisconnected:" + addr) }
func (n *recNotifier) DisconnectRequested(addr string)        { n.add("DisconnectRequested:" + addr) }
func (n *recNotifier) BondingCreated(addr string)             { n.add("BondingCreated:" + addr) }
func (n *recNotifier) BondingRemoved(addr string)             { n.add("BondingRemoved:" + addr) }
func (n *recNotifier) TrustAdded(addr string)                 { n.add("TrustAdded:" + addr) }
func (n *recNotifier) TrustRemoved(addr string)               { n.add("TrustRemoved:" + addr) }

func (n *recNotifier) RemoteDeviceFound(addr string, class uint32, rssi int16) {
	n.add("RemoteDeviceFound:" + addr)
}

// capturedReply collects what a Reply resolved to. await blocks for
// resolutions that come back on an agent or event goroutine.
type capturedReply struct {
	mu    sync.Mutex
	calls []error
	ch    chan struct{}
}

func (c *capturedReply) reply() *Reply {
	c.mu.Lock()
	if c.ch == nil {
		c.ch = make(chan struct{}, 8)
	}
	c.mu.Unlock()
	return NewReply(func(err error) {
		c.mu.Lock()
		c.calls = append(c.calls, err)
		c.mu.Unlock()
		c.ch <- struct{}{}
	})
}

func (c *capturedReply) resolved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls) > 0
}

func (c *capturedReply) result() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return fmt.Errorf("not resolved")
	}
	return c.calls[0]
}

func (c *capturedReply) times() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *capturedReply) await(t testing.TB) error {
	t.Helper()
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("reply not resolved in time")
	}
	return c.result()
}

type testEnv struct {
	a       *Adapter
	gw      *mockGateway
	notif   *recNotifier
	watcher *manualWatcher
	store   *MemoryStore
	dialer  *mockDialer
	link    *mockLink
	agent   *mockAgent
}

var testAddr = BDAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
var peerAddr = BDAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

const peerStr = "AA:BB:CC:DD:EE:FF"

// sync waits for any in-flight locked section to finish, so state
// checks after an await see the whole run-to-completion step.
func (e *testEnv) sync() {
	e.a.mu.Lock()
	e.a.mu.Unlock()
}

func newTestEnv(opts ...Option) *testEnv {
	e := &testEnv{
		gw:      newMockGateway(),
		notif:   &recNotifier{},
		watcher: newManualWatcher(),
		store:   NewMemoryStore(),
		link:    &mockLink{handle: 0x2A},
		agent:   &mockAgent{pin: "1234"},
	}
	e.dialer = &mockDialer{link: e.link}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	all := append([]Option{
		WithLogger(log),
		WithStorage(e.store),
		WithNotifier(e.notif),
		WithClientWatcher(e.watcher),
		WithLinkDialer(e.dialer),
	}, opts...)
	e.a = NewAdapter(testAddr, e.gw, all...)
	return e
}
