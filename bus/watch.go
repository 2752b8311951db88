package bus

import (
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/XC-/hcid"
)

// Watcher reports D-Bus clients losing their bus name, which is how
// the control plane learns a requester died. One NameOwnerChanged
// subscription fans out to all registered watches.
type Watcher struct {
	conn *dbus.Conn
	log  logrus.FieldLogger

	mu      sync.Mutex
	next    hcid.WatchToken
	byName  map[string]map[hcid.WatchToken]func()
	byToken map[hcid.WatchToken]string
}

func NewWatcher(conn *dbus.Conn) (*Watcher, error) {
	w := &Watcher{
		conn:    conn,
		log:     logrus.WithField("component", "bus.watcher"),
		byName:  make(map[string]map[hcid.WatchToken]func()),
		byToken: make(map[hcid.WatchToken]string),
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return nil, err
	}
	ch := make(chan *dbus.Signal, 32)
	conn.Signal(ch)
	go w.loop(ch)
	return w, nil
}

func (w *Watcher) loop(ch chan *dbus.Signal) {
	for sig := range ch {
		if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) != 3 {
			continue
		}
		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)
		if newOwner != "" {
			continue
		}
		w.mu.Lock()
		watches := w.byName[name]
		var fns []func()
		for token, fn := range watches {
			fns = append(fns, fn)
			delete(w.byToken, token)
		}
		delete(w.byName, name)
		w.mu.Unlock()
		if len(fns) > 0 {
			w.log.WithField("client", name).Debug("client exited")
		}
		for _, fn := range fns {
			fn()
		}
	}
}

func (w *Watcher) Watch(client string, exited func()) hcid.WatchToken {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	token := w.next
	if w.byName[client] == nil {
		w.byName[client] = make(map[hcid.WatchToken]func())
	}
	w.byName[client][token] = exited
	w.byToken[token] = client
	return token
}

func (w *Watcher) Remove(token hcid.WatchToken) {
	w.mu.Lock()
	defer w.mu.Unlock()
	client, ok := w.byToken[token]
	if !ok {
		return
	}
	delete(w.byToken, token)
	delete(w.byName[client], token)
	if len(w.byName[client]) == 0 {
		delete(w.byName, client)
	}
}
