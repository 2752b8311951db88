package hcid

// WatchToken identifies a registered client-liveness watch.
type WatchToken uint64

// ClientWatcher reports when a requesting client disappears, so that
// long-lived state owned by it (mode sessions, discovery, bonding) can
// be torn down. exited may fire more than once; teardown paths are
// idempotent. The bus package implements this over name-owner tracking.
type ClientWatcher interface {
	Watch(client string, exited func()) WatchToken
	Remove(WatchToken)
}

// NopWatcher never reports an exit.
type NopWatcher struct{}

func (NopWatcher) Watch(string, func()) WatchToken { return 0 }
func (NopWatcher) Remove(WatchToken)               {}
