package hcid

// Reply is a one-shot completion handle for an operation whose result
// is only known after a later hardware event or callback. Resolve and
// Drop consume it; every call after the first is a no-op, so cleanup
// paths that race (timer vs. event vs. client exit) can all try to
// answer without double-replying.
//
// Replies are always consumed under the adapter lock; the callback must
// not call back into the adapter.
type Reply struct {
	fn   func(error)
	done bool
}

// NewReply wraps fn, which receives nil on success or the request
// error. fn may be nil for fire-and-forget requests.
func NewReply(fn func(error)) *Reply {
	return &Reply{fn: fn}
}

// Resolve delivers the result. nil err means success.
func (r *Reply) Resolve(err error) {
	if r == nil || r.done {
		return
	}
	r.done = true
	if r.fn != nil {
		r.fn(err)
	}
}

// Drop consumes the reply on behalf of a requester that no longer
// exists. The callback still runs, with a sentinel error, so a blocked
// front-end handler can unwind; nothing should reach a client.
func (r *Reply) Drop() {
	if r == nil || r.done {
		return
	}
	r.done = true
	if r.fn != nil {
		r.fn(errNoReply)
	}
}

// Consumed reports whether the reply has been delivered or dropped.
func (r *Reply) Consumed() bool { return r != nil && r.done }
