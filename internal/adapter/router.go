package adapter

import "strings"

// Entry binds a configured Adapter to the device-string prefix that
// routes to it.
type Entry struct {
	Device  string
	Adapter Adapter
}

// Router resolves the device field of create_link to a configured
// Adapter. The device string's segment before the first comma (e.g.
// "inst0" out of "inst0,5") is matched exactly against each Entry's
// Device field; everything after the comma is adapter-specific and
// passed through unexamined.
type Router struct {
	entries []Entry
}

// NewRouter builds a Router over entries, matched in order.
func NewRouter(entries []Entry) *Router {
	return &Router{entries: entries}
}

// Resolve returns the Adapter bound to device's leading segment, or
// false if no configured adapter claims it.
func (r *Router) Resolve(device string) (Adapter, bool) {
	name := device
	if i := strings.IndexByte(device, ','); i >= 0 {
		name = device[:i]
	}
	for _, e := range r.entries {
		if e.Device == name {
			return e.Adapter, true
		}
	}
	return nil, false
}
