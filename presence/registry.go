// Package presence tracks which identities currently have live connections.
// The Registry is the single source of truth for "is this user reachable":
// the router consults it on every send, sessions register on authentication
// and unregister on close.
package presence

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/konnect-im/konnectd/wire"
)

// Conn is one live connection handle. Implemented by ws.Handler.
type Conn interface {
	// SID returns the unique session id of this connection.
	SID() string

	// Identity returns the authenticated identity the handle belongs to.
	Identity() string

	// Emit queues a frame for delivery on this connection. It must return
	// within a bounded time; a full send queue or a closed connection is an
	// error.
	Emit(msg *wire.ServerMsg) error
}

// Registry maps identity -> live connection handles. All methods are safe for
// concurrent use; reads never observe a half-updated handle set.
type Registry struct {
	mu sync.Mutex
	// identity -> sid -> conn
	conns    map[string]map[string]Conn
	lastSeen *LastSeen // optional
}

func NewRegistry(lastSeen *LastSeen) *Registry {
	return &Registry{
		conns:    make(map[string]map[string]Conn),
		lastSeen: lastSeen,
	}
}

// Register adds a handle under its identity, creating the entry on the first
// handle. Idempotent per sid. When the identity comes online (first handle),
// a presence event is broadcast to all other connected identities.
func (r *Registry) Register(c Conn) {
	identity, sid := c.Identity(), c.SID()

	r.mu.Lock()
	set, ok := r.conns[identity]
	if !ok {
		set = make(map[string]Conn)
		r.conns[identity] = set
	}
	if _, dup := set[sid]; dup {
		r.mu.Unlock()
		return
	}
	set[sid] = c
	first := len(set) == 1
	var others []Conn
	if first {
		others = r.othersLocked(identity)
	}
	r.mu.Unlock()

	glog.V(5).Infof("presence: register %s/%s, first: %v", identity, sid, first)

	if first {
		broadcast(others, &wire.Presence{
			Identity: identity,
			Online:   true,
			At:       time.Now().Unix(),
		})
	}
}

// Unregister removes a handle. No-op if the handle is already absent, so it
// is safe against disconnect races and sessions that never fully registered.
// Removal of the last handle deletes the entry, records last-seen, and
// broadcasts the identity going offline.
func (r *Registry) Unregister(c Conn) {
	identity, sid := c.Identity(), c.SID()
	now := time.Now()

	r.mu.Lock()
	set, ok := r.conns[identity]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := set[sid]; !ok {
		r.mu.Unlock()
		return
	}
	delete(set, sid)
	last := len(set) == 0
	var others []Conn
	if last {
		delete(r.conns, identity)
		others = r.othersLocked(identity)
	}
	r.mu.Unlock()

	glog.V(5).Infof("presence: unregister %s/%s, last: %v", identity, sid, last)

	if last {
		if r.lastSeen != nil {
			if err := r.lastSeen.Touch(identity, now); err != nil {
				glog.Errorf("presence: record last-seen for %s: %v", identity, err)
			}
		}
		broadcast(others, &wire.Presence{
			Identity: identity,
			Online:   false,
			At:       now.Unix(),
		})
	}
}

// IsOnline reports whether the identity has at least one live handle.
func (r *Registry) IsOnline(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[identity]) > 0
}

// HandlesFor returns all live handles of an identity, for fan-out to every
// device.
func (r *Registry) HandlesFor(identity string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.conns[identity]
	if len(set) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Online returns the number of identities currently online.
func (r *Registry) Online() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// othersLocked collects every handle not owned by identity. Caller holds r.mu.
func (r *Registry) othersLocked(identity string) []Conn {
	var out []Conn
	for id, set := range r.conns {
		if id == identity {
			continue
		}
		for _, c := range set {
			out = append(out, c)
		}
	}
	return out
}

// broadcast emits outside the registry lock: Emit may block up to its own
// bound and must not stall registry readers.
func broadcast(conns []Conn, p *wire.Presence) {
	msg := &wire.ServerMsg{Presence: p}
	for _, c := range conns {
		if err := c.Emit(msg); err != nil {
			glog.V(5).Infof("presence: broadcast to %s/%s: %v", c.Identity(), c.SID(), err)
		}
	}
}
