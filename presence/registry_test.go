package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/konnect-im/konnectd/wire"
)

// fakeConn records emitted frames.
type fakeConn struct {
	mu       sync.Mutex
	identity string
	sid      string
	frames   []*wire.ServerMsg
}

func (c *fakeConn) SID() string      { return c.sid }
func (c *fakeConn) Identity() string { return c.identity }

func (c *fakeConn) Emit(msg *wire.ServerMsg) error {
	c.mu.Lock()
	c.frames = append(c.frames, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) presenceFrames() []*wire.Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*wire.Presence
	for _, f := range c.frames {
		if f.Presence != nil {
			out = append(out, f.Presence)
		}
	}
	return out
}

func TestRegisterUnregisterRoundTrip(t *testing.T) {
	r := NewRegistry(nil)
	c := &fakeConn{identity: "A", sid: "s1"}

	assert.False(t, r.IsOnline("A"))

	r.Register(c)
	assert.True(t, r.IsOnline("A"))
	assert.Len(t, r.HandlesFor("A"), 1)

	r.Unregister(c)
	assert.False(t, r.IsOnline("A"))
	assert.Empty(t, r.HandlesFor("A"))
	assert.Zero(t, r.Online())
}

func TestRegisterIdempotentPerSid(t *testing.T) {
	r := NewRegistry(nil)
	c := &fakeConn{identity: "A", sid: "s1"}

	r.Register(c)
	r.Register(c)
	assert.Len(t, r.HandlesFor("A"), 1)

	// A single unregister fully removes the entry.
	r.Unregister(c)
	assert.False(t, r.IsOnline("A"))
}

func TestMultiDeviceHandles(t *testing.T) {
	r := NewRegistry(nil)
	phone := &fakeConn{identity: "A", sid: "s1"}
	laptop := &fakeConn{identity: "A", sid: "s2"}

	r.Register(phone)
	r.Register(laptop)
	assert.Len(t, r.HandlesFor("A"), 2)

	r.Unregister(phone)
	assert.True(t, r.IsOnline("A"), "one handle left, still online")

	r.Unregister(laptop)
	assert.False(t, r.IsOnline("A"))
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	r.Unregister(&fakeConn{identity: "A", sid: "ghost"})
	assert.False(t, r.IsOnline("A"))
}

func TestPresenceBroadcast(t *testing.T) {
	r := NewRegistry(nil)
	watcher := &fakeConn{identity: "W", sid: "w1"}
	r.Register(watcher)

	phone := &fakeConn{identity: "A", sid: "s1"}
	laptop := &fakeConn{identity: "A", sid: "s2"}

	r.Register(phone)
	r.Register(laptop) // second device: no event
	r.Unregister(phone)
	r.Unregister(laptop) // last device: offline event

	events := watcher.presenceFrames()
	assert.Len(t, events, 2)
	assert.Equal(t, "A", events[0].Identity)
	assert.True(t, events[0].Online)
	assert.Equal(t, "A", events[1].Identity)
	assert.False(t, events[1].Online)

	// The subject does not receive its own presence events.
	assert.Empty(t, phone.presenceFrames())
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity := fmt.Sprintf("u%d", i%10)
			c := &fakeConn{identity: identity, sid: fmt.Sprintf("s%d", i)}
			for j := 0; j < 100; j++ {
				r.Register(c)
				r.IsOnline(identity)
				r.HandlesFor(identity)
				r.Unregister(c)
			}
		}(i)
	}
	wg.Wait()

	// Paired register/unregister leaves no residual presence.
	assert.Zero(t, r.Online())
	for i := 0; i < 10; i++ {
		assert.False(t, r.IsOnline(fmt.Sprintf("u%d", i)))
	}
}
