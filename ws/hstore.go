package ws

import (
	"sync"
)

// HandlerStore tracks every live handler by sid, authenticated or not. The
// presence registry only knows Active sessions; this store also covers the
// ones still authenticating, so shutdown and quota sweeps can reach them.
type HandlerStore struct {
	sync.RWMutex
	handlers map[string]*Handler
}

func newHandlerStore() *HandlerStore {
	return &HandlerStore{handlers: make(map[string]*Handler)}
}

func (s *HandlerStore) size() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.handlers)
}

func (s *HandlerStore) add(h *Handler) {
	s.Lock()
	defer s.Unlock()
	s.handlers[h.SID()] = h
}

// del returns false if the sid is already gone, so close paths that race
// only unregister once.
func (s *HandlerStore) del(sid string) bool {
	s.Lock()
	defer s.Unlock()
	if _, ok := s.handlers[sid]; !ok {
		return false
	}
	delete(s.handlers, sid)
	return true
}

func (s *HandlerStore) get(sid string) *Handler {
	s.RLock()
	defer s.RUnlock()
	return s.handlers[sid]
}

func (s *HandlerStore) getByIdentity(identity string) []*Handler {
	s.RLock()
	defer s.RUnlock()

	var out []*Handler
	for _, h := range s.handlers {
		if h.Identity() == identity {
			out = append(out, h)
		}
	}
	return out
}

// close closes all handlers with cause ServerStop; handlers skip the
// per-handler delete to avoid deadlocking on the store lock.
func (s *HandlerStore) close() {
	s.Lock()
	defer s.Unlock()

	for sid, h := range s.handlers {
		h.close(ServerStop)
		delete(s.handlers, sid)
	}
}
