package ws

import (
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/konnect-im/konnectd/auth"
	"github.com/konnect-im/konnectd/presence"
	"github.com/konnect-im/konnectd/route"
	"github.com/konnect-im/konnectd/store"
	"github.com/konnect-im/konnectd/wire"
)

// Conf carries the tunables of the websocket front.
type Conf struct {
	// AuthWait is how long a fresh connection may stay unauthenticated.
	AuthWait time.Duration
	// EmitTimeout bounds a queue append toward a slow session.
	EmitTimeout time.Duration
	// DrainLimit caps one mailbox drain batch.
	DrainLimit int
	// HistoryLimit caps one history query.
	HistoryLimit int
	// SessionQuota is the max concurrent sessions per identity; the oldest
	// session beyond the quota is kicked off. Zero means unlimited.
	SessionQuota int
}

func (c *Conf) withDefaults() *Conf {
	out := *c
	if out.AuthWait <= 0 {
		out.AuthWait = 10 * time.Second
	}
	if out.EmitTimeout <= 0 {
		out.EmitTimeout = 3 * time.Second
	}
	if out.DrainLimit <= 0 {
		out.DrainLimit = 200
	}
	if out.HistoryLimit <= 0 {
		out.HistoryLimit = 50
	}
	return &out
}

// Hub accepts websocket connections and owns the handlers' lifecycle.
type Hub struct {
	conf       *Conf
	authClient auth.Client
	store      store.IStore
	router     *route.Router
	registry   *presence.Registry
	hstore     *HandlerStore
}

func NewHub(authClient auth.Client, st store.IStore, router *route.Router, registry *presence.Registry, conf *Conf) *Hub {
	return &Hub{
		conf:       conf.withDefaults(),
		authClient: authClient,
		store:      st,
		router:     router,
		registry:   registry,
		hstore:     newHandlerStore(),
	}
}

// ServeHTTP upgrades the request and starts the session in Connecting state.
// Authentication happens in-band over the socket, not on the HTTP request.
func (hub *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("ServeHTTP(): upgrade error: %v", err)
		return
	}

	h := &Handler{
		hub: hub,
		session: &Session{
			Sid:        strings.Replace(uuid.New(), "-", "", -1),
			CreateTime: time.Now().Unix(),
			IP:         getRemoteIP(r),
		},
		conn:     conn,
		dataChan: make(chan *SessionData, 16),
		state:    StateConnecting,
	}
	conn.SetCloseHandler(func(code int, text string) error {
		glog.V(5).Infof("close handler: code: %d, text: %s, session: %s", code, text, h.String())
		return nil
	})

	hub.hstore.add(h)
	sessionsGauge.Inc()
	h.beginAuth()
	glog.V(5).Infof("session connected: %s", h.String())

	go h.recvLoop()
	go h.sendLoop()
}

func (hub *Hub) delHandler(h *Handler) {
	if hub.hstore.del(h.SID()) {
		sessionsGauge.Dec()
		hub.registry.Unregister(h)
	}
}

// enforceQuota kicks the oldest sessions of an identity beyond the quota.
// The kickoff frame is written before the close so the client can tell a
// takeover from a network drop.
func (hub *Hub) enforceQuota(identity string) {
	if hub.conf.SessionQuota <= 0 {
		return
	}

	handlers := hub.hstore.getByIdentity(identity)
	if len(handlers) <= hub.conf.SessionQuota {
		return
	}
	sort.Slice(handlers, func(i, j int) bool {
		return handlers[i].session.CreateTime < handlers[j].session.CreateTime
	})

	for _, h := range handlers[:len(handlers)-hub.conf.SessionQuota] {
		glog.Infof("enforceQuota(): kick off session: %s", h)
		kickoffsTotal.Inc()
		h.reply(&wire.ServerMsg{Kickoff: true})
	}
}

// Online returns the number of identities with at least one Active session.
func (hub *Hub) Online() int {
	return hub.registry.Online()
}

// Sessions returns the number of live handlers, Active or not.
func (hub *Hub) Sessions() int {
	return hub.hstore.size()
}

// Shutdown closes every session. New upgrades should already be fenced off
// by the http server shutdown.
func (hub *Hub) Shutdown() {
	glog.Infof("hub shutdown: closing %d sessions", hub.hstore.size())
	hub.hstore.close()
}

func getRemoteIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-IP")
	if ip == "" {
		ip = r.Header.Get("X-Forwarded-For")
	}
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}
	return ip
}
