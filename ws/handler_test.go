package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konnect-im/konnectd/auth"
	"github.com/konnect-im/konnectd/presence"
	"github.com/konnect-im/konnectd/route"
	"github.com/konnect-im/konnectd/store"
	"github.com/konnect-im/konnectd/store/mock"
	"github.com/konnect-im/konnectd/wire"
)

const recvWait = 2 * time.Second

type hubFixture struct {
	hub    *Hub
	store  *mock.MockIStore
	groups *mock.MockIGroupResolver
	srv    *httptest.Server
}

func newHubFixture(t *testing.T, conf *Conf) *hubFixture {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	st := mock.NewMockIStore(ctrl)
	groups := mock.NewMockIGroupResolver(ctrl)
	registry := presence.NewRegistry(nil)
	router := route.NewRouter(st, groups, registry)
	hub := NewHub(&auth.MockClient{}, st, router, registry, conf)

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	return &hubFixture{hub: hub, store: st, groups: groups, srv: srv}
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (f *hubFixture) dial(t *testing.T) *testClient {
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msg *wire.ClientMsg) {
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

func (c *testClient) recv() *wire.ServerMsg {
	c.conn.SetReadDeadline(time.Now().Add(recvWait))
	out := &wire.ServerMsg{}
	require.NoError(c.t, c.conn.ReadJSON(out))
	return out
}

// recvSkipPresence reads frames until one that is not a presence broadcast;
// presence timing depends on who else connects during the test.
func (c *testClient) recvSkipPresence() *wire.ServerMsg {
	for i := 0; i < 10; i++ {
		if out := c.recv(); out.Presence == nil {
			return out
		}
	}
	c.t.Fatal("too many presence frames")
	return nil
}

// authAs completes the in-band handshake and consumes the drained frame. The
// fixture store must already expect the DrainMailbox call.
func (c *testClient) authAs(identity string) {
	c.send(&wire.ClientMsg{Auth: &wire.AuthReq{Token: "uid:" + identity}})
	out := c.recvSkipPresence()
	require.NotNil(c.t, out.Drained, "frame: %+v", out)
}

func expectDrain(f *hubFixture, identity string, msgs []*wire.Message) *gomock.Call {
	return f.store.EXPECT().
		DrainMailbox(gomock.Any(), identity, gomock.Any()).
		Return(msgs, nil)
}

func TestAuthActivatesAndDrains(t *testing.T) {
	f := newHubFixture(t, &Conf{})
	stored := []*wire.Message{
		{ID: "m1", Sender: "bob", To: "alice", Content: "ct-1", Kind: wire.KindText, Delivered: true},
	}
	expectDrain(f, "alice", stored)

	c := f.dial(t)
	c.send(&wire.ClientMsg{Auth: &wire.AuthReq{Token: "uid:alice"}})

	out := c.recv()
	require.NotNil(t, out.Drained)
	require.Len(t, out.Drained.Messages, 1)
	assert.Equal(t, "m1", out.Drained.Messages[0].ID)

	assert.Eventually(t, func() bool { return f.hub.Online() == 1 }, recvWait, 10*time.Millisecond)
	assert.Equal(t, 1, f.hub.Sessions())
}

func TestAuthBadTokenCloses(t *testing.T) {
	f := newHubFixture(t, &Conf{})

	c := f.dial(t)
	c.send(&wire.ClientMsg{Auth: &wire.AuthReq{Token: "garbage"}})

	out := c.recv()
	require.NotNil(t, out.Error)
	assert.Equal(t, wire.CodeInvalidArgument, out.Error.Code)

	c.conn.SetReadDeadline(time.Now().Add(recvWait))
	_, _, err := c.conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, f.hub.Online())
}

func TestRequestBeforeAuthRejected(t *testing.T) {
	f := newHubFixture(t, &Conf{})

	c := f.dial(t)
	c.send(&wire.ClientMsg{Send: &wire.SendReq{To: "bob", Content: "ct"}})

	out := c.recv()
	require.NotNil(t, out.Error)
	assert.Equal(t, wire.CodeInvalidArgument, out.Error.Code)

	c.conn.SetReadDeadline(time.Now().Add(recvWait))
	_, _, err := c.conn.ReadMessage()
	assert.Error(t, err)
}

func TestAuthTimeoutFailsClosed(t *testing.T) {
	f := newHubFixture(t, &Conf{AuthWait: 50 * time.Millisecond})

	c := f.dial(t)
	c.conn.SetReadDeadline(time.Now().Add(recvWait))
	_, _, err := c.conn.ReadMessage()
	assert.Error(t, err)

	assert.Eventually(t, func() bool { return f.hub.Sessions() == 0 }, recvWait, 10*time.Millisecond)
}

func TestSendDeliveredLive(t *testing.T) {
	f := newHubFixture(t, &Conf{})
	expectDrain(f, "alice", nil)
	expectDrain(f, "bob", nil)

	alice := f.dial(t)
	alice.authAs("alice")
	bob := f.dial(t)
	bob.authAs("bob")

	f.store.EXPECT().
		PersistMessage(gomock.Any(), gomock.Any()).
		Return("m1", nil)
	f.store.EXPECT().MarkDelivered(gomock.Any(), "m1").Return(nil)

	alice.send(&wire.ClientMsg{Send: &wire.SendReq{To: "bob", Content: "ct-hello"}})

	got := bob.recvSkipPresence()
	require.NotNil(t, got.Message)
	assert.Equal(t, "m1", got.Message.ID)
	assert.Equal(t, "alice", got.Message.Sender)
	assert.Equal(t, "ct-hello", got.Message.Content)

	ack := alice.recvSkipPresence()
	require.NotNil(t, ack.Ack)
	assert.Equal(t, "m1", ack.Ack.MessageID)
	assert.Equal(t, wire.OutcomeDelivered, ack.Ack.Results["bob"])
}

func TestSendInvalidShapeError(t *testing.T) {
	f := newHubFixture(t, &Conf{})
	expectDrain(f, "alice", nil)

	alice := f.dial(t)
	alice.authAs("alice")

	alice.send(&wire.ClientMsg{Send: &wire.SendReq{To: "bob", Group: "g1", Content: "ct"}})

	out := alice.recvSkipPresence()
	require.NotNil(t, out.Error)
	assert.Equal(t, wire.CodeInvalidArgument, out.Error.Code)
}

func TestSendStorageErrorMasked(t *testing.T) {
	f := newHubFixture(t, &Conf{})
	expectDrain(f, "alice", nil)

	alice := f.dial(t)
	alice.authAs("alice")

	f.store.EXPECT().
		PersistMessage(gomock.Any(), gomock.Any()).
		Return("", assert.AnError)

	alice.send(&wire.ClientMsg{Send: &wire.SendReq{To: "bob", Content: "ct"}})

	out := alice.recvSkipPresence()
	require.NotNil(t, out.Error)
	assert.Equal(t, wire.CodeInternal, out.Error.Code)
	assert.Equal(t, []string{"temp storage error"}, out.Error.Params)
}

func TestSessionQuotaKicksOldest(t *testing.T) {
	f := newHubFixture(t, &Conf{SessionQuota: 1})
	expectDrain(f, "alice", nil).Times(2)

	first := f.dial(t)
	first.authAs("alice")
	// CreateTime has second granularity; make the ordering unambiguous.
	time.Sleep(1100 * time.Millisecond)
	second := f.dial(t)
	second.authAs("alice")

	out := first.recvSkipPresence()
	assert.True(t, out.Kickoff)

	first.conn.SetReadDeadline(time.Now().Add(recvWait))
	_, _, err := first.conn.ReadMessage()
	assert.Error(t, err)

	// The identity stays online on the surviving session.
	assert.Eventually(t, func() bool { return f.hub.Sessions() == 1 }, recvWait, 10*time.Millisecond)
	assert.Equal(t, 1, f.hub.Online())
}

func TestSetReadRoundTrip(t *testing.T) {
	f := newHubFixture(t, &Conf{})
	expectDrain(f, "alice", nil)

	alice := f.dial(t)
	alice.authAs("alice")

	f.store.EXPECT().SetRead(gomock.Any(), "alice", "m7").Return(true, nil)

	alice.send(&wire.ClientMsg{SetRead: &wire.SetReadReq{MessageID: "m7"}})

	out := alice.recvSkipPresence()
	require.NotNil(t, out.Read)
	assert.Equal(t, "m7", out.Read.MessageID)
	assert.True(t, out.Read.Changed)
}

func TestHistoryPeerAndGroup(t *testing.T) {
	f := newHubFixture(t, &Conf{})
	expectDrain(f, "alice", nil)

	alice := f.dial(t)
	alice.authAs("alice")

	f.store.EXPECT().
		Conversation(gomock.Any(), "alice", "bob", 50).
		Return([]*wire.Message{{ID: "m1"}}, nil)
	alice.send(&wire.ClientMsg{History: &wire.HistoryReq{Peer: "bob"}})
	out := alice.recvSkipPresence()
	require.NotNil(t, out.History)
	require.Len(t, out.History.Messages, 1)

	f.store.EXPECT().
		GroupHistory(gomock.Any(), "g1", 10).
		Return(nil, nil)
	alice.send(&wire.ClientMsg{History: &wire.HistoryReq{Group: "g1", Limit: 10}})
	out = alice.recvSkipPresence()
	require.NotNil(t, out.History)

	alice.send(&wire.ClientMsg{History: &wire.HistoryReq{Peer: "bob", Group: "g1"}})
	out = alice.recvSkipPresence()
	require.NotNil(t, out.Error)
}

func TestExplicitDrainClampsLimit(t *testing.T) {
	f := newHubFixture(t, &Conf{DrainLimit: 20})
	expectDrain(f, "alice", nil)

	alice := f.dial(t)
	alice.authAs("alice")

	f.store.EXPECT().
		DrainMailbox(gomock.Any(), "alice", 20).
		Return(nil, nil)
	alice.send(&wire.ClientMsg{Drain: &wire.DrainReq{Limit: 5000}})
	out := alice.recvSkipPresence()
	require.NotNil(t, out.Drained)
}

func TestPresenceSeenByPeers(t *testing.T) {
	f := newHubFixture(t, &Conf{})
	expectDrain(f, "alice", nil)
	expectDrain(f, "bob", nil)

	alice := f.dial(t)
	alice.authAs("alice")
	bob := f.dial(t)
	bob.authAs("bob")

	out := alice.recv()
	require.NotNil(t, out.Presence)
	assert.Equal(t, "bob", out.Presence.Identity)
	assert.True(t, out.Presence.Online)

	bob.conn.Close()

	out = alice.recv()
	require.NotNil(t, out.Presence)
	assert.Equal(t, "bob", out.Presence.Identity)
	assert.False(t, out.Presence.Online)
}

func TestShutdownClosesSessions(t *testing.T) {
	f := newHubFixture(t, &Conf{})
	expectDrain(f, "alice", nil)

	alice := f.dial(t)
	alice.authAs("alice")
	require.Equal(t, 1, f.hub.Sessions())

	f.hub.Shutdown()
	assert.Equal(t, 0, f.hub.Sessions())

	alice.conn.SetReadDeadline(time.Now().Add(recvWait))
	for {
		if _, _, err := alice.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// rawPair upgrades one connection and hands back both ends, for tests that
// drive a Handler directly instead of through the hub.
func rawPair(t *testing.T) (server, client *websocket.Conn) {
	serverC := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverC <- c
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return <-serverC, conn
}

// activeHandler wires an already Active handler into the fixture, starting
// only the send loop so the write path is exercised in isolation.
func (f *hubFixture) activeHandler(conn *websocket.Conn, identity string) *Handler {
	h := &Handler{
		hub:      f.hub,
		session:  &Session{Identity: identity, Sid: identity + "-sid", CreateTime: time.Now().Unix()},
		conn:     conn,
		dataChan: make(chan *SessionData, 16),
		state:    StateActive,
	}
	f.hub.hstore.add(h)
	f.hub.registry.Register(h)
	go h.sendLoop()
	return h
}

func TestWriteErrorClosesSession(t *testing.T) {
	f := newHubFixture(t, &Conf{})
	server, client := rawPair(t)
	h := f.activeHandler(server, "zoe")
	require.True(t, f.hub.registry.IsOnline("zoe"))

	// Kill the transport underneath the handler; the failed write must
	// unwind the session all the way to Closed, not strand it Active.
	client.Close()
	server.UnderlyingConn().Close()
	_ = h.Emit(&wire.ServerMsg{Read: &wire.ReadResp{MessageID: "m1"}})

	assert.Eventually(t, func() bool { return h.State() == StateClosed }, recvWait, 10*time.Millisecond)
	assert.False(t, f.hub.registry.IsOnline("zoe"))
	assert.Equal(t, 0, f.hub.Sessions())
}

func TestStaleAuthTimeoutIgnoredWhenActive(t *testing.T) {
	f := newHubFixture(t, &Conf{})
	server, client := rawPair(t)
	h := f.activeHandler(server, "zoe")

	// The timer callback is a no-op once the session is Active.
	h.authExpired()

	// A timeout frame queued just before the session went Active is stale
	// and must not close it.
	require.NoError(t, h.appendDataChan(&SessionData{Error: AuthTimeout}))
	require.NoError(t, h.Emit(&wire.ServerMsg{Read: &wire.ReadResp{MessageID: "m1"}}))

	client.SetReadDeadline(time.Now().Add(recvWait))
	out := &wire.ServerMsg{}
	require.NoError(t, client.ReadJSON(out))
	require.NotNil(t, out.Read)

	assert.Equal(t, StateActive, h.State())
	assert.True(t, f.hub.registry.IsOnline("zoe"))
}

func TestDeleteRoundTrip(t *testing.T) {
	f := newHubFixture(t, &Conf{})
	expectDrain(f, "alice", nil)

	alice := f.dial(t)
	alice.authAs("alice")

	f.store.EXPECT().SoftDelete(gomock.Any(), "alice", "m9").Return(true, nil)

	alice.send(&wire.ClientMsg{Delete: &wire.DeleteReq{MessageID: "m9"}})

	out := alice.recvSkipPresence()
	require.NotNil(t, out.Deleted)
	assert.Equal(t, "m9", out.Deleted.MessageID)
	assert.True(t, out.Deleted.Changed)
}

var _ store.IStore = (*mock.MockIStore)(nil)
