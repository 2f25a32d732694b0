package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/konnect-im/konnectd/route"
	"github.com/konnect-im/konnectd/wire"
)

// State is the connection session lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

type SessionError int

const (
	ReadError   SessionError = 1
	WriteError  SessionError = 2
	PingError   SessionError = 3
	BadRequest  SessionError = 4
	ServerStop  SessionError = 5
	KickedOff   SessionError = 6
	AuthTimeout SessionError = 7
	AuthFailed  SessionError = 8
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	// Recommend configure nginx with `keep-alive_timeout` >= 65s.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 65536
)

var (
	errSessionClosed = errors.New("session closed")
	errEmitTimeout   = errors.New("emit timeout")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The node sits behind a reverse proxy that owns origin policy.
		return true
	},
}

// Session is the metadata of one connection.
type Session struct {
	Identity   string `json:"identity,omitempty"`
	Sid        string `json:"sid"`
	CreateTime int64  `json:"create_time"`
	IP         string `json:"ip,omitempty"`
}

// Handler owns one websocket connection and its session state machine:
// Connecting -> Authenticating -> Active -> Closing -> Closed. A connection
// must present a token within the hub's auth wait or it is closed; only an
// Active session is registered in the presence registry.
type Handler struct {
	sync.Mutex

	hub     *Hub
	session *Session
	conn    *websocket.Conn

	dataChan chan *SessionData

	state     State
	authTimer *time.Timer
	closing   bool
}

// SessionData is the data structure for `dataChan`.
type SessionData struct {
	Error     SessionError    `json:"error,omitempty"`
	ServerMsg *wire.ServerMsg `json:"resp,omitempty"`
}

func (h *Handler) String() string {
	h.Lock()
	defer h.Unlock()
	out, _ := json.Marshal(h.session)
	return string(out)
}

// SID implements presence.Conn.
func (h *Handler) SID() string { return h.session.Sid }

// Identity implements presence.Conn. Empty until authenticated.
func (h *Handler) Identity() string {
	h.Lock()
	defer h.Unlock()
	return h.session.Identity
}

// State returns the current lifecycle state.
func (h *Handler) State() State {
	h.Lock()
	defer h.Unlock()
	return h.state
}

// Emit implements presence.Conn: queue a frame for the send loop, bounded by
// the hub's emit timeout so a slow consumer cannot stall a router fan-out.
func (h *Handler) Emit(msg *wire.ServerMsg) error {
	return h.appendDataChan(&SessionData{ServerMsg: msg})
}

func (h *Handler) appendDataChan(v *SessionData) error {
	h.Lock()
	defer h.Unlock()
	if h.closing {
		return errSessionClosed
	}
	select {
	case h.dataChan <- v:
		return nil
	case <-time.After(h.hub.conf.EmitTimeout):
		return errEmitTimeout
	}
}

// beginAuth transitions Connecting -> Authenticating and arms the fail-closed
// auth timer.
func (h *Handler) beginAuth() {
	h.Lock()
	h.state = StateAuthenticating
	h.authTimer = time.AfterFunc(h.hub.conf.AuthWait, h.authExpired)
	h.Unlock()
}

func (h *Handler) authExpired() {
	h.Lock()
	if h.state != StateAuthenticating || h.closing {
		h.Unlock()
		return
	}
	h.Unlock()

	glog.Errorf("session auth timeout: %s", h)
	_ = h.appendDataChan(&SessionData{Error: AuthTimeout})
}

func (h *Handler) close(cause SessionError) {
	h.Lock()
	if h.closing {
		h.Unlock()
		return
	}
	h.closing = true
	h.state = StateClosing
	if h.authTimer != nil {
		h.authTimer.Stop()
	}

	h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = h.conn.WriteMessage(websocket.CloseMessage, []byte{})
	h.conn.Close()

	close(h.dataChan)
	h.Unlock()

	if cause != ServerStop {
		glog.V(5).Infof("session closed, cause: %d, %s", cause, h)
		// Unregisters the handle; presence changes only on the last one.
		h.hub.delHandler(h)
	}

	h.Lock()
	h.state = StateClosed
	h.Unlock()
}

func sendServerMsg(conn *websocket.Conn, msg *wire.ServerMsg) error {
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, out)
}

func (h *Handler) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, session: %s", h.String()) }()

	h.conn.SetReadLimit(readLimit)
	h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(s string) error {
		h.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for h.State() < StateClosing {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			glog.V(5).Infof("recvLoop(): read error: %v", err)
			_ = h.appendDataChan(&SessionData{Error: ReadError})
			return
		}

		if msgType != websocket.TextMessage {
			glog.Errorf("recvLoop(): unexpected message type: %d", msgType)
			h.replyError(wire.NewInvalidArgumentError("websocket only supports TextMessage"))
			_ = h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		req := wire.ClientMsg{}
		if err := json.Unmarshal(msg, &req); err != nil {
			glog.Errorf("recvLoop(): message error: msg: %s, err: %v", string(msg), err)
			h.replyError(wire.NewInvalidArgumentError(fmt.Sprintf("unmarshal error: %v", err)))
			_ = h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		if v := req.Auth; v != nil {
			h.handleAuth(v)
			continue
		}

		if h.State() != StateActive {
			h.replyError(wire.NewInvalidArgumentError("not authenticated"))
			_ = h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		identity := h.Identity()

		if v := req.Send; v != nil {
			h.handleSend(identity, v)
		} else if v := req.Drain; v != nil {
			h.handleDrain(identity, v.Limit)
		} else if v := req.SetRead; v != nil {
			h.handleSetRead(identity, v)
		} else if v := req.Delete; v != nil {
			h.handleDelete(identity, v)
		} else if v := req.History; v != nil {
			h.handleHistory(identity, v)
		} else {
			glog.Errorf("recvLoop(): unsupported request: %s", string(msg))
			h.replyError(wire.NewInvalidArgumentError("unsupported request"))
			_ = h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}
	}
}

// handleAuth drives Authenticating -> Active: validate the token, register
// with the presence registry, then drain the offline mailbox. Routing to the
// new handle can only start once registration completed.
func (h *Handler) handleAuth(req *wire.AuthReq) {
	if h.State() == StateActive {
		h.replyError(wire.NewInvalidArgumentError("already authenticated"))
		return
	}

	identity, err := h.hub.authClient.Validate(context.Background(), req.Token)
	if err != nil {
		glog.Errorf("handleAuth(): authenticate error: %v", err)
		h.replyError(wire.NewInvalidArgumentError("authenticate error"))
		_ = h.appendDataChan(&SessionData{Error: AuthFailed})
		return
	}

	h.Lock()
	h.session.Identity = identity
	h.state = StateActive
	if h.authTimer != nil {
		h.authTimer.Stop()
	}
	h.Unlock()

	glog.Infof("session active: %s", h)
	h.hub.registry.Register(h)
	h.hub.enforceQuota(identity)

	h.drainMailbox(identity, h.hub.conf.DrainLimit)
}

func (h *Handler) handleSend(identity string, req *wire.SendReq) {
	// The ack reaches this session through the registry fan-out.
	if _, err := h.hub.router.Send(context.Background(), identity, req); err != nil {
		if errors.Is(err, route.ErrInvalidMessage) {
			h.replyError(wire.NewInvalidArgumentError(err.Error()))
			return
		}
		glog.Errorf("handleSend(): %s: %v", identity, err)
		h.replyError(maskInternal(err))
	}
}

func (h *Handler) handleDrain(identity string, limit int) {
	if limit <= 0 || limit > h.hub.conf.DrainLimit {
		limit = h.hub.conf.DrainLimit
	}
	h.drainMailbox(identity, limit)
}

// drainMailbox emits a drained frame. A storage failure degrades to an empty
// result: reconnect must not fail because history is briefly unavailable.
func (h *Handler) drainMailbox(identity string, limit int) {
	msgs, err := h.hub.store.DrainMailbox(context.Background(), identity, limit)
	if err != nil {
		glog.Errorf("drainMailbox(): %s: %v", identity, err)
		msgs = nil
	}
	mailboxDrainsTotal.Inc()
	h.reply(&wire.ServerMsg{Drained: &wire.MessageList{Messages: msgs}})
}

func (h *Handler) handleSetRead(identity string, req *wire.SetReadReq) {
	if req.MessageID == "" {
		h.replyError(wire.NewInvalidArgumentError("message_id: required"))
		return
	}
	changed, err := h.hub.store.SetRead(context.Background(), identity, req.MessageID)
	if err != nil {
		glog.Errorf("handleSetRead(): %s: %v", identity, err)
		h.replyError(maskInternal(err))
		return
	}
	h.reply(&wire.ServerMsg{Read: &wire.ReadResp{MessageID: req.MessageID, Changed: changed}})
}

// handleDelete soft-deletes one of the caller's own messages. The row is
// retained; changed is false when the message is unknown or not theirs.
func (h *Handler) handleDelete(identity string, req *wire.DeleteReq) {
	if req.MessageID == "" {
		h.replyError(wire.NewInvalidArgumentError("message_id: required"))
		return
	}
	changed, err := h.hub.store.SoftDelete(context.Background(), identity, req.MessageID)
	if err != nil {
		glog.Errorf("handleDelete(): %s: %v", identity, err)
		h.replyError(maskInternal(err))
		return
	}
	h.reply(&wire.ServerMsg{Deleted: &wire.DeleteResp{MessageID: req.MessageID, Changed: changed}})
}

func (h *Handler) handleHistory(identity string, req *wire.HistoryReq) {
	if (req.Peer == "") == (req.Group == "") {
		h.replyError(wire.NewInvalidArgumentError("exactly one of peer and group must be set"))
		return
	}
	limit := req.Limit
	if limit <= 0 || limit > h.hub.conf.HistoryLimit {
		limit = h.hub.conf.HistoryLimit
	}

	var msgs []*wire.Message
	var err error
	if req.Peer != "" {
		msgs, err = h.hub.store.Conversation(context.Background(), identity, req.Peer, limit)
	} else {
		msgs, err = h.hub.store.GroupHistory(context.Background(), req.Group, limit)
	}
	if err != nil {
		glog.Errorf("handleHistory(): %s: %v", identity, err)
		h.replyError(maskInternal(err))
		return
	}
	h.reply(&wire.ServerMsg{History: &wire.MessageList{Messages: msgs}})
}

func (h *Handler) reply(msg *wire.ServerMsg) {
	if err := h.appendDataChan(&SessionData{ServerMsg: msg}); err != nil {
		glog.V(5).Infof("reply(): %s: %v", h.SID(), err)
	}
}

func (h *Handler) replyError(e *wire.Error) {
	wire.InterceptError(e)
	h.reply(&wire.ServerMsg{Error: e})
}

func maskInternal(err error) *wire.Error {
	return wire.NewInternalError(err.Error())
}

func (h *Handler) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, session: %s", h.String())
	}()

	for {
		select {
		case v, ok := <-h.dataChan:
			if !ok { // chan was closed
				h.conn.Close()
				glog.V(5).Infof("sendLoop(): data chan closed, session: %s", h.String())
				return
			}

			if v.Error > 0 {
				// The auth timer can race a successful auth: a timeout frame
				// queued just before the session went Active is stale.
				if v.Error == AuthTimeout && h.State() == StateActive {
					continue
				}
				h.close(v.Error)
				return
			} else if v.ServerMsg == nil {
				// should not happen.
				panic(fmt.Sprintf("sendLoop(), unknown data from dataChan: %#+v", v))
			}

			if err := sendServerMsg(h.conn, v.ServerMsg); err != nil {
				// Close directly: this loop is the only dataChan reader, so a
				// queued error frame would never be consumed.
				glog.Errorf("sendLoop(), error write message. session: %s, err: %v", h.String(), err)
				h.close(WriteError)
				return
			}
			if v.ServerMsg.Kickoff {
				h.close(KickedOff)
				return
			}
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(), error write ping message. session: %s, err: %v", h.String(), err)
				h.close(PingError)
				return
			}
		}
	}
}
