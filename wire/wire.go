// Package wire defines the JSON envelope exchanged with clients over the
// websocket. A frame is a union struct: exactly one field is set, and the
// set field names the frame type.
package wire

// Content kinds.
const (
	KindText = "text"
	KindFile = "file"
)

// Per-destination delivery outcomes reported in an Ack.
const (
	OutcomeDelivered = "delivered"
	OutcomeStored    = "stored"
)

// Error codes, numbered after grpc codes.
const (
	CodeInvalidArgument int32 = 3
	CodeNotFound        int32 = 5
	CodeInternal        int32 = 13
)

// Message is a chat message. Exactly one of To and Group is set. Content is
// an opaque ciphertext blob: the server stores and routes it, never reads it.
type Message struct {
	ID         string `json:"id"`
	Sender     string `json:"sender"`
	To         string `json:"to,omitempty"`
	Group      string `json:"group,omitempty"`
	Content    string `json:"content"`
	Kind       string `json:"kind"`
	ReplyTo    string `json:"reply_to,omitempty"`
	CreateTime int64  `json:"create_time"`
	Delivered  bool   `json:"delivered,omitempty"`
	Read       bool   `json:"read,omitempty"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// ClientMsg is a client to server frame.
type ClientMsg struct {
	Auth    *AuthReq    `json:"auth,omitempty"`
	Send    *SendReq    `json:"send,omitempty"`
	Drain   *DrainReq   `json:"drain,omitempty"`
	SetRead *SetReadReq `json:"set_read,omitempty"`
	Delete  *DeleteReq  `json:"delete,omitempty"`
	History *HistoryReq `json:"history,omitempty"`
}

type AuthReq struct {
	Token string `json:"token"`
}

// SendReq asks the server to deliver Content to a user or a group.
type SendReq struct {
	To      string `json:"to,omitempty"`
	Group   string `json:"group,omitempty"`
	Content string `json:"content"`
	Kind    string `json:"kind,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
}

type DrainReq struct {
	Limit int `json:"limit,omitempty"`
}

type SetReadReq struct {
	MessageID string `json:"message_id"`
}

// DeleteReq soft-deletes a message the caller sent.
type DeleteReq struct {
	MessageID string `json:"message_id"`
}

// HistoryReq fetches conversation history with a peer or within a group.
type HistoryReq struct {
	Peer  string `json:"peer,omitempty"`
	Group string `json:"group,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// ServerMsg is a server to client frame.
type ServerMsg struct {
	Message  *Message     `json:"message,omitempty"`
	Presence *Presence    `json:"presence,omitempty"`
	Ack      *Ack         `json:"ack,omitempty"`
	Drained  *MessageList `json:"drained,omitempty"`
	History  *MessageList `json:"history,omitempty"`
	Read     *ReadResp    `json:"read,omitempty"`
	Deleted  *DeleteResp  `json:"deleted,omitempty"`
	Kickoff  bool         `json:"kickoff,omitempty"`
	Error    *Error       `json:"error,omitempty"`
}

// Presence announces an identity going online or offline.
type Presence struct {
	Identity string `json:"identity"`
	Online   bool   `json:"online"`
	At       int64  `json:"at"`
}

// Ack summarizes the per-destination outcome of a send.
type Ack struct {
	MessageID string            `json:"message_id"`
	Results   map[string]string `json:"results"`
}

type MessageList struct {
	Messages []*Message `json:"messages"`
}

type ReadResp struct {
	MessageID string `json:"message_id"`
	Changed   bool   `json:"changed"`
}

type DeleteResp struct {
	MessageID string `json:"message_id"`
	Changed   bool   `json:"changed"`
}

// Error is a client-visible error. Internal detail is masked before a frame
// reaches the socket.
type Error struct {
	Code   int32    `json:"code"`
	Params []string `json:"params,omitempty"`
}

func NewInvalidArgumentError(errs ...string) *Error {
	return &Error{Code: CodeInvalidArgument, Params: errs}
}

func NewNotFoundError(what string) *Error {
	return &Error{Code: CodeNotFound, Params: []string{what}}
}

func NewInternalError(err string) *Error {
	return &Error{Code: CodeInternal, Params: []string{err}}
}

// InterceptError masks internal error detail with a generic message.
func InterceptError(err *Error) {
	if err.Code == CodeInternal {
		err.Params = []string{"temp storage error"}
	}
}
