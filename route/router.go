// Package route accepts outbound messages, persists them ahead of delivery,
// and hands them to live connections or the offline mailbox.
package route

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/konnect-im/konnectd/presence"
	"github.com/konnect-im/konnectd/store"
	"github.com/konnect-im/konnectd/wire"
)

// ErrInvalidMessage rejects a send whose shape is wrong: recipient and group
// both set, neither set, empty content, or an unknown content kind.
var ErrInvalidMessage = errors.New("invalid message")

type Router struct {
	store    store.IStore
	groups   store.IGroupResolver
	registry *presence.Registry
}

func NewRouter(st store.IStore, groups store.IGroupResolver, registry *presence.Registry) *Router {
	return &Router{
		store:    st,
		groups:   groups,
		registry: registry,
	}
}

// Send routes one message. The message is persisted before any delivery is
// attempted; a persistence failure aborts the send. Each destination then
// independently resolves to "delivered" (at least one of its handles accepted
// the frame) or "stored" (appended to its mailbox). The returned ack is also
// emitted to every handle of the sender.
//
// Send holds no lock across persistence, membership resolution, or emits, so
// sends for different messages run fully concurrently. Per sender-recipient
// ordering follows from each session routing its sends sequentially.
func (r *Router) Send(ctx context.Context, sender string, req *wire.SendReq) (*wire.Ack, error) {
	kind, err := validate(sender, req)
	if err != nil {
		return nil, err
	}

	dests, err := r.resolve(ctx, sender, req)
	if err != nil {
		return nil, err
	}

	msg := &wire.Message{
		Sender:     sender,
		To:         req.To,
		Group:      req.Group,
		Content:    req.Content,
		Kind:       kind,
		ReplyTo:    req.ReplyTo,
		CreateTime: time.Now().Unix(),
	}

	// Write-ahead: durability precedes notification.
	id, err := r.store.PersistMessage(ctx, msg)
	if err != nil {
		glog.Errorf("Send(): persist message from %s err: %v", sender, err)
		sendErrorsTotal.WithLabelValues("storage").Inc()
		return nil, err
	}
	msg.ID = id

	results := make(map[string]string, len(dests))
	for _, dest := range dests {
		outcome := r.deliver(ctx, dest, msg)
		results[dest] = outcome
		outcomesTotal.WithLabelValues(outcome).Inc()
	}

	ack := &wire.Ack{MessageID: id, Results: results}
	ackFrame := &wire.ServerMsg{Ack: ack}
	for _, h := range r.registry.HandlesFor(sender) {
		if err := h.Emit(ackFrame); err != nil {
			glog.V(5).Infof("Send(): ack to %s/%s: %v", sender, h.SID(), err)
		}
	}

	return ack, nil
}

func validate(sender string, req *wire.SendReq) (string, error) {
	if sender == "" {
		return "", fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	}
	if (req.To == "") == (req.Group == "") {
		return "", fmt.Errorf("%w: exactly one of recipient and group must be set", ErrInvalidMessage)
	}
	if req.Content == "" {
		return "", fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	kind := req.Kind
	if kind == "" {
		kind = wire.KindText
	}
	if kind != wire.KindText && kind != wire.KindFile {
		return "", fmt.Errorf("%w: unknown content kind %q", ErrInvalidMessage, req.Kind)
	}
	return kind, nil
}

// resolve expands the destination to identities, excluding the sender and
// deduplicating. An unknown group is not an error: the message is still
// persisted with zero destinations.
func (r *Router) resolve(ctx context.Context, sender string, req *wire.SendReq) ([]string, error) {
	if req.To != "" {
		if req.To == sender {
			return nil, nil
		}
		return []string{req.To}, nil
	}

	members, err := r.groups.MembersOf(ctx, req.Group)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			glog.V(5).Infof("resolve(): unknown group %s, zero destinations", req.Group)
			return nil, nil
		}
		return nil, err
	}

	seen := make(map[string]struct{}, len(members))
	var dests []string
	for _, identity := range members {
		if identity == sender {
			continue
		}
		if _, dup := seen[identity]; dup {
			continue
		}
		seen[identity] = struct{}{}
		dests = append(dests, identity)
	}
	return dests, nil
}

// deliver pushes msg to every live handle of dest, or appends it to the
// mailbox. A destination going offline mid fan-out, or all of its emits
// failing, degrades to the stored outcome; nothing is lost, the recipient
// drains the mailbox on its next reconnect.
func (r *Router) deliver(ctx context.Context, dest string, msg *wire.Message) string {
	if r.registry.IsOnline(dest) {
		frame := &wire.ServerMsg{Message: msg}
		delivered := false
		for _, h := range r.registry.HandlesFor(dest) {
			if err := h.Emit(frame); err != nil {
				glog.Errorf("deliver(): emit %s to %s/%s: %v", msg.ID, dest, h.SID(), err)
				continue
			}
			delivered = true
		}
		if delivered {
			if err := r.store.MarkDelivered(ctx, msg.ID); err != nil {
				glog.Errorf("deliver(): mark %s delivered: %v", msg.ID, err)
			}
			return wire.OutcomeDelivered
		}
	}

	if err := r.store.AppendMailbox(ctx, dest, msg.ID); err != nil {
		// The message itself is persisted; history still covers it.
		glog.Errorf("deliver(): append mailbox for %s: %v", dest, err)
		sendErrorsTotal.WithLabelValues("mailbox").Inc()
	}
	return wire.OutcomeStored
}
