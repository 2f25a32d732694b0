package store

import (
	"context"
	"errors"

	"github.com/konnect-im/konnectd/wire"
)

// ErrNotFound is returned for lookups of unknown groups or messages.
var ErrNotFound = errors.New("not found")

// IStore persists messages and the per-recipient offline mailbox. Identity
// fields are encrypted at rest; a deterministic keyed hash of each identity
// is stored alongside the ciphertext so rows can be found by index instead of
// decrypt-and-scan.
type IStore interface {
	// PersistMessage durably stores a message and returns its id. The
	// router calls this before any delivery attempt (write-ahead).
	PersistMessage(ctx context.Context, msg *wire.Message) (string, error)

	// AppendMailbox queues an undelivered message for a recipient,
	// preserving creation order within that recipient.
	AppendMailbox(ctx context.Context, recipient, messageID string) error

	// DrainMailbox returns up to limit oldest undelivered messages for the
	// recipient and marks them delivered. Rows are retained for history.
	DrainMailbox(ctx context.Context, recipient string, limit int) ([]*wire.Message, error)

	// MarkDelivered flags a message as handed off live.
	MarkDelivered(ctx context.Context, messageID string) error

	// SetRead flags a direct message as read by its recipient. Returns
	// whether the flag changed.
	SetRead(ctx context.Context, recipient, messageID string) (bool, error)

	// SoftDelete flags a message deleted by its sender. The row is kept.
	SoftDelete(ctx context.Context, sender, messageID string) (bool, error)

	// Conversation returns the most recent direct messages between two
	// identities, newest first.
	Conversation(ctx context.Context, a, b string, limit int) ([]*wire.Message, error)

	// GroupHistory returns the most recent messages of a group, newest
	// first.
	GroupHistory(ctx context.Context, groupID string, limit int) ([]*wire.Message, error)
}

// IGroupResolver resolves a group id to its member identities.
type IGroupResolver interface {
	// MembersOf returns the member identities of a group, or ErrNotFound
	// for an unknown group.
	MembersOf(ctx context.Context, groupID string) ([]string, error)
}
