package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/konnect-im/konnectd/wire"
)

const (
	insertMessageSQL = "INSERT INTO messages " +
		"(id, sender_key, recipient_key, group_key, sender_ct, recipient_ct, group_ct, content, kind, reply_to, create_time, delivered, read_state, deleted) " +
		"VALUES (?,?,?,?,?,?,?,?,?,?,?,0,0,0)"
	markDeliveredSQL = "UPDATE messages SET delivered = 1 WHERE id = ? AND delivered = 0"
	setReadSQL       = "UPDATE messages SET read_state = 1 WHERE id = ? AND recipient_key = ? AND read_state = 0"
	softDeleteSQL    = "UPDATE messages SET deleted = 1 WHERE id = ? AND sender_key = ? AND deleted = 0"

	messageColumns = "id, sender_ct, recipient_ct, group_ct, content, kind, reply_to, create_time, delivered, read_state"

	conversationSQL = "SELECT " + messageColumns + " FROM messages " +
		"WHERE ((sender_key = ? AND recipient_key = ?) OR (sender_key = ? AND recipient_key = ?)) AND deleted = 0 " +
		"ORDER BY create_time DESC LIMIT ?"
	groupHistorySQL = "SELECT " + messageColumns + " FROM messages " +
		"WHERE group_key = ? AND deleted = 0 ORDER BY create_time DESC LIMIT ?"
)

// msgStore implements IStore and IGroupResolver on MySQL, with identity
// fields sealed by the codec and lookup-key columns for indexed access.
type msgStore struct {
	*sql.DB
	codec *FieldCodec
}

func NewStore(db *sql.DB, codec *FieldCodec) *msgStore {
	return &msgStore{DB: db, codec: codec}
}

func (s *msgStore) withTx(ctx context.Context, exec func(ctx context.Context, tx *sql.Tx) error, opts ...*sql.TxOptions) error {
	var txOpts *sql.TxOptions
	if len(opts) == 0 {
		txOpts = &sql.TxOptions{
			Isolation: sql.LevelRepeatableRead,
			ReadOnly:  false,
		}
	} else {
		txOpts = opts[0]
	}
	tx, err := s.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	if err := exec(ctx, tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			glog.Errorf("failed to rollback: %v", err2)
		}
		return err
	}

	return tx.Commit()
}

func (s *msgStore) IsDupKeyError(err error) bool {
	if val, ok := err.(*mysql.MySQLError); ok {
		return val.Number == 1062
	}
	return false
}

func newMessageID() string {
	return strings.ReplaceAll(uuid.New(), "-", "")
}

func (s *msgStore) PersistMessage(ctx context.Context, msg *wire.Message) (string, error) {
	id := newMessageID()

	senderCt, err := s.codec.Seal(msg.Sender)
	if err != nil {
		return "", err
	}

	var recipientKey, recipientCt, groupKey, groupCt sql.NullString
	if msg.To != "" {
		ct, err := s.codec.Seal(msg.To)
		if err != nil {
			return "", err
		}
		recipientKey = sql.NullString{String: s.codec.LookupKey(msg.To), Valid: true}
		recipientCt = sql.NullString{String: ct, Valid: true}
	}
	if msg.Group != "" {
		ct, err := s.codec.Seal(msg.Group)
		if err != nil {
			return "", err
		}
		groupKey = sql.NullString{String: s.codec.LookupKey(msg.Group), Valid: true}
		groupCt = sql.NullString{String: ct, Valid: true}
	}

	var replyTo sql.NullString
	if msg.ReplyTo != "" {
		replyTo = sql.NullString{String: msg.ReplyTo, Valid: true}
	}

	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertMessageSQL,
			id, s.codec.LookupKey(msg.Sender), recipientKey, groupKey,
			senderCt, recipientCt, groupCt,
			msg.Content, msg.Kind, replyTo, msg.CreateTime)
		if err != nil {
			glog.Errorf("insert message exec err: %v", err)
		}
		return err
	}); err != nil {
		return "", err
	}

	msg.ID = id
	return id, nil
}

func (s *msgStore) MarkDelivered(ctx context.Context, messageID string) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, markDeliveredSQL, messageID)
		return err
	})
}

func (s *msgStore) SetRead(ctx context.Context, recipient, messageID string) (bool, error) {
	var changed bool
	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, setReadSQL, messageID, s.codec.LookupKey(recipient))
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		changed = n == 1
		return nil
	}); err != nil {
		return false, err
	}
	return changed, nil
}

func (s *msgStore) SoftDelete(ctx context.Context, sender, messageID string) (bool, error) {
	var changed bool
	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, softDeleteSQL, messageID, s.codec.LookupKey(sender))
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		changed = n == 1
		return nil
	}); err != nil {
		return false, err
	}
	return changed, nil
}

func (s *msgStore) Conversation(ctx context.Context, a, b string, limit int) ([]*wire.Message, error) {
	ka, kb := s.codec.LookupKey(a), s.codec.LookupKey(b)
	return s.queryMessages(ctx, conversationSQL, ka, kb, kb, ka, limit)
}

func (s *msgStore) GroupHistory(ctx context.Context, groupID string, limit int) ([]*wire.Message, error) {
	return s.queryMessages(ctx, groupHistorySQL, s.codec.LookupKey(groupID), limit)
}

func (s *msgStore) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*wire.Message, error) {
	var out []*wire.Message
	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			glog.Errorf("query messages err: %v", err)
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m, err := s.scanMessage(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	}, &sql.TxOptions{ReadOnly: true}); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMessage reads one messageColumns row and opens the sealed identity
// fields.
func (s *msgStore) scanMessage(row rowScanner) (*wire.Message, error) {
	var m wire.Message
	var senderCt string
	var recipientCt, groupCt, replyTo sql.NullString
	var delivered, readState byte

	if err := row.Scan(&m.ID, &senderCt, &recipientCt, &groupCt,
		&m.Content, &m.Kind, &replyTo, &m.CreateTime, &delivered, &readState); err != nil {
		glog.Errorf("scan message err: %v", err)
		return nil, err
	}

	sender, err := s.codec.Open(senderCt)
	if err != nil {
		return nil, err
	}
	m.Sender = sender

	if recipientCt.Valid {
		if m.To, err = s.codec.Open(recipientCt.String); err != nil {
			return nil, err
		}
	}
	if groupCt.Valid {
		if m.Group, err = s.codec.Open(groupCt.String); err != nil {
			return nil, err
		}
	}
	if replyTo.Valid {
		m.ReplyTo = replyTo.String
	}
	m.Delivered = delivered > 0
	m.Read = readState > 0
	return &m, nil
}
