package store

import (
	"context"
	"database/sql"

	"github.com/golang/glog"

	"github.com/konnect-im/konnectd/wire"
)

const (
	getMailboxSeqSQL    = "SELECT seq FROM mailbox_seq WHERE recipient_key=? FOR UPDATE"
	insertMailboxSeqSQL = "INSERT INTO mailbox_seq (recipient_key, seq) VALUES (?, 1)"
	incMailboxSeqSQL    = "UPDATE mailbox_seq SET seq=seq+1 WHERE recipient_key=? AND seq=?"

	insertMailboxSQL = "INSERT INTO mailbox (recipient_key, seq, message_id, delivered) VALUES (?,?,?,0)"

	drainSelectSQL = "SELECT b.seq, m.id, m.sender_ct, m.recipient_ct, m.group_ct, m.content, m.kind, m.reply_to, m.create_time, m.delivered, m.read_state " +
		"FROM mailbox AS b, messages AS m " +
		"WHERE b.recipient_key = ? AND b.delivered = 0 AND b.message_id = m.id " +
		"ORDER BY b.seq ASC LIMIT ?"
	drainMarkSQL = "UPDATE mailbox SET delivered = 1 WHERE recipient_key = ? AND seq = ? AND delivered = 0"
)

// AppendMailbox queues messageID for the recipient. A per-recipient sequence
// allocated under a row lock preserves append order even for concurrent
// senders.
func (s *msgStore) AppendMailbox(ctx context.Context, recipient, messageID string) error {
	rkey := s.codec.LookupKey(recipient)
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		seq, err := s.incSeq(ctx, tx, rkey)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertMailboxSQL, rkey, seq, messageID); err != nil {
			glog.Errorf("insert mailbox exec err: %v", err)
			return err
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// DrainMailbox returns up to limit oldest undelivered messages and marks both
// the mailbox rows and the messages delivered in one transaction. Rows are
// retained; drain is at-least-once from the caller's point of view.
func (s *msgStore) DrainMailbox(ctx context.Context, recipient string, limit int) ([]*wire.Message, error) {
	rkey := s.codec.LookupKey(recipient)
	var out []*wire.Message

	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, drainSelectSQL, rkey, limit)
		if err != nil {
			glog.Errorf("drain query err: %v", err)
			return err
		}

		var seqs []int32
		for rows.Next() {
			var seq int32
			var m wire.Message
			var senderCt string
			var recipientCt, groupCt, replyTo sql.NullString
			var delivered, readState byte

			if err := rows.Scan(&seq, &m.ID, &senderCt, &recipientCt, &groupCt,
				&m.Content, &m.Kind, &replyTo, &m.CreateTime, &delivered, &readState); err != nil {
				rows.Close()
				glog.Errorf("drain scan err: %v", err)
				return err
			}

			if m.Sender, err = s.codec.Open(senderCt); err != nil {
				rows.Close()
				return err
			}
			if recipientCt.Valid {
				if m.To, err = s.codec.Open(recipientCt.String); err != nil {
					rows.Close()
					return err
				}
			}
			if groupCt.Valid {
				if m.Group, err = s.codec.Open(groupCt.String); err != nil {
					rows.Close()
					return err
				}
			}
			if replyTo.Valid {
				m.ReplyTo = replyTo.String
			}
			m.Read = readState > 0
			m.Delivered = true // delivered as part of this drain

			seqs = append(seqs, seq)
			out = append(out, &m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if len(out) == 0 {
			return nil
		}

		markStmt, err := tx.PrepareContext(ctx, drainMarkSQL)
		if err != nil {
			glog.Errorf("prepare drain mark err: %v", err)
			return err
		}
		defer markStmt.Close()

		deliveredStmt, err := tx.PrepareContext(ctx, markDeliveredSQL)
		if err != nil {
			return err
		}
		defer deliveredStmt.Close()

		for i, seq := range seqs {
			if _, err := markStmt.ExecContext(ctx, rkey, seq); err != nil {
				glog.Errorf("drain mark exec err: %v", err)
				return err
			}
			if _, err := deliveredStmt.ExecContext(ctx, out[i].ID); err != nil {
				glog.Errorf("drain mark delivered exec err: %v", err)
				return err
			}
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelSerializable}); err != nil {
		return nil, err
	}

	return out, nil
}

// incSeq allocates the next mailbox sequence for a recipient under
// SELECT ... FOR UPDATE.
func (s *msgStore) incSeq(ctx context.Context, tx *sql.Tx, rkey string) (int32, error) {
	var seq int32

	row := tx.QueryRowContext(ctx, getMailboxSeqSQL, rkey)
	if err := row.Scan(&seq); err != nil {
		if err != sql.ErrNoRows {
			glog.Errorf("get mailbox seq scan err: %v", err)
			return -1, err
		}
	}

	// insert if not found.
	if seq == 0 {
		if _, err := tx.ExecContext(ctx, insertMailboxSeqSQL, rkey); err != nil {
			if s.IsDupKeyError(err) {
				// already exists, select for update again.
				row := tx.QueryRowContext(ctx, getMailboxSeqSQL, rkey)
				if err := row.Scan(&seq); err != nil {
					return -1, err
				}
			} else {
				glog.Errorf("insert mailbox seq err: %v", err)
				return -1, err
			}
		}
	}

	if _, err := tx.ExecContext(ctx, incMailboxSeqSQL, rkey, seq); err != nil {
		glog.Errorf("update mailbox seq exec err: %v", err)
		return -1, err
	}
	return seq + 1, nil
}
