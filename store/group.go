package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/golang/glog"
)

const (
	getGroupSQL      = "SELECT group_key FROM chat_groups WHERE group_key=?"
	insertGroupSQL   = "INSERT INTO chat_groups (group_key, group_ct, name_ct, create_time) VALUES (?,?,?,?)"
	insertMemberSQL  = "INSERT INTO group_members (group_key, member_key, member_ct, joined_at) VALUES (?,?,?,?)"
	deleteMemberSQL  = "DELETE FROM group_members WHERE group_key=? AND member_key=?"
	selectMembersSQL = "SELECT member_ct FROM group_members WHERE group_key=?"
)

// MembersOf implements IGroupResolver. Membership rows carry a lookup key for
// the group, so resolution is a single indexed query followed by opening the
// sealed member identities.
func (s *msgStore) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	gkey := s.codec.LookupKey(groupID)
	var members []string

	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var k string
		if err := tx.QueryRowContext(ctx, getGroupSQL, gkey).Scan(&k); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			glog.Errorf("get group scan err: %v", err)
			return err
		}

		rows, err := tx.QueryContext(ctx, selectMembersSQL, gkey)
		if err != nil {
			glog.Errorf("select members query err: %v", err)
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var ct string
			if err := rows.Scan(&ct); err != nil {
				return err
			}
			identity, err := s.codec.Open(ct)
			if err != nil {
				return err
			}
			members = append(members, identity)
		}
		return rows.Err()
	}, &sql.TxOptions{ReadOnly: true}); err != nil {
		return nil, err
	}

	return members, nil
}

// CreateGroup registers a group id. Group profile CRUD lives in the admin
// service; the delivery core only needs the id and the member set.
func (s *msgStore) CreateGroup(ctx context.Context, groupID, name string) error {
	groupCt, err := s.codec.Seal(groupID)
	if err != nil {
		return err
	}
	nameCt, err := s.codec.Seal(name)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertGroupSQL,
			s.codec.LookupKey(groupID), groupCt, nameCt, time.Now().Unix())
		return err
	})
}

// AddMember adds an identity to a group.
func (s *msgStore) AddMember(ctx context.Context, groupID, identity string) error {
	memberCt, err := s.codec.Seal(identity)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertMemberSQL,
			s.codec.LookupKey(groupID), s.codec.LookupKey(identity), memberCt, time.Now().Unix())
		return err
	})
}

// RemoveMember removes an identity from a group.
func (s *msgStore) RemoveMember(ctx context.Context, groupID, identity string) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, deleteMemberSQL,
			s.codec.LookupKey(groupID), s.codec.LookupKey(identity))
		return err
	})
}
