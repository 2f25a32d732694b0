package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"

	"github.com/konnect-im/konnectd/wire"
)

const dsn = "root:@tcp(127.0.0.1:3306)/konnectd?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci"

// openTestStore connects to the local test database (dev/schema.sql) and
// truncates all tables. Skipped when the database is unreachable.
func openTestStore(t *testing.T) *msgStore {
	t.Helper()

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("mysql open: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("mysql unreachable: %v", err)
	}

	for _, table := range []string{"messages", "mailbox", "mailbox_seq", "chat_groups", "group_members"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("clean %s: %v", table, err)
		}
	}

	codec, err := NewFieldCodec(testMaster)
	assert.NoError(t, err)
	return NewStore(db, codec)
}

func newTestMessage(sender, to, group, content string) *wire.Message {
	return &wire.Message{
		Sender:     sender,
		To:         to,
		Group:      group,
		Content:    content,
		Kind:       wire.KindText,
		CreateTime: time.Now().Unix(),
	}
}

func TestPersistAndConversation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.PersistMessage(ctx, newTestMessage("A", "B", "", "ct-1"))
	assert.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.PersistMessage(ctx, newTestMessage("B", "A", "", "ct-2"))
	assert.NoError(t, err)
	_, err = s.PersistMessage(ctx, newTestMessage("A", "C", "", "ct-3"))
	assert.NoError(t, err)

	msgs, err := s.Conversation(ctx, "A", "B", 50)
	assert.NoError(t, err)
	assert.Len(t, msgs, 2, "conversation covers both directions, excludes other peers")
	for _, m := range msgs {
		assert.Contains(t, []string{"A", "B"}, m.Sender)
		assert.Empty(t, m.Group)
	}
}

func TestMailboxOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		m := newTestMessage("A", "B", "", fmt.Sprintf("ct-%d", i))
		id, err := s.PersistMessage(ctx, m)
		assert.NoError(t, err)
		assert.NoError(t, s.AppendMailbox(ctx, "B", id))
		ids = append(ids, id)
	}

	msgs, err := s.DrainMailbox(ctx, "B", 2)
	assert.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, ids[0], msgs[0].ID, "oldest first")
	assert.Equal(t, ids[1], msgs[1].ID)
	assert.True(t, msgs[0].Delivered)

	// Remainder on the next drain; then empty.
	msgs, err = s.DrainMailbox(ctx, "B", 50)
	assert.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, ids[2], msgs[0].ID)

	msgs, err = s.DrainMailbox(ctx, "B", 50)
	assert.NoError(t, err)
	assert.Empty(t, msgs)

	// Drained rows are retained for history.
	hist, err := s.Conversation(ctx, "A", "B", 50)
	assert.NoError(t, err)
	assert.Len(t, hist, 3)
}

func TestMailboxSeqConcurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	const N = 20
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := newTestMessage("A", "B", "", fmt.Sprintf("ct-%d", i))
			id, err := s.PersistMessage(ctx, m)
			if err != nil {
				panic(err)
			}
			if err := s.AppendMailbox(ctx, "B", id); err != nil {
				panic(err)
			}
		}(i)
	}
	wg.Wait()

	msgs, err := s.DrainMailbox(ctx, "B", N)
	assert.NoError(t, err)
	assert.Len(t, msgs, N, "no mailbox entry lost under concurrent append")
}

func TestReadAndSoftDeleteFlags(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.PersistMessage(ctx, newTestMessage("A", "B", "", "ct"))
	assert.NoError(t, err)

	// Only the recipient can mark read, and only once.
	changed, err := s.SetRead(ctx, "C", id)
	assert.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.SetRead(ctx, "B", id)
	assert.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.SetRead(ctx, "B", id)
	assert.NoError(t, err)
	assert.False(t, changed)

	// Soft delete hides the message from history but keeps the row.
	changed, err = s.SoftDelete(ctx, "A", id)
	assert.NoError(t, err)
	assert.True(t, changed)

	msgs, err := s.Conversation(ctx, "A", "B", 50)
	assert.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestGroupResolver(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.MembersOf(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.CreateGroup(ctx, "g1", "algo club"))
	assert.NoError(t, s.AddMember(ctx, "g1", "A"))
	assert.NoError(t, s.AddMember(ctx, "g1", "B"))
	assert.NoError(t, s.AddMember(ctx, "g1", "C"))
	assert.NoError(t, s.RemoveMember(ctx, "g1", "C"))

	members, err := s.MembersOf(ctx, "g1")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, members)
}

func TestGroupHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.PersistMessage(ctx, newTestMessage("A", "", "g1", "ct-1"))
	assert.NoError(t, err)
	_, err = s.PersistMessage(ctx, newTestMessage("B", "", "g1", "ct-2"))
	assert.NoError(t, err)
	_, err = s.PersistMessage(ctx, newTestMessage("B", "", "g2", "ct-3"))
	assert.NoError(t, err)

	msgs, err := s.GroupHistory(ctx, "g1", 50)
	assert.NoError(t, err)
	assert.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "g1", m.Group)
		assert.Empty(t, m.To)
	}
}
