package adapter

import (
	"context"
	"testing"
	"time"

	chat "go-leadchat/internal/pkg/chat/application/domain"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	convID = "0b6c1f9e-3f5a-4c53-9a6e-4f1f2b7d8c01"
	msgID1 = "5d8a2c44-1b7e-4e0f-8f3b-2a9c6d1e7f10"
	msgID2 = "9e1f3a55-2c8d-4f1a-9b4c-3b0d7e2f8a21"
)

func newMockRepo(t *testing.T) (*PgChatRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgChatRepository(mock), mock
}

func TestPgGetOrCreateConversation(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cols := []string{"id", "created_at", "job_id", "job_title", "homeowner_id", "tradesperson_id"}

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`INSERT INTO chat.conversation`).
			WithArgs("J123", "Fix roof", "H", "T").
			WillReturnRows(pgxmock.NewRows(cols).AddRow("c-1", created, "J123", "Fix roof", "H", "T"))
	}

	first, err := repo.GetOrCreateConversation(context.Background(), testKey)
	require.NoError(t, err)
	second, err := repo.GetOrCreateConversation(context.Background(), testKey)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "T", first.TradespersonID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetConversationMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT id::text, created_at, job_id`).
		WithArgs(convID).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetConversation(context.Background(), convID)
	assert.ErrorIs(t, err, chat.ErrConversationMissing)

	// A malformed id never reaches the database.
	_, err = repo.GetConversation(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, chat.ErrConversationMissing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgAppendMessage(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	stored := now.Add(time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM chat.conversation WHERE id = \$1::uuid FOR UPDATE`).
		WithArgs(convID).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO chat.message`).
		WithArgs(convID, "T", "Can you do Tuesday?", now).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "seq"}).AddRow(msgID1, stored, int64(7)))
	mock.ExpectCommit()

	msg, err := repo.AppendMessage(context.Background(), chat.Message{
		ConversationID: convID, SenderID: "T", Content: "Can you do Tuesday?", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, msgID1, msg.ID)
	assert.Equal(t, stored, msg.CreatedAt)
	assert.Equal(t, int64(7), msg.Seq)
	assert.False(t, msg.Read)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgAppendMessageUnknownConversation(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM chat.conversation`).
		WithArgs(convID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.AppendMessage(context.Background(), chat.Message{ConversationID: convID, SenderID: "T", Content: "hi"})
	assert.ErrorIs(t, err, chat.ErrConversationMissing)

	_, err = repo.AppendMessage(context.Background(), chat.Message{ConversationID: "c-1", SenderID: "T", Content: "hi"})
	assert.ErrorIs(t, err, chat.ErrConversationMissing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListMessages(t *testing.T) {
	repo, mock := newMockRepo(t)
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cols := []string{"id", "conversation_id", "sender_id", "content", "created_at", "read", "seq"}

	mock.ExpectQuery(`WHERE conversation_id = \$1::uuid`).
		WithArgs(convID, 0, 0).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(msgID1, convID, "T", "first", t0, true, int64(1)).
			AddRow(msgID2, convID, "H", "second", t0.Add(time.Second), false, int64(2)))

	msgs, err := repo.ListMessages(context.Background(), convID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.True(t, msgs[0].Read)
	assert.Equal(t, "H", msgs[1].SenderID)

	msgs, err = repo.ListMessages(context.Background(), "c-1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMarkRead(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`UPDATE chat.message`).
		WithArgs(convID, "H", msgID2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := repo.MarkRead(context.Background(), convID, "H", msgID2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.MarkRead(context.Background(), convID, "H", "m-2")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
