package adapter

import (
	"context"
	"errors"

	chat "go-leadchat/internal/pkg/chat/application/domain"
	repository "go-leadchat/internal/pkg/chat/persistence/repository/port"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// canonicalID returns id in canonical uuid form. Ids that do not parse
// cannot name a stored row.
func canonicalID(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

type PgChatRepository struct {
	pool DB
}

var _ repository.ChatRepository = (*PgChatRepository)(nil)

func NewPgChatRepository(pool DB) *PgChatRepository {
	return &PgChatRepository{pool: pool}
}

func (r *PgChatRepository) GetOrCreateConversation(ctx context.Context, key chat.ConversationKey) (*chat.Conversation, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgChatRepository: nil pool")
	}
	// The no-op update makes RETURNING yield the existing row on conflict.
	var c chat.Conversation
	err := r.pool.QueryRow(ctx, `
		INSERT INTO chat.conversation (job_id, job_title, homeowner_id, tradesperson_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, homeowner_id, tradesperson_id)
		DO UPDATE SET job_title = COALESCE(NULLIF(EXCLUDED.job_title, ''), chat.conversation.job_title)
		RETURNING id::text, created_at, job_id, job_title, homeowner_id, tradesperson_id
	`, key.JobID, key.JobTitle, key.HomeownerID, key.TradespersonID).Scan(
		&c.ID, &c.CreatedAt, &c.JobID, &c.JobTitle, &c.HomeownerID, &c.TradespersonID,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PgChatRepository) GetConversation(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgChatRepository: nil pool")
	}
	id, ok := canonicalID(conversationID)
	if !ok {
		return nil, chat.ErrConversationMissing
	}
	var c chat.Conversation
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, created_at, job_id, job_title, homeowner_id, tradesperson_id
		FROM chat.conversation
		WHERE id = $1::uuid
	`, id).Scan(&c.ID, &c.CreatedAt, &c.JobID, &c.JobTitle, &c.HomeownerID, &c.TradespersonID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chat.ErrConversationMissing
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// AppendMessage holds the conversation row lock while inserting, so seq order
// and created_at order agree across concurrent senders.
func (r *PgChatRepository) AppendMessage(ctx context.Context, m chat.Message) (*chat.Message, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgChatRepository: nil pool")
	}
	id, ok := canonicalID(m.ConversationID)
	if !ok {
		return nil, chat.ErrConversationMissing
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked int
	err = tx.QueryRow(ctx, `SELECT 1 FROM chat.conversation WHERE id = $1::uuid FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chat.ErrConversationMissing
	}
	if err != nil {
		return nil, err
	}

	// created_at is clamped to the newest timestamp already in the conversation.
	out := m
	err = tx.QueryRow(ctx, `
		INSERT INTO chat.message (conversation_id, sender_id, content, created_at)
		VALUES (
			$1::uuid, $2, $3,
			GREATEST($4::timestamptz, COALESCE((SELECT max(created_at) FROM chat.message WHERE conversation_id = $1::uuid), $4::timestamptz))
		)
		RETURNING id::text, created_at, seq
	`, id, m.SenderID, m.Content, m.CreatedAt).Scan(&out.ID, &out.CreatedAt, &out.Seq)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	out.ConversationID = id
	out.Read = false
	return &out, nil
}

func (r *PgChatRepository) ListMessages(ctx context.Context, conversationID string, limit int, offset int) ([]chat.Message, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgChatRepository: nil pool")
	}
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	id, ok := canonicalID(conversationID)
	if !ok {
		return []chat.Message{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, conversation_id::text, sender_id, content, created_at, read, seq
		FROM chat.message
		WHERE conversation_id = $1::uuid
		ORDER BY seq ASC
		LIMIT NULLIF($2, 0) OFFSET $3
	`, id, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]chat.Message, 0)
	for rows.Next() {
		var msg chat.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.CreatedAt, &msg.Read, &msg.Seq); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return msgs, nil
}

func (r *PgChatRepository) MarkRead(ctx context.Context, conversationID string, readerID string, upToMessageID string) (int64, error) {
	if r == nil || r.pool == nil {
		return 0, errors.New("PgChatRepository: nil pool")
	}
	convID, ok := canonicalID(conversationID)
	if !ok {
		return 0, nil
	}
	upTo, ok := canonicalID(upToMessageID)
	if !ok {
		return 0, nil
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE chat.message
		SET read = true
		WHERE conversation_id = $1::uuid
		  AND sender_id <> $2
		  AND read = false
		  AND seq <= (
			SELECT seq FROM chat.message
			WHERE conversation_id = $1::uuid AND id = $3::uuid
		  )
	`, convID, readerID, upTo)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
