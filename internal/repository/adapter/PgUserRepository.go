package adapter

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	repository "go-leadchat/internal/repository/port"
)

// Querier is the part of *pgxpool.Pool this repository uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgUserRepository struct {
	db Querier
}

var _ repository.UserRepository = (*PgUserRepository)(nil)

func NewPgUserRepository(db Querier) *PgUserRepository {
	return &PgUserRepository{db: db}
}

func (r *PgUserRepository) FindUserIDBySessionToken(ctx context.Context, token string) (string, error) {
	if r == nil || r.db == nil {
		return "", errors.New("PgUserRepository: nil pool")
	}
	var userID string
	err := r.db.QueryRow(ctx, `
		SELECT user_id FROM app.user_session
		WHERE token = $1 AND expires_at > now()
	`, token).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", repository.ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}
