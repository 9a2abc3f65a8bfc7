package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestTokenRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db)
	ctx := context.Background()

	tok := model.ConnectionToken{
		ID:             uuid.Must(uuid.NewV4()),
		DesignID:       "d1",
		User:           "alice",
		SecretHash:     []byte("h"),
		ContentVersion: 4,
		ExpiresAt:      time.Now().Add(time.Minute),
	}
	const q = `INSERT INTO session_tokens \(id, design_id, user_id, secret_hash, content_version, expires_on\) VALUES`

	mock.ExpectExec(q).
		WithArgs(tok.ID, tok.DesignID, tok.User, tok.SecretHash, tok.ContentVersion, tok.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, tok))

	mock.ExpectExec(q).
		WithArgs(tok.ID, tok.DesignID, tok.User, tok.SecretHash, tok.ContentVersion, tok.ExpiresAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, tok), errs.ErrAlreadyExists)
}

func TestTokenRepo_Consume(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db)
	ctx := context.Background()

	id := uuid.Must(uuid.NewV4())
	exp := time.Now().Add(time.Minute).UTC()
	const q = `DELETE FROM session_tokens WHERE id=\$1 AND design_id=\$2 AND user_id=\$3 AND secret_hash=\$4 RETURNING content_version, expires_on`

	mock.ExpectQuery(q).WithArgs(id, "d1", "alice", []byte("h")).
		WillReturnRows(pgxmock.NewRows([]string{"content_version", "expires_on"}).AddRow(int64(4), exp))
	mock.ExpectQuery(q).WithArgs(id, "d1", "alice", []byte("h")).
		WillReturnError(pgx.ErrNoRows)

	tok, err := r.Consume(ctx, id, "d1", "alice", []byte("h"))
	require.NoError(t, err)
	require.Equal(t, int64(4), tok.ContentVersion)
	require.Equal(t, exp, tok.ExpiresAt)

	_, err = r.Consume(ctx, id, "d1", "alice", []byte("h"))
	require.ErrorIs(t, err, errs.ErrSessionNotFound)
}

func TestTokenRepo_DeleteExpired(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db)

	now := time.Now()
	mock.ExpectExec(`DELETE FROM session_tokens WHERE expires_on < \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := r.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}
