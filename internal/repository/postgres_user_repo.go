package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/fedlogin/internal/clock"
	"github.com/hitoshi/fedlogin/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB, c clock.Clock) *PostgresUserRepo {
	return &PostgresUserRepo{db: db, clock: c}
}

// Upsert は既存ユーザーを返すか、新規ユーザーを作成して返す。
// ON CONFLICT DO NOTHINGにより同一IDの同時INSERTでも作成されるのは1行のみで、
// 後続のSELECTは全呼び出し元で同じ行を返す。
func (r *PostgresUserRepo) Upsert(ctx context.Context, id, email string) (*model.User, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		id, nullString(email), r.clock.Now(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return r.FindByID(ctx, id)
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はErrNotFoundを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var (
		user  model.User
		email sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &email, &user.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	user.Email = email.String
	return &user, nil
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
