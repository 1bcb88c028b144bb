// Package repository はログイン状態・セッション・ユーザーの永続化インターフェースを定義する。
// 各実装はキー単位でアトミックに振る舞い、呼び出し側はバックエンドを意識しない。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/fedlogin/internal/model"
)

var (
	// ErrNotFound はキーに対応するレコードが存在しないことを表す。
	ErrNotFound = errors.New("record not found")
	// ErrExpired はレコードが有効期限を過ぎていたことを表す。レコードは削除済み。
	ErrExpired = errors.New("record expired")
	// ErrDuplicateKey は同じキーのレコードが既に存在することを表す。
	ErrDuplicateKey = errors.New("duplicate key")
)

// PendingLoginRepository はログイン開始時のstate/nonceを有効期限付きで保持する。
type PendingLoginRepository interface {
	// Put はstateをキーにnonceを保存する。有効期限は現在時刻+ttl。
	Put(ctx context.Context, state, nonce string, ttl time.Duration) error

	// TakeIfValid はstateのレコードを取り出して削除し、nonceを返す。
	// 存在しない場合はErrNotFound、期限切れの場合はErrExpired（削除はされる）を返す。
	// 同じstateに対する同時呼び出しのうち成功するのは1つだけ。
	TakeIfValid(ctx context.Context, state string) (string, error)

	// DeleteExpired は期限切れのレコードを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int, error)
}

// SessionRepository は不透明トークンで識別されるセッションを有効期限付きで保持する。
type SessionRepository interface {
	// Put はセッションを作成する。有効期限は現在時刻+ttl。
	Put(ctx context.Context, token, userID string, ttl time.Duration) (*model.Session, error)

	// Get はトークンのセッションを返す。何度でも読み出せる。
	// 存在しない場合はErrNotFound、期限切れの場合は削除してErrExpiredを返す。
	Get(ctx context.Context, token string) (*model.Session, error)

	// Revoke はセッションを削除する。存在しない場合もエラーにしない。
	Revoke(ctx context.Context, token string) error

	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int, error)
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Upsert はidのユーザーが存在すればそのまま返し、存在しなければ作成して返す。
	// 既存ユーザーのemailとcreated_atは上書きしない。
	Upsert(ctx context.Context, id, email string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はErrNotFoundを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
}
