package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/fedlogin/internal/model"
	"github.com/hitoshi/fedlogin/internal/repository"
)

const bearerPrefix = "Bearer "

// Principal は認証済みリクエストの主体を表す。
type Principal struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// Authenticator はAuthorizationヘッダーのbearerトークンをセッションストアで検証する。
type Authenticator struct {
	sessionRepo repository.SessionRepository
	metrics     Metrics
}

// NewAuthenticator はAuthenticatorを生成する。
func NewAuthenticator(sessionRepo repository.SessionRepository) *Authenticator {
	return &Authenticator{sessionRepo: sessionRepo, metrics: nopMetrics{}}
}

// WithMetrics はメトリクス記録先を設定したAuthenticatorを返す。
func (a *Authenticator) WithMetrics(m Metrics) *Authenticator {
	if m != nil {
		a.metrics = m
	}
	return a
}

// Authenticate はAuthorizationヘッダーの値を検証し、セッションの主体を返す。
// "Bearer " 接頭辞は省略可能。ヘッダー欠落・未知のトークンはUNAUTHORIZED、
// 期限切れはSESSION_EXPIREDを返す。
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*Principal, error) {
	token := strings.TrimPrefix(header, bearerPrefix)
	if token == "" {
		a.metrics.RecordAuthentication(model.ErrCodeUnauthorized)
		return nil, model.NewUnauthorizedError()
	}

	session, err := a.sessionRepo.Get(ctx, token)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		a.metrics.RecordAuthentication(model.ErrCodeUnauthorized)
		return nil, model.NewUnauthorizedError()
	case errors.Is(err, repository.ErrExpired):
		a.metrics.RecordAuthentication(model.ErrCodeSessionExpired)
		return nil, model.NewSessionExpiredError()
	case err != nil:
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	a.metrics.RecordAuthentication("ok")
	return &Principal{
		UserID:    session.UserID,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	}, nil
}
