// Package auth はOIDCインプリシットフローによるログインと、
// 不透明なbearerトークンによるセッション認証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/fedlogin/internal/model"
	"github.com/hitoshi/fedlogin/internal/repository"
	"github.com/hitoshi/fedlogin/internal/security"
)

const (
	// DefaultStateTTL はstate/nonceの有効期間。捕捉されたstateを再利用できる時間を制限する。
	DefaultStateTTL = 15 * time.Minute
	// DefaultSessionTTL はアクセストークンの有効期間。
	DefaultSessionTTL = 24 * time.Hour

	// TokenTypeBearer はログイン結果のtoken_type。
	TokenTypeBearer = "bearer"
)

// ServiceConfig はログインフローの設定。
type ServiceConfig struct {
	StateTTL   time.Duration
	SessionTTL time.Duration
}

// LoginResult はログイン完了時にクライアントへ返すアクセストークン。
type LoginResult struct {
	AccessToken string
	ExpiresAt   time.Time
	TokenType   string
}

// Service はログインフロー（開始・完了）とユーザー取得を提供する。
type Service struct {
	provider    IdentityProvider
	pendingRepo repository.PendingLoginRepository
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	tokens      security.TokenGenerator
	metrics     Metrics
	config      ServiceConfig
}

// NewService はServiceを生成する。TTLが0以下の場合はデフォルト値を使用する。
func NewService(
	provider IdentityProvider,
	pendingRepo repository.PendingLoginRepository,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	tokens security.TokenGenerator,
	config ServiceConfig,
) *Service {
	if config.StateTTL <= 0 {
		config.StateTTL = DefaultStateTTL
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	return &Service{
		provider:    provider,
		pendingRepo: pendingRepo,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		metrics:     nopMetrics{},
		config:      config,
	}
}

// WithMetrics はメトリクス記録先を設定したServiceを返す。
func (s *Service) WithMetrics(m Metrics) *Service {
	if m != nil {
		s.metrics = m
	}
	return s
}

// BeginLogin はstateとnonceを発行・保存し、IdPの認可URLを返す。
func (s *Service) BeginLogin(ctx context.Context) (string, error) {
	state, err := s.tokens.Generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := s.tokens.Generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	if err := s.pendingRepo.Put(ctx, state, nonce, s.config.StateTTL); err != nil {
		return "", fmt.Errorf("failed to save pending login: %w", err)
	}

	s.metrics.RecordLoginStarted()

	return s.provider.AuthorizationURL(AuthorizationRequest{
		State: state,
		Nonce: nonce,
	}), nil
}

// CompleteLogin はIdPから返されたid_tokenをstateに紐づくnonceで検証し、セッションを発行する。
// stateは検証結果に関わらず消費され、同じstateでの再試行はできない。
// 検証に失敗した場合、ユーザーもセッションも作成しない。
func (s *Service) CompleteLogin(ctx context.Context, state, idToken string) (*LoginResult, error) {
	// 1. id_tokenの存在確認
	if idToken == "" {
		s.metrics.RecordLoginFailed(model.ErrCodeMissingToken)
		return nil, model.NewMissingTokenError()
	}

	// 2. stateを消費してnonceを取得
	if state == "" {
		s.metrics.RecordLoginFailed(model.ErrCodeInvalidState)
		return nil, model.NewInvalidStateError()
	}
	nonce, err := s.pendingRepo.TakeIfValid(ctx, state)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.metrics.RecordLoginFailed(model.ErrCodeInvalidState)
		return nil, model.NewInvalidStateError()
	case errors.Is(err, repository.ErrExpired):
		s.metrics.RecordLoginFailed(model.ErrCodeStateExpired)
		return nil, model.NewStateExpiredError()
	case err != nil:
		return nil, fmt.Errorf("failed to take pending login: %w", err)
	}

	// 3. id_tokenの検証（ストアのロックは保持しない）
	claims, err := s.provider.Verify(ctx, idToken, nonce)
	if err != nil {
		slog.Warn("id_token verification failed",
			slog.String("provider", s.provider.Name()),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordLoginFailed(model.ErrCodeInvalidToken)
		return nil, model.NewInvalidTokenError()
	}
	if claims.Subject == "" {
		slog.Warn("id_token has empty subject", slog.String("provider", s.provider.Name()))
		s.metrics.RecordLoginFailed(model.ErrCodeInvalidToken)
		return nil, model.NewInvalidTokenError()
	}

	// 4. ユーザーの作成または取得
	userID := s.provider.Name() + "-" + claims.Subject
	user, err := s.userRepo.Upsert(ctx, userID, claims.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// 5. セッションの発行
	token, err := s.tokens.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}
	session, err := s.sessionRepo.Put(ctx, token, user.ID, s.config.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", s.provider.Name()),
	)
	s.metrics.RecordLoginCompleted(s.provider.Name())

	return &LoginResult{
		AccessToken: session.Token,
		ExpiresAt:   session.ExpiresAt,
		TokenType:   TokenTypeBearer,
	}, nil
}

// CurrentUser は認証済みユーザーIDのユーザー情報を返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.NewUserNotFoundError()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// Logout はセッションを破棄する。存在しないトークンでもエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessionRepo.Revoke(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}
