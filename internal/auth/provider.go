package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// DefaultFacebookIssuer はFacebookのOIDC issuer。
const DefaultFacebookIssuer = "https://www.facebook.com"

var (
	// ErrTokenVerification はid_tokenの署名・issuer・audience・有効期限の検証失敗を表す。
	ErrTokenVerification = errors.New("id_token verification failed")
	// ErrNonceMismatch はid_tokenのnonceがログイン開始時のnonceと一致しないことを表す。
	ErrNonceMismatch = errors.New("id_token nonce mismatch")
)

// AuthorizationRequest は認可URLに埋め込むパラメータ。
type AuthorizationRequest struct {
	State string
	Nonce string
}

// IdentityClaims は検証済みid_tokenから取り出したユーザー情報。
type IdentityClaims struct {
	Subject string
	Email   string
}

// IdentityProvider は外部IdPとのやり取りを抽象化するインターフェース。
// ディスカバリや署名検証などのプロトコル処理は実装側に委ねる。
type IdentityProvider interface {
	// Name はユーザーIDの接頭辞に使うプロバイダー名を返す（例: "facebook"）。
	Name() string
	// AuthorizationURL はstateとnonceを含むインプリシットフローの認可URLを生成する。
	AuthorizationURL(req AuthorizationRequest) string
	// Verify はid_tokenを検証し、nonceが一致する場合にクレームを返す。
	Verify(ctx context.Context, rawIDToken, nonce string) (*IdentityClaims, error)
}

// OIDCProviderConfig はOIDCプロバイダーの設定。
type OIDCProviderConfig struct {
	Name        string
	Issuer      string
	ClientID    string
	RedirectURL string

	// HTTPClient はディスカバリとJWKS取得に使うクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// OIDCProvider はgo-oidcによるIdentityProviderの実装。
// Facebookはインプリシットフロー（response_type=id_token）のみをサポートする。
type OIDCProvider struct {
	name       string
	oauth2     oauth2.Config
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
}

// NewOIDCProvider はissuerのディスカバリを行い、OIDCProviderを生成する。
// ディスカバリに失敗した場合はエラーを返す。起動時に1回だけ呼び出すこと。
func NewOIDCProvider(ctx context.Context, cfg OIDCProviderConfig) (*OIDCProvider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer) // issuerへのディスカバリリクエストが発生する
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc provider %s: %w", cfg.Issuer, err)
	}

	return &OIDCProvider{
		name: cfg.Name,
		oauth2: oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Endpoint:    provider.Endpoint(),
			Scopes:      []string{oidc.ScopeOpenID},
		},
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		httpClient: cfg.HTTPClient,
	}, nil
}

// Name はプロバイダー名を返す。
func (p *OIDCProvider) Name() string {
	return p.name
}

// AuthorizationURL はscope=openid、response_type=id_token、response_mode=fragmentの認可URLを生成する。
func (p *OIDCProvider) AuthorizationURL(req AuthorizationRequest) string {
	return p.oauth2.AuthCodeURL(req.State,
		oauth2.SetAuthURLParam("response_type", "id_token"),
		oauth2.SetAuthURLParam("response_mode", "fragment"),
		oidc.Nonce(req.Nonce),
	)
}

// Verify はid_tokenの署名・issuer・audience・有効期限を検証し、nonceを照合する。
func (p *OIDCProvider) Verify(ctx context.Context, rawIDToken, nonce string) (*IdentityClaims, error) {
	if p.httpClient != nil {
		ctx = oidc.ClientContext(ctx, p.httpClient)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenVerification, err)
	}

	if nonce == "" || subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		return nil, ErrNonceMismatch
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrTokenVerification, err)
	}

	return &IdentityClaims{
		Subject: idToken.Subject,
		Email:   claims.Email,
	}, nil
}

// compile-time interface check
var _ IdentityProvider = (*OIDCProvider)(nil)
