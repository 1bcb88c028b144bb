// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/hitoshi/fedlogin/internal/auth"
	"github.com/hitoshi/fedlogin/internal/model"
)

// maxLoginBodyBytes はログインリクエストボディの上限。id_tokenを含めても十分な大きさ。
const maxLoginBodyBytes = 64 << 10

// LoginServiceInterface はログインハンドラーが必要とするサービスインターフェース。
type LoginServiceInterface interface {
	BeginLogin(ctx context.Context) (string, error)
	CompleteLogin(ctx context.Context, state, idToken string) (*auth.LoginResult, error)
}

// AuthHandler はログインフローのHTTPハンドラー。
type AuthHandler struct {
	service LoginServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service LoginServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// completeLoginRequest はログイン完了リクエストのボディ。
type completeLoginRequest struct {
	State   string `json:"state"`
	IDToken string `json:"id_token"`
}

// loginResponse はログイン完了時のレスポンス。expires_atはUNIXミリ秒。
type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
	TokenType   string `json:"token_type"`
}

// BeginLogin はstate/nonceを発行し、IdPの認可URLへリダイレクトする。
// GET /facebook/login
func (h *AuthHandler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	loginURL, err := h.service.BeginLogin(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	http.Redirect(w, r, loginURL, http.StatusFound)
}

// CompleteLogin はIdPから返されたstateとid_tokenを検証し、アクセストークンを発行する。
// POST /facebook/login
func (h *AuthHandler) CompleteLogin(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCompleteLoginRequest(w, r)
	if err != nil {
		slog.Warn("failed to decode login request", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("malformed body"))
		return
	}

	result, err := h.service.CompleteLogin(r.Context(), req.State, req.IDToken)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: result.AccessToken,
		ExpiresAt:   result.ExpiresAt.UnixMilli(),
		TokenType:   result.TokenType,
	})
}

// decodeCompleteLoginRequest はJSONまたはフォーム形式のボディを解析する。
// 空のボディはフィールド未指定として扱い、検証はサービス層に委ねる。
func decodeCompleteLoginRequest(w http.ResponseWriter, r *http.Request) (*completeLoginRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBodyBytes)

	var req completeLoginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		req.State = r.PostForm.Get("state")
		req.IDToken = r.PostForm.Get("id_token")
	default:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}

	return &req, nil
}
