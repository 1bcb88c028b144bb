// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// Messageはレスポンスのerrorフィールドにそのまま出力される。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // クライアント向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingToken   = "MISSING_TOKEN"
	ErrCodeInvalidState   = "INVALID_STATE"
	ErrCodeStateExpired   = "STATE_EXPIRED"
	ErrCodeInvalidToken   = "INVALID_TOKEN"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeSessionExpired = "SESSION_EXPIRED"
	ErrCodeUserNotFound   = "USER_NOT_FOUND"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// HasCode はerrがcodeを持つAPIErrorかどうかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NewMissingTokenError はid_token未指定エラーを生成する。
func NewMissingTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingToken,
		Message:  "id_token is required",
		Category: "validation",
		Action:   "IdPから返却されたid_tokenを指定してください。",
	}
}

// NewInvalidStateError は未発行・使用済みのstateに対するエラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "Invalid state",
		Category: "auth",
		Action:   "ログインを最初からやり直してください。",
	}
}

// NewStateExpiredError は期限切れのstateに対するエラーを生成する。
func NewStateExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeStateExpired,
		Message:  "this state has expired",
		Category: "auth",
		Action:   "ログインを最初からやり直してください。",
	}
}

// NewInvalidTokenError はid_tokenの検証失敗エラーを生成する。
// 検証失敗の詳細はログのみに記録し、レスポンスには含めない。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "invalid id_token",
		Category: "auth",
		Action:   "ログインを最初からやり直してください。",
	}
}

// NewUnauthorizedError は認証ヘッダー欠落・未知のトークンに対するエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "unauthorized",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewSessionExpiredError は期限切れセッションに対するエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "session expired",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "user not found",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("invalid request: %s", reason),
		Category: "validation",
		Action:   "リクエスト形式を確認してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "too many requests",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "internal server error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
