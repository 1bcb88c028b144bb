// Package model はドメインモデルを定義する。
package model

import "time"

// User はIdPのsubjectと1対1に対応するユーザーを表す。
// IDは "<provider>-<subject>" 形式で、同じsubjectから常に同じIDが導出される。
type User struct {
	ID        string
	Email     string // IdPがemailクレームを返さない場合は空
	CreatedAt time.Time
}

// Session は不透明なbearerトークンで識別されるログインセッションを表す。
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PendingLogin はログイン開始からIdPコールバックまでの間、
// stateに紐づけてnonceを保持するレコード。一度読み出されたら削除される。
type PendingLogin struct {
	State     string
	Nonce     string
	ExpiresAt time.Time
}

// IsExpiredAt は時刻nowの時点でセッションが失効しているかを返す。
func (s *Session) IsExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsExpiredAt は時刻nowの時点でログイン要求が失効しているかを返す。
func (p *PendingLogin) IsExpiredAt(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
