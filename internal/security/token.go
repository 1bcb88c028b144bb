// Package security はトークン生成とIdP通信の安全性確保を提供する。
package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// DefaultTokenBytes はトークン生成に使う乱数バイト数のデフォルト値（256bit）。
const DefaultTokenBytes = 32

// TokenGenerator は推測不能な不透明文字列を生成するインターフェース。
// state、nonce、セッショントークンの生成に使用する。
type TokenGenerator interface {
	Generate() (string, error)
}

// RandomTokenGenerator はcrypto/randを使ったTokenGeneratorの実装。
type RandomTokenGenerator struct {
	size int
}

// NewRandomTokenGenerator はsizeバイトの乱数からトークンを生成するジェネレーターを返す。
// sizeが0以下の場合はDefaultTokenBytesを使用する。
func NewRandomTokenGenerator(size int) *RandomTokenGenerator {
	if size <= 0 {
		size = DefaultTokenBytes
	}
	return &RandomTokenGenerator{size: size}
}

// Generate は乱数をbase64url（パディングなし）でエンコードしたトークンを返す。
func (g *RandomTokenGenerator) Generate() (string, error) {
	b := make([]byte, g.size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// compile-time interface check
var _ TokenGenerator = (*RandomTokenGenerator)(nil)
