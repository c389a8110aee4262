// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/subportal/internal/model"
)

const sessionCookieName = "portal_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("portal_session")

// NewSessionMiddleware はストアフロントのカスタマートークンを読み取り、
// セッションをリクエストコンテキストに注入するミドルウェアを返す。
// トークンはAuthorizationヘッダー（Bearer）またはCookieから取得する。
// トークンを持たないリクエストには401 Unauthorizedを返す。
//
// カスタマーIDはトークンのSHA-256ダイジェスト先頭16文字として導出する。
// トークン自体は上流サービスへの転送にのみ使用し、キャッシュキーや
// ログにはダイジェスト由来のIDだけを露出させる。
func NewSessionMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			session := &model.Session{
				Token:      token,
				CustomerID: DeriveCustomerID(token),
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken はリクエストからカスタマートークンを取り出す。
// Authorizationヘッダーを優先し、なければCookieを参照する。
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
		return ""
	}

	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

// DeriveCustomerID はカスタマートークンから安定したカスタマーIDを導出する。
// 同一トークンは常に同一IDへ写像される。
func DeriveCustomerID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:16]
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SessionFromContext(ctx context.Context) (*model.Session, error) {
	session, ok := ctx.Value(sessionContextKey).(*model.Session)
	if !ok || session == nil || session.CustomerID == "" {
		return nil, fmt.Errorf("session not found in context")
	}
	return session, nil
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}
