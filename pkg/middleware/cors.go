package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginMatcher はOriginヘッダーが許可リストに含まれるかを判定する。
// "*" は全てのオリジンを許可する。末尾のスラッシュは比較に含めない。
type OriginMatcher struct {
	any     bool
	origins map[string]struct{}
}

// NewOriginMatcher は許可するオリジンの一覧からOriginMatcherを生成する。
func NewOriginMatcher(allowed []string) OriginMatcher {
	m := OriginMatcher{origins: make(map[string]struct{}, len(allowed))}
	for _, o := range allowed {
		o = normalizeOrigin(o)
		switch o {
		case "":
		case "*":
			m.any = true
		default:
			m.origins[o] = struct{}{}
		}
	}
	return m
}

// Allowed はoriginが許可されていればtrueを返す。空のoriginは許可しない。
func (m OriginMatcher) Allowed(origin string) bool {
	origin = normalizeOrigin(origin)
	if origin == "" {
		return false
	}
	if m.any {
		return true
	}
	_, ok := m.origins[origin]
	return ok
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.TrimSpace(o), "/")
}

// CORS は許可したオリジンからのブラウザアクセスを受け付けるGinミドルウェアを返す。
// プリフライト（Access-Control-Request-Method 付きのOPTIONS）は204で応答し、後続のハンドラを呼ばない。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	matcher := NewOriginMatcher(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := matcher.Allowed(origin)
		if allowed {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}

		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""
		if !preflight {
			c.Next()
			return
		}
		if allowed {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Max-Age", "86400")
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}
