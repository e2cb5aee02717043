package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken はトークンが欠落しているか検証に失敗したことを表す。
var ErrInvalidToken = errors.New("トークンが無効です")

// Principal は検証済みトークンから得られる利用者情報。
type Principal struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Name は表示名。
	Name string `json:"name"`
	// Role はユーザーの役割（MEMBER または MANAGER）。
	Role string `json:"role"`
}

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Name はユーザーの表示名。
	Name string `json:"name"`
	// Role はユーザーの役割。
	Role string `json:"role"`
}

// TokenVerifier はベアラートークンを検証して Principal を返す。
type TokenVerifier interface {
	Verify(token string) (Principal, error)
}

// JWT はHS256で署名するトークンの発行と検証を行う。
type JWT struct {
	// secret は署名鍵。
	secret []byte
	// issuer はissクレームの値。検証時にも一致を要求する。
	issuer string
	// expiry はトークンの有効期間。
	expiry time.Duration
	// now は現在時刻を返す関数。
	now func() time.Time
}

// NewJWT は新しいJWTの発行・検証器を生成する。expiryが0以下の場合は24時間とする。
func NewJWT(secret, issuer string, expiry time.Duration) *JWT {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &JWT{secret: []byte(secret), issuer: issuer, expiry: expiry, now: time.Now}
}

// Issue は利用者情報からJWTトークンを生成する。
func (j *JWT) Issue(p Principal) (string, error) {
	now := j.now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.issuer,
		},
		UserID: p.ID,
		Email:  p.Email,
		Name:   p.Name,
		Role:   p.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し利用者情報を返す。失敗時は ErrInvalidToken をラップして返す。
func (j *JWT) Verify(tokenString string) (Principal, error) {
	if tokenString == "" {
		return Principal{}, fmt.Errorf("トークンが空です: %w", ErrInvalidToken)
	}

	claims := &JWTClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return Principal{}, fmt.Errorf("ユーザーIDがありません: %w", ErrInvalidToken)
	}

	return Principal{ID: claims.UserID, Email: claims.Email, Name: claims.Name, Role: claims.Role}, nil
}

// BearerToken は "Bearer <token>" 形式のヘッダー値からトークンを取り出す。
func BearerToken(header string) (string, bool) {
	token, found := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	return token, found && token != ""
}

// contextKeyPrincipal はGinコンテキストに Principal を格納するキー。
const contextKeyPrincipal = "principal"

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに Principal と "user_id" を設定する。
func JWTAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, ok := BearerToken(authHeader)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		principal, err := verifier.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		SetPrincipal(c, principal)
		c.Next()
	}
}

// SetPrincipal はGinコンテキストに利用者情報を設定する。
func SetPrincipal(c *gin.Context, p Principal) {
	c.Set(contextKeyPrincipal, p)
	c.Set("user_id", p.ID)
}

// GetPrincipal はGinコンテキストから利用者情報を取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetPrincipal(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(contextKeyPrincipal)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// RequireRole は利用者の役割がrolesのいずれかであることを要求するGinミドルウェアを返す。
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "認証が必要です"})
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "この操作を行う権限がありません"})
	}
}
