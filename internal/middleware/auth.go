// Package middleware 提供 HTTP 层的认证、日志与恢复中间件。
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ContextUserID 是解析出的用户 ID 在 gin 上下文中的键。
const ContextUserID = "userID"

// TokenClaims 外部身份提供方签发的令牌声明。
// 本服务不签发令牌、不管理会话，只校验签名、签发者与有效期。
type TokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier 校验外部签发的身份令牌。
type TokenVerifier struct {
	secret []byte
	issuer string
	log    *zap.Logger
}

// NewTokenVerifier 创建令牌校验器。
func NewTokenVerifier(secret, issuer string, log *zap.Logger) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		issuer: issuer,
		log:    log,
	}
}

// Verify 校验令牌字符串并返回声明。
func (tv *TokenVerifier) Verify(tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return tv.secret, nil
	}, jwt.WithIssuer(tv.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// RequireAuth 要求请求携带合法的 Bearer 令牌。
func (tv *TokenVerifier) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}

		claims, err := tv.Verify(tokenString)
		if err != nil {
			tv.log.Warn("invalid token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.Subject)
		c.Next()
	}
}

// UserID 从 gin 上下文读取已认证的用户 ID。
func UserID(c *gin.Context) string {
	id, _ := c.Get(ContextUserID)
	s, _ := id.(string)
	return s
}

// extractToken 从 Authorization 头或 token 查询参数提取令牌。
// 查询参数形式供 WebSocket 握手使用（浏览器无法为其设置请求头）。
func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
