package middleware

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/hivemindhq/hivemind-backend/internal/platform/ctxutil"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

// ServiceClaims are the claims carried by connector service tokens. Every
// token is scoped to exactly one tenant.
type ServiceClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

// NewAuthMiddleware reads SERVICE_JWT_SECRET. With no secret configured the
// middleware runs in open mode and trusts the X-Tenant-Id header, which is
// only acceptable for local development.
func NewAuthMiddleware(log *logger.Logger) *AuthMiddleware {
	middlewareLogger := log.With("Middleware", "AuthMiddleware")
	secret := strings.TrimSpace(os.Getenv("SERVICE_JWT_SECRET"))
	if secret == "" {
		middlewareLogger.Warn("SERVICE_JWT_SECRET not set, running in open mode")
		return &AuthMiddleware{log: middlewareLogger}
	}
	return &AuthMiddleware{log: middlewareLogger, secret: []byte(secret)}
}

func (am *AuthMiddleware) RequireServiceToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.secret == nil {
			tenantID := strings.TrimSpace(c.GetHeader("X-Tenant-Id"))
			if tenantID == "" {
				tenantID = "default"
			}
			c.Request = c.Request.WithContext(ctxutil.WithTenant(c.Request.Context(), tenantID))
			c.Next()
			return
		}

		tokenString := extractBearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}

		claims := &ServiceClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return am.secret, nil
		})
		if err != nil || !token.Valid || claims.TenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}

		c.Request = c.Request.WithContext(ctxutil.WithTenant(c.Request.Context(), claims.TenantID))
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
