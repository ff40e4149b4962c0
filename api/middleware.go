package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/meghashyamc/presssync/api/handlers"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/services/health"
)

const roleAdmin = "admin"

var errInvalidToken = errors.New("invalid token")

// AdminClaims are the claims carried by operator tokens.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func loggingMiddleware(logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger.Info("request", "method", c.Request.Method, "path", c.Request.URL.Path)
		c.Next()
	}
}

// requestCacheMiddleware gives every request its own engine health cache so
// a request probes the engine at most once.
func requestCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(health.WithRequestCache(c.Request.Context()))
		c.Next()
	}
}

// authMiddleware only lets through bearer tokens signed with secret whose
// role claim is admin. An empty secret rejects every request.
func authMiddleware(logger logger.Logger, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			logger.Warn("admin route called but no jwt secret is configured", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "errors": []string{"admin access is disabled"}})
			return
		}

		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "errors": []string{"missing bearer token"}})
			return
		}

		claims, err := parseAdminToken(tokenString, secret)
		if err != nil {
			logger.Warn("rejected admin token", "err", err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "errors": []string{errInvalidToken.Error()}})
			return
		}
		if claims.Role != roleAdmin {
			logger.Warn("token does not carry the admin role", "subject", claims.Subject, "role", claims.Role)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "errors": []string{"admin role required"}})
			return
		}

		c.Request = c.Request.WithContext(health.WithAdmin(c.Request.Context()))
		c.Next()
	}
}

func parseAdminToken(tokenString string, secret string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}

// _CORSMiddleware starts with _ so that it is not imported outside of the server package.
func _CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Authentication, accept, origin, Cache-Control, X-Requested-With") // nolint:lll
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", handlers.HeaderPaginationTotalCount)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)

			return
		}

		c.Next()
	}
}
