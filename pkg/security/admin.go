package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	AdminKeyHeader = "X-Admin-Key"
	adminSubject   = "admin"
	tokenIssuer    = "veo-dashboard"
)

var (
	ErrAdminDisabled = errors.New("admin access is not configured")
	ErrInvalidKey    = errors.New("invalid admin key")
)

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuth checks a static admin key and issues short-lived session
// tokens signed with a key derived from it.
type AdminAuth struct {
	key        []byte
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

func NewAdminAuth(adminKey string, ttl time.Duration) *AdminAuth {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	a := &AdminAuth{key: []byte(adminKey), ttl: ttl, now: time.Now}
	if adminKey != "" {
		mac := hmac.New(sha256.New, []byte(adminKey))
		mac.Write([]byte("admin-session-token"))
		a.signingKey = mac.Sum(nil)
	}
	return a
}

func (a *AdminAuth) Enabled() bool { return len(a.key) > 0 }

// CheckKey compares candidate with the admin key in constant time.
func (a *AdminAuth) CheckKey(candidate string) error {
	if !a.Enabled() {
		return ErrAdminDisabled
	}
	if subtle.ConstantTimeCompare([]byte(candidate), a.key) != 1 {
		return ErrInvalidKey
	}
	return nil
}

// Login exchanges the admin key for a signed token.
func (a *AdminAuth) Login(candidate string) (string, time.Time, error) {
	if err := a.CheckKey(candidate); err != nil {
		return "", time.Time{}, err
	}
	now := a.now()
	expires := now.Add(a.ttl)
	claims := AdminClaims{
		Role: adminSubject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminSubject,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expires, nil
}

func (a *AdminAuth) VerifyToken(tokenString string) (*AdminClaims, error) {
	if !a.Enabled() {
		return nil, ErrAdminDisabled
	}
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid || claims.Role != adminSubject {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}

// Middleware accepts either the X-Admin-Key header or a bearer token
// issued by Login.
func (a *AdminAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": ErrAdminDisabled.Error()})
			return
		}

		if key := c.GetHeader(AdminKeyHeader); key != "" {
			if err := a.CheckKey(key); err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			c.Set("admin", true)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}
		if _, err := a.VerifyToken(parts[1]); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set("admin", true)
		c.Next()
	}
}
