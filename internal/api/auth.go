package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminCookie holds the admin session token.
const AdminCookie = "admin_token"

// Auth guards the admin-only endpoints with a single random token issued
// on login. The token guards the routes even when no password is set.
type Auth struct {
	username string
	password string
	token    string
}

// NewAuth creates the guard. Password login is disabled when password is
// empty; the token can then only be read from Token.
func NewAuth(username, password string) *Auth {
	return &Auth{username: username, password: password, token: randomHex(32)}
}

// Enabled reports whether password login is available.
func (a *Auth) Enabled() bool {
	return a != nil && a.password != ""
}

// Token returns the session token handed out on login.
func (a *Auth) Token() string {
	return a.token
}

// Check compares credentials in constant time.
func (a *Auth) Check(username, password string) bool {
	if !a.Enabled() {
		return false
	}
	u := subtle.ConstantTimeCompare([]byte(username), []byte(a.username))
	p := subtle.ConstantTimeCompare([]byte(password), []byte(a.password))
	return u&p == 1
}

// Authorized reports whether the request carries the token, as the admin
// cookie or a bearer token. A nil Auth authorizes nothing.
func (a *Auth) Authorized(c *gin.Context) bool {
	if a == nil {
		return false
	}
	token, err := c.Cookie(AdminCookie)
	if err != nil || token == "" {
		token, _ = strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) == 1
}

// Middleware rejects unauthenticated requests with 401.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Authorized(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
