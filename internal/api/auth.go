package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const accountIDKey = "accountID"

var (
	// ErrTokenMissing is returned when a request carries no bearer token
	ErrTokenMissing = errors.New("token missing")
	// ErrTokenInvalid is returned for tokens that fail verification
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims identify the local account a token was issued to
type Claims struct {
	AccountID int64 `json:"account_id,string"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 bearer tokens
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator signing with secret
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for accountID valid for ttl
func (a *Authenticator) Issue(accountID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   "access",
		},
	})
	return token.SignedString(a.secret)
}

// Parse verifies raw and returns its claims
func (a *Authenticator) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.AccountID == 0 {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// bearer extracts the token from the Authorization header, or from the
// access_token query parameter where browsers cannot set headers
func bearer(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query("access_token"); token != "" {
			return token, nil
		}
		return "", ErrTokenMissing
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrTokenInvalid
	}
	return parts[1], nil
}

// authenticate resolves the caller's account id. With required unset, a
// request without any token passes through anonymously.
func (a *Authenticator) authenticate(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		raw, err := bearer(c)
		if errors.Is(err, ErrTokenMissing) && !required {
			c.Next()
			return
		}
		if err != nil {
			abortWithError(c, NewError(http.StatusUnauthorized, err.Error()))
			return
		}
		claims, err := a.Parse(raw)
		if err != nil {
			abortWithError(c, NewError(http.StatusUnauthorized, "invalid token"))
			return
		}
		c.Set(accountIDKey, claims.AccountID)
		c.Next()
	}
}

func callerID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(accountIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
