package middleware

import (
	"strings"
	"time"

	"retail-loyalty/pkg/config"
	"retail-loyalty/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	ctxUserID = "auth.user_id"
	ctxRole   = "auth.role"

	RoleUser  = "user"
	RoleAdmin = "admin"
)

type roleClaims struct {
	Role string `json:"role,omitempty"`
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
}

func NewTokenIssuer(cfg *config.Config) *TokenIssuer {
	return &TokenIssuer{secret: []byte(cfg.Auth.Secret), issuer: cfg.Auth.Issuer}
}

func (t *TokenIssuer) Sign(userID, role string, ttl time.Duration) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: t.secret}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", err
	}

	now := time.Now()
	std := jwt.Claims{
		Subject:  userID,
		Issuer:   t.issuer,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.Signed(signer).Claims(std).Claims(roleClaims{Role: role}).Serialize()
}

func (t *TokenIssuer) Verify(raw string) (userID, role string, err error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return "", "", err
	}

	var std jwt.Claims
	var custom roleClaims
	if err := tok.Claims(t.secret, &std, &custom); err != nil {
		return "", "", err
	}

	expected := jwt.Expected{Time: time.Now()}
	if t.issuer != "" {
		expected.Issuer = t.issuer
	}
	if err := std.ValidateWithLeeway(expected, time.Minute); err != nil {
		return "", "", err
	}

	if custom.Role == "" {
		custom.Role = RoleUser
	}
	return std.Subject, custom.Role, nil
}

// Auth requires a valid bearer token and stores the caller in the context.
func Auth(issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.Error(errutil.Unauthorized("missing bearer token", nil))
			c.Abort()
			return
		}

		userID, role, err := issuer.Verify(raw)
		if err != nil || userID == "" {
			c.Error(errutil.Unauthorized("invalid token", err))
			c.Abort()
			return
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxRole, role)
		c.Next()
	}
}

func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func Role(c *gin.Context) string {
	return c.GetString(ctxRole)
}
