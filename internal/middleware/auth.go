package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sjperalta/opcost-api/internal/models"
)

const (
	RoleAdmin    = models.RoleAdmin
	RoleStaff    = models.RoleStaff
	RoleLandlord = models.RoleLandlord
)

// gin context key of the verified claims
const claimsKey = "auth.claims"

var (
	errMissingToken = errors.New("Authorization header is required")
	errBadHeader    = errors.New("Invalid authorization header format")
	errExpired      = errors.New("token has expired")
	errInvalidToken = errors.New("invalid token")
	errNoSubject    = errors.New("token has no user")
)

// Claims are issued by the identity provider; this service only verifies them
type Claims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Auth verifies an HS256 bearer token. Document downloads opened in a
// browser tab may pass it as ?token= instead of the header.
func Auth(jwtSecret string) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(30*time.Second),
	)
	key := []byte(jwtSecret)

	return func(c *gin.Context) {
		raw, err := bearerToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := verify(parser, key, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", errMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", errBadHeader
	}
	return token, nil
}

func verify(parser *jwt.Parser, key []byte, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, errExpired
	case err != nil:
		return nil, errInvalidToken
	case claims.UserID == 0:
		return nil, errNoSubject
	}
	return claims, nil
}

// CurrentClaims returns the verified claims, nil on public routes
func CurrentClaims(c *gin.Context) *Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}

func GetUserID(c *gin.Context) uint {
	if claims := CurrentClaims(c); claims != nil {
		return claims.UserID
	}
	return 0
}

func GetUserRole(c *gin.Context) string {
	if claims := CurrentClaims(c); claims != nil {
		return claims.Role
	}
	return ""
}

// SeesAllProperties is false for landlords, who only see their own properties
func SeesAllProperties(c *gin.Context) bool {
	role := GetUserRole(c)
	return role == RoleAdmin || role == RoleStaff
}

// RequireRole must run after Auth
func RequireRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(allowed, GetUserRole(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "You do not have access to this section"})
			return
		}
		c.Next()
	}
}
