package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"chat-core/internal/models"
)

const actorKey = "actor"

var ErrInvalidToken = errors.New("invalid token")

// Claims are the identity claims issued by the ERP for staff and customer sessions.
type Claims struct {
	UserID   int64  `json:"user_id"`
	UserType string `json:"user_type"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies bearer tokens, either with a shared HMAC secret or
// against a JWKS endpoint.
type Authenticator struct {
	keyfunc jwt.Keyfunc
	jwks    *keyfunc.JWKS
	methods []string
}

// NewAuthenticator prefers jwksURL when both are set.
func NewAuthenticator(secret, jwksURL string, log *zap.Logger) (*Authenticator, error) {
	if jwksURL != "" {
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				log.Warn("jwks refresh failed", zap.String("url", jwksURL), zap.Error(err))
			},
		})
		if err != nil {
			return nil, fmt.Errorf("load jwks: %w", err)
		}
		return &Authenticator{keyfunc: jwks.Keyfunc, jwks: jwks, methods: []string{"RS256", "ES256"}}, nil
	}
	if secret == "" {
		return nil, errors.New("either JWT_SECRET or JWT_JWKS_URL is required")
	}
	key := []byte(secret)
	return &Authenticator{
		keyfunc: func(*jwt.Token) (interface{}, error) { return key, nil },
		methods: []string{"HS256", "HS384", "HS512"},
	}, nil
}

// Parse validates token and returns the actor it identifies.
func (a *Authenticator) Parse(token string) (models.Actor, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, a.keyfunc, jwt.WithValidMethods(a.methods))
	if err != nil || !parsed.Valid {
		return models.Actor{}, ErrInvalidToken
	}
	accountType, err := models.ParseAccountType(claims.UserType)
	if err != nil || claims.UserID <= 0 {
		return models.Actor{}, ErrInvalidToken
	}
	return models.Actor{
		Participant: models.Participant{ID: claims.UserID, Type: accountType},
		Role:        strings.ToLower(claims.Role),
	}, nil
}

func (a *Authenticator) Close() {
	if a.jwks != nil {
		a.jwks.EndBackground()
	}
}

// TokenFromRequest reads a bearer token from the Authorization header, or from
// the token query parameter for websocket handshakes.
func TokenFromRequest(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

// AuthMiddleware authenticates the request and stores the actor in the context.
func AuthMiddleware(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := TokenFromRequest(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		actor, err := auth.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		SetActor(c, actor)
		c.Next()
	}
}

// ActorFrom returns the actor stored by AuthMiddleware.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}

// SetActor stores actor as the authenticated caller.
func SetActor(c *gin.Context, actor models.Actor) {
	c.Set(actorKey, actor)
}
