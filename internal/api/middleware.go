package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

const actorContextKey = "actor"

// Claims is the JWT payload issued by the identity service.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware authenticates bearer tokens and resolves the acting
// identity. Sellers additionally get their store attached; a seller whose
// store was tombstoned authenticates but owns nothing.
type AuthMiddleware struct {
	secret []byte
	store  *store.Store
	logger *zap.Logger
}

func NewAuthMiddleware(secret string, st *store.Store) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(secret),
		store:  st,
		logger: util.GetLogger(),
	}
}

// Authenticate validates the bearer token and stores the Actor on the
// request context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Authentication required"})
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid or expired token"})
			return
		}

		role, err := models.ParseRole(claims.Role)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid or expired token"})
			return
		}

		actor := models.Actor{UserID: claims.UserID, Role: role}
		if role == models.RoleSeller {
			st, err := m.store.GetStoreByUserID(c.Request.Context(), claims.UserID)
			switch {
			case err == nil:
				actor.StoreID = st.ID
			case errors.Is(err, store.ErrNotFound):
				// Seller without a live store; ownership checks will deny.
			default:
				m.logger.Error("Failed to resolve seller store", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
				return
			}
		}

		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// RequireRole restricts a route to the given roles. Must run after
// Authenticate.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "Access denied"})
	}
}

func actorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorContextKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.Actor{}
}
