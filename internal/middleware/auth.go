// internal/middleware/auth.go
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/mc-review-history/internal/models"
	"github.com/javajoker/mc-review-history/internal/services"
	"github.com/javajoker/mc-review-history/internal/utils"
)

const actorKey = "actor"

// AuthRequired turns the bearer token into a services.Actor. Identity is trusted as signed; the
// services decide what the actor may do.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "Authentication required")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortUnauthorized(c, "Invalid authorization header")
			return
		}

		claims, err := utils.ValidateJWT(parts[1])
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		actor, ok := actorFromClaims(claims)
		if !ok {
			abortUnauthorized(c, "Token does not carry a usable role")
			return
		}

		// Set user info in context
		c.Set(actorKey, actor)
		c.Set("user_id", claims.UserID)
		c.Next()
	}
}

// CMSRequired must run after AuthRequired.
func CMSRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := GetActor(c)
		if !ok || !actor.IsCMS() {
			c.JSON(http.StatusForbidden, utils.APIResponse{
				Error: &utils.APIError{Code: "FORBIDDEN", Message: "Only CMS users can perform this action"},
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func GetActor(c *gin.Context) (services.Actor, bool) {
	value, exists := c.Get(actorKey)
	if !exists {
		return services.Actor{}, false
	}
	actor, ok := value.(services.Actor)
	return actor, ok
}

func actorFromClaims(claims *utils.JWTClaims) (services.Actor, bool) {
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return services.Actor{}, false
	}
	actor := services.Actor{
		UserID:    userID,
		Email:     claims.Email,
		Role:      models.UserRole(claims.Role),
		StateCode: claims.StateCode,
	}
	switch actor.Role {
	case models.UserRoleCMS:
		return actor, true
	case models.UserRoleState:
		return actor, actor.StateCode != ""
	default:
		return services.Actor{}, false
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, utils.APIResponse{
		Error: &utils.APIError{Code: "UNAUTHORIZED", Message: message},
	})
	c.Abort()
}
