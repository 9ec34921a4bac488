package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/pkg/jwt"
)

// UserContextKey is the key used to store user information in Gin context
const UserContextKey = "user"

// UserContext represents the authenticated user's information
type UserContext struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Roles  []string  `json:"roles"`
}

// Actor converts the request identity into the actor the services work with
func (u UserContext) Actor() models.Actor {
	return models.Actor{UserID: u.UserID, Email: u.Email, Roles: u.Roles}
}

type authFailure struct {
	status  int
	error   string
	message string
	code    string
}

func (f *authFailure) respond(c *gin.Context) {
	c.JSON(f.status, gin.H{
		"error":   f.error,
		"message": f.message,
		"code":    f.code,
	})
	c.Abort()
}

// authenticate extracts and validates the bearer token. It returns nil, nil when no header is present.
func authenticate(c *gin.Context, jwtService *jwt.Service) (*UserContext, *authFailure) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, &authFailure{
			status:  http.StatusUnauthorized,
			error:   "unauthorized",
			message: "Invalid authorization header format. Expected: Bearer <token>",
			code:    "INVALID_AUTH_FORMAT",
		}
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return nil, &authFailure{
			status:  http.StatusUnauthorized,
			error:   "unauthorized",
			message: "Token cannot be empty",
			code:    "INVALID_AUTH_FORMAT",
		}
	}

	claims, err := jwtService.ValidateAccessToken(tokenString)
	if err != nil {
		fields := logrus.Fields{"path": c.Request.URL.Path, "ip": c.ClientIP()}
		if jwt.IsExpired(err) {
			logrus.WithFields(fields).Info("Auth failed: token expired")
			return nil, &authFailure{
				status:  http.StatusUnauthorized,
				error:   "token_expired",
				message: "Access token has expired. Please sign in again.",
				code:    "TOKEN_EXPIRED",
			}
		}
		logrus.WithFields(fields).WithError(err).Warn("Auth failed: invalid token")
		return nil, &authFailure{
			status:  http.StatusUnauthorized,
			error:   "invalid_token",
			message: "Invalid access token",
			code:    "INVALID_TOKEN",
		}
	}

	return &UserContext{
		UserID: claims.UserID,
		Email:  claims.Email,
		Roles:  claims.Roles,
	}, nil
}

// AuthMiddleware creates a middleware that requires a valid JWT
func AuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, failure := authenticate(c, jwtService)
		if failure != nil {
			failure.respond(c)
			return
		}
		if userCtx == nil {
			logrus.WithFields(logrus.Fields{"path": c.Request.URL.Path, "ip": c.ClientIP()}).
				Info("Auth failed: missing authorization header")
			(&authFailure{
				status:  http.StatusUnauthorized,
				error:   "unauthorized",
				message: "Authorization header is required",
				code:    "MISSING_AUTH_HEADER",
			}).respond(c)
			return
		}

		c.Set(UserContextKey, *userCtx)
		c.Next()
	}
}

// OptionalAuth lets guests through. A token that is present must still be valid.
func OptionalAuth(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, failure := authenticate(c, jwtService)
		if failure != nil {
			failure.respond(c)
			return
		}
		if userCtx != nil {
			c.Set(UserContextKey, *userCtx)
		}
		c.Next()
	}
}

// RequireRole creates a middleware that checks if user has required role
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "User context not found. Auth middleware may not be applied.",
				"code":    "MISSING_USER_CONTEXT",
			})
			c.Abort()
			return
		}

		actor := userCtx.Actor()
		for _, required := range roles {
			if actor.HasRole(required) {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You don't have permission to access this resource",
			"code":    "INSUFFICIENT_PERMISSIONS",
		})
		c.Abort()
	}
}

// GetUserContext retrieves the user context from Gin context
func GetUserContext(c *gin.Context) (UserContext, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return UserContext{}, false
	}

	userCtx, ok := value.(UserContext)
	if !ok {
		return UserContext{}, false
	}

	return userCtx, true
}

// ActorFromContext returns the caller as an actor; guests get the zero actor
func ActorFromContext(c *gin.Context) models.Actor {
	userCtx, ok := GetUserContext(c)
	if !ok {
		return models.Actor{}
	}
	return userCtx.Actor()
}
