package handler

import (
	"applybureau/internal/auth"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminAuthMiddleware admits only bearer tokens carrying the admin_session
// purpose. Registration credentials are signed with the same secret but a
// different purpose tag and are rejected here.
func AdminAuthMiddleware(jwtKey []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			newErrorResponse(c, http.StatusUnauthorized, kindInvalidCredentials, "empty authorization header")

			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			newErrorResponse(c, http.StatusUnauthorized, kindInvalidCredentials, "invalid authorization header")

			return
		}

		claims, err := auth.ParseAdminToken(jwtKey, parts[1])
		if err != nil {
			newErrorResponse(c, http.StatusUnauthorized, kindInvalidCredentials, "invalid admin token")

			return
		}

		c.Set("AdminID", claims.AdminID.String())
		c.Set("AdminEmail", claims.Email)

		c.Next()
	}
}
