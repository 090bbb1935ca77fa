package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	claimsKey   = "claims"
	callerIDKey = "caller_id"
)

// InstructorAuth enforces bearer JWT tokens signed with HS256 and resolves
// the caller's instructor id.
func InstructorAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			abort(c, "missing bearer token")
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			abort(c, "invalid token")
			return
		}
		if claims.Role != RoleInstructor {
			abort(c, "instructor token required")
			return
		}
		id, err := claims.InstructorID()
		if err != nil {
			abort(c, "invalid token subject")
			return
		}
		c.Set(claimsKey, claims)
		c.Set(callerIDKey, id)
		c.Next()
	}
}

// CallerID returns the instructor id resolved by InstructorAuth.
func CallerID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(callerIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}

func abort(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"kind": "unauthenticated", "message": msg},
	})
}
