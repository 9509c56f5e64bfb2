package middleware

import (
	"strings"

	"kiro-broker/internal/apierrors"

	"github.com/gin-gonic/gin"
)

// AdminAuth requires a shared admin API key via the x-api-key header or an
// Authorization: Bearer token. If requiredKey is empty the admin surface is
// unprotected (used only for local development).
func AdminAuth(requiredKey string) gin.HandlerFunc {
	return AdminAuthFunc(func() string { return requiredKey })
}

// AdminAuthFunc is AdminAuth with the key resolved on every request instead
// of fixed at middleware-construction time, so a config hot-reload can
// rotate the admin API key without a process restart.
func AdminAuthFunc(requiredKey func() string) gin.HandlerFunc {
	return AdminAuthValidator(func(candidate string) bool {
		key := requiredKey()
		return key == "" || (candidate != "" && candidate == key)
	}, requiredKey)
}

// AdminAuthValidator is the general form: validate decides whether a
// presented key is acceptable (plain equality, bcrypt hash comparison,
// whatever the caller needs), while unprotected reports whether the admin
// surface should be left open entirely (an empty configured key). Kept
// separate from AdminAuthFunc so callers that only support exact-match keys
// don't need to reason about the unprotected case themselves.
func AdminAuthValidator(validate func(candidate string) bool, unprotected func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if unprotected != nil && unprotected() == "" {
			c.Next()
			return
		}

		var provided string
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			provided = strings.TrimSpace(auth[len("bearer "):])
		}
		if provided == "" {
			provided = c.GetHeader("x-api-key")
		}

		if provided == "" || !validate(provided) {
			apierrors.Abort(c, apierrors.New(apierrors.Unauthorized, "missing or invalid admin API key"))
			return
		}

		c.Next()
	}
}
