// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the calling principal from trusted gateway headers.
// The service sits behind an authenticating edge (API gateway or BFF) that
// verifies credentials and forwards identity as headers; this middleware
// only normalizes them into the Gin context so handlers, the rate limiter,
// and access logs agree on who the caller is.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderUserID carries the authenticated user identity.
	HeaderUserID = "X-User-ID"
	// HeaderUserRole carries the marketplace role ("buyer" or "vendor").
	HeaderUserRole = "X-User-Role"
)

// Principal reads the identity headers and stores them under the "userID"
// and "userRole" context keys. Absent or unknown roles normalize to
// "buyer". Requests without an identity pass through; endpoint handlers
// decide whether anonymous access is acceptable.
func Principal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" {
			c.Set("userID", uid)
		}
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole)))
		if role != "vendor" {
			role = "buyer"
		}
		c.Set("userRole", role)
		c.Next()
	}
}
