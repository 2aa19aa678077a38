package server

import (
	"crypto/md5"
	"encoding/hex"
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

const sessionKey = "session_id"

// DeriveSessionID maps a caller's network identity to a stable opaque session
// identifier. Same IP, same session.
func DeriveSessionID(clientIP string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(clientIP)))
	return "session_" + hex.EncodeToString(sum[:])[:16]
}

// sessionMiddleware derives the session ID from the request and stashes it in
// the gin context for the handlers.
func sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(sessionKey, DeriveSessionID(clientIP(c)))
		c.Next()
	}
}

func sessionID(c *gin.Context) string {
	return c.GetString(sessionKey)
}

// clientIP prefers proxy headers over the raw peer address.
func clientIP(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if real := strings.TrimSpace(c.GetHeader("X-Real-IP")); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}
