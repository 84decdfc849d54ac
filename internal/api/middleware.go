package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"mixerline/internal/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// authenticate resolves the bearer token into a principal on the request
// context. Websocket clients may pass the token as ?token= instead.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.AuthDisabled {
			p := auth.Principal{Subject: "anonymous", Role: auth.RoleAdmin}
			c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required", "kind": "UNAUTHORIZED"})
			return
		}

		p, err := auth.ParseToken(s.opts.JWTSecret, tokenString)
		if err != nil {
			zap.S().Debugw("Rejected token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token", "kind": "UNAUTHORIZED"})
			return
		}
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// normalizeKeys rewrites snake_case keys of JSON request bodies to
// camelCase so either spelling binds to the same field.
func normalizeKeys() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil || c.Request.ContentLength == 0 {
			c.Next()
			return
		}
		raw, err := io.ReadAll(c.Request.Body)
		c.Request.Body.Close()
		if err != nil {
			badRequest(c, "failed to read request body: %v", err)
			return
		}

		var doc any
		if err := json.Unmarshal(raw, &doc); err == nil {
			if out, err := json.Marshal(camelize(doc)); err == nil {
				raw = out
			}
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		c.Request.ContentLength = int64(len(raw))
		c.Next()
	}
}

func camelize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[camelKey(k)] = camelize(inner)
		}
		return out
	case []any:
		for i := range t {
			t[i] = camelize(t[i])
		}
		return t
	default:
		return v
	}
}

// camelKey converts min_threshold to minThreshold. Keys without an
// underscore are returned unchanged.
func camelKey(k string) string {
	if !strings.Contains(k, "_") {
		return k
	}
	parts := strings.Split(k, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
