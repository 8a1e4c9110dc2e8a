package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS applies the browser origin policy to HTTP routes. "*" allows any
// origin; entries that are not http(s) origins are ignored. With nothing
// usable left no CORS headers are sent.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader, "X-RateLimit-Limit"},
		MaxAge:        12 * time.Hour,
	}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		switch {
		case origin == "*":
			cfg.AllowAllOrigins = true
		case strings.HasPrefix(origin, "http://"), strings.HasPrefix(origin, "https://"):
			cfg.AllowOrigins = append(cfg.AllowOrigins, strings.TrimRight(origin, "/"))
		}
	}
	if cfg.AllowAllOrigins {
		cfg.AllowOrigins = nil
	}
	if !cfg.AllowAllOrigins && len(cfg.AllowOrigins) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return cors.New(cfg)
}
