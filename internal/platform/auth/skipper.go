package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass JWTMiddleware: health probes and the login endpoint.
var publicPaths = map[string]bool{
	"/health":         true,
	"/health/db":      true,
	"/health/redis":   true,
	"/api/auth/login": true,
}

// AuthSkipper matches on the registered route path, not the raw URL.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
