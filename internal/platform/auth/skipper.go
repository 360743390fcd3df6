package auth

import "github.com/labstack/echo/v4"

var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// PublicSkipper skips authentication for health and metrics endpoints.
func PublicSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}
