package api

import (
	echo "github.com/labstack/echo/v5"
)

// extractAuthor extracts the author from oauth2-proxy / kube-rbac-proxy
// headers. Priority: X-Forwarded-User > X-Forwarded-Email > X-Remote-User
// (service account identity behind kube-rbac-proxy) > "api-client".
func extractAuthor(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	if remote := c.Request().Header.Get("X-Remote-User"); remote != "" {
		return remote
	}
	return "api-client"
}
