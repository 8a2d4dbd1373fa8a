package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentloop/agentloop/pkg/agentpool"
	"github.com/agentloop/agentloop/pkg/config"
	"github.com/agentloop/agentloop/pkg/safety"
	"github.com/agentloop/agentloop/pkg/store"
)

// mapServiceError maps a core-package error to an HTTP error response.
func mapServiceError(err error) *echo.HTTPError {
	var valErr *config.ValidationError
	var loadErr *config.LoadError

	switch {
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrCronNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrSessionClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "persistence unavailable")
	case errors.Is(err, agentpool.ErrUnknownSession):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, safety.ErrDegraded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "target agent is circuit-broken")
	case errors.Is(err, safety.ErrBudgetExceeded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &valErr), errors.As(err, &loadErr):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		slog.Error("api: unexpected error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
