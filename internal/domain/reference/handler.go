package reference

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicdesk/internal/platform/auth"
)

type Handler struct {
	cache *Cache
}

func NewHandler(cache *Cache) *Handler {
	return &Handler{cache: cache}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	g.GET("/reference", h.Get)
	g.POST("/reference/reload", h.Reload)
}

// Get returns the cached catalog and inventory, loading the catalog on first use.
func (h *Handler) Get(c echo.Context) error {
	if h.cache.Catalog() == nil {
		if _, err := h.cache.LoadAll(c.Request().Context()); err != nil {
			return loadHTTPError(err)
		}
	}
	return c.JSON(http.StatusOK, h.cache.Snapshot())
}

// Reload forces a fresh catalog load and kicks off an inventory refresh.
func (h *Handler) Reload(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := h.cache.LoadAll(ctx); err != nil {
		return loadHTTPError(err)
	}
	h.cache.RefreshInventory(ctx)
	return c.JSON(http.StatusOK, h.cache.Snapshot())
}

func loadHTTPError(err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, map[string]interface{}{
			"message":   le.Error(),
			"failed":    le.Failed,
			"retryable": true,
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
