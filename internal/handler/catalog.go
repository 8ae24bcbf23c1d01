package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/access-pass-service/internal/ledger"
)

// CatalogHandler serves the public, read-only view of the pass catalog.
type CatalogHandler struct {
	Engine *ledger.Engine
}

func NewCatalogHandler(engine *ledger.Engine) *CatalogHandler {
	return &CatalogHandler{Engine: engine}
}

// ListPassTypes returns every catalog entry, including paused ones, so
// clients can render "coming back" passes.
func (h *CatalogHandler) ListPassTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"pass_types": h.Engine.ListPassTypes()})
}

// GetPassType returns a single catalog entry by ID.
func (h *CatalogHandler) GetPassType(c echo.Context) error {
	id, ok := passIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid pass id"})
	}
	pt, err := h.Engine.GetPassType(id)
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(http.StatusOK, pt)
}
