package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/access-pass-service/internal/ledger"
	"github.com/iliyamo/access-pass-service/internal/middleware"
)

// EventPublisher pushes a typed domain event to the broker. Handlers
// publish after the ledger commit and ignore publish failures beyond
// logging them; a down broker never fails a committed transition.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// principal returns the caller identity stored by the JWT middleware.
func principal(c echo.Context) (string, error) {
	p, ok := c.Get(middleware.CtxPrincipal).(string)
	if !ok || p == "" {
		return "", errors.New("no principal in context")
	}
	return p, nil
}

// passIDParam parses the :id path parameter.
func passIDParam(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// nowUnix is the boundary clock: the engine itself never reads time.
func nowUnix() int64 { return time.Now().UTC().Unix() }

// ledgerError maps engine sentinels onto HTTP responses. Precondition
// failures that depend on ledger state map to 409 so clients can tell
// them apart from malformed requests.
func ledgerError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotAuthorized):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not authorized"})
	case errors.Is(err, ledger.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "pass type not found"})
	case errors.Is(err, ledger.ErrInvalidDuration):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "duration must be positive"})
	case errors.Is(err, ledger.ErrInvalidQuantity):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid quantity"})
	case errors.Is(err, ledger.ErrZeroPrincipal):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "principal required"})
	case errors.Is(err, ledger.ErrSalesPaused):
		return c.JSON(http.StatusConflict, echo.Map{"error": "sales paused"})
	case errors.Is(err, ledger.ErrSoldOut):
		return c.JSON(http.StatusConflict, echo.Map{"error": "sold out"})
	case errors.Is(err, ledger.ErrWrongAmount):
		return c.JSON(http.StatusConflict, echo.Map{"error": "paid amount does not match price"})
	case errors.Is(err, ledger.ErrNotActive):
		return c.JSON(http.StatusConflict, echo.Map{"error": "pass not active"})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return c.JSON(http.StatusConflict, echo.Map{"error": "insufficient funds"})
	case errors.Is(err, ledger.ErrTransferFailed):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "transfer failed"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// publish sends an event, logging instead of propagating failures.
func publish(events EventPublisher, ctx context.Context, eventType string, payload any) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, eventType, payload); err != nil {
		log.Printf("event publish %s failed: %v", eventType, err)
	}
}
