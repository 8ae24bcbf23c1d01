package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/access-pass-service/internal/ledger"
	"github.com/iliyamo/access-pass-service/internal/queue"
)

// HolderHandler serves the authenticated pass-holder surface: buying
// passes and inspecting one's own access windows.
type HolderHandler struct {
	Engine *ledger.Engine
	Events EventPublisher
}

func NewHolderHandler(engine *ledger.Engine, events EventPublisher) *HolderHandler {
	return &HolderHandler{Engine: engine, Events: events}
}

type purchaseRequest struct {
	Quantity  uint64 `json:"quantity"`
	PaidCents uint64 `json:"paid_cents"`
}

// Purchase buys quantity units of the pass type in the path. The payment
// must match price*quantity exactly; anything else is rejected whole.
func (h *HolderHandler) Purchase(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	passID, ok := passIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid pass id"})
	}
	var req purchaseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	res, err := h.Engine.Purchase(c.Request().Context(), p, passID, req.Quantity, req.PaidCents, nowUnix())
	if err != nil {
		return ledgerError(c, err)
	}

	publish(h.Events, c.Request().Context(), queue.TypePassPurchased, queue.PassExtendedEvent{
		Principal:   res.Principal,
		PassID:      res.PassID,
		Quantity:    res.Quantity,
		AmountCents: res.AmountPaid,
		ExpiresAt:   res.ExpiresAt,
		Stackable:   res.Stackable,
		OccurredAt:  time.Now().UTC().Format(time.RFC3339),
	})

	return c.JSON(http.StatusOK, echo.Map{
		"pass_id":    res.PassID,
		"quantity":   res.Quantity,
		"paid_cents": res.AmountPaid,
		"expires_at": res.ExpiresAt,
		"has_access": true,
	})
}

// MyPasses lists every access window ever recorded for the caller,
// expired ones included.
func (h *HolderHandler) MyPasses(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	now := nowUnix()
	entries := h.Engine.EntriesFor(p)
	out := make([]echo.Map, 0, len(entries))
	for _, en := range entries {
		remaining := int64(0)
		if en.ExpiresAt > now {
			remaining = en.ExpiresAt - now
		}
		out = append(out, echo.Map{
			"pass_id":        en.PassID,
			"expires_at":     en.ExpiresAt,
			"has_access":     en.ExpiresAt > now,
			"remaining_secs": remaining,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"passes": out})
}

// MyPass reports the caller's window for one pass type. A pair never
// touched reads as expired-at-zero rather than 404.
func (h *HolderHandler) MyPass(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	passID, ok := passIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid pass id"})
	}
	now := nowUnix()
	return c.JSON(http.StatusOK, echo.Map{
		"pass_id":        passID,
		"expires_at":     h.Engine.ExpiresAt(p, passID),
		"has_access":     h.Engine.HasAccess(p, passID, now),
		"remaining_secs": h.Engine.TimeRemaining(p, passID, now),
	})
}
