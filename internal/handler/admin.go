package handler

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/access-pass-service/internal/ledger"
	"github.com/iliyamo/access-pass-service/internal/queue"
	"github.com/iliyamo/access-pass-service/internal/repository"
)

// AdminHandler serves the authority-only surface: catalog management,
// grants, revocations, treasury withdrawals and authority transfer. The
// route group is gated by role middleware, but every operation re-checks
// the caller against the ledger's authority principal, which is the
// check that counts.
type AdminHandler struct {
	Engine   *ledger.Engine
	Events   EventPublisher
	Accounts *repository.AccountRepo
}

func NewAdminHandler(engine *ledger.Engine, events EventPublisher, accounts *repository.AccountRepo) *AdminHandler {
	return &AdminHandler{Engine: engine, Events: events, Accounts: accounts}
}

type passTypeRequest struct {
	Name         string `json:"name"`
	PriceCents   uint64 `json:"price_cents"`
	DurationSecs int64  `json:"duration_secs"`
	MaxSupply    uint64 `json:"max_supply"`
	IsActive     bool   `json:"is_active"`
	Stackable    bool   `json:"stackable"`
}

type grantRequest struct {
	Principal string `json:"principal"`
	Quantity  uint64 `json:"quantity"`
}

type withdrawRequest struct {
	To          string `json:"to"`
	AmountCents uint64 `json:"amount_cents"`
}

type transferAuthorityRequest struct {
	Principal string `json:"principal"`
}

// CreatePassType adds a catalog entry.
func (h *AdminHandler) CreatePassType(c echo.Context) error {
	caller, err := principal(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	var req passTypeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	pt, err := h.Engine.CreatePassType(c.Request().Context(), caller, ledger.PassTypeSpec{
		Name:         req.Name,
		PriceCents:   req.PriceCents,
		DurationSecs: req.DurationSecs,
		MaxSupply:    req.MaxSupply,
		Active:       req.IsActive,
		Stackable:    req.Stackable,
	})
	if err != nil {
		return ledgerError(c, err)
	}

	publish(h.Events, c.Request().Context(), queue.TypePassTypeCreated, passTypeEvent(pt))
	return c.JSON(http.StatusCreated, pt)
}

// UpdatePassType overwrites an existing catalog entry; the sold counter
// is preserved by the engine.
func (h *AdminHandler) UpdatePassType(c echo.Context) error {
	caller, err := principal(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	id, ok := passIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid pass id"})
	}
	var req passTypeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	pt, err := h.Engine.UpdatePassType(c.Request().Context(), caller, id, ledger.PassTypeSpec{
		Name:         req.Name,
		PriceCents:   req.PriceCents,
		DurationSecs: req.DurationSecs,
		MaxSupply:    req.MaxSupply,
		Active:       req.IsActive,
		Stackable:    req.Stackable,
	})
	if err != nil {
		return ledgerError(c, err)
	}

	publish(h.Events, c.Request().Context(), queue.TypePassTypeUpdated, passTypeEvent(pt))
	return c.JSON(http.StatusOK, pt)
}

// Grant extends a principal's window without payment.
func (h *AdminHandler) Grant(c echo.Context) error {
	caller, err := principal(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	id, ok := passIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid pass id"})
	}
	var req grantRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	res, err := h.Engine.Grant(c.Request().Context(), caller, req.Principal, id, req.Quantity, nowUnix())
	if err != nil {
		return ledgerError(c, err)
	}

	publish(h.Events, c.Request().Context(), queue.TypePassGranted, queue.PassExtendedEvent{
		Principal:  res.Principal,
		PassID:     res.PassID,
		Quantity:   res.Quantity,
		ExpiresAt:  res.ExpiresAt,
		Stackable:  res.Stackable,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	})
	return c.JSON(http.StatusOK, echo.Map{
		"principal":  res.Principal,
		"pass_id":    res.PassID,
		"quantity":   res.Quantity,
		"expires_at": res.ExpiresAt,
	})
}

// Revoke cuts a holder's window off now.
func (h *AdminHandler) Revoke(c echo.Context) error {
	caller, err := principal(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	id, ok := passIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid pass id"})
	}
	target := c.Param("principal")

	res, err := h.Engine.Revoke(c.Request().Context(), caller, target, id, nowUnix())
	if err != nil {
		return ledgerError(c, err)
	}

	publish(h.Events, c.Request().Context(), queue.TypePassRevoked, queue.PassRevokedEvent{
		Principal:      res.Principal,
		PassID:         res.PassID,
		PriorExpiresAt: res.PriorExp,
		RevokedAt:      res.RevokedAt,
	})
	return c.JSON(http.StatusOK, echo.Map{
		"principal":        res.Principal,
		"pass_id":          res.PassID,
		"prior_expires_at": res.PriorExp,
		"revoked_at":       res.RevokedAt,
	})
}

// Treasury reports the current treasury balance.
func (h *AdminHandler) Treasury(c echo.Context) error {
	caller, err := principal(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	if caller != h.Engine.Authority() {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not authorized"})
	}
	return c.JSON(http.StatusOK, echo.Map{"balance_cents": h.Engine.Balance()})
}

// Withdraw pays treasury funds out to an external destination.
func (h *AdminHandler) Withdraw(c echo.Context) error {
	caller, err := principal(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	var req withdrawRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	res, err := h.Engine.Withdraw(c.Request().Context(), caller, req.To, req.AmountCents)
	if err != nil {
		return ledgerError(c, err)
	}

	publish(h.Events, c.Request().Context(), queue.TypeTreasuryWithdrawn, queue.TreasuryWithdrawnEvent{
		To:           res.To,
		AmountCents:  res.Amount,
		BalanceCents: res.NewBalance,
		OccurredAt:   time.Now().UTC().Format(time.RFC3339),
	})
	return c.JSON(http.StatusOK, echo.Map{
		"to":            res.To,
		"amount_cents":  res.Amount,
		"balance_cents": res.NewBalance,
	})
}

// TransferAuthority hands the authority role to another principal. When
// the new principal maps to a local account its role column is updated
// best-effort so future logins carry the AUTHORITY role; the ledger is
// the source of truth either way.
func (h *AdminHandler) TransferAuthority(c echo.Context) error {
	caller, err := principal(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	var req transferAuthorityRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	old, err := h.Engine.TransferAuthority(c.Request().Context(), caller, req.Principal)
	if err != nil {
		return ledgerError(c, err)
	}

	h.syncRole(c, old, repository.RoleHolder)
	h.syncRole(c, req.Principal, repository.RoleAuthority)

	publish(h.Events, c.Request().Context(), queue.TypeAuthorityTransferred, queue.AuthorityTransferredEvent{
		OldPrincipal: old,
		NewPrincipal: req.Principal,
		OccurredAt:   time.Now().UTC().Format(time.RFC3339),
	})
	return c.JSON(http.StatusOK, echo.Map{
		"old_principal": old,
		"new_principal": req.Principal,
	})
}

// syncRole mirrors an authority change into the accounts table when the
// principal is one of our account IDs. Failures are logged, not fatal.
func (h *AdminHandler) syncRole(c echo.Context, principal, role string) {
	if h.Accounts == nil {
		return
	}
	id, err := strconv.ParseUint(principal, 10, 64)
	if err != nil {
		return // external principal, nothing to sync
	}
	if err := h.Accounts.SetRole(c.Request().Context(), id, role); err != nil {
		log.Printf("role sync for account %d failed: %v", id, err)
	}
}

func passTypeEvent(pt ledger.PassType) queue.PassTypeEvent {
	return queue.PassTypeEvent{
		PassID:       pt.ID,
		Name:         pt.Name,
		PriceCents:   pt.PriceCents,
		DurationSecs: pt.DurationSecs,
		MaxSupply:    pt.MaxSupply,
		IsActive:     pt.Active,
		Stackable:    pt.Stackable,
		OccurredAt:   time.Now().UTC().Format(time.RFC3339),
	}
}
