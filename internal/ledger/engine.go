package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// PassType is one catalog entry. IDs start at 1 and are assigned
// sequentially; entries are overwritten in place by updates and never
// deleted. Sold only ever increases.
type PassType struct {
	ID           uint64 `json:"id"`
	Name         string `json:"name"`
	PriceCents   uint64 `json:"price_cents"`
	DurationSecs int64  `json:"duration_secs"`
	MaxSupply    uint64 `json:"max_supply"` // 0 = unlimited
	Sold         uint64 `json:"sold"`
	Active       bool   `json:"is_active"`
	Stackable    bool   `json:"stackable"`
}

// PassTypeSpec carries the caller-settable fields of a pass type. Sold and
// ID are owned by the engine.
type PassTypeSpec struct {
	Name         string
	PriceCents   uint64
	DurationSecs int64
	MaxSupply    uint64
	Active       bool
	Stackable    bool
}

// Transferer performs the external value transfer for withdrawals. A nil
// error means the funds left the treasury; any error triggers a
// compensating rollback of the debit.
type Transferer interface {
	Transfer(ctx context.Context, to string, amountCents uint64) error
}

// ExtendResult reports the outcome of a purchase or grant.
type ExtendResult struct {
	Principal  string
	PassID     uint64
	Quantity   uint64
	AmountPaid uint64 // zero for grants
	ExpiresAt  int64
	Stackable  bool
}

// RevokeResult reports the outcome of a revoke.
type RevokeResult struct {
	Principal string
	PassID    uint64
	PriorExp  int64 // expiration before the reset, for audit
	RevokedAt int64
}

// WithdrawResult reports the outcome of a treasury withdrawal.
type WithdrawResult struct {
	To         string
	Amount     uint64
	NewBalance uint64
}

type expKey struct {
	principal string
	passID    uint64
}

// Engine is the access-ledger state machine. All state lives behind one
// RWMutex: mutating operations run start to finish under the write lock
// (including persistence and, for Withdraw, the external transfer), which
// gives the single global sequential ordering the ledger semantics assume.
// Reads take the read lock and observe only committed transitions.
type Engine struct {
	mu       sync.RWMutex
	store    Store
	transfer Transferer

	types       map[uint64]PassType
	nextID      uint64
	expirations map[expKey]int64
	balance     uint64
	authority   string
}

// New constructs an Engine. Both dependencies are required; call Load
// before serving traffic.
func New(store Store, transfer Transferer) *Engine {
	if store == nil || transfer == nil {
		panic("nil dependency passed to ledger.New")
	}
	return &Engine{
		store:       store,
		transfer:    transfer,
		types:       make(map[uint64]PassType),
		expirations: make(map[expKey]int64),
	}
}

// Load hydrates the engine from the store. If the store has no authority
// recorded yet (first boot), seed is persisted as the initial authority.
func (e *Engine) Load(ctx context.Context, seed string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger state: %w", err)
	}
	for _, pt := range snap.Types {
		e.types[pt.ID] = pt
		if pt.ID > e.nextID {
			e.nextID = pt.ID
		}
	}
	for _, en := range snap.Expirations {
		e.expirations[expKey{en.Principal, en.PassID}] = en.ExpiresAt
	}
	e.balance = snap.Balance
	e.authority = snap.Authority

	if e.authority == "" {
		if seed == "" {
			return ErrZeroPrincipal
		}
		if err := e.store.SaveAuthority(ctx, seed); err != nil {
			return fmt.Errorf("seed authority: %w", err)
		}
		e.authority = seed
	}
	return nil
}

// requireAuthority must be called with the lock held.
func (e *Engine) requireAuthority(caller string) error {
	if caller == "" || caller != e.authority {
		return ErrNotAuthorized
	}
	return nil
}

// CreatePassType adds a catalog entry and returns it with its assigned ID.
// Authority only.
func (e *Engine) CreatePassType(ctx context.Context, caller string, spec PassTypeSpec) (PassType, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAuthority(caller); err != nil {
		return PassType{}, err
	}
	if spec.DurationSecs <= 0 {
		return PassType{}, ErrInvalidDuration
	}
	pt := PassType{
		ID:           e.nextID + 1,
		Name:         spec.Name,
		PriceCents:   spec.PriceCents,
		DurationSecs: spec.DurationSecs,
		MaxSupply:    spec.MaxSupply,
		Active:       spec.Active,
		Stackable:    spec.Stackable,
	}
	if err := e.store.SavePassType(ctx, pt); err != nil {
		return PassType{}, err
	}
	e.types[pt.ID] = pt
	e.nextID = pt.ID
	return pt, nil
}

// UpdatePassType overwrites every caller-settable field of an existing
// entry; Sold is preserved. Authority only.
func (e *Engine) UpdatePassType(ctx context.Context, caller string, id uint64, spec PassTypeSpec) (PassType, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAuthority(caller); err != nil {
		return PassType{}, err
	}
	cur, ok := e.types[id]
	if !ok {
		return PassType{}, ErrNotFound
	}
	if spec.DurationSecs <= 0 {
		return PassType{}, ErrInvalidDuration
	}
	pt := PassType{
		ID:           id,
		Name:         spec.Name,
		PriceCents:   spec.PriceCents,
		DurationSecs: spec.DurationSecs,
		MaxSupply:    spec.MaxSupply,
		Sold:         cur.Sold,
		Active:       spec.Active,
		Stackable:    spec.Stackable,
	}
	if err := e.store.SavePassType(ctx, pt); err != nil {
		return PassType{}, err
	}
	e.types[id] = pt
	return pt, nil
}

// checkSupply returns ErrSoldOut when adding qty units would exceed a
// non-zero max supply. Lock must be held.
func checkSupply(pt PassType, qty uint64) error {
	if pt.MaxSupply == 0 {
		return nil
	}
	// Sold can sit above MaxSupply after an update lowered the cap; the
	// subtraction below must not underflow in that case.
	if pt.Sold >= pt.MaxSupply || qty > pt.MaxSupply-pt.Sold {
		return ErrSoldOut
	}
	return nil
}

// stackedExpiration applies the single stacking rule: a window still open
// at now is extended from its end, anything else starts fresh at now. The
// arithmetic is applied regardless of the Stackable flag, which is
// informational only.
func stackedExpiration(cur, now, durationSecs int64, qty uint64) (int64, error) {
	if qty == 0 || qty > uint64(math.MaxInt64)/uint64(durationSecs) {
		return 0, ErrInvalidQuantity
	}
	added := durationSecs * int64(qty)
	base := cur
	if now > base {
		base = now
	}
	if base > math.MaxInt64-added {
		return 0, ErrInvalidQuantity
	}
	return base + added, nil
}

// Purchase sells qty units of a pass type to principal. The exact payment
// price*qty must accompany the call; on success the supply counter, the
// holder's expiration and the treasury credit commit together.
func (e *Engine) Purchase(ctx context.Context, principal string, passID, qty, paidCents uint64, now int64) (ExtendResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if principal == "" {
		return ExtendResult{}, ErrZeroPrincipal
	}
	if qty == 0 {
		return ExtendResult{}, ErrInvalidQuantity
	}
	pt, ok := e.types[passID]
	if !ok {
		return ExtendResult{}, ErrNotFound
	}
	if !pt.Active {
		return ExtendResult{}, ErrSalesPaused
	}
	if err := checkSupply(pt, qty); err != nil {
		return ExtendResult{}, err
	}
	if pt.PriceCents != 0 && qty > math.MaxUint64/pt.PriceCents {
		return ExtendResult{}, ErrInvalidQuantity
	}
	total := pt.PriceCents * qty
	if paidCents != total {
		return ExtendResult{}, ErrWrongAmount
	}
	if total > math.MaxUint64-e.balance {
		return ExtendResult{}, ErrInvalidQuantity
	}

	key := expKey{principal, passID}
	newExp, err := stackedExpiration(e.expirations[key], now, pt.DurationSecs, qty)
	if err != nil {
		return ExtendResult{}, err
	}
	pt.Sold += qty
	newBalance := e.balance + total

	if err := e.store.SavePurchase(ctx, pt, principal, newExp, newBalance); err != nil {
		return ExtendResult{}, err
	}
	e.types[passID] = pt
	e.expirations[key] = newExp
	e.balance = newBalance
	return ExtendResult{
		Principal:  principal,
		PassID:     passID,
		Quantity:   qty,
		AmountPaid: total,
		ExpiresAt:  newExp,
		Stackable:  pt.Stackable,
	}, nil
}

// Grant gives qty units to a principal without payment. Grants draw from
// the same supply pool as purchases and ignore the active flag. Authority
// only.
func (e *Engine) Grant(ctx context.Context, caller, to string, passID, qty uint64, now int64) (ExtendResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAuthority(caller); err != nil {
		return ExtendResult{}, err
	}
	if to == "" {
		return ExtendResult{}, ErrZeroPrincipal
	}
	if qty == 0 {
		return ExtendResult{}, ErrInvalidQuantity
	}
	pt, ok := e.types[passID]
	if !ok {
		return ExtendResult{}, ErrNotFound
	}
	if err := checkSupply(pt, qty); err != nil {
		return ExtendResult{}, err
	}

	key := expKey{to, passID}
	newExp, err := stackedExpiration(e.expirations[key], now, pt.DurationSecs, qty)
	if err != nil {
		return ExtendResult{}, err
	}
	pt.Sold += qty

	if err := e.store.SaveGrant(ctx, pt, to, newExp); err != nil {
		return ExtendResult{}, err
	}
	e.types[passID] = pt
	e.expirations[key] = newExp
	return ExtendResult{
		Principal: to,
		PassID:    passID,
		Quantity:  qty,
		ExpiresAt: newExp,
		Stackable: pt.Stackable,
	}, nil
}

// Revoke cuts a holder's window off at now. Fails with ErrNotActive when
// the stored expiration is not strictly in the future. Authority only.
func (e *Engine) Revoke(ctx context.Context, caller, principal string, passID uint64, now int64) (RevokeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAuthority(caller); err != nil {
		return RevokeResult{}, err
	}
	if principal == "" {
		return RevokeResult{}, ErrZeroPrincipal
	}
	if _, ok := e.types[passID]; !ok {
		return RevokeResult{}, ErrNotFound
	}
	key := expKey{principal, passID}
	prior := e.expirations[key]
	if prior <= now {
		return RevokeResult{}, ErrNotActive
	}
	if err := e.store.SaveRevoke(ctx, principal, passID, now); err != nil {
		return RevokeResult{}, err
	}
	e.expirations[key] = now
	return RevokeResult{
		Principal: principal,
		PassID:    passID,
		PriorExp:  prior,
		RevokedAt: now,
	}, nil
}

// Withdraw moves funds out of the treasury. The debit is persisted and
// committed before the external transfer runs; when the transfer fails the
// debit is rolled back in full and ErrTransferFailed is returned. The
// engine lock is held across the transfer, so no other transition — and in
// particular no nested withdrawal — can interleave with it. Authority only.
func (e *Engine) Withdraw(ctx context.Context, caller, to string, amountCents uint64) (WithdrawResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAuthority(caller); err != nil {
		return WithdrawResult{}, err
	}
	if to == "" {
		return WithdrawResult{}, ErrZeroPrincipal
	}
	if amountCents > e.balance {
		return WithdrawResult{}, ErrInsufficientFunds
	}
	prior := e.balance
	debited := prior - amountCents

	if err := e.store.SaveBalance(ctx, debited); err != nil {
		return WithdrawResult{}, err
	}
	e.balance = debited

	if terr := e.transfer.Transfer(ctx, to, amountCents); terr != nil {
		// Compensating credit: the failed transfer must leave the prior
		// balance exactly, in memory and in storage.
		if rerr := e.store.SaveBalance(ctx, prior); rerr != nil {
			e.balance = prior
			return WithdrawResult{}, fmt.Errorf("%w: %v (rollback persist: %v)", ErrTransferFailed, terr, rerr)
		}
		e.balance = prior
		return WithdrawResult{}, fmt.Errorf("%w: %v", ErrTransferFailed, terr)
	}
	return WithdrawResult{To: to, Amount: amountCents, NewBalance: debited}, nil
}

// TransferAuthority hands the authority role to a new principal and
// returns the previous one. Authority only.
func (e *Engine) TransferAuthority(ctx context.Context, caller, newPrincipal string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAuthority(caller); err != nil {
		return "", err
	}
	if newPrincipal == "" {
		return "", ErrZeroPrincipal
	}
	if err := e.store.SaveAuthority(ctx, newPrincipal); err != nil {
		return "", err
	}
	old := e.authority
	e.authority = newPrincipal
	return old, nil
}

// HasAccess reports whether principal's window for passID extends strictly
// past now.
func (e *Engine) HasAccess(principal string, passID uint64, now int64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.expirations[expKey{principal, passID}] > now
}

// TimeRemaining returns the seconds of access left, never negative.
func (e *Engine) TimeRemaining(principal string, passID uint64, now int64) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if exp := e.expirations[expKey{principal, passID}]; exp > now {
		return exp - now
	}
	return 0
}

// ExpiresAt returns the raw stored expiration, zero when never set.
func (e *Engine) ExpiresAt(principal string, passID uint64) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.expirations[expKey{principal, passID}]
}

// GetPassType returns a catalog entry by ID.
func (e *Engine) GetPassType(id uint64) (PassType, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pt, ok := e.types[id]
	if !ok {
		return PassType{}, ErrNotFound
	}
	return pt, nil
}

// ListPassTypes returns the catalog ordered by ID.
func (e *Engine) ListPassTypes() []PassType {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]PassType, 0, len(e.types))
	for id := uint64(1); id <= e.nextID; id++ {
		if pt, ok := e.types[id]; ok {
			out = append(out, pt)
		}
	}
	return out
}

// EntriesFor returns every expiration entry recorded for a principal,
// ordered by pass ID.
func (e *Engine) EntriesFor(principal string) []ExpirationEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ExpirationEntry, 0)
	for id := uint64(1); id <= e.nextID; id++ {
		if exp, ok := e.expirations[expKey{principal, id}]; ok {
			out = append(out, ExpirationEntry{Principal: principal, PassID: id, ExpiresAt: exp})
		}
	}
	return out
}

// Balance returns the treasury balance in cents.
func (e *Engine) Balance() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balance
}

// Authority returns the current authority principal.
func (e *Engine) Authority() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.authority
}
