package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
)

const (
	authority = "1"
	alice     = "42"
	bob       = "43"
)

type fakeTransfer struct {
	fail       bool
	calls      int
	lastTo     string
	lastAmount uint64
}

func (f *fakeTransfer) Transfer(ctx context.Context, to string, amountCents uint64) error {
	f.calls++
	f.lastTo = to
	f.lastAmount = amountCents
	if f.fail {
		return errors.New("payout rejected")
	}
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *MemoryStore, *fakeTransfer) {
	t.Helper()
	st := NewMemoryStore()
	tr := &fakeTransfer{}
	e := New(st, tr)
	if err := e.Load(context.Background(), authority); err != nil {
		t.Fatalf("load: %v", err)
	}
	return e, st, tr
}

func mustCreate(t *testing.T, e *Engine, spec PassTypeSpec) PassType {
	t.Helper()
	pt, err := e.CreatePassType(context.Background(), authority, spec)
	if err != nil {
		t.Fatalf("create pass type: %v", err)
	}
	return pt
}

func monthly() PassTypeSpec {
	return PassTypeSpec{
		Name:         "Monthly",
		PriceCents:   100,
		DurationSecs: 2_592_000,
		Active:       true,
		Stackable:    true,
	}
}

func TestCreatePassType(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	pt := mustCreate(t, e, monthly())
	if pt.ID != 1 {
		t.Fatalf("first id = %d, want 1", pt.ID)
	}
	if pt.Sold != 0 {
		t.Fatalf("new pass type sold = %d, want 0", pt.Sold)
	}
	pt2 := mustCreate(t, e, PassTypeSpec{Name: "Day", PriceCents: 5, DurationSecs: 86400, Active: true})
	if pt2.ID != 2 {
		t.Fatalf("second id = %d, want 2", pt2.ID)
	}

	if _, err := e.CreatePassType(ctx, authority, PassTypeSpec{Name: "broken"}); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("zero duration: got %v, want ErrInvalidDuration", err)
	}
	if _, err := e.CreatePassType(ctx, alice, monthly()); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-authority create: got %v, want ErrNotAuthorized", err)
	}
}

func TestUpdatePassType(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	pt := mustCreate(t, e, monthly())

	if _, err := e.Purchase(ctx, alice, pt.ID, 3, 300, 1000); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	upd, err := e.UpdatePassType(ctx, authority, pt.ID, PassTypeSpec{
		Name:         "Monthly v2",
		PriceCents:   200,
		DurationSecs: 100,
		MaxSupply:    10,
		Active:       false,
		Stackable:    false,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.Sold != 3 {
		t.Fatalf("update lost sold counter: %d, want 3", upd.Sold)
	}
	if upd.Name != "Monthly v2" || upd.PriceCents != 200 || upd.Active {
		t.Fatalf("update did not overwrite fields: %+v", upd)
	}

	if _, err := e.UpdatePassType(ctx, authority, 99, monthly()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: got %v, want ErrNotFound", err)
	}
	if _, err := e.UpdatePassType(ctx, authority, pt.ID, PassTypeSpec{Name: "x"}); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("zero duration: got %v, want ErrInvalidDuration", err)
	}
}

// Mirrors the reference scenario: buy, stack while active, stay accessible
// through the stacked window, then revoke.
func TestPurchaseStackAndRevokeScenario(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	pt := mustCreate(t, e, monthly())
	const month = int64(2_592_000)
	const start = int64(1_700_000_000)

	r1, err := e.Purchase(ctx, alice, pt.ID, 1, 100, start)
	if err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	if r1.ExpiresAt != start+month {
		t.Fatalf("first expiry = %d, want %d", r1.ExpiresAt, start+month)
	}

	// Second purchase while active stacks from the prior expiry, not from now.
	r2, err := e.Purchase(ctx, alice, pt.ID, 1, 100, start+1000)
	if err != nil {
		t.Fatalf("second purchase: %v", err)
	}
	if r2.ExpiresAt != start+2*month {
		t.Fatalf("stacked expiry = %d, want %d", r2.ExpiresAt, start+2*month)
	}

	probe := start + month + 10
	if !e.HasAccess(alice, pt.ID, probe) {
		t.Fatal("expected access inside stacked window")
	}
	rev, err := e.Revoke(ctx, authority, alice, pt.ID, probe)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if rev.PriorExp != start+2*month {
		t.Fatalf("revoke prior = %d, want %d", rev.PriorExp, start+2*month)
	}
	if e.HasAccess(alice, pt.ID, probe) {
		t.Fatal("access survived revoke")
	}
	if got := e.ExpiresAt(alice, pt.ID); got != probe {
		t.Fatalf("post-revoke expiry = %d, want %d", got, probe)
	}
}

func TestStackingAdditivity(t *testing.T) {
	const now = int64(1_000_000)
	split, _, _ := newTestEngine(t)
	single, _, _ := newTestEngine(t)
	ctx := context.Background()
	ptA := mustCreate(t, split, monthly())
	ptB := mustCreate(t, single, monthly())

	if _, err := split.Purchase(ctx, alice, ptA.ID, 2, 200, now); err != nil {
		t.Fatalf("q1: %v", err)
	}
	if _, err := split.Purchase(ctx, alice, ptA.ID, 3, 300, now+500); err != nil {
		t.Fatalf("q2: %v", err)
	}
	if _, err := single.Purchase(ctx, alice, ptB.ID, 5, 500, now); err != nil {
		t.Fatalf("q1+q2: %v", err)
	}
	if a, b := split.ExpiresAt(alice, ptA.ID), single.ExpiresAt(alice, ptB.ID); a != b {
		t.Fatalf("split purchases %d != single purchase %d", a, b)
	}
}

func TestExpiredWindowRestartsAtNow(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	pt := mustCreate(t, e, PassTypeSpec{Name: "Day", PriceCents: 10, DurationSecs: 100, Active: true})

	if _, err := e.Purchase(ctx, alice, pt.ID, 1, 10, 1000); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	// Window ended at 1100; buying again at 5000 must not stack onto it.
	r, err := e.Purchase(ctx, alice, pt.ID, 1, 10, 5000)
	if err != nil {
		t.Fatalf("repurchase: %v", err)
	}
	if r.ExpiresAt != 5100 {
		t.Fatalf("expiry = %d, want 5100", r.ExpiresAt)
	}
}

func TestPurchasePreconditions(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	pt := mustCreate(t, e, monthly())
	paused := mustCreate(t, e, PassTypeSpec{Name: "Paused", PriceCents: 10, DurationSecs: 60, Active: false})

	cases := []struct {
		name      string
		principal string
		passID    uint64
		qty       uint64
		paid      uint64
		want      error
	}{
		{"zero quantity", alice, pt.ID, 0, 0, ErrInvalidQuantity},
		{"unknown pass", alice, 99, 1, 100, ErrNotFound},
		{"paused sales", alice, paused.ID, 1, 10, ErrSalesPaused},
		{"underpaid", alice, pt.ID, 2, 100, ErrWrongAmount},
		{"overpaid", alice, pt.ID, 1, 101, ErrWrongAmount},
		{"empty principal", "", pt.ID, 1, 100, ErrZeroPrincipal},
	}
	for _, tc := range cases {
		if _, err := e.Purchase(ctx, tc.principal, tc.passID, tc.qty, tc.paid, 1000); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

// Quantities big enough to wrap price, expiration or balance arithmetic
// must be rejected whole, never applied modulo 2^64.
func TestOverflowingQuantitiesAreRejected(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	priced := mustCreate(t, e, monthly()) // price 100, duration 2_592_000
	free := mustCreate(t, e, PassTypeSpec{Name: "Free", PriceCents: 0, DurationSecs: 1, Active: true})

	cases := []struct {
		name   string
		passID uint64
		qty    uint64
		paid   uint64
	}{
		// price * qty wraps uint64
		{"price overflow", priced.ID, math.MaxUint64/100 + 1, 0},
		// duration * qty wraps int64
		{"duration overflow", free.ID, math.MaxUint64, 0},
		// duration * qty fits but base + added passes MaxInt64
		{"expiration overflow", free.ID, math.MaxInt64, 0},
	}
	for _, tc := range cases {
		if _, err := e.Purchase(ctx, alice, tc.passID, tc.qty, tc.paid, 1000); !errors.Is(err, ErrInvalidQuantity) {
			t.Errorf("%s: got %v, want ErrInvalidQuantity", tc.name, err)
		}
	}

	if _, err := e.Grant(ctx, authority, bob, priced.ID, math.MaxUint64, 1000); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("grant duration overflow: got %v, want ErrInvalidQuantity", err)
	}

	for _, id := range []uint64{priced.ID, free.ID} {
		pt, err := e.GetPassType(id)
		if err != nil {
			t.Fatalf("get %d: %v", id, err)
		}
		if pt.Sold != 0 {
			t.Errorf("pass %d sold = %d after rejected purchases, want 0", id, pt.Sold)
		}
		if e.ExpiresAt(alice, id) != 0 || e.ExpiresAt(bob, id) != 0 {
			t.Errorf("pass %d ledger extended by rejected purchase", id)
		}
	}
	if e.Balance() != 0 {
		t.Fatalf("balance = %d after rejected purchases, want 0", e.Balance())
	}
}

// A purchase whose credit would wrap the treasury balance fails and
// leaves the full state untouched.
func TestTreasuryCreditOverflowIsRejected(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	if err := st.SaveBalance(ctx, math.MaxUint64); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	e := New(st, &fakeTransfer{})
	if err := e.Load(ctx, authority); err != nil {
		t.Fatalf("load: %v", err)
	}
	pt := mustCreate(t, e, PassTypeSpec{Name: "Day", PriceCents: 1, DurationSecs: 60, Active: true})

	if _, err := e.Purchase(ctx, alice, pt.ID, 1, 1, 100); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("got %v, want ErrInvalidQuantity", err)
	}
	if e.Balance() != math.MaxUint64 {
		t.Fatalf("balance changed: %d", e.Balance())
	}
	got, _ := e.GetPassType(pt.ID)
	if got.Sold != 0 || e.ExpiresAt(alice, pt.ID) != 0 {
		t.Fatal("rejected purchase left a trace")
	}
}

func TestFailedPurchaseLeavesNoTrace(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()
	pt := mustCreate(t, e, monthly())

	if _, err := e.Purchase(ctx, alice, pt.ID, 1, 999, 1000); !errors.Is(err, ErrWrongAmount) {
		t.Fatalf("got %v, want ErrWrongAmount", err)
	}
	got, err := e.GetPassType(pt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Sold != 0 {
		t.Fatalf("sold incremented on failed purchase: %d", got.Sold)
	}
	if e.ExpiresAt(alice, pt.ID) != 0 {
		t.Fatal("ledger extended on failed purchase")
	}
	if e.Balance() != 0 {
		t.Fatalf("treasury credited on failed purchase: %d", e.Balance())
	}
	snap, _ := st.Load(ctx)
	if snap.Balance != 0 || len(snap.Expirations) != 0 {
		t.Fatalf("store mutated on failed purchase: %+v", snap)
	}
}

func TestSupplyCapSharedByPurchaseAndGrant(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	pt := mustCreate(t, e, PassTypeSpec{Name: "Limited", PriceCents: 10, DurationSecs: 60, MaxSupply: 3, Active: true})

	if _, err := e.Purchase(ctx, alice, pt.ID, 2, 20, 100); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := e.Grant(ctx, authority, bob, pt.ID, 1, 100); err != nil {
		t.Fatalf("grant: %v", err)
	}
	// Pool of 3 is now exhausted by purchase(2)+grant(1).
	if _, err := e.Purchase(ctx, alice, pt.ID, 1, 10, 100); !errors.Is(err, ErrSoldOut) {
		t.Fatalf("purchase past cap: got %v, want ErrSoldOut", err)
	}
	if _, err := e.Grant(ctx, authority, bob, pt.ID, 1, 100); !errors.Is(err, ErrSoldOut) {
		t.Fatalf("grant past cap: got %v, want ErrSoldOut", err)
	}
	got, _ := e.GetPassType(pt.ID)
	if got.Sold != 3 {
		t.Fatalf("sold = %d, want 3", got.Sold)
	}
}

func TestGrant(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	// Grants ignore the active flag.
	pt := mustCreate(t, e, PassTypeSpec{Name: "Promo", PriceCents: 50, DurationSecs: 60, Active: false})

	r, err := e.Grant(ctx, authority, bob, pt.ID, 2, 100)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if r.ExpiresAt != 220 {
		t.Fatalf("grant expiry = %d, want 220", r.ExpiresAt)
	}
	if r.AmountPaid != 0 || e.Balance() != 0 {
		t.Fatal("grant touched the treasury")
	}

	if _, err := e.Grant(ctx, bob, bob, pt.ID, 1, 100); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-authority grant: got %v, want ErrNotAuthorized", err)
	}
	if _, err := e.Grant(ctx, authority, "", pt.ID, 1, 100); !errors.Is(err, ErrZeroPrincipal) {
		t.Fatalf("empty grantee: got %v, want ErrZeroPrincipal", err)
	}
	if _, err := e.Grant(ctx, authority, bob, pt.ID, 0, 100); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("zero quantity: got %v, want ErrInvalidQuantity", err)
	}
	if _, err := e.Grant(ctx, authority, bob, 99, 1, 100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown pass: got %v, want ErrNotFound", err)
	}
}

func TestRevokeRequiresActiveWindow(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	pt := mustCreate(t, e, PassTypeSpec{Name: "Day", PriceCents: 10, DurationSecs: 100, Active: true})

	// Never purchased.
	if _, err := e.Revoke(ctx, authority, alice, pt.ID, 100); !errors.Is(err, ErrNotActive) {
		t.Fatalf("revoke untouched pair: got %v, want ErrNotActive", err)
	}
	if _, err := e.Purchase(ctx, alice, pt.ID, 1, 10, 100); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	// Already expired (window ends at 200, strict comparison).
	if _, err := e.Revoke(ctx, authority, alice, pt.ID, 200); !errors.Is(err, ErrNotActive) {
		t.Fatalf("revoke at expiry instant: got %v, want ErrNotActive", err)
	}
	if got := e.ExpiresAt(alice, pt.ID); got != 200 {
		t.Fatalf("failed revoke changed ledger: %d", got)
	}
	if _, err := e.Revoke(ctx, alice, alice, pt.ID, 150); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-authority revoke: got %v, want ErrNotAuthorized", err)
	}
}

func TestWithdraw(t *testing.T) {
	e, _, tr := newTestEngine(t)
	ctx := context.Background()
	pt := mustCreate(t, e, monthly())
	if _, err := e.Purchase(ctx, alice, pt.ID, 5, 500, 100); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	r, err := e.Withdraw(ctx, authority, "acct-9", 200)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if r.NewBalance != 300 || e.Balance() != 300 {
		t.Fatalf("balance after withdraw = %d, want 300", e.Balance())
	}
	if tr.lastTo != "acct-9" || tr.lastAmount != 200 {
		t.Fatalf("transfer saw %q/%d", tr.lastTo, tr.lastAmount)
	}

	if _, err := e.Withdraw(ctx, authority, "acct-9", 301); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraw: got %v, want ErrInsufficientFunds", err)
	}
	if _, err := e.Withdraw(ctx, authority, "", 10); !errors.Is(err, ErrZeroPrincipal) {
		t.Fatalf("empty destination: got %v, want ErrZeroPrincipal", err)
	}
	if _, err := e.Withdraw(ctx, alice, "acct-9", 10); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-authority withdraw: got %v, want ErrNotAuthorized", err)
	}
}

func TestWithdrawRollsBackOnTransferFailure(t *testing.T) {
	e, st, tr := newTestEngine(t)
	ctx := context.Background()
	pt := mustCreate(t, e, monthly())
	if _, err := e.Purchase(ctx, alice, pt.ID, 5, 500, 100); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	tr.fail = true
	if _, err := e.Withdraw(ctx, authority, "acct-9", 400); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	if e.Balance() != 500 {
		t.Fatalf("balance after failed transfer = %d, want 500", e.Balance())
	}
	snap, _ := st.Load(ctx)
	if snap.Balance != 500 {
		t.Fatalf("persisted balance after failed transfer = %d, want 500", snap.Balance)
	}
}

func TestTransferAuthority(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.TransferAuthority(ctx, authority, ""); !errors.Is(err, ErrZeroPrincipal) {
		t.Fatalf("empty new authority: got %v, want ErrZeroPrincipal", err)
	}
	old, err := e.TransferAuthority(ctx, authority, bob)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if old != authority || e.Authority() != bob {
		t.Fatalf("authority = %q (old %q)", e.Authority(), old)
	}
	// The previous authority is powerless immediately.
	if _, err := e.CreatePassType(ctx, authority, monthly()); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("stale authority create: got %v, want ErrNotAuthorized", err)
	}
	if _, err := e.CreatePassType(ctx, bob, monthly()); err != nil {
		t.Fatalf("new authority create: %v", err)
	}
}

func TestQueriesOnUntouchedPair(t *testing.T) {
	e, _, _ := newTestEngine(t)
	pt := mustCreate(t, e, monthly())

	if e.HasAccess(alice, pt.ID, 0) {
		t.Fatal("access without purchase")
	}
	if got := e.TimeRemaining(alice, pt.ID, 12345); got != 0 {
		t.Fatalf("time remaining = %d, want 0", got)
	}
	if got := e.ExpiresAt(alice, pt.ID); got != 0 {
		t.Fatalf("expires at = %d, want 0", got)
	}
	if _, err := e.GetPassType(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown pass type: got %v, want ErrNotFound", err)
	}
	if len(e.EntriesFor(alice)) != 0 {
		t.Fatal("entries for untouched principal")
	}
}

func TestReloadFromStore(t *testing.T) {
	st := NewMemoryStore()
	tr := &fakeTransfer{}
	ctx := context.Background()

	e1 := New(st, tr)
	if err := e1.Load(ctx, authority); err != nil {
		t.Fatalf("load: %v", err)
	}
	pt, err := e1.CreatePassType(ctx, authority, monthly())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e1.Purchase(ctx, alice, pt.ID, 2, 200, 1000); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	// A second engine over the same store sees the committed state and
	// keeps assigning IDs after the highest persisted one.
	e2 := New(st, tr)
	if err := e2.Load(ctx, "ignored-seed"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if e2.Authority() != authority {
		t.Fatalf("authority after reload = %q", e2.Authority())
	}
	if e2.Balance() != 200 {
		t.Fatalf("balance after reload = %d", e2.Balance())
	}
	if got := e2.ExpiresAt(alice, pt.ID); got != e1.ExpiresAt(alice, pt.ID) {
		t.Fatalf("expiry after reload = %d", got)
	}
	next, err := e2.CreatePassType(ctx, authority, monthly())
	if err != nil {
		t.Fatalf("create after reload: %v", err)
	}
	if next.ID != pt.ID+1 {
		t.Fatalf("id after reload = %d, want %d", next.ID, pt.ID+1)
	}
}

func TestConcurrentPurchasesRespectCap(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	pt := mustCreate(t, e, PassTypeSpec{Name: "Limited", PriceCents: 1, DurationSecs: 60, MaxSupply: 50, Active: true})

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			principal := alice
			if n%2 == 0 {
				principal = bob
			}
			if _, err := e.Purchase(ctx, principal, pt.ID, 1, 1, 100); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if !errors.Is(err, ErrSoldOut) {
				t.Errorf("unexpected purchase error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 50 {
		t.Fatalf("successes = %d, want 50", successes)
	}
	got, _ := e.GetPassType(pt.ID)
	if got.Sold != 50 {
		t.Fatalf("sold = %d, want 50", got.Sold)
	}
	if e.Balance() != 50 {
		t.Fatalf("balance = %d, want 50", e.Balance())
	}
}
