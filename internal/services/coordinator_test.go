package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"billfold/internal/core"
	"billfold/internal/store/memory"
)

var errStoreDown = errors.New("store down")

// flakyStore wraps the in-memory store and fails selected operations.
type flakyStore struct {
	*memory.Store
	failAppend     bool
	failReplaceExp bool
	failReplaceCat bool
	failBudget     bool
	failDelete     bool
	deleteCalls    int
}

func (f *flakyStore) AppendExpense(ctx context.Context, username string, e core.Expense) (string, error) {
	if f.failAppend {
		return "", errStoreDown
	}
	return f.Store.AppendExpense(ctx, username, e)
}

func (f *flakyStore) ReplaceExpenses(ctx context.Context, username string, expenses []core.Expense) error {
	if f.failReplaceExp {
		return errStoreDown
	}
	return f.Store.ReplaceExpenses(ctx, username, expenses)
}

func (f *flakyStore) ReplaceCategories(ctx context.Context, username string, categories []core.Category) error {
	if f.failReplaceCat {
		return errStoreDown
	}
	return f.Store.ReplaceCategories(ctx, username, categories)
}

func (f *flakyStore) SetBudget(ctx context.Context, username string, amount core.Money) error {
	if f.failBudget {
		return errStoreDown
	}
	return f.Store.SetBudget(ctx, username, amount)
}

func (f *flakyStore) DeleteExpense(ctx context.Context, id string) error {
	f.deleteCalls++
	if f.failDelete {
		return errStoreDown
	}
	return f.Store.DeleteExpense(ctx, id)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *flakyStore) {
	t.Helper()
	fs := &flakyStore{Store: memory.New()}
	c := NewCoordinator("alice", fs, nil, DefaultCoordinatorConfig())
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return c, fs
}

func testExpense(amount int64, category string) core.Expense {
	return core.Expense{
		Amount:      core.Money{Cents: amount},
		Category:    category,
		Description: "test",
		Date:        core.NewDate(2025, 12, 1),
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, _ := newTestCoordinator(t)
	snap := c.Snapshot()
	if len(snap.Categories) != 6 {
		t.Fatalf("expected 6 default categories, got %d", len(snap.Categories))
	}
	if snap.Budget != core.DefaultMonthlyBudget {
		t.Fatalf("expected default budget, got %v", snap.Budget)
	}
	if !snap.Synced() {
		t.Fatalf("fresh session should be synced, got %v", snap.States)
	}
}

func TestAddExpenseSuccess(t *testing.T) {
	c, _ := newTestCoordinator(t)
	got, err := c.AddExpense(context.Background(), testExpense(1500, "Food"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got.ID == "" {
		t.Fatal("expected store-assigned id")
	}
	snap := c.Snapshot()
	if len(snap.Expenses) != 1 || snap.Expenses[0].ID != got.ID {
		t.Fatalf("working copy mismatch: %+v", snap.Expenses)
	}
	if snap.States[ChannelExpenses] != StateSynced {
		t.Fatalf("expected synced, got %s", snap.States[ChannelExpenses])
	}
}

func TestAddExpenseFailureKeepsOptimisticEdit(t *testing.T) {
	c, fs := newTestCoordinator(t)
	fs.failAppend = true

	_, err := c.AddExpense(context.Background(), testExpense(1500, "Food"))
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}

	snap := c.Snapshot()
	if snap.States[ChannelExpenses] != StateDivergent {
		t.Fatalf("expected divergent, got %s", snap.States[ChannelExpenses])
	}
	if len(snap.Expenses) != 1 {
		t.Fatalf("optimistic edit must stay visible, got %d expenses", len(snap.Expenses))
	}
	if confirmed := c.Confirmed(); len(confirmed.Expenses) != 0 {
		t.Fatalf("confirmed copy must keep pre-mutation contents, got %d", len(confirmed.Expenses))
	}
}

func TestNextSuccessfulMutationClearsDivergence(t *testing.T) {
	c, fs := newTestCoordinator(t)
	fs.failAppend = true
	_, _ = c.AddExpense(context.Background(), testExpense(100, "Food"))
	if c.State(ChannelExpenses) != StateDivergent {
		t.Fatal("expected divergent after failure")
	}

	fs.failAppend = false
	if err := c.ReplaceExpenses(context.Background(), []core.Expense{testExpense(100, "Food")}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if c.State(ChannelExpenses) != StateSynced {
		t.Fatal("success should clear divergence")
	}
}

func TestChannelFailuresAreIndependent(t *testing.T) {
	c, fs := newTestCoordinator(t)
	fs.failReplaceCat = true

	err := c.ReplaceCategories(context.Background(), []core.Category{{Name: "Solo", Budget: core.Money{Cents: 1}}})
	if err == nil {
		t.Fatal("expected failure")
	}

	snap := c.Snapshot()
	if snap.States[ChannelCategories] != StateDivergent {
		t.Fatalf("categories should be divergent, got %s", snap.States[ChannelCategories])
	}
	if snap.States[ChannelExpenses] != StateSynced || snap.States[ChannelBudget] != StateSynced {
		t.Fatalf("other channels must stay synced: %v", snap.States)
	}

	// budget still works while categories are divergent
	if err := c.SetBudget(context.Background(), core.Money{Cents: 100000}); err != nil {
		t.Fatalf("budget: %v", err)
	}
}

func TestValidationRejectedBeforeStore(t *testing.T) {
	c, _ := newTestCoordinator(t)

	if _, err := c.AddExpense(context.Background(), testExpense(-5, "Food")); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	dup := []core.Category{
		{Name: "Food", Budget: core.Money{Cents: 1}},
		{Name: "Food", Budget: core.Money{Cents: 2}},
	}
	if err := c.ReplaceCategories(context.Background(), dup); !errors.Is(err, core.ErrDuplicateCategory) {
		t.Fatalf("expected ErrDuplicateCategory, got %v", err)
	}

	snap := c.Snapshot()
	if len(snap.Expenses) != 0 {
		t.Fatal("working copy must be untouched by rejected input")
	}
	if !snap.Synced() {
		t.Fatalf("validation errors never change sync state: %v", snap.States)
	}
}

func TestDeleteAbsentExpenseIsNoOp(t *testing.T) {
	c, fs := newTestCoordinator(t)
	if _, err := c.AddExpense(context.Background(), testExpense(100, "Food")); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := c.DeleteExpense(context.Background(), "no-such-id"); err != nil {
		t.Fatalf("absent id should be a no-op success, got %v", err)
	}
	if fs.deleteCalls != 0 {
		t.Fatal("store must not be called for an absent id")
	}
	if snap := c.Snapshot(); len(snap.Expenses) != 1 {
		t.Fatalf("collection size must be unchanged, got %d", len(snap.Expenses))
	}
}

func TestDeleteExpense(t *testing.T) {
	c, _ := newTestCoordinator(t)
	e, err := c.AddExpense(context.Background(), testExpense(100, "Food"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.DeleteExpense(context.Background(), e.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if snap := c.Snapshot(); len(snap.Expenses) != 0 {
		t.Fatalf("expected empty working copy, got %d", len(snap.Expenses))
	}
}

func TestAddCategoryRejectsDuplicateName(t *testing.T) {
	c, _ := newTestCoordinator(t)

	fresh := core.Category{Name: "Pets", Hex: "#000000", Budget: core.Money{Cents: 5000}}
	if err := c.AddCategory(context.Background(), fresh); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := c.Snapshot().Categories; len(got) != 7 || got[6].Name != "Pets" {
		t.Fatalf("expected Pets appended, got %v", got)
	}

	err := c.AddCategory(context.Background(), core.Category{Name: "Food", Budget: core.Money{Cents: 1}})
	if !errors.Is(err, core.ErrDuplicateCategory) {
		t.Fatalf("expected ErrDuplicateCategory, got %v", err)
	}
	if len(c.Snapshot().Categories) != 7 {
		t.Fatal("rejected add must not grow the working copy")
	}
}

func TestUpdateCategoryBudget(t *testing.T) {
	c, _ := newTestCoordinator(t)

	if err := c.UpdateCategoryBudget(context.Background(), "Food", core.Money{Cents: 77700}); err != nil {
		t.Fatalf("update: %v", err)
	}
	for _, cat := range c.Snapshot().Categories {
		if cat.Name == "Food" && cat.Budget.Cents != 77700 {
			t.Fatalf("budget not applied: %+v", cat)
		}
	}

	err := c.UpdateCategoryBudget(context.Background(), "NoSuch", core.Money{Cents: 100})
	if !errors.Is(err, core.ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
	if c.State(ChannelCategories) != StateSynced {
		t.Fatal("unknown name must not touch sync state")
	}
}

func TestResyncDiscardsDivergentEdits(t *testing.T) {
	c, fs := newTestCoordinator(t)
	if _, err := c.AddExpense(context.Background(), testExpense(100, "Food")); err != nil {
		t.Fatalf("add: %v", err)
	}

	fs.failAppend = true
	_, _ = c.AddExpense(context.Background(), testExpense(999, "Food"))
	if len(c.Snapshot().Expenses) != 2 {
		t.Fatal("optimistic edit should be in the working copy")
	}

	if err := c.Resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}
	snap := c.Snapshot()
	if len(snap.Expenses) != 1 {
		t.Fatalf("resync should restore store state, got %d expenses", len(snap.Expenses))
	}
	if !snap.Synced() {
		t.Fatalf("resync should clear divergence: %v", snap.States)
	}
}

func TestSnapshotIsIsolatedCopy(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if _, err := c.AddExpense(context.Background(), testExpense(100, "Food")); err != nil {
		t.Fatalf("add: %v", err)
	}
	snap := c.Snapshot()
	snap.Expenses[0].Amount = core.Money{Cents: 999999}
	snap.Categories[0].Name = "mutated"

	fresh := c.Snapshot()
	if fresh.Expenses[0].Amount.Cents != 100 || fresh.Categories[0].Name == "mutated" {
		t.Fatal("snapshot mutation leaked into the coordinator")
	}
}

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) PublishChange(_ context.Context, username, collection string, count int) error {
	p.events = append(p.events, collection)
	return nil
}

func TestReplaceExpensesLeavesCallerSliceUntouched(t *testing.T) {
	c, _ := newTestCoordinator(t)

	input := []core.Expense{testExpense(100, "Food"), testExpense(200, "Transport")}
	if err := c.ReplaceExpenses(context.Background(), input); err != nil {
		t.Fatalf("replace: %v", err)
	}
	for i, e := range input {
		if e.Username != "" {
			t.Fatalf("input[%d] was mutated: username %q", i, e.Username)
		}
	}
	for _, e := range c.Snapshot().Expenses {
		if e.Username != "alice" {
			t.Fatalf("stored expense missing owner stamp: %+v", e)
		}
	}
}

// hangingStore blocks every write until its context expires.
type hangingStore struct {
	*memory.Store
	entered chan struct{}
}

func (h *hangingStore) SetBudget(ctx context.Context, username string, amount core.Money) error {
	close(h.entered)
	<-ctx.Done()
	return ctx.Err()
}

func TestStoreTimeoutResolvesToDivergent(t *testing.T) {
	hs := &hangingStore{Store: memory.New(), entered: make(chan struct{})}
	c := NewCoordinator("alice", hs, nil, CoordinatorConfig{StoreTimeout: 25 * time.Millisecond})
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.SetBudget(context.Background(), core.Money{Cents: 5000})
	}()
	<-hs.entered
	if got := c.State(ChannelBudget); got != StatePending {
		t.Fatalf("expected pending while the store call is in flight, got %s", got)
	}

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("mutation did not return after the store timeout")
	}
	if got := c.State(ChannelBudget); got != StateDivergent {
		t.Fatalf("expected divergent after timeout, got %s", got)
	}
}

// stuckPublisher holds every publish until released.
type stuckPublisher struct {
	entered chan struct{}
	release chan struct{}
}

func (p *stuckPublisher) PublishChange(context.Context, string, string, int) error {
	close(p.entered)
	<-p.release
	return nil
}

func TestSnapshotNotBlockedByInFlightPublish(t *testing.T) {
	pub := &stuckPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	defer close(pub.release)

	c := NewCoordinator("alice", &flakyStore{Store: memory.New()}, pub, DefaultCoordinatorConfig())
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	go func() {
		_, _ = c.AddExpense(context.Background(), testExpense(100, "Food"))
	}()
	<-pub.entered

	snapped := make(chan Snapshot, 1)
	go func() { snapped <- c.Snapshot() }()
	select {
	case snap := <-snapped:
		if len(snap.Expenses) != 1 || snap.States[ChannelExpenses] != StateSynced {
			t.Fatalf("snapshot should show the confirmed mutation: %+v", snap)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("snapshot blocked behind the in-flight publish")
	}
}

func TestConfirmedMutationsPublishEvents(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCoordinator("alice", &flakyStore{Store: memory.New()}, pub, DefaultCoordinatorConfig())
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := c.AddExpense(context.Background(), testExpense(100, "Food")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.SetBudget(context.Background(), core.Money{Cents: 5000}); err != nil {
		t.Fatalf("budget: %v", err)
	}
	if len(pub.events) != 2 || pub.events[0] != "expenses" || pub.events[1] != "budget" {
		t.Fatalf("unexpected events %v", pub.events)
	}
}
