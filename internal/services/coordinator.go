// Package services holds the synchronization coordinator: the owner of each
// user's in-memory working copy and the only writer to the record store.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"billfold/internal/core"
	"billfold/internal/store"
)

// SyncState describes one channel's relationship with the record store.
type SyncState string

const (
	// StateSynced means the working copy equals the last confirmed store state.
	StateSynced SyncState = "synced"
	// StatePending means a store call is in flight.
	StatePending SyncState = "pending"
	// StateDivergent means the last store call failed. The working copy keeps
	// the optimistic edit; the confirmed copy keeps the pre-mutation state.
	StateDivergent SyncState = "divergent"
)

// Channel identifies one independently synchronized collection. A failure on
// one channel never touches the others.
type Channel string

const (
	ChannelExpenses   Channel = "expenses"
	ChannelCategories Channel = "categories"
	ChannelBudget     Channel = "budget"
)

// ChangePublisher receives a notification after each confirmed mutation.
// Publishing is best effort and never affects sync state.
type ChangePublisher interface {
	PublishChange(ctx context.Context, username string, collection string, count int) error
}

// CoordinatorConfig tunes one coordinator instance.
type CoordinatorConfig struct {
	// StoreTimeout bounds every record store call (default: 5s).
	StoreTimeout time.Duration
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{StoreTimeout: 5 * time.Second}
}

// Coordinator keeps one user's working copy consistent with the record store
// under the replace-all protocol. Mutations are serialized internally;
// snapshots may be taken concurrently and are always deep copies.
type Coordinator struct {
	username string
	store    store.Store
	events   ChangePublisher // optional
	timeout  time.Duration

	op sync.Mutex // serializes mutations end to end

	mu        sync.Mutex // guards everything below
	working   core.UserData
	confirmed core.UserData
	states    map[Channel]SyncState
}

// NewCoordinator builds a coordinator for one user session. The events
// publisher may be nil.
func NewCoordinator(username string, st store.Store, events ChangePublisher, cfg CoordinatorConfig) *Coordinator {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultCoordinatorConfig().StoreTimeout
	}
	return &Coordinator{
		username: username,
		store:    st,
		events:   events,
		timeout:  cfg.StoreTimeout,
		states: map[Channel]SyncState{
			ChannelExpenses:   StateSynced,
			ChannelCategories: StateSynced,
			ChannelBudget:     StateSynced,
		},
	}
}

// Load populates the working copy from the store, applying defaults where
// the user has never saved categories or a budget. All channels reset to
// synced.
func (c *Coordinator) Load(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	return c.reload(ctx)
}

// Resync is an explicit reload that discards any divergent working copy in
// favor of the store's current state.
func (c *Coordinator) Resync(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	if err := c.reload(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Working copy resynchronized", "username", c.username)
	return nil
}

func (c *Coordinator) reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.store.LoadUserData(ctx, c.username)
	if err != nil {
		return fmt.Errorf("load user data: %w", err)
	}
	resolved := core.UserData{
		Expenses:   data.Expenses,
		Categories: data.EffectiveCategories(),
		Budget:     data.EffectiveBudget(),
		BudgetSet:  true,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.working = cloneData(resolved)
	c.confirmed = cloneData(resolved)
	for ch := range c.states {
		c.states[ch] = StateSynced
	}
	return nil
}

// Snapshot is one immutable view of the session: the working copy plus the
// per-channel sync states at the moment it was taken.
type Snapshot struct {
	Expenses   []core.Expense
	Categories []core.Category
	Budget     core.Money
	States     map[Channel]SyncState
}

// Synced reports whether every channel is in the synced state.
func (s Snapshot) Synced() bool {
	for _, st := range s.States {
		if st != StateSynced {
			return false
		}
	}
	return true
}

// Snapshot returns a deep copy of the current working copy. Callers may
// read and aggregate it freely; mutating it never affects the coordinator.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	states := make(map[Channel]SyncState, len(c.states))
	for ch, st := range c.states {
		states[ch] = st
	}
	d := cloneData(c.working)
	return Snapshot{
		Expenses:   d.Expenses,
		Categories: d.Categories,
		Budget:     d.Budget,
		States:     states,
	}
}

// Confirmed returns the last store-confirmed state of one channel's data,
// for re-display when the working copy has diverged.
func (c *Coordinator) Confirmed() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	states := make(map[Channel]SyncState, len(c.states))
	for ch, st := range c.states {
		states[ch] = st
	}
	d := cloneData(c.confirmed)
	return Snapshot{
		Expenses:   d.Expenses,
		Categories: d.Categories,
		Budget:     d.Budget,
		States:     states,
	}
}

// State returns the sync state of one channel.
func (c *Coordinator) State(ch Channel) SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[ch]
}

// AddExpense validates and appends a single expense. The working copy is
// updated optimistically; the store assigns the id.
func (c *Coordinator) AddExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	e.Username = c.username
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	c.working.Expenses = append(c.working.Expenses, e)
	c.states[ChannelExpenses] = StatePending
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	id, err := c.store.AppendExpense(callCtx, c.username, e)
	cancel()

	c.mu.Lock()
	if err != nil {
		c.states[ChannelExpenses] = StateDivergent
		c.mu.Unlock()
		slog.WarnContext(ctx, "Expense append failed, working copy divergent",
			"username", c.username, "error", err)
		return core.Expense{}, fmt.Errorf("append expense: %w", err)
	}
	e.ID = id
	c.working.Expenses[len(c.working.Expenses)-1] = e
	c.confirmed.Expenses = append([]core.Expense(nil), c.working.Expenses...)
	c.states[ChannelExpenses] = StateSynced
	count := len(c.working.Expenses)
	c.mu.Unlock()

	c.publish(ctx, string(ChannelExpenses), count)
	return e, nil
}

// DeleteExpense removes one expense by id. An id absent from the working
// copy is a no-op success: the end state already matches intent.
func (c *Coordinator) DeleteExpense(ctx context.Context, id string) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	idx := -1
	for i, e := range c.working.Expenses {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return nil
	}
	c.working.Expenses = append(c.working.Expenses[:idx], c.working.Expenses[idx+1:]...)
	c.states[ChannelExpenses] = StatePending
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.store.DeleteExpense(callCtx, id)
	cancel()

	c.mu.Lock()
	if err != nil {
		c.states[ChannelExpenses] = StateDivergent
		c.mu.Unlock()
		slog.WarnContext(ctx, "Expense delete failed, working copy divergent",
			"username", c.username, "expense_id", id, "error", err)
		return fmt.Errorf("delete expense: %w", err)
	}
	c.confirmed.Expenses = append([]core.Expense(nil), c.working.Expenses...)
	c.states[ChannelExpenses] = StateSynced
	count := len(c.working.Expenses)
	c.mu.Unlock()

	c.publish(ctx, string(ChannelExpenses), count)
	return nil
}

// ReplaceExpenses swaps the whole expense collection, the bulk save path
// used after client-side edits. Validation happens before anything is
// touched; the store assigns fresh ids on success.
func (c *Coordinator) ReplaceExpenses(ctx context.Context, expenses []core.Expense) error {
	expenses = append([]core.Expense(nil), expenses...)
	for i := range expenses {
		expenses[i].Username = c.username
		if err := expenses[i].Validate(); err != nil {
			return err
		}
	}

	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	c.working.Expenses = append([]core.Expense(nil), expenses...)
	c.states[ChannelExpenses] = StatePending
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.store.ReplaceExpenses(callCtx, c.username, expenses)
	cancel()

	c.mu.Lock()
	if err != nil {
		c.states[ChannelExpenses] = StateDivergent
		c.mu.Unlock()
		slog.WarnContext(ctx, "Expense replace failed, working copy divergent",
			"username", c.username, "count", len(expenses), "error", err)
		return fmt.Errorf("replace expenses: %w", err)
	}
	c.confirmed.Expenses = append([]core.Expense(nil), c.working.Expenses...)
	c.states[ChannelExpenses] = StateSynced
	count := len(c.working.Expenses)
	c.mu.Unlock()

	c.publish(ctx, string(ChannelExpenses), count)
	return nil
}

// ReplaceCategories swaps the whole category set. Duplicate names are
// rejected before the store is called.
func (c *Coordinator) ReplaceCategories(ctx context.Context, categories []core.Category) error {
	if err := core.ValidateCategorySet(categories); err != nil {
		return err
	}

	c.op.Lock()
	defer c.op.Unlock()
	return c.commitCategories(ctx, categories)
}

// AddCategory appends one category to the set. Every category edit goes
// through the store as a full replace.
func (c *Coordinator) AddCategory(ctx context.Context, cat core.Category) error {
	if err := cat.Validate(); err != nil {
		return err
	}

	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	next := append([]core.Category(nil), c.working.Categories...)
	c.mu.Unlock()
	next = append(next, cat)
	if err := core.ValidateCategorySet(next); err != nil {
		return err
	}
	return c.commitCategories(ctx, next)
}

// UpdateCategoryBudget changes one category's spending limit by name.
func (c *Coordinator) UpdateCategoryBudget(ctx context.Context, name string, budget core.Money) error {
	if err := budget.Validate(); err != nil {
		return err
	}

	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	next := append([]core.Category(nil), c.working.Categories...)
	c.mu.Unlock()
	found := false
	for i := range next {
		if next[i].Name == name {
			next[i].Budget = budget
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("update category %q: %w", name, core.ErrUnknownCategory)
	}
	return c.commitCategories(ctx, next)
}

// commitCategories runs the pending/confirm flow for the category channel.
// Callers hold c.op and have already validated the set.
func (c *Coordinator) commitCategories(ctx context.Context, categories []core.Category) error {
	c.mu.Lock()
	c.working.Categories = append([]core.Category(nil), categories...)
	c.states[ChannelCategories] = StatePending
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.store.ReplaceCategories(callCtx, c.username, categories)
	cancel()

	c.mu.Lock()
	if err != nil {
		c.states[ChannelCategories] = StateDivergent
		c.mu.Unlock()
		slog.WarnContext(ctx, "Category replace failed, working copy divergent",
			"username", c.username, "count", len(categories), "error", err)
		return fmt.Errorf("replace categories: %w", err)
	}
	c.confirmed.Categories = append([]core.Category(nil), c.working.Categories...)
	c.states[ChannelCategories] = StateSynced
	count := len(c.working.Categories)
	c.mu.Unlock()

	c.publish(ctx, string(ChannelCategories), count)
	return nil
}

// SetBudget upserts the monthly ceiling. Idempotent: the same amount twice
// leaves everything unchanged.
func (c *Coordinator) SetBudget(ctx context.Context, amount core.Money) error {
	if err := amount.Validate(); err != nil {
		return err
	}

	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	c.working.Budget = amount
	c.working.BudgetSet = true
	c.states[ChannelBudget] = StatePending
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.store.SetBudget(callCtx, c.username, amount)
	cancel()

	c.mu.Lock()
	if err != nil {
		c.states[ChannelBudget] = StateDivergent
		c.mu.Unlock()
		slog.WarnContext(ctx, "Budget write failed, working copy divergent",
			"username", c.username, "error", err)
		return fmt.Errorf("set budget: %w", err)
	}
	c.confirmed.Budget = amount
	c.confirmed.BudgetSet = true
	c.states[ChannelBudget] = StateSynced
	c.mu.Unlock()

	c.publish(ctx, string(ChannelBudget), 1)
	return nil
}

// publish runs after c.mu is released so snapshot readers never wait on a
// broker round trip. Callers still hold c.op, keeping events in mutation
// order.
func (c *Coordinator) publish(ctx context.Context, collection string, count int) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishChange(ctx, c.username, collection, count); err != nil {
		slog.WarnContext(ctx, "Change event publish failed",
			"username", c.username, "collection", collection, "error", err)
	}
}

func cloneData(d core.UserData) core.UserData {
	out := core.UserData{Budget: d.Budget, BudgetSet: d.BudgetSet}
	out.Expenses = append([]core.Expense(nil), d.Expenses...)
	if d.Categories != nil {
		out.Categories = append([]core.Category(nil), d.Categories...)
	}
	return out
}
