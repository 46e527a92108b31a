// Package coordinator owns the in-memory grocery list and its cache. Mutations
// are applied locally first, then synced to the remote store, and undone when
// the store refuses them.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"grocery_list/internal/cache"
	"grocery_list/internal/grocery"
	"grocery_list/internal/search"

	"github.com/rs/zerolog/log"
)

// State is a step in the life of a single mutation.
type State int

const (
	AppliedLocally State = iota
	Synced
	RolledBack
)

func (s State) String() string {
	switch s {
	case AppliedLocally:
		return "applied_locally"
	case Synced:
		return "synced"
	case RolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Transition is reported to the observer each time a mutation changes state.
type Transition struct {
	Op     string
	ItemID string
	State  State
}

// Warner receives the user-facing message when a mutation is rolled back.
type Warner interface {
	Warn(ctx context.Context, message string)
}

// Cache is the persisted snapshot of the list.
type Cache interface {
	Save(items []grocery.Item) error
	Load() ([]grocery.Item, bool, error)
}

var _ Cache = (*cache.Cache)(nil)

const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpDelete = "delete"
)

var warnings = map[string]string{
	OpAdd:    "Warning: Item added locally but failed to sync to the remote store. The item was removed again.",
	OpUpdate: "Warning: Changes saved locally but failed to sync to the remote store. The previous version was restored.",
	OpDelete: "Warning: Item removed locally but failed to sync to the remote store. The item was put back.",
}

// MutationError is returned when the remote store does not confirm a mutation.
// The local change has already been undone when the caller sees it.
type MutationError struct {
	Op      string
	ItemID  string
	Warning string
	Err     error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ItemID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

type Option func(*Coordinator)

// WithWarner sets where rollback warnings are delivered.
func WithWarner(w Warner) Option {
	return func(c *Coordinator) { c.warner = w }
}

// WithObserver registers a callback for state transitions.
func WithObserver(fn func(Transition)) Option {
	return func(c *Coordinator) { c.observer = fn }
}

// WithClock replaces the time source used for client-side ids.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

type Coordinator struct {
	store    grocery.Store
	cache    Cache
	warner   Warner
	observer func(Transition)
	now      func() time.Time

	mu    sync.Mutex
	items []grocery.Item
}

func New(store grocery.Store, c Cache, opts ...Option) *Coordinator {
	co := &Coordinator{
		store: store,
		cache: c,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// Load fills the list from the cache, or from the remote store when the cache
// is empty. It reports whether the list came from the cache.
func (c *Coordinator) Load(ctx context.Context) (bool, error) {
	cached, ok, err := c.cache.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring unreadable cache")
	}
	if ok && err == nil {
		c.mu.Lock()
		c.items = cached
		c.mu.Unlock()
		log.Debug().Int("count", len(cached)).Msg("Loaded groceries from cache")
		return true, nil
	}
	return false, c.Reload(ctx)
}

// Reload fetches the full list from the remote store and replaces both the
// in-memory list and the cache.
func (c *Coordinator) Reload(ctx context.Context) error {
	items, err := c.store.FetchAll(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
	if err := c.cache.Save(items); err != nil {
		log.Warn().Err(err).Msg("Failed to save groceries to cache")
	}
	log.Info().Int("count", len(items)).Msg("Fetched groceries from remote store")
	return nil
}

// Items returns a copy of the current list.
func (c *Coordinator) Items() []grocery.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]grocery.Item, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Coordinator) Search(query string) []grocery.Item {
	return search.FilterAndSort(c.Items(), query)
}

// Add assigns a client-side id to item, appends it locally and sends it to
// the remote store. The returned item carries the assigned id.
func (c *Coordinator) Add(ctx context.Context, item grocery.Item) (grocery.Item, error) {
	if err := item.Validate(); err != nil {
		return grocery.Item{}, err
	}

	c.mu.Lock()
	item.ID = c.nextID()
	c.items = append(c.items, item)
	c.persist()
	c.mu.Unlock()
	c.report(OpAdd, item.ID, AppliedLocally)

	if err := c.store.Add(ctx, item); err != nil {
		return item, c.rollback(ctx, OpAdd, item.ID, err, func(items []grocery.Item) []grocery.Item {
			if i := indexOf(items, item.ID); i >= 0 {
				return append(items[:i], items[i+1:]...)
			}
			return items
		})
	}

	c.report(OpAdd, item.ID, Synced)
	return item, nil
}

// Update replaces the item with the same id.
func (c *Coordinator) Update(ctx context.Context, item grocery.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	index := indexOf(c.items, item.ID)
	if index < 0 {
		c.mu.Unlock()
		return fmt.Errorf("update %s: %w", item.ID, grocery.ErrNotFound)
	}
	previous := c.items[index]
	c.items[index] = item
	c.persist()
	c.mu.Unlock()
	c.report(OpUpdate, item.ID, AppliedLocally)

	if err := c.store.Update(ctx, item, index); err != nil {
		return c.rollback(ctx, OpUpdate, item.ID, err, func(items []grocery.Item) []grocery.Item {
			if i := indexOf(items, item.ID); i >= 0 {
				items[i] = previous
			}
			return items
		})
	}

	c.report(OpUpdate, item.ID, Synced)
	return nil
}

// Delete removes the item with the given id.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	index := indexOf(c.items, id)
	if index < 0 {
		c.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, grocery.ErrNotFound)
	}
	removed := c.items[index]
	c.items = append(c.items[:index:index], c.items[index+1:]...)
	c.persist()
	c.mu.Unlock()
	c.report(OpDelete, id, AppliedLocally)

	if err := c.store.Delete(ctx, removed, index); err != nil {
		return c.rollback(ctx, OpDelete, id, err, func(items []grocery.Item) []grocery.Item {
			if indexOf(items, id) >= 0 {
				return items
			}
			at := min(index, len(items))
			items = append(items, grocery.Item{})
			copy(items[at+1:], items[at:])
			items[at] = removed
			return items
		})
	}

	c.report(OpDelete, id, Synced)
	return nil
}

// rollback applies undo to the current list, writes the result to the cache
// and then reloads the in-memory list from the cache.
func (c *Coordinator) rollback(ctx context.Context, op, id string, cause error, undo func([]grocery.Item) []grocery.Item) error {
	log.Warn().
		Err(cause).
		Str("op", op).
		Str("id", id).
		Msg("Remote sync failed, rolling back")

	c.mu.Lock()
	current := make([]grocery.Item, len(c.items))
	copy(current, c.items)
	c.items = undo(current)
	if c.persist() == nil {
		if restored, ok, err := c.cache.Load(); err == nil && ok {
			c.items = restored
		}
	}
	c.mu.Unlock()
	c.report(op, id, RolledBack)

	mutationErr := &MutationError{
		Op:      op,
		ItemID:  id,
		Warning: warnings[op],
		Err:     cause,
	}
	if c.warner != nil {
		c.warner.Warn(ctx, mutationErr.Warning)
	}
	return mutationErr
}

// persist writes the list to the cache. Callers hold mu.
func (c *Coordinator) persist() error {
	err := c.cache.Save(c.items)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to save groceries to cache")
	}
	return err
}

// nextID returns the current Unix millisecond time as a string, bumped until
// no item uses it. Callers hold mu.
func (c *Coordinator) nextID() string {
	candidate := c.now().UnixMilli()
	for indexOf(c.items, strconv.FormatInt(candidate, 10)) >= 0 {
		candidate++
	}
	return strconv.FormatInt(candidate, 10)
}

func (c *Coordinator) report(op, id string, s State) {
	log.Debug().Str("op", op).Str("id", id).Stringer("state", s).Msg("Mutation state")
	if c.observer != nil {
		c.observer(Transition{Op: op, ItemID: id, State: s})
	}
}

func indexOf(items []grocery.Item, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// IsMutationError reports whether err came from a rolled-back mutation.
func IsMutationError(err error) bool {
	var m *MutationError
	return errors.As(err, &m)
}
