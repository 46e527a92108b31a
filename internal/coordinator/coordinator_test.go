package coordinator

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"grocery_list/internal/cache"
	"grocery_list/internal/grocery"
)

type fakeStore struct {
	items    []grocery.Item
	fetchErr error
	addErr   error
	updErr   error
	delErr   error

	fetches int
	calls   []string
	indices []int

	// during runs inside each mutating call, before it returns
	during func()
}

func (f *fakeStore) FetchAll(ctx context.Context) ([]grocery.Item, error) {
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]grocery.Item, len(f.items))
	copy(out, f.items)
	return out, nil
}

func (f *fakeStore) Add(ctx context.Context, item grocery.Item) error {
	f.record("add:"+item.ID, -1)
	return f.addErr
}

func (f *fakeStore) Update(ctx context.Context, item grocery.Item, index int) error {
	f.record("update:"+item.ID, index)
	return f.updErr
}

func (f *fakeStore) Delete(ctx context.Context, item grocery.Item, index int) error {
	f.record("delete:"+item.ID, index)
	return f.delErr
}

func (f *fakeStore) record(call string, index int) {
	f.calls = append(f.calls, call)
	f.indices = append(f.indices, index)
	if f.during != nil {
		f.during()
	}
}

type memoryStorage struct {
	values map[string]string
	setErr error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{values: map[string]string{}}
}

func (m *memoryStorage) Get(key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryStorage) Set(key, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	return nil
}

func (m *memoryStorage) Close() error { return nil }

type recordingWarner struct {
	messages []string
}

func (w *recordingWarner) Warn(ctx context.Context, message string) {
	w.messages = append(w.messages, message)
}

func sampleItems() []grocery.Item {
	return []grocery.Item{
		{ID: "1", Name: "Milk", Price: "50"},
		{ID: "2", Name: "Bread", Price: "30"},
		{ID: "3", Name: "Eggs", Price: "80"},
	}
}

func fixedClock() time.Time {
	return time.UnixMilli(1700000000000)
}

func newLoaded(t *testing.T, store *fakeStore, opts ...Option) (*Coordinator, *cache.Cache) {
	t.Helper()
	c := cache.New(newMemoryStorage())
	if err := c.Save(sampleItems()); err != nil {
		t.Fatalf("Failed to seed cache: %v", err)
	}
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	co := New(store, c, opts...)
	if _, err := co.Load(context.Background()); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	return co, c
}

func cached(t *testing.T, c *cache.Cache) []grocery.Item {
	t.Helper()
	items, ok, err := c.Load()
	if err != nil || !ok {
		t.Fatalf("Expected cached items, got ok=%v err=%v", ok, err)
	}
	return items
}

func TestLoadPrefersCache(t *testing.T) {
	store := &fakeStore{items: []grocery.Item{{ID: "9", Name: "Remote", Price: "1"}}}
	co, _ := newLoaded(t, store)

	if store.fetches != 0 {
		t.Errorf("Expected no remote fetch, got %d", store.fetches)
	}
	if !reflect.DeepEqual(co.Items(), sampleItems()) {
		t.Errorf("Expected cached items, got %+v", co.Items())
	}
}

func TestLoadFetchesWhenCacheEmpty(t *testing.T) {
	remote := []grocery.Item{{ID: "1", Name: "Milk", Price: "50", ImageURL: "http://x/m.jpg"}}
	store := &fakeStore{items: remote}
	c := cache.New(newMemoryStorage())
	co := New(store, c)

	fromCache, err := co.Load(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if fromCache {
		t.Error("Expected list to come from the remote store")
	}
	if !reflect.DeepEqual(co.Items(), remote) {
		t.Errorf("Expected %+v, got %+v", remote, co.Items())
	}
	if !reflect.DeepEqual(cached(t, c), remote) {
		t.Error("Expected fetched list to be written to cache")
	}
}

func TestLoadReturnsFetchError(t *testing.T) {
	fetchErr := &grocery.FetchError{StatusCode: 500, Err: grocery.ErrHTTPStatus}
	store := &fakeStore{fetchErr: fetchErr}
	co := New(store, cache.New(newMemoryStorage()))

	_, err := co.Load(context.Background())
	var fe *grocery.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected FetchError, got %v", err)
	}
	if len(co.Items()) != 0 {
		t.Errorf("Expected empty list, got %d items", len(co.Items()))
	}

	// Retry succeeds once the store recovers.
	store.fetchErr = nil
	store.items = sampleItems()
	if _, err := co.Load(context.Background()); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if len(co.Items()) != 3 {
		t.Errorf("Expected 3 items after retry, got %d", len(co.Items()))
	}
}

func TestReloadBypassesCache(t *testing.T) {
	remote := []grocery.Item{{ID: "9", Name: "Remote", Price: "1"}}
	store := &fakeStore{items: remote}
	co, c := newLoaded(t, store)

	if err := co.Reload(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !reflect.DeepEqual(co.Items(), remote) {
		t.Errorf("Expected remote items, got %+v", co.Items())
	}
	if !reflect.DeepEqual(cached(t, c), remote) {
		t.Error("Expected cache to be replaced")
	}
}

func TestAddSynced(t *testing.T) {
	var transitions []Transition
	store := &fakeStore{}
	co, c := newLoaded(t, store, WithObserver(func(tr Transition) {
		transitions = append(transitions, tr)
	}))

	added, err := co.Add(context.Background(), grocery.Item{Name: "Apples", Price: "120"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if added.ID != "1700000000000" {
		t.Errorf("Expected clock-based id, got %s", added.ID)
	}

	items := co.Items()
	if len(items) != 4 || items[3] != added {
		t.Errorf("Expected added item at the end, got %+v", items)
	}
	if !reflect.DeepEqual(cached(t, c), items) {
		t.Error("Expected cache to match the list")
	}
	if !reflect.DeepEqual(store.calls, []string{"add:1700000000000"}) {
		t.Errorf("Unexpected store calls: %v", store.calls)
	}

	want := []Transition{
		{Op: OpAdd, ItemID: added.ID, State: AppliedLocally},
		{Op: OpAdd, ItemID: added.ID, State: Synced},
	}
	if !reflect.DeepEqual(transitions, want) {
		t.Errorf("Expected %+v, got %+v", want, transitions)
	}
}

func TestAddIDsAreUnique(t *testing.T) {
	store := &fakeStore{}
	co, _ := newLoaded(t, store)

	first, err := co.Add(context.Background(), grocery.Item{Name: "A", Price: "1"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	second, err := co.Add(context.Background(), grocery.Item{Name: "B", Price: "2"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if first.ID == second.ID {
		t.Errorf("Expected distinct ids, both were %s", first.ID)
	}
	if second.ID != "1700000000001" {
		t.Errorf("Expected bumped id, got %s", second.ID)
	}
}

func TestAddVisibleBeforeStoreReturns(t *testing.T) {
	store := &fakeStore{}
	co, c := newLoaded(t, store)

	var seen, seenCache int
	store.during = func() {
		seen = len(co.Items())
		seenCache = len(cached(t, c))
	}

	if _, err := co.Add(context.Background(), grocery.Item{Name: "Apples", Price: "1"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if seen != 4 || seenCache != 4 {
		t.Errorf("Expected optimistic add to be visible during sync, got list=%d cache=%d", seen, seenCache)
	}
}

func TestAddRolledBack(t *testing.T) {
	warner := &recordingWarner{}
	var transitions []Transition
	syncErr := &grocery.SyncError{Op: "add", Message: "duplicate", Err: grocery.ErrRejected}
	store := &fakeStore{addErr: syncErr}
	co, c := newLoaded(t, store, WithWarner(warner), WithObserver(func(tr Transition) {
		transitions = append(transitions, tr)
	}))

	added, err := co.Add(context.Background(), grocery.Item{Name: "Milk", Price: "50"})

	var mutationErr *MutationError
	if !errors.As(err, &mutationErr) {
		t.Fatalf("Expected MutationError, got %v", err)
	}
	if mutationErr.Op != OpAdd || mutationErr.ItemID != added.ID {
		t.Errorf("Unexpected mutation error fields: %+v", mutationErr)
	}
	var se *grocery.SyncError
	if !errors.As(err, &se) || se.Message != "duplicate" {
		t.Errorf("Expected wrapped SyncError with message duplicate, got %v", err)
	}
	if !errors.Is(err, grocery.ErrRejected) {
		t.Error("Expected error to match ErrRejected")
	}

	if !reflect.DeepEqual(co.Items(), sampleItems()) {
		t.Errorf("Expected add to be undone, got %+v", co.Items())
	}
	if !reflect.DeepEqual(cached(t, c), co.Items()) {
		t.Error("Expected list to equal cache after rollback")
	}
	if len(warner.messages) != 1 || warner.messages[0] != mutationErr.Warning {
		t.Errorf("Expected one warning, got %v", warner.messages)
	}
	if transitions[len(transitions)-1].State != RolledBack {
		t.Errorf("Expected final state RolledBack, got %v", transitions[len(transitions)-1].State)
	}
}

func TestUpdateSynced(t *testing.T) {
	store := &fakeStore{}
	co, c := newLoaded(t, store)

	updated := grocery.Item{ID: "2", Name: "Rye Bread", Price: "45"}
	if err := co.Update(context.Background(), updated); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if co.Items()[1] != updated {
		t.Errorf("Expected %+v, got %+v", updated, co.Items()[1])
	}
	if cached(t, c)[1] != updated {
		t.Error("Expected cache to hold the update")
	}
	if store.indices[0] != 1 {
		t.Errorf("Expected index 1 passed to store, got %d", store.indices[0])
	}
}

func TestUpdateRolledBack(t *testing.T) {
	warner := &recordingWarner{}
	store := &fakeStore{updErr: &grocery.SyncError{Op: "update", StatusCode: 502, Err: grocery.ErrHTTPStatus}}
	co, c := newLoaded(t, store, WithWarner(warner))

	var during grocery.Item
	store.during = func() { during = co.Items()[1] }

	err := co.Update(context.Background(), grocery.Item{ID: "2", Name: "Rye Bread", Price: "45"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, grocery.ErrHTTPStatus) {
		t.Errorf("Expected ErrHTTPStatus in chain, got %v", err)
	}

	if during.Name != "Rye Bread" {
		t.Errorf("Expected optimistic update during sync, got %+v", during)
	}
	if !reflect.DeepEqual(co.Items(), cached(t, c)) {
		t.Error("Expected list to be replaced by cache contents")
	}
	if co.Items()[1].Name != "Bread" {
		t.Errorf("Expected previous version restored, got %+v", co.Items()[1])
	}
	if len(warner.messages) != 1 {
		t.Errorf("Expected 1 warning, got %d", len(warner.messages))
	}
}

func TestUpdateKeepsConcurrentChanges(t *testing.T) {
	store := &fakeStore{updErr: errors.New("timeout")}
	co, _ := newLoaded(t, store)

	store.during = func() {
		store.during = nil
		store.updErr = nil
		if err := co.Update(context.Background(), grocery.Item{ID: "3", Name: "Duck Eggs", Price: "90"}); err != nil {
			t.Errorf("Expected nested update to succeed, got %v", err)
		}
		store.updErr = errors.New("timeout")
	}

	if err := co.Update(context.Background(), grocery.Item{ID: "2", Name: "Rye Bread", Price: "45"}); err == nil {
		t.Fatal("Expected error, got nil")
	}

	items := co.Items()
	if items[1].Name != "Bread" {
		t.Errorf("Expected failed update undone, got %+v", items[1])
	}
	if items[2].Name != "Duck Eggs" {
		t.Errorf("Expected synced update kept, got %+v", items[2])
	}
}

func TestUpdateValidation(t *testing.T) {
	store := &fakeStore{}
	co, _ := newLoaded(t, store)

	err := co.Update(context.Background(), grocery.Item{ID: "2", Name: " ", Price: "45"})
	if !errors.Is(err, grocery.ErrInvalidItem) {
		t.Errorf("Expected ErrInvalidItem, got %v", err)
	}
	err = co.Update(context.Background(), grocery.Item{ID: "42", Name: "Tea", Price: "5"})
	if !errors.Is(err, grocery.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if len(store.calls) != 0 {
		t.Errorf("Expected no store calls, got %v", store.calls)
	}
	if !reflect.DeepEqual(co.Items(), sampleItems()) {
		t.Error("Expected list unchanged")
	}
}

func TestAddValidation(t *testing.T) {
	store := &fakeStore{}
	co, c := newLoaded(t, store)

	if _, err := co.Add(context.Background(), grocery.Item{Name: "Tea"}); !errors.Is(err, grocery.ErrInvalidItem) {
		t.Errorf("Expected ErrInvalidItem, got %v", err)
	}
	if len(store.calls) != 0 {
		t.Errorf("Expected no store calls, got %v", store.calls)
	}
	if len(cached(t, c)) != 3 {
		t.Error("Expected cache unchanged")
	}
}

func TestDeleteSynced(t *testing.T) {
	store := &fakeStore{}
	co, c := newLoaded(t, store)

	if err := co.Delete(context.Background(), "2"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	want := []grocery.Item{sampleItems()[0], sampleItems()[2]}
	if !reflect.DeepEqual(co.Items(), want) {
		t.Errorf("Expected %+v, got %+v", want, co.Items())
	}
	if !reflect.DeepEqual(cached(t, c), want) {
		t.Error("Expected cache to reflect delete")
	}
	if store.indices[0] != 1 {
		t.Errorf("Expected index 1, got %d", store.indices[0])
	}
}

func TestDeleteRolledBack(t *testing.T) {
	store := &fakeStore{delErr: errors.New("connection refused")}
	co, c := newLoaded(t, store)

	var during int
	store.during = func() { during = len(co.Items()) }

	err := co.Delete(context.Background(), "2")
	if !IsMutationError(err) {
		t.Fatalf("Expected MutationError, got %v", err)
	}
	if during != 2 {
		t.Errorf("Expected item removed during sync, got %d items", during)
	}
	if !reflect.DeepEqual(co.Items(), sampleItems()) {
		t.Errorf("Expected item restored at its position, got %+v", co.Items())
	}
	if !reflect.DeepEqual(cached(t, c), sampleItems()) {
		t.Error("Expected cache restored")
	}
}

func TestDeleteUnknown(t *testing.T) {
	store := &fakeStore{}
	co, _ := newLoaded(t, store)

	if err := co.Delete(context.Background(), "missing"); !errors.Is(err, grocery.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if len(store.calls) != 0 {
		t.Errorf("Expected no store calls, got %v", store.calls)
	}
}

func TestRollbackWithFailingCache(t *testing.T) {
	storage := newMemoryStorage()
	c := cache.New(storage)
	if err := c.Save(sampleItems()); err != nil {
		t.Fatalf("Failed to seed cache: %v", err)
	}
	store := &fakeStore{updErr: errors.New("boom")}
	co := New(store, c)
	if _, err := co.Load(context.Background()); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	storage.setErr = errors.New("disk full")
	if err := co.Update(context.Background(), grocery.Item{ID: "1", Name: "Oat Milk", Price: "70"}); err == nil {
		t.Fatal("Expected error, got nil")
	}
	if co.Items()[0].Name != "Milk" {
		t.Errorf("Expected in-memory rollback even when cache write fails, got %+v", co.Items()[0])
	}
}

func TestSearchUsesCurrentList(t *testing.T) {
	store := &fakeStore{}
	co, _ := newLoaded(t, store)

	got := co.Search("br")
	if len(got) != 1 || got[0].Name != "Bread" {
		t.Errorf("Expected [Bread], got %+v", got)
	}
	if len(co.Search("b")) != 3 {
		t.Error("Expected short query to return the whole list")
	}
}

func TestStateString(t *testing.T) {
	if AppliedLocally.String() != "applied_locally" || Synced.String() != "synced" || RolledBack.String() != "rolled_back" {
		t.Error("Unexpected state labels")
	}
}
