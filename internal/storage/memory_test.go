package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appy-one/acebase-server-sub001/internal/storage"
)

func TestMemoryStore_SetGet(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "chats/c1", map[string]any{"title": "general"}, nil))

	v, err := store.Get(ctx, "chats/c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "general"}, v)

	_, err = store.Get(ctx, "chats/missing")
	assert.ErrorIs(t, err, storage.ErrNodeNotFound)
}

func TestMemoryStore_GetReturnsIsolatedCopy(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", map[string]any{"k": "v"}, nil))

	v, err := store.Get(ctx, "a")
	require.NoError(t, err)
	v.(map[string]any)["k"] = "mutated"

	again, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v", again.(map[string]any)["k"], "caller mutation must not leak into the store")
}

func TestMemoryStore_UpdateMergesAndRemoves(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "u/1", map[string]any{"name": "a", "age": float64(3)}, nil))
	require.NoError(t, store.Update(ctx, "u/1", map[string]any{"age": float64(4), "name": nil}, nil))

	v, err := store.Get(ctx, "u/1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"age": float64(4)}, v)
}

func TestMemoryStore_Remove(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a/b", "x", nil))
	require.NoError(t, store.Remove(ctx, "a/b", nil))

	exists, err := store.Exists(ctx, "a/b")
	require.NoError(t, err)
	assert.False(t, exists)

	// Removing an absent path is a no-op.
	require.NoError(t, store.Remove(ctx, "a/b", nil))
}

func TestMemoryStore_Query(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "users/u1", map[string]any{"email": "a@x.io", "age": float64(30)}, nil))
	require.NoError(t, store.Set(ctx, "users/u2", map[string]any{"email": "b@x.io", "age": float64(40)}, nil))

	results, err := store.Query(ctx, "users", []storage.QueryFilter{{Key: "email", Op: "==", Val: "a@x.io"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results, "u1")

	results, err = store.Query(ctx, "users", []storage.QueryFilter{{Key: "age", Op: ">", Val: float64(35)}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results, "u2")

	// Querying an absent collection yields no results, not an error.
	results, err = store.Query(ctx, "nothing/here", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func collect(ch chan storage.Event) []storage.Event {
	var events []storage.Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		case <-time.After(100 * time.Millisecond):
			return events
		}
	}
}

func TestMemoryStore_ValueEvents(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	events := make(chan storage.Event, 16)

	store.Subscribe("chats/c1", storage.EventValue, func(ev storage.Event) { events <- ev })

	require.NoError(t, store.Set(ctx, "chats/c1", map[string]any{"title": "general"}, nil))
	// A write below the subscribed path refreshes the subscribed value.
	require.NoError(t, store.Set(ctx, "chats/c1/title", "renamed", nil))

	got := collect(events)
	require.Len(t, got, 2)
	assert.Equal(t, "chats/c1", got[0].Path)
	assert.Equal(t, "chats/c1", got[1].Path)
	assert.Equal(t, map[string]any{"title": "renamed"}, got[1].Value)
}

func TestMemoryStore_ChildEvents(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	added := make(chan storage.Event, 16)
	changed := make(chan storage.Event, 16)
	removed := make(chan storage.Event, 16)

	store.Subscribe("chats", storage.EventChildAdded, func(ev storage.Event) { added <- ev })
	store.Subscribe("chats", storage.EventChildChanged, func(ev storage.Event) { changed <- ev })
	store.Subscribe("chats", storage.EventChildRemoved, func(ev storage.Event) { removed <- ev })

	require.NoError(t, store.Set(ctx, "chats/c1", map[string]any{"title": "a"}, nil))
	require.NoError(t, store.Set(ctx, "chats/c1", map[string]any{"title": "b"}, nil))
	require.NoError(t, store.Remove(ctx, "chats/c1", nil))

	addedEvents := collect(added)
	require.Len(t, addedEvents, 1)
	assert.Equal(t, "chats/c1", addedEvents[0].Path)

	changedEvents := collect(changed)
	require.Len(t, changedEvents, 1)
	assert.Equal(t, map[string]any{"title": "b"}, changedEvents[0].Value)

	removedEvents := collect(removed)
	require.Len(t, removedEvents, 1)
	// child_removed carries the last value the child had.
	assert.Equal(t, map[string]any{"title": "b"}, removedEvents[0].Value)
}

func TestMemoryStore_WildcardSubscription(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	events := make(chan storage.Event, 16)

	store.Subscribe("users/$uid/status", storage.EventValue, func(ev storage.Event) { events <- ev })

	require.NoError(t, store.Set(ctx, "users/u1/status", "online", nil))
	require.NoError(t, store.Set(ctx, "users/u2/status", "away", nil))
	require.NoError(t, store.Set(ctx, "users/u1/profile", "x", nil))

	got := collect(events)
	require.Len(t, got, 2)
	assert.Equal(t, "users/u1/status", got[0].Path)
	assert.Equal(t, "users/u2/status", got[1].Path)
	assert.Equal(t, "users/$uid/status", got[0].SubscriptionPath)
}

func TestMemoryStore_EventFanOutIsIndependent(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	var mu sync.Mutex
	counts := map[int]int{}
	for i := 0; i < 3; i++ {
		i := i
		store.Subscribe("x", storage.EventValue, func(storage.Event) {
			mu.Lock()
			counts[i]++
			mu.Unlock()
		})
	}

	require.NoError(t, store.Set(ctx, "x", "v", nil))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 1}, counts)
}

func TestMemoryStore_UnsubscribeStopsDelivery(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	events := make(chan storage.Event, 16)

	sub := store.Subscribe("x", storage.EventValue, func(ev storage.Event) { events <- ev })
	store.Unsubscribe(sub)

	require.NoError(t, store.Set(ctx, "x", "v", nil))
	assert.Empty(t, collect(events))
}

func TestMemoryStore_TransactionCommit(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "counter", float64(1), nil))

	err := store.RunTransaction(ctx, "counter", func(current any) (any, bool) {
		return current.(float64) + 1, true
	}, nil)
	require.NoError(t, err)

	v, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)
}

func TestMemoryStore_TransactionAbort(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "counter", float64(1), nil))

	err := store.RunTransaction(ctx, "counter", func(any) (any, bool) {
		return nil, false
	}, nil)
	assert.ErrorIs(t, err, storage.ErrTransactionAborted)

	v, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, float64(1), v, "aborted transaction must not write")
}

func TestMemoryStore_TransactionSlotSerializes(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	firstInBody := make(chan struct{})
	releaseFirst := make(chan struct{})

	go func() {
		store.RunTransaction(ctx, "slot", func(any) (any, bool) {
			close(firstInBody)
			<-releaseFirst
			return "first", true
		}, nil)
	}()

	<-firstInBody

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- store.RunTransaction(ctx, "slot", func(any) (any, bool) {
			return "second", true
		}, nil)
	}()

	// The second transaction must be parked while the first holds the
	// path slot.
	select {
	case <-secondDone:
		t.Fatal("second transaction ran while the slot was held")
	case <-time.After(100 * time.Millisecond):
	}

	close(releaseFirst)
	require.NoError(t, <-secondDone)

	v, err := store.Get(ctx, "slot")
	require.NoError(t, err)
	assert.Equal(t, "second", v)
}

func TestMemoryStore_TransactionWaitCancelled(t *testing.T) {
	store := storage.NewMemoryStore()

	firstInBody := make(chan struct{})
	releaseFirst := make(chan struct{})
	go func() {
		store.RunTransaction(context.Background(), "slot", func(any) (any, bool) {
			close(firstInBody)
			<-releaseFirst
			return nil, false
		}, nil)
	}()
	<-firstInBody
	defer close(releaseFirst)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := store.RunTransaction(ctx, "slot", func(any) (any, bool) {
		return nil, true
	}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
