package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory hierarchical tree implementing Store. It
// backs tests and the default single-process server runtime.
type MemoryStore struct {
	mu    sync.Mutex
	root  map[string]any
	locks map[string]chan struct{}

	subMu sync.RWMutex
	subs  map[*subscription]struct{}
}

type subscription struct {
	path  string
	event string
	cb    EventCallback
}

func (s *subscription) Path() string  { return s.path }
func (s *subscription) Event() string { return s.event }

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		root:  map[string]any{},
		locks: map[string]chan struct{}{},
		subs:  map[*subscription]struct{}{},
	}
}

// Get returns a deep copy of the value at path.
func (s *MemoryStore) Get(_ context.Context, path string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.node(path)
	if !ok {
		return nil, ErrNodeNotFound
	}
	return deepCopy(v), nil
}

// Exists reports whether path resolves to a value.
func (s *MemoryStore) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.node(path)
	return ok, nil
}

// Set overwrites the value at path, creating ancestors as needed.
func (s *MemoryStore) Set(_ context.Context, path string, value any, txContext any) error {
	return s.write(path, value, txContext)
}

// Update merges the given keys into the map at path. A nil value removes
// the key.
func (s *MemoryStore) Update(_ context.Context, path string, value map[string]any, txContext any) error {
	s.mu.Lock()
	current, ok := s.node(path)
	merged, isMap := current.(map[string]any)
	if !ok || !isMap {
		merged = map[string]any{}
	} else {
		merged = deepCopy(merged).(map[string]any)
	}
	for k, v := range value {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = deepCopy(v)
		}
	}
	s.mu.Unlock()
	return s.write(path, merged, txContext)
}

// Remove deletes the value at path. Removing an absent path is a no-op.
func (s *MemoryStore) Remove(_ context.Context, path string, txContext any) error {
	return s.write(path, nil, txContext)
}

// Query returns the children of path whose map values satisfy every
// filter, keyed by child key.
func (s *MemoryStore) Query(_ context.Context, path string, filters []QueryFilter) (map[string]any, error) {
	s.mu.Lock()
	v, ok := s.node(path)
	if !ok {
		s.mu.Unlock()
		return map[string]any{}, nil
	}
	children, isMap := v.(map[string]any)
	if !isMap {
		s.mu.Unlock()
		return nil, fmt.Errorf("path %q is not a collection", path)
	}
	snapshot := deepCopy(children).(map[string]any)
	s.mu.Unlock()

	results := map[string]any{}
	for key, child := range snapshot {
		if matchesFilters(child, filters) {
			results[key] = child
		}
	}
	return results, nil
}

// Subscribe registers a callback for the given event on path. The path
// may contain "*" or "$var" segments.
func (s *MemoryStore) Subscribe(path, event string, cb EventCallback) Subscription {
	sub := &subscription{path: path, event: event, cb: cb}
	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()
	return sub
}

// Unsubscribe removes a previously registered subscription. Unknown
// handles are ignored.
func (s *MemoryStore) Unsubscribe(sub Subscription) {
	handle, ok := sub.(*subscription)
	if !ok {
		return
	}
	s.subMu.Lock()
	delete(s.subs, handle)
	s.subMu.Unlock()
}

// RunTransaction acquires the single transaction slot for path, invokes
// body with the current value and commits the result. body may block;
// ctx cancellation while waiting for the slot aborts.
func (s *MemoryStore) RunTransaction(ctx context.Context, path string, body TransactionBody, txContext any) error {
	if err := s.acquire(ctx, path); err != nil {
		return err
	}
	defer s.release(path)

	s.mu.Lock()
	current, _ := s.node(path)
	current = deepCopy(current)
	s.mu.Unlock()

	newValue, commit := body(current)
	if err := ctx.Err(); err != nil {
		return err
	}
	if !commit {
		return ErrTransactionAborted
	}
	return s.write(path, newValue, txContext)
}

func (s *MemoryStore) acquire(ctx context.Context, path string) error {
	for {
		s.mu.Lock()
		ch, held := s.locks[path]
		if !held {
			s.locks[path] = make(chan struct{})
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *MemoryStore) release(path string) {
	s.mu.Lock()
	ch := s.locks[path]
	delete(s.locks, path)
	s.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// write replaces the value at path and fans out change events. A nil
// value removes the node.
func (s *MemoryStore) write(path string, value any, txContext any) error {
	s.mu.Lock()
	oldValue, existed := s.node(path)
	oldValue = deepCopy(oldValue)
	if value == nil {
		s.removeNode(path)
	} else {
		s.setNode(path, deepCopy(value))
	}
	s.mu.Unlock()

	s.emit(path, oldValue, existed, value, txContext)
	return nil
}

func (s *MemoryStore) node(path string) (any, bool) {
	var current any = s.root
	for _, key := range PathKeys(path) {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func (s *MemoryStore) setNode(path string, value any) {
	keys := PathKeys(path)
	if len(keys) == 0 {
		if m, ok := value.(map[string]any); ok {
			s.root = m
		}
		return
	}
	current := s.root
	for _, key := range keys[:len(keys)-1] {
		child, ok := current[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			current[key] = child
		}
		current = child
	}
	current[keys[len(keys)-1]] = value
}

func (s *MemoryStore) removeNode(path string) {
	keys := PathKeys(path)
	if len(keys) == 0 {
		s.root = map[string]any{}
		return
	}
	current := s.root
	for _, key := range keys[:len(keys)-1] {
		child, ok := current[key].(map[string]any)
		if !ok {
			return
		}
		current = child
	}
	delete(current, keys[len(keys)-1])
}

// emit fans out value/child/mutated events for a write at path. Each
// registered callback is invoked independently with its own event.
func (s *MemoryStore) emit(path string, oldValue any, existed bool, newValue any, txContext any) {
	s.subMu.RLock()
	snapshot := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		snapshot = append(snapshot, sub)
	}
	s.subMu.RUnlock()

	removed := newValue == nil
	parent := ParentPath(path)

	for _, sub := range snapshot {
		switch sub.event {
		case EventValue:
			if _, ok := MatchWildcardPath(sub.path, path); ok {
				sub.cb(Event{SubscriptionPath: sub.path, Path: path, Event: EventValue, Value: newValue, Context: txContext})
				continue
			}
			if !HasWildcards(sub.path) && IsDescendant(path, sub.path) {
				s.mu.Lock()
				v, _ := s.node(sub.path)
				v = deepCopy(v)
				s.mu.Unlock()
				sub.cb(Event{SubscriptionPath: sub.path, Path: sub.path, Event: EventValue, Value: v, Context: txContext})
			}
		case EventChildAdded:
			if _, ok := MatchWildcardPath(sub.path, parent); ok && !existed && !removed {
				sub.cb(Event{SubscriptionPath: sub.path, Path: path, Event: EventChildAdded, Value: newValue, Context: txContext})
			}
		case EventChildChanged:
			if _, ok := MatchWildcardPath(sub.path, parent); ok && existed && !removed {
				sub.cb(Event{SubscriptionPath: sub.path, Path: path, Event: EventChildChanged, Value: newValue, Context: txContext})
			}
		case EventChildRemoved:
			if _, ok := MatchWildcardPath(sub.path, parent); ok && removed {
				sub.cb(Event{SubscriptionPath: sub.path, Path: path, Event: EventChildRemoved, Value: oldValue, Context: txContext})
			}
		case EventMutated:
			if IsOnTrailOf(sub.path, path) {
				sub.cb(Event{SubscriptionPath: sub.path, Path: path, Event: EventMutated, Value: newValue, Context: txContext})
			}
		}
	}
}

func matchesFilters(value any, filters []QueryFilter) bool {
	m, _ := value.(map[string]any)
	for _, f := range filters {
		var fieldValue any
		if m != nil {
			fieldValue = m[f.Key]
		}
		if !compareValues(fieldValue, f.Op, f.Val) {
			return false
		}
	}
	return true
}

func compareValues(a any, op string, b any) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case "<":
		return af < bf
	case "<=":
		return af <= bf
	case ">":
		return af > bf
	case ">=":
		return af >= bf
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
