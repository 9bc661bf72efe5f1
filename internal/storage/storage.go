package storage

import (
	"context"
	"errors"
)

// ErrNodeNotFound is returned when a path does not resolve to a value.
var ErrNodeNotFound = errors.New("node not found")

// ErrTransactionAborted is returned when a transaction body declines to commit.
var ErrTransactionAborted = errors.New("transaction aborted")

// Standard event names emitted by a Store.
const (
	EventValue        = "value"
	EventChildAdded   = "child_added"
	EventChildChanged = "child_changed"
	EventChildRemoved = "child_removed"
	EventMutated      = "mutated"
)

// Event describes a data change delivered to a subscription callback.
// SubscriptionPath is the (possibly wildcarded) path the callback was
// registered on; Path is the concrete path that changed.
type Event struct {
	SubscriptionPath string
	Path             string
	Event            string
	Value            any
	Context          any
}

// EventCallback receives change events for a subscription.
type EventCallback func(event Event)

// Subscription is an opaque handle identifying one registered callback.
// It is the unit of reversal: pass it back to Unsubscribe.
type Subscription interface {
	Path() string
	Event() string
}

// QueryFilter is a single comparison applied to child values of the
// queried path.
type QueryFilter struct {
	Key string
	Op  string // "==", "!=", "<", "<=", ">", ">="
	Val any
}

// TransactionBody receives the current value at the transaction path and
// returns the value to commit. Returning commit=false aborts without
// writing.
type TransactionBody func(current any) (newValue any, commit bool)

// Store is the narrow capability the gateway needs from the underlying
// hierarchical database. Implementations must fan out events to every
// registered callback independently.
type Store interface {
	Get(ctx context.Context, path string) (any, error)
	Set(ctx context.Context, path string, value any, txContext any) error
	Update(ctx context.Context, path string, value map[string]any, txContext any) error
	Remove(ctx context.Context, path string, txContext any) error
	Exists(ctx context.Context, path string) (bool, error)
	Query(ctx context.Context, path string, filters []QueryFilter) (map[string]any, error)

	Subscribe(path, event string, cb EventCallback) Subscription
	Unsubscribe(sub Subscription)

	// RunTransaction locks path for the duration of body and commits the
	// returned value. body may block (e.g. awaiting a remote client);
	// ctx cancellation aborts the transaction.
	RunTransaction(ctx context.Context, path string, body TransactionBody, txContext any) error
}
