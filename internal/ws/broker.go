// Package ws implements the realtime connection manager and the
// subscription/transaction broker: it translates persistent-connection
// protocol events into storage-engine subscription and transaction
// calls, applying access control before anything is registered or
// delivered, and unwinds every registration when a connection drops.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/appy-one/acebase-server-sub001/internal/audit"
	"github.com/appy-one/acebase-server-sub001/internal/auth"
	"github.com/appy-one/acebase-server-sub001/internal/rules"
	"github.com/appy-one/acebase-server-sub001/internal/storage"
	"github.com/appy-one/acebase-server-sub001/internal/token"
)

// Broker wires connection events to the storage engine under access
// control.
type Broker struct {
	store     storage.Store
	engine    *rules.Engine
	auth      *auth.Service
	registry  *Registry
	sink      audit.Sink
	txTimeout time.Duration
}

// NewBroker creates a Broker.
func NewBroker(store storage.Store, engine *rules.Engine, authService *auth.Service, registry *Registry, sink audit.Sink, txTimeout time.Duration) *Broker {
	if txTimeout <= 0 {
		txTimeout = 10 * time.Second
	}
	return &Broker{
		store:     store,
		engine:    engine,
		auth:      authService,
		registry:  registry,
		sink:      sink,
		txTimeout: txTimeout,
	}
}

// Registry exposes the connection registry.
func (b *Broker) Registry() *Registry { return b.registry }

// Connect allocates a connection record and emits the greeting. user
// may be nil for anonymous connections.
func (b *Broker) Connect(user *auth.UserAccount) *Client {
	c := newClient(uuid.New().String(), user)
	b.registry.add(c)
	c.enqueue(serverMessage{Type: msgWelcome, ClientID: c.id})
	slog.Debug("client connected", "client_id", c.id)
	return c
}

// Disconnect reverses every storage-side registration the connection
// still holds and removes its record. Pending transactions are left to
// their own deadline timers, which abort and release the storage slot.
func (b *Broker) Disconnect(c *Client) {
	c.close()
	b.registry.remove(c.id)

	c.mu.Lock()
	var handles []storage.Subscription
	for _, entries := range c.subscriptions {
		for _, entry := range entries {
			handles = append(handles, entry.handle)
		}
	}
	c.subscriptions = map[string][]*subscriptionEntry{}
	c.mu.Unlock()

	for _, handle := range handles {
		b.store.Unsubscribe(handle)
	}
	slog.Debug("client disconnected", "client_id", c.id, "subscriptions_reversed", len(handles))
}

// Handle dispatches one inbound protocol event. Events of the same
// connection are handled in arrival order.
func (b *Broker) Handle(c *Client, msg clientMessage) {
	switch msg.Type {
	case msgSignIn:
		b.handleSignIn(c, msg)
	case msgSignOut:
		c.setUser(nil)
		c.enqueue(resultMessage(msg.ReqID, true, ""))
	case msgSubscribe:
		b.handleSubscribe(c, msg)
	case msgUnsubscribe:
		b.handleUnsubscribe(c, msg)
	case msgQueryUnsubscribe:
		b.handleQueryUnsubscribe(c, msg)
	case msgTxStart:
		b.handleTxStart(c, msg)
	case msgTxFinish:
		b.handleTxFinish(c, msg)
	default:
		c.enqueue(resultMessage(msg.ReqID, false, "unknown event "+msg.Type))
	}
}

// handleSignIn binds an identity from the session cache only; there is
// no database round trip on this deprecated back-compat path. If the
// uid is not cached the identity stays unbound.
func (b *Broker) handleSignIn(c *Client, msg clientMessage) {
	details, err := token.ParsePublicToken(msg.AccessToken, b.auth.Salt())
	if err != nil {
		c.enqueue(resultMessage(msg.ReqID, false, auth.CodeInvalidToken))
		return
	}
	account, ok := b.auth.Cache().Get(context.Background(), details.UID)
	if ok && account.AccessToken == details.AccessToken && !account.IsDisabled {
		c.setUser(account)
	}
	c.enqueue(resultMessage(msg.ReqID, true, ""))
}

func (b *Broker) handleSubscribe(c *Client, msg clientMessage) {
	if c.isSubscribed(msg.Path, msg.Event) {
		c.enqueue(resultMessage(msg.ReqID, true, ""))
		return
	}

	if result := b.engine.UserHasAccess(authContext(c.User()), msg.Path, false); !result.Allow {
		c.enqueue(resultMessage(msg.ReqID, false, reasonAccessDenied))
		return
	}

	path, event := msg.Path, msg.Event
	entry := &subscriptionEntry{path: path, event: event}
	c.mu.Lock()
	c.subscriptions[path] = append(c.subscriptions[path], entry)
	c.mu.Unlock()

	// The entry must be visible before the storage registration goes
	// live, or an event firing in between is dropped by the ownership
	// check in deliver.
	handle := b.store.Subscribe(path, event, func(ev storage.Event) {
		b.deliver(c, path, event, ev)
	})
	c.mu.Lock()
	entry.handle = handle
	c.mu.Unlock()
	c.enqueue(resultMessage(msg.ReqID, true, ""))
}

// deliver forwards one storage event to the owning connection. Access
// is re-evaluated on every delivery: the identity or the rules may have
// changed since subscription.
func (b *Broker) deliver(c *Client, subPath, event string, ev storage.Event) {
	// The storage engine may fire an in-flight callback after
	// unsubscribe or disconnect; those deliveries stop silently.
	if !c.isSubscribed(subPath, event) {
		return
	}

	if result := b.engine.UserHasAccess(authContext(c.User()), ev.Path, false); !result.Allow {
		if !storage.HasWildcards(subPath) {
			// Access was revoked on a concrete path: tell the client
			// once, then stop delivering by dropping the registration.
			b.removeSubscriptions(c, subPath, event)
			c.enqueue(resultMessage("", false, reasonAccessDenied))
		}
		return
	}

	c.enqueue(serverMessage{
		Type:       msgDataEvent,
		SubscrPath: subPath,
		Path:       ev.Path,
		Event:      ev.Event,
		Val:        storage.Serialize(ev.Value),
		Context:    ev.Context,
	})
}

func (b *Broker) handleUnsubscribe(c *Client, msg clientMessage) {
	b.removeSubscriptions(c, msg.Path, msg.Event)
	// Acknowledge even when nothing matched; unsubscribe is an
	// idempotent no-op.
	c.enqueue(resultMessage(msg.ReqID, true, ""))
}

// removeSubscriptions drops registrations on path, either all events
// (event == "") or one, reversing each at the storage engine.
func (b *Broker) removeSubscriptions(c *Client, path, event string) {
	c.mu.Lock()
	var removed []storage.Subscription
	var kept []*subscriptionEntry
	for _, entry := range c.subscriptions[path] {
		if event == "" || entry.event == event {
			removed = append(removed, entry.handle)
		} else {
			kept = append(kept, entry)
		}
	}
	if len(kept) == 0 {
		delete(c.subscriptions, path)
	} else {
		c.subscriptions[path] = kept
	}
	c.mu.Unlock()

	for _, handle := range removed {
		b.store.Unsubscribe(handle)
	}
}

// handleQueryUnsubscribe acknowledges a query release. The gateway
// carries no live query state; older clients still send the event and
// expect an idempotent ack.
func (b *Broker) handleQueryUnsubscribe(c *Client, msg clientMessage) {
	c.enqueue(resultMessage(msg.ReqID, true, ""))
}

func (b *Broker) handleTxStart(c *Client, msg clientMessage) {
	if result := b.engine.UserHasAccess(authContext(c.User()), msg.Path, true); !result.Allow {
		c.enqueue(serverMessage{Type: msgTxError, TxID: msg.TxID, Reason: reasonAccessDenied})
		return
	}

	var txContext any
	if len(msg.Context) > 0 {
		if err := json.Unmarshal(msg.Context, &txContext); err != nil {
			c.enqueue(serverMessage{Type: msgTxError, TxID: msg.TxID, Reason: reasonInvalidValue})
			return
		}
	}

	tx := &pendingTransaction{
		id:      msg.TxID,
		path:    msg.Path,
		context: txContext,
		started: time.Now(),
		finish:  make(chan txFinish, 1),
	}
	c.mu.Lock()
	if _, exists := c.transactions[tx.id]; exists {
		c.mu.Unlock()
		// Overwriting would orphan the pending timer and finish
		// channel; the original transaction keeps its slot.
		c.enqueue(serverMessage{Type: msgTxError, TxID: tx.id, Reason: reasonTxDuplicate})
		return
	}
	tx.timer = time.AfterFunc(b.txTimeout, func() { b.timeoutTransaction(c, tx) })
	c.transactions[tx.id] = tx
	c.mu.Unlock()

	go b.runTransaction(c, tx)
}

// runTransaction opens the storage transaction and suspends inside its
// body until the client finishes or the deadline fires.
func (b *Broker) runTransaction(c *Client, tx *pendingTransaction) {
	err := b.store.RunTransaction(context.Background(), tx.path, func(current any) (any, bool) {
		c.enqueue(serverMessage{Type: msgTxStarted, TxID: tx.id, Value: storage.Serialize(current)})
		f := <-tx.finish
		return f.value, f.commit
	}, tx.context)

	if err != nil {
		// Aborts (timeout, declined commit) already notified the
		// client; anything else is a storage failure.
		if err != storage.ErrTransactionAborted {
			slog.Error("transaction commit failed", "client_id", c.id, "tx_id", tx.id, "path", tx.path, "error", err)
			c.enqueue(serverMessage{Type: msgTxError, TxID: tx.id, Reason: "commit_failed"})
		}
		return
	}
	c.enqueue(serverMessage{Type: msgTxDone, TxID: tx.id, Context: tx.context})
}

func (b *Broker) handleTxFinish(c *Client, msg clientMessage) {
	c.mu.Lock()
	tx, ok := c.transactions[msg.TxID]
	if ok && tx.path != msg.Path {
		ok = false
		tx = nil
	} else if ok {
		delete(c.transactions, msg.TxID)
	}
	c.mu.Unlock()

	if !ok {
		c.enqueue(serverMessage{Type: msgTxError, TxID: msg.TxID, Reason: reasonTxNotFound})
		return
	}
	tx.timer.Stop()

	// Rules may have changed since the transaction started.
	if result := b.engine.UserHasAccess(authContext(c.User()), tx.path, true); !result.Allow {
		tx.finish <- txFinish{commit: false}
		c.enqueue(serverMessage{Type: msgTxError, TxID: tx.id, Reason: reasonAccessDenied})
		return
	}

	var raw any
	if len(msg.Value) > 0 {
		if err := json.Unmarshal(msg.Value, &raw); err != nil {
			tx.finish <- txFinish{commit: false}
			c.enqueue(serverMessage{Type: msgTxError, TxID: tx.id, Reason: reasonInvalidValue})
			return
		}
	}
	value, err := storage.Deserialize(raw)
	if err != nil {
		// The storage transaction must never be left hanging.
		tx.finish <- txFinish{commit: false}
		c.enqueue(serverMessage{Type: msgTxError, TxID: tx.id, Reason: reasonInvalidValue})
		return
	}

	tx.finish <- txFinish{value: value, commit: true}
}

// timeoutTransaction aborts a transaction whose deadline fired before
// the client finished it.
func (b *Broker) timeoutTransaction(c *Client, tx *pendingTransaction) {
	c.mu.Lock()
	_, pending := c.transactions[tx.id]
	if pending {
		delete(c.transactions, tx.id)
	}
	c.mu.Unlock()
	if !pending {
		return
	}

	tx.finish <- txFinish{commit: false}
	b.sink.Warn(context.Background(), "transaction", reasonTimeout, audit.Details{
		"client_id": c.id,
		"tx_id":     tx.id,
		"path":      tx.path,
		"age":       time.Since(tx.started).String(),
	})
	c.enqueue(serverMessage{Type: msgTxError, TxID: tx.id, Reason: reasonTimeout})
}

func authContext(user *auth.UserAccount) *rules.AuthContext {
	if user == nil {
		return nil
	}
	return &rules.AuthContext{UID: user.UID}
}
