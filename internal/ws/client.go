package ws

import (
	"sync"
	"time"

	"github.com/appy-one/acebase-server-sub001/internal/auth"
	"github.com/appy-one/acebase-server-sub001/internal/storage"
)

// subscriptionEntry records one storage-side event registration owned
// by a connection.
type subscriptionEntry struct {
	path   string
	event  string
	handle storage.Subscription
}

// txFinish resolves a suspended transaction body: the new value to
// commit, or commit=false to abort.
type txFinish struct {
	value  any
	commit bool
}

// pendingTransaction tracks one in-flight read-modify-write owned by a
// connection. It must be finished exactly once, by the client or by its
// deadline timer.
type pendingTransaction struct {
	id      string
	path    string
	context any
	started time.Time
	timer   *time.Timer
	finish  chan txFinish
}

// Client is the per-connection record: identity, active subscriptions
// and in-flight transactions. Its maps are only ever mutated by events
// attributed to this connection (plus the disconnect handler), so a
// single mutex suffices.
type Client struct {
	id          string
	connectedAt time.Time

	mu            sync.Mutex
	user          *auth.UserAccount
	subscriptions map[string][]*subscriptionEntry // keyed by path
	transactions  map[string]*pendingTransaction

	send chan serverMessage
	done chan struct{}
	once sync.Once
}

func newClient(id string, user *auth.UserAccount) *Client {
	return &Client{
		id:            id,
		connectedAt:   time.Now().UTC(),
		user:          user,
		subscriptions: map[string][]*subscriptionEntry{},
		transactions:  map[string]*pendingTransaction{},
		send:          make(chan serverMessage, 64),
		done:          make(chan struct{}),
	}
}

// ID returns the stable connection identifier.
func (c *Client) ID() string { return c.id }

// User returns the currently bound identity, or nil.
func (c *Client) User() *auth.UserAccount {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Client) setUser(user *auth.UserAccount) {
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
}

// enqueue hands a message to the write pump. Messages for a closed
// connection are dropped.
func (c *Client) enqueue(msg serverMessage) {
	select {
	case <-c.done:
	case c.send <- msg:
	}
}

// close marks the connection dead. Idempotent.
func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) isSubscribed(path, event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.subscriptions[path] {
		if entry.event == event {
			return true
		}
	}
	return false
}

// Registry owns every live connection, keyed by connection id. All
// mutation of a Client's own state goes through that client; the
// registry only tracks membership.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{clients: map[string]*Client{}}
}

func (r *Registry) add(c *Client) {
	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

// Get returns the connection with the given id.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

