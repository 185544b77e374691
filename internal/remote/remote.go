// Package remote defines the client of the remote coordinating service and
// how its failures are classified.
//
// Every Client method is one network round trip. Implementations return
// gRPC status errors, net.Error values, or errors wrapping ErrWrongEpoch /
// ErrNetwork; Classify maps all of them onto the fault taxonomy.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/store"
)

// Client is the remote service API used by jobs and the outbound service.
type Client interface {
	// RequestGroupID reserves a fresh group id owned by the client's domain.
	RequestGroupID(ctx context.Context) (model.GroupID, error)

	CreateGroup(ctx context.Context, groupID model.GroupID, payload []byte) error

	// SendMessage delivers an application message and returns the
	// server-assigned timestamp.
	SendMessage(ctx context.Context, groupID model.GroupID, ciphertext []byte) (time.Time, error)

	GroupOperation(ctx context.Context, groupID model.GroupID, commit []byte) (time.Time, error)
	SelfRemove(ctx context.Context, groupID model.GroupID, proposal []byte) (time.Time, error)
	DeleteGroup(ctx context.Context, groupID model.GroupID, commit []byte) (time.Time, error)

	// UpdateClient replaces the push registration. A nil token removes it.
	UpdateClient(ctx context.Context, token *queue.PushToken) error

	PublishKeyPackages(ctx context.Context, kps []store.KeyPackage) error

	// ExternalCommitInfo returns the public state needed to rejoin groupID
	// with an external commit.
	ExternalCommitInfo(ctx context.Context, groupID model.GroupID) ([]byte, error)

	// Resync submits an external commit that replaces this client's member
	// in groupID.
	Resync(ctx context.Context, groupID model.GroupID, commit []byte) (time.Time, error)
}

// ErrUnknownDomain is returned by Clients.Get for a domain without a client.
var ErrUnknownDomain = errors.New("no client for domain")

// Dialer creates a client for a domain on first use.
type Dialer func(domain string) (Client, error)

// Clients multiplexes clients by the domain that owns a group.
// Safe for concurrent use.
type Clients struct {
	mu            sync.RWMutex
	defaultDomain string
	clients       map[string]Client
	dial          Dialer
}

// NewClients returns a multiplexer whose default client serves
// defaultDomain. dial may be nil, in which case only registered domains
// resolve.
func NewClients(defaultDomain string, def Client, dial Dialer) *Clients {
	return &Clients{
		defaultDomain: defaultDomain,
		clients:       map[string]Client{defaultDomain: def},
		dial:          dial,
	}
}

// Default returns the client of the local domain.
func (c *Clients) Default() Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clients[c.defaultDomain]
}

// DefaultDomain returns the local domain.
func (c *Clients) DefaultDomain() string { return c.defaultDomain }

// Register sets the client used for domain.
func (c *Clients) Register(domain string, client Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[domain] = client
}

// Get returns the client for domain. An empty domain resolves to the
// default client.
func (c *Clients) Get(domain string) (Client, error) {
	if domain == "" {
		return c.Default(), nil
	}

	c.mu.RLock()
	client, ok := c.clients[domain]
	c.mu.RUnlock()
	if ok {
		return client, nil
	}
	if c.dial == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[domain]; ok {
		return client, nil
	}
	client, err := c.dial(domain)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", domain, err)
	}
	c.clients[domain] = client
	return client, nil
}
