package folders

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Source loads a fresh folder tree for an account
type Source interface {
	ListFolders(ctx context.Context, accountID string) (*Tree, error)
}

// Snapshotter persists trees outside the process
type Snapshotter interface {
	SaveTree(accountID string, tree *Tree) error
	DeleteAccount(accountID string) error
}

// Cache holds one tree per account until it is invalidated. There is no
// per-branch invalidation.
type Cache struct {
	source   Source
	snapshot Snapshotter
	logger   *logrus.Logger

	mu        sync.Mutex
	trees     map[string]*Tree
	listeners []func(accountID string)
}

// NewCache creates a folder cache backed by source
func NewCache(source Source, logger *logrus.Logger) *Cache {
	return &Cache{
		source: source,
		logger: logger,
		trees:  make(map[string]*Tree),
	}
}

// SetSnapshotter attaches a persistent mirror of freshly built trees
func (c *Cache) SetSnapshotter(s Snapshotter) {
	c.snapshot = s
}

// OnChange registers fn to be called with the account id whenever that
// account's tree is stored or dropped
func (c *Cache) OnChange(fn func(accountID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Tree returns the cached tree, loading it through the source if absent
func (c *Cache) Tree(ctx context.Context, accountID string) (*Tree, error) {
	if tree, ok := c.Cached(accountID); ok {
		return tree, nil
	}
	return c.Load(ctx, accountID)
}

// Load fetches a fresh tree and replaces the cached one
func (c *Cache) Load(ctx context.Context, accountID string) (*Tree, error) {
	tree, err := c.source.ListFolders(ctx, accountID)
	if err != nil {
		return nil, err
	}

	c.Put(accountID, tree)

	if c.snapshot != nil {
		if err := c.snapshot.SaveTree(accountID, tree); err != nil {
			c.logger.WithError(err).WithField("account", accountID).Warn("Failed to save folder snapshot")
		}
	}
	return tree, nil
}

// Put stores a tree for an account
func (c *Cache) Put(accountID string, tree *Tree) {
	c.mu.Lock()
	c.trees[accountID] = tree
	c.mu.Unlock()
	c.notify(accountID)
}

// Cached returns the cached tree without loading
func (c *Cache) Cached(accountID string) (*Tree, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tree, ok := c.trees[accountID]
	return tree, ok
}

// Invalidate drops an account's tree
func (c *Cache) Invalidate(accountID string) {
	c.mu.Lock()
	_, ok := c.trees[accountID]
	delete(c.trees, accountID)
	c.mu.Unlock()
	if ok {
		c.notify(accountID)
	}
}

// InvalidateAll drops every tree
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.trees))
	for id := range c.trees {
		ids = append(ids, id)
	}
	c.trees = make(map[string]*Tree)
	c.mu.Unlock()

	for _, id := range ids {
		c.notify(id)
	}
}

// Remove drops an account's tree and its persisted snapshot
func (c *Cache) Remove(accountID string) {
	c.Invalidate(accountID)
	if c.snapshot != nil {
		if err := c.snapshot.DeleteAccount(accountID); err != nil {
			c.logger.WithError(err).WithField("account", accountID).Warn("Failed to delete folder snapshot")
		}
	}
}

// Accounts returns the ids with a cached tree
func (c *Cache) Accounts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.trees))
	for id := range c.trees {
		ids = append(ids, id)
	}
	return ids
}

// UnreadTotal sums unseen messages over every cached account
func (c *Cache) UnreadTotal() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, tree := range c.trees {
		total += tree.Unread()
	}
	return total
}

func (c *Cache) notify(accountID string) {
	c.mu.Lock()
	listeners := append([]func(string){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(accountID)
	}
}
