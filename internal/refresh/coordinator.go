// Package refresh reloads cached folder trees on a timer and keeps the
// unread badge in step with the folder cache.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailview/internal/account"
	"github.com/brandon/mailview/internal/folders"
)

// BadgeSink shows the unread badge
type BadgeSink interface {
	SetBadge(n int)
	ClearBadge()
}

// Snapshot supplies persisted unread counts for accounts not yet listed
type Snapshot interface {
	UnreadTotal(accountIDs []string) (int, error)
}

// Coordinator drives periodic refresh and badge updates
type Coordinator struct {
	cache    *folders.Cache
	accounts account.Store
	sink     BadgeSink
	logger   *logrus.Logger
	interval time.Duration
	snapshot Snapshot

	mu     sync.Mutex
	live   map[string]bool
	badge  int
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
	reloads sync.WaitGroup
}

// New creates a coordinator. An interval of zero or less disables the timer.
func New(cache *folders.Cache, accounts account.Store, sink BadgeSink, logger *logrus.Logger, interval time.Duration) *Coordinator {
	c := &Coordinator{
		cache:    cache,
		accounts: accounts,
		sink:     sink,
		logger:   logger,
		interval: interval,
		live:     make(map[string]bool),
		badge:    -1,
		ctx:      context.Background(),
	}
	cache.OnChange(c.cacheChanged)
	return c
}

// SetSnapshot seeds the badge from persisted counts until each account's
// first live listing
func (c *Coordinator) SetSnapshot(s Snapshot) {
	c.snapshot = s
}

// Start publishes the initial badge and starts the timer
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.stopped = false
	runCtx := c.ctx
	c.mu.Unlock()

	c.UpdateBadge()

	if c.interval <= 0 {
		c.logger.Info("Periodic refresh disabled")
		return
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				c.Tick(runCtx)
			}
		}
	}()
	c.logger.WithField("interval", c.interval.String()).Info("Periodic refresh started")
}

// Stop ends the timer and waits for a running tick and for background
// reloads. Later InvalidateAccount calls are ignored until the next Start.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.stopped = true
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.reloads.Wait()
}

// Tick reloads every account that currently has a cached tree. A failed
// reload drops that account's tree so the tree shows its error.
func (c *Coordinator) Tick(ctx context.Context) {
	for _, id := range c.cache.Accounts() {
		if err := c.Reload(ctx, id); err != nil {
			c.logger.WithError(err).WithField("account", id).Warn("Periodic refresh failed")
		}
	}
}

// Reload lists an account's folders again
func (c *Coordinator) Reload(ctx context.Context, accountID string) error {
	if _, err := c.cache.Load(ctx, accountID); err != nil {
		c.cache.Invalidate(accountID)
		return err
	}
	return nil
}

// InvalidateAccount reloads an account's counts in the background after a
// message was marked, moved or deleted
func (c *Coordinator) InvalidateAccount(accountID string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.reloads.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.reloads.Done()
		if err := c.Reload(ctx, accountID); err != nil {
			c.logger.WithError(err).WithField("account", accountID).Warn("Failed to reload folder counts")
		}
	}()
}

func (c *Coordinator) cacheChanged(accountID string) {
	if _, ok := c.cache.Cached(accountID); ok {
		c.mu.Lock()
		c.live[accountID] = true
		c.mu.Unlock()
	}
	c.UpdateBadge()
}

// Forget drops an account from the badge after it was removed
func (c *Coordinator) Forget(accountID string) {
	c.mu.Lock()
	delete(c.live, accountID)
	c.mu.Unlock()
	c.UpdateBadge()
}

// Badge returns the last published badge value
func (c *Coordinator) Badge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.badge < 0 {
		return 0
	}
	return c.badge
}

// UpdateBadge recomputes the unread total and publishes it when it changed
func (c *Coordinator) UpdateBadge() {
	total := c.cache.UnreadTotal() + c.snapshotUnread()

	c.mu.Lock()
	if total == c.badge {
		c.mu.Unlock()
		return
	}
	c.badge = total
	c.mu.Unlock()

	if total == 0 {
		c.sink.ClearBadge()
		return
	}
	c.sink.SetBadge(total)
}

func (c *Coordinator) snapshotUnread() int {
	if c.snapshot == nil {
		return 0
	}

	c.mu.Lock()
	var pending []string
	for _, acc := range c.accounts.ListAccounts() {
		if !c.live[acc.ID()] {
			pending = append(pending, acc.ID())
		}
	}
	c.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}
	n, err := c.snapshot.UnreadTotal(pending)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read unread snapshot")
		return 0
	}
	return n
}
