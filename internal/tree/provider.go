// Package tree serves the account and folder tree to the UI.
package tree

import (
	"context"
	"net/url"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailview/internal/account"
	"github.com/brandon/mailview/internal/folders"
	"github.com/brandon/mailview/pkg/types"
)

// NodeKind says what a tree node stands for
type NodeKind string

const (
	NodeAccount NodeKind = "account"
	NodeFolder  NodeKind = "folder"
	// NodeError replaces an account's folders while its connection is broken
	NodeError NodeKind = "error"
)

// Node is one row of the tree. It carries enough to dispatch commands.
type Node struct {
	ID          string   `json:"id"`
	Kind        NodeKind `json:"kind"`
	AccountID   string   `json:"account_id"`
	FolderPath  string   `json:"folder_path,omitempty"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Detail      string   `json:"detail,omitempty"`
	Role        string   `json:"role,omitempty"`
	Unread      int      `json:"unread"`
	Selectable  bool     `json:"selectable"`
	HasChildren bool     `json:"has_children"`
}

// Connections is the session side the tree needs
type Connections interface {
	ConnectionError(accountID string) (string, bool)
	ClearError(accountID string)
	ClearErrors()
	DisconnectAll(ctx context.Context)
}

// Snapshots returns the last persisted folder tree of an account
type Snapshots interface {
	LoadTree(accountID string) (*folders.Tree, bool, error)
}

// Provider builds tree nodes from the folder cache. Connect and listing
// failures become error nodes and are never returned to the caller.
type Provider struct {
	accounts account.Store
	conns    Connections
	cache    *folders.Cache
	logger   *logrus.Logger

	snapshots Snapshots

	mu        sync.Mutex
	listeners []func(node *Node)
}

// NewProvider creates a tree provider and follows cache changes
func NewProvider(accounts account.Store, conns Connections, cache *folders.Cache, logger *logrus.Logger) *Provider {
	p := &Provider{
		accounts: accounts,
		conns:    conns,
		cache:    cache,
		logger:   logger,
	}
	cache.OnChange(func(accountID string) {
		p.fire(p.accountNode(accountID))
	})
	return p
}

// SetSnapshots lets account unread counts and expanded folders show the
// last persisted tree until the account is listed live
func (p *Provider) SetSnapshots(s Snapshots) {
	p.snapshots = s
}

// known returns the live tree, or the persisted one when there is none
func (p *Provider) known(accountID string) (*folders.Tree, bool) {
	if tree, ok := p.cache.Cached(accountID); ok {
		return tree, true
	}
	if p.snapshots == nil {
		return nil, false
	}
	tree, ok, err := p.snapshots.LoadTree(accountID)
	if err != nil {
		p.logger.WithError(err).WithField("account", accountID).Warn("Failed to load folder snapshot")
		return nil, false
	}
	return tree, ok
}

// OnDidChange registers fn for tree changes. A nil node means the whole tree.
func (p *Provider) OnDidChange(fn func(node *Node)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Provider) fire(node *Node) {
	p.mu.Lock()
	listeners := append([]func(*Node){}, p.listeners...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(node)
	}
}

// GetChildren returns the accounts for a nil parent, the root folders (or
// a single error node) for an account, and the subfolders of a folder
func (p *Provider) GetChildren(ctx context.Context, parent *Node) []Node {
	if parent == nil {
		accs := p.accounts.ListAccounts()
		out := make([]Node, 0, len(accs))
		for _, acc := range accs {
			out = append(out, *p.accountNode(acc.ID()))
		}
		return out
	}

	switch parent.Kind {
	case NodeAccount:
		if msg, failed := p.conns.ConnectionError(parent.AccountID); failed {
			return []Node{errorNode(parent.AccountID, msg)}
		}
		tree, err := p.cache.Tree(ctx, parent.AccountID)
		if err != nil {
			p.logger.WithError(err).WithField("account", parent.AccountID).Warn("Failed to list folders")
			return []Node{errorNode(parent.AccountID, err.Error())}
		}
		return folderNodes(parent.AccountID, tree.Roots)
	case NodeFolder:
		tree, ok := p.known(parent.AccountID)
		if !ok {
			return nil
		}
		n, ok := tree.Node(parent.FolderPath)
		if !ok {
			return nil
		}
		return folderNodes(parent.AccountID, n.Children)
	}
	return nil
}

// Ancestors returns the folder nodes from the root down to the parent of
// path, for revealing a folder in the UI
func (p *Provider) Ancestors(accountID, path string) []Node {
	tree, ok := p.known(accountID)
	if !ok {
		return nil
	}
	return folderNodes(accountID, tree.Ancestors(path))
}

// Refresh drops cached folders and connection errors for node's account,
// or for every account when node is nil, and signals a reload
func (p *Provider) Refresh(ctx context.Context, node *Node, forceReconnect bool) {
	if forceReconnect {
		p.ForceReconnect(ctx)
		return
	}
	if node == nil {
		p.conns.ClearErrors()
		p.cache.InvalidateAll()
		p.fire(nil)
		return
	}
	p.conns.ClearError(node.AccountID)
	p.cache.Invalidate(node.AccountID)
	p.fire(p.accountNode(node.AccountID))
}

// ForceReconnect clears every connection error, disconnects every account
// and reloads the whole tree. Individual disconnect failures are ignored.
func (p *Provider) ForceReconnect(ctx context.Context) {
	p.logger.Info("Reconnecting all accounts")
	p.conns.ClearErrors()
	p.conns.DisconnectAll(ctx)
	p.cache.InvalidateAll()
	p.fire(nil)
}

func (p *Provider) accountNode(accountID string) *Node {
	n := &Node{
		ID:          nodeID(NodeAccount, accountID, ""),
		Kind:        NodeAccount,
		AccountID:   accountID,
		Label:       accountID,
		HasChildren: true,
	}
	if tree, ok := p.known(accountID); ok {
		n.Unread = tree.Unread()
		n.Description = unreadLabel(n.Unread)
	}
	if msg, failed := p.conns.ConnectionError(accountID); failed {
		n.Description = "connection error"
		n.Detail = msg
	}
	return n
}

func errorNode(accountID, msg string) Node {
	return Node{
		ID:        nodeID(NodeError, accountID, ""),
		Kind:      NodeError,
		AccountID: accountID,
		Label:     "Connection error",
		Detail:    msg,
	}
}

func folderNodes(accountID string, nodes []*types.FolderNode) []Node {
	out := make([]Node, 0, len(nodes))
	for _, f := range nodes {
		unread := folders.SumUnseen([]*types.FolderNode{f})
		out = append(out, Node{
			ID:          nodeID(NodeFolder, accountID, f.Path),
			Kind:        NodeFolder,
			AccountID:   accountID,
			FolderPath:  f.Path,
			Label:       f.DisplayName,
			Description: unreadLabel(f.UnseenMessages),
			Role:        f.SpecialUse,
			Unread:      unread,
			Selectable:  f.Selectable,
			HasChildren: len(f.Children) > 0,
		})
	}
	return out
}

// nodeID is kind:account[:path] with the account id escaped, so the first
// two colons always delimit
func nodeID(kind NodeKind, accountID, path string) string {
	id := string(kind) + ":" + url.QueryEscape(accountID)
	if kind == NodeFolder {
		id += ":" + path
	}
	return id
}

func unreadLabel(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
