// Package folders turns a flat mailbox listing into a cached folder forest.
package folders

import (
	"sort"
	"strings"

	"github.com/brandon/mailview/pkg/types"
)

// Entry is one row of a flat folder listing
type Entry struct {
	Path       string
	ParentPath string
	Delimiter  string
	SpecialUse string
	Total      int
	Unseen     int
	Selectable bool
}

// Tree is a folder forest with an arena of nodes indexed by path
type Tree struct {
	Roots []*types.FolderNode
	nodes map[string]*types.FolderNode
}

// BuildTree builds a forest from entries in any order. Nodes whose parent
// is missing from the listing become roots.
func BuildTree(entries []Entry) *Tree {
	t := &Tree{nodes: make(map[string]*types.FolderNode, len(entries))}

	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, dup := t.nodes[e.Path]; dup {
			continue
		}
		t.nodes[e.Path] = &types.FolderNode{
			Path:           e.Path,
			DisplayName:    DisplayName(e.Path, e.Delimiter),
			Delimiter:      e.Delimiter,
			ParentPath:     e.ParentPath,
			SpecialUse:     e.SpecialUse,
			TotalMessages:  e.Total,
			UnseenMessages: e.Unseen,
			Selectable:     e.Selectable,
		}
		order = append(order, e.Path)
	}

	for _, path := range order {
		node := t.nodes[path]
		parent, ok := t.nodes[node.ParentPath]
		if node.ParentPath == "" || !ok || t.cycles(node) {
			node.ParentPath = ""
			t.Roots = append(t.Roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	sortNodes(t.Roots)
	for _, node := range t.nodes {
		sortNodes(node.Children)
	}
	return t
}

// cycles reports whether following parent paths from node leads back to it
func (t *Tree) cycles(node *types.FolderNode) bool {
	p := node.ParentPath
	for i := 0; i <= len(t.nodes) && p != ""; i++ {
		if p == node.Path {
			return true
		}
		next, ok := t.nodes[p]
		if !ok {
			return false
		}
		p = next.ParentPath
	}
	return false
}

// sortNodes puts INBOX first, then special-use folders, then by name
func sortNodes(nodes []*types.FolderNode) {
	rank := func(n *types.FolderNode) int {
		switch {
		case n.SpecialUse == types.RoleInbox:
			return 0
		case n.SpecialUse != "":
			return 1
		}
		return 2
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		ri, rj := rank(nodes[i]), rank(nodes[j])
		if ri != rj {
			return ri < rj
		}
		return strings.ToLower(nodes[i].DisplayName) < strings.ToLower(nodes[j].DisplayName)
	})
}

// ParentPath derives a parent path from a hierarchical path
func ParentPath(path, delimiter string) string {
	if delimiter == "" {
		return ""
	}
	i := strings.LastIndex(path, delimiter)
	if i <= 0 {
		return ""
	}
	return path[:i]
}

// DisplayName is the last segment of path
func DisplayName(path, delimiter string) string {
	if delimiter == "" {
		return path
	}
	if i := strings.LastIndex(path, delimiter); i >= 0 && i+len(delimiter) < len(path) {
		return path[i+len(delimiter):]
	}
	return path
}

// Node returns the node at path
func (t *Tree) Node(path string) (*types.FolderNode, bool) {
	if t == nil {
		return nil, false
	}
	n, ok := t.nodes[path]
	return n, ok
}

// Parent returns the parent of the node at path, or false for roots
func (t *Tree) Parent(path string) (*types.FolderNode, bool) {
	n, ok := t.Node(path)
	if !ok || n.ParentPath == "" {
		return nil, false
	}
	return t.Node(n.ParentPath)
}

// Ancestors returns the chain from the root down to the parent of path
func (t *Tree) Ancestors(path string) []*types.FolderNode {
	var chain []*types.FolderNode
	for p, ok := t.Parent(path); ok; p, ok = t.Parent(p.Path) {
		chain = append([]*types.FolderNode{p}, chain...)
	}
	return chain
}

// Len is the number of folders
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.nodes)
}

// Walk visits every node depth first, parents before children
func (t *Tree) Walk(fn func(n *types.FolderNode)) {
	if t == nil {
		return
	}
	var walk func(nodes []*types.FolderNode)
	walk = func(nodes []*types.FolderNode) {
		for _, n := range nodes {
			fn(n)
			walk(n.Children)
		}
	}
	walk(t.Roots)
}

// Flatten returns every node in walk order
func (t *Tree) Flatten() []*types.FolderNode {
	out := make([]*types.FolderNode, 0, t.Len())
	t.Walk(func(n *types.FolderNode) { out = append(out, n) })
	return out
}

// Unread sums unseen counts over the whole forest
func (t *Tree) Unread() int {
	if t == nil {
		return 0
	}
	return SumUnseen(t.Roots)
}

// SumUnseen recursively sums UnseenMessages over nodes and all descendants
func SumUnseen(nodes []*types.FolderNode) int {
	total := 0
	for _, n := range nodes {
		total += n.UnseenMessages + SumUnseen(n.Children)
	}
	return total
}
