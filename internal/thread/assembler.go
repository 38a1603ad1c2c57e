// Package thread reconstructs a comment tree from a flat, unordered
// collection of comment records.
package thread

import (
	"sort"

	"github.com/openagora/agora/internal/models"
)

// Node is one comment attached at its tree position. Depth is derived from
// position, never stored.
type Node struct {
	Comment  models.Comment `json:"comment"`
	Children []*Node        `json:"replies,omitempty"`
	Depth    int            `json:"depth"`
}

// Forest is the assembled comment tree for one post.
type Forest struct {
	Roots []*Node `json:"roots"`
	// Size is the total number of nodes, equal to the number of distinct
	// input comment ids.
	Size int `json:"size"`
}

// Assemble builds a forest from a flat comment collection. Pure and
// deterministic for a given input multiset.
//
// Comments are indexed by id in one pass, then attached to their parent in a
// second. A comment whose declared parent is absent from the input is
// promoted to a root rather than dropped; malformed data degrades to a flat
// listing instead of losing content. Duplicate ids resolve last-write-wins.
// A comment naming itself as parent is treated as an orphan.
func Assemble(flat []models.Comment) Forest {
	if len(flat) == 0 {
		return Forest{}
	}

	// Index pass: last write wins per id, first-seen order retained so the
	// result is stable for a given input ordering.
	index := make(map[string]*Node, len(flat))
	order := make([]string, 0, len(flat))
	for _, c := range flat {
		if c.ID == "" {
			continue
		}
		if existing, ok := index[c.ID]; ok {
			existing.Comment = c
			continue
		}
		index[c.ID] = &Node{Comment: c}
		order = append(order, c.ID)
	}

	// Attach pass: parent lookup through the index only, never through
	// pointer-linked records, so forward or dangling references cannot
	// corrupt traversal.
	forest := Forest{Size: len(order)}
	for _, id := range order {
		node := index[id]
		parentID := node.Comment.ParentID
		if parentID == "" || parentID == id {
			forest.Roots = append(forest.Roots, node)
			continue
		}
		parent, ok := index[parentID]
		if !ok {
			// Orphan promotion: the parent is outside the loaded set.
			forest.Roots = append(forest.Roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	// Cycle recovery: comments whose parent references form a cycle all
	// attach as each other's children and none becomes a root, leaving the
	// whole cluster unreachable. Promote the first-seen member of each
	// unreachable cluster, detaching its parent edge; the rest of the
	// cluster stays attached below it. No comment is ever dropped.
	visited := make(map[string]struct{}, len(order))
	for _, root := range forest.Roots {
		markReachable(root, visited)
	}
	for _, id := range order {
		if _, ok := visited[id]; ok {
			continue
		}
		node := index[id]
		if parent, ok := index[node.Comment.ParentID]; ok {
			parent.Children = detach(parent.Children, node)
		}
		forest.Roots = append(forest.Roots, node)
		markReachable(node, visited)
	}

	for _, root := range forest.Roots {
		setDepth(root, 0, len(order))
	}

	return forest
}

func markReachable(n *Node, visited map[string]struct{}) {
	if _, ok := visited[n.Comment.ID]; ok {
		return
	}
	visited[n.Comment.ID] = struct{}{}
	for _, child := range n.Children {
		markReachable(child, visited)
	}
}

func detach(children []*Node, node *Node) []*Node {
	for i, c := range children {
		if c == node {
			return append(children[:i], children[i+1:]...)
		}
	}
	return children
}

// SortByCreated orders every sibling list oldest-first, in place.
func (f Forest) SortByCreated() Forest {
	sortNodes(f.Roots)
	return f
}

func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Comment.CreatedAt.Before(nodes[j].Comment.CreatedAt)
	})
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}

// setDepth assigns depths by walking down from a root. The limit guard stops
// traversal if attachment ever produced a cycle through malformed ids.
func setDepth(n *Node, depth, limit int) {
	if depth > limit {
		return
	}
	n.Depth = depth
	for _, child := range n.Children {
		setDepth(child, depth+1, limit)
	}
}
