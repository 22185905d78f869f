// Package hierarchy turns the flat session list reported by an agent runtime
// into a forest of parent/child trees.
package hierarchy

import "github.com/frak-id/atelier-sub002/internal/models"

// Node is one session and its direct children, in source order.
type Node struct {
	Session  models.Session `json:"session"`
	Children []*Node        `json:"children"`
}

// Build links sessions to their parents. A session whose parent is absent
// from the input becomes a root rather than being dropped. Roots and
// children keep the input order.
func Build(sessions []models.Session) []*Node {
	nodes := make(map[string]*Node, len(sessions))
	for _, s := range sessions {
		nodes[s.ID] = &Node{Session: s, Children: []*Node{}}
	}

	roots := make([]*Node, 0)
	for _, s := range sessions {
		node := nodes[s.ID]
		if parent, ok := nodes[s.ParentID]; ok && s.ParentID != "" && parent != node {
			parent.Children = append(parent.Children, node)
			continue
		}
		roots = append(roots, node)
	}

	// Sessions on a parent cycle are unreachable from any root; promote the
	// first one of each cycle so nothing is lost.
	reached := make(map[*Node]bool, len(nodes))
	var mark func(n *Node)
	mark = func(n *Node) {
		reached[n] = true
		for _, c := range n.Children {
			mark(c)
		}
	}
	for _, r := range roots {
		mark(r)
	}
	for _, s := range sessions {
		node := nodes[s.ID]
		if reached[node] {
			continue
		}
		parent := nodes[s.ParentID]
		parent.Children = removeChild(parent.Children, node)
		roots = append(roots, node)
		mark(node)
	}
	return roots
}

func removeChild(children []*Node, target *Node) []*Node {
	out := children[:0]
	for _, c := range children {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}

// Flatten walks the forest in pre-order.
func Flatten(forest []*Node) []models.Session {
	out := make([]models.Session, 0)
	var walk func(n *Node)
	walk = func(n *Node) {
		out = append(out, n.Session)
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, n := range forest {
		walk(n)
	}
	return out
}

// CountSubSessions returns the number of descendants below node.
func CountSubSessions(node *Node) int {
	count := 0
	for _, c := range node.Children {
		count += 1 + CountSubSessions(c)
	}
	return count
}

// TaskTree is the part of a sandbox forest owned by one task.
type TaskTree struct {
	Roots           []*Node          `json:"roots"`
	All             []models.Session `json:"-"`
	RootCount       int              `json:"rootCount"`
	TotalCount      int              `json:"totalCount"`
	SubsessionCount int              `json:"subsessionCount"`
}

// RootIDs returns the ids of the tree's roots.
func (t *TaskTree) RootIDs() map[string]bool {
	ids := make(map[string]bool, len(t.Roots))
	for _, r := range t.Roots {
		ids[r.Session.ID] = true
	}
	return ids
}

// ForTask selects the trees rooted at the task's sessions, in the order the
// task lists them. Root ids that are not in the forest are skipped.
func ForTask(forest []*Node, rootIDs []string) *TaskTree {
	byID := make(map[string]*Node, len(forest))
	var index func(n *Node)
	index = func(n *Node) {
		byID[n.Session.ID] = n
		for _, c := range n.Children {
			index(c)
		}
	}
	for _, n := range forest {
		index(n)
	}

	// A root listed by the task may also sit below another listed root;
	// each session is counted once, under the first tree that reaches it.
	tree := &TaskTree{Roots: []*Node{}, All: []models.Session{}}
	seen := make(map[string]bool)
	for _, id := range rootIDs {
		n, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		tree.Roots = append(tree.Roots, n)
		for _, s := range Flatten([]*Node{n}) {
			if !seen[s.ID] {
				seen[s.ID] = true
				tree.All = append(tree.All, s)
			}
		}
	}

	tree.RootCount = len(tree.Roots)
	tree.TotalCount = len(tree.All)
	tree.SubsessionCount = tree.TotalCount - tree.RootCount
	return tree
}
