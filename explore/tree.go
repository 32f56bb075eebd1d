package explore

import (
	"fmt"

	"github.com/colorfulnotion/jnisym/sim"
	"github.com/xlab/treeprint"
)

// pathNode is a straight run of steps between two forks.
type pathNode struct {
	id       int
	start    string
	end      string
	status   string
	steps    int
	children []*pathNode
}

// pathTree tracks which run each live state belongs to. Callers hold the
// manager lock.
type pathTree struct {
	roots []*pathNode
	live  map[uint64]*pathNode
	next  int
}

func (t *pathTree) node(start string) *pathNode {
	t.next++
	return &pathNode{id: t.next, start: start}
}

func (t *pathTree) track(s *sim.State, n *pathNode) {
	if t.live == nil {
		t.live = make(map[uint64]*pathNode)
	}
	t.live[s.ID()] = n
}

func (t *pathTree) root(s *sim.State) {
	n := t.node(s.Addr().String())
	t.roots = append(t.roots, n)
	t.track(s, n)
}

func (t *pathTree) advance(from, to *sim.State) {
	n, ok := t.live[from.ID()]
	if !ok {
		return
	}
	delete(t.live, from.ID())
	n.steps++
	t.track(to, n)
}

func (t *pathTree) fork(from *sim.State, next []*sim.State) {
	n, ok := t.live[from.ID()]
	if !ok {
		return
	}
	delete(t.live, from.ID())
	n.steps++
	n.end = from.Addr().String()
	n.status = fmt.Sprintf("fork x%d", len(next))
	for _, s := range next {
		c := t.node(s.Addr().String())
		n.children = append(n.children, c)
		t.track(s, c)
	}
}

func (t *pathTree) finish(s *sim.State, status string) {
	n, ok := t.live[s.ID()]
	if !ok {
		return
	}
	delete(t.live, s.ID())
	n.end = s.Addr().String()
	n.status = status
}

func (n *pathNode) label() string {
	status := n.status
	if status == "" {
		status = "active"
	}
	if n.end == "" {
		return fmt.Sprintf("#%d %s (%d steps) %s", n.id, n.start, n.steps, status)
	}
	return fmt.Sprintf("#%d %s .. %s (%d steps) %s", n.id, n.start, n.end, n.steps, status)
}

func (n *pathNode) addTo(tree treeprint.Tree) {
	if len(n.children) == 0 {
		tree.AddNode(n.label())
		return
	}
	branch := tree.AddBranch(n.label())
	for _, c := range n.children {
		c.addTo(branch)
	}
}

// Tree renders the fork tree: one node per straight run, labelled with
// its start and end addresses and how it ended.
func (m *Manager) Tree() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree := treeprint.New()
	tree.SetValue("paths")
	for _, r := range m.tree.roots {
		r.addTo(tree)
	}
	return tree.String()
}
