package graph

import (
	"github.com/dukex/aef/pkg/models"
)

const (
	LeafWidth        = 240
	LeafHeight       = 80
	ContainerPadding = 24
	ContainerHeader  = 40
	LayerSpacing     = 60
	NodeSpacing      = 40
)

type Direction string

const (
	DirectionRight Direction = "RIGHT"
	DirectionDown  Direction = "DOWN"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// layout holds positions relative to the parent container, or absolute for
// top-level nodes.
type layout struct {
	tree      *Tree
	flat      bool
	direction Direction
	back      map[*models.Edge]bool

	positions map[string]Position
	sizes     map[string]Size
}

func computeLayout(tree *Tree, flat bool, direction Direction) *layout {
	l := &layout{
		tree:      tree,
		flat:      flat,
		direction: direction,
		back:      backEdges(tree),
		positions: make(map[string]Position),
		sizes:     make(map[string]Size),
	}

	l.layoutScope(l.members(nil), 0, 0)

	return l
}

func (l *layout) members(parent *TreeNode) []*TreeNode {
	if l.flat {
		if parent != nil {
			return nil
		}

		return l.tree.Nodes()
	}

	if parent == nil {
		return l.tree.Roots
	}

	return parent.Children
}

// layoutScope places members with longest-path layering over forward edges
// and returns the extent of the laid out content.
func (l *layout) layoutScope(members []*TreeNode, offsetX, offsetY float64) (float64, float64) {
	if len(members) == 0 {
		return 0, 0
	}

	for _, m := range members {
		l.sizes[m.ID()] = l.sizeOf(m)
	}

	index := make(map[string]int, len(members))
	for i, m := range members {
		index[m.ID()] = i
	}

	type constraint struct{ from, to int }

	var constraints []constraint

	for _, edge := range l.tree.Edges {
		if l.back[edge] {
			continue
		}

		from, okFrom := l.memberIndex(edge.From, index)
		to, okTo := l.memberIndex(edge.To, index)

		if okFrom && okTo && from != to {
			constraints = append(constraints, constraint{from, to})
		}
	}

	layers := make([]int, len(members))

	for range members {
		changed := false

		for _, c := range constraints {
			if layers[c.to] < layers[c.from]+1 {
				layers[c.to] = layers[c.from] + 1
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	maxLayer := 0
	for _, layer := range layers {
		maxLayer = max(maxLayer, layer)
	}

	primary := make([]float64, maxLayer+1)
	for i, m := range members {
		primary[layers[i]] = max(primary[layers[i]], l.along(l.sizes[m.ID()]))
	}

	starts := make([]float64, maxLayer+1)
	for i := 1; i <= maxLayer; i++ {
		starts[i] = starts[i-1] + primary[i-1] + LayerSpacing
	}

	cursor := make([]float64, maxLayer+1)

	var extentAlong, extentAcross float64

	for i, m := range members {
		layer := layers[i]
		size := l.sizes[m.ID()]

		along, across := starts[layer], cursor[layer]
		cursor[layer] += l.across(size) + NodeSpacing

		if l.direction == DirectionDown {
			l.positions[m.ID()] = Position{X: offsetX + across, Y: offsetY + along}
		} else {
			l.positions[m.ID()] = Position{X: offsetX + along, Y: offsetY + across}
		}

		extentAlong = max(extentAlong, along+l.along(size))
		extentAcross = max(extentAcross, across+l.across(size))
	}

	if l.direction == DirectionDown {
		return extentAcross, extentAlong
	}

	return extentAlong, extentAcross
}

// memberIndex maps a node to the scope member containing it.
func (l *layout) memberIndex(id string, index map[string]int) (int, bool) {
	if i, ok := index[id]; ok {
		return i, true
	}

	if l.flat {
		return 0, false
	}

	for n := l.tree.Get(id); n != nil; n = n.Parent {
		if i, ok := index[n.ID()]; ok {
			return i, true
		}
	}

	return 0, false
}

func (l *layout) sizeOf(n *TreeNode) Size {
	children := l.members(n)
	if len(children) == 0 {
		return Size{Width: LeafWidth, Height: LeafHeight}
	}

	width, height := l.layoutScope(children, ContainerPadding, ContainerHeader+ContainerPadding)

	return Size{
		Width:  max(LeafWidth, width+2*ContainerPadding),
		Height: max(LeafHeight, ContainerHeader+height+2*ContainerPadding),
	}
}

func (l *layout) along(s Size) float64 {
	if l.direction == DirectionDown {
		return s.Height
	}

	return s.Width
}

func (l *layout) across(s Size) float64 {
	if l.direction == DirectionDown {
		return s.Width
	}

	return s.Height
}

// backEdges runs a depth-first search over the flow, entry nodes first, and
// returns the edges that close a cycle.
func backEdges(tree *Tree) map[*models.Edge]bool {
	const (
		white = iota
		grey
		black
	)

	outgoing := make(map[string][]*models.Edge)
	incoming := make(map[string]int)

	for _, e := range tree.Edges {
		outgoing[e.From] = append(outgoing[e.From], e)
		incoming[e.To]++
	}

	color := make(map[string]int)
	back := make(map[*models.Edge]bool)

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey

		for _, e := range outgoing[id] {
			switch color[e.To] {
			case grey:
				back[e] = true
			case white:
				visit(e.To)
			}
		}

		color[id] = black
	}

	for _, n := range tree.Nodes() {
		if incoming[n.ID()] == 0 && color[n.ID()] == white {
			visit(n.ID())
		}
	}

	for _, n := range tree.Nodes() {
		if color[n.ID()] == white {
			visit(n.ID())
		}
	}

	return back
}
