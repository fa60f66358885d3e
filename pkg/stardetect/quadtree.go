package stardetect

import "github.com/golang/geo/r2"

const (
	quadTreeCapacity = 8
	quadTreeMaxDepth = 16
)

// quadTree is a point index answering small rectangle queries. Items are
// identified by the index they were inserted with.
type quadTree struct {
	root *quadNode
	size int
}

type quadItem struct {
	p     r2.Point
	index int
}

type quadNode struct {
	bounds   r2.Rect
	depth    int
	items    []quadItem
	children *[4]*quadNode
}

// newQuadTree indexes points by their position in the slice.
func newQuadTree(points []r2.Point) *quadTree {
	t := &quadTree{}
	if len(points) == 0 {
		return t
	}
	t.root = &quadNode{bounds: r2.RectFromPoints(points...).ExpandedByMargin(1)}
	for i, p := range points {
		t.Insert(p, i)
	}
	return t
}

// Insert adds p under index. Points outside the root bounds are ignored.
func (t *quadTree) Insert(p r2.Point, index int) {
	if t.root == nil || !t.root.bounds.ContainsPoint(p) {
		return
	}
	t.root.insert(quadItem{p: p, index: index})
	t.size++
}

// Len is the number of indexed points.
func (t *quadTree) Len() int { return t.size }

// Search returns the indices of the points inside rect, borders included.
func (t *quadTree) Search(rect r2.Rect) []int {
	var out []int
	if t.root != nil {
		t.root.search(rect, &out)
	}
	return out
}

func (n *quadNode) insert(it quadItem) {
	if n.children != nil {
		n.child(it.p).insert(it)
		return
	}
	n.items = append(n.items, it)
	if len(n.items) <= quadTreeCapacity || n.depth >= quadTreeMaxDepth {
		return
	}
	n.split()
}

func (n *quadNode) split() {
	lo, hi, c := n.bounds.Lo(), n.bounds.Hi(), n.bounds.Center()
	n.children = &[4]*quadNode{
		{bounds: r2.RectFromPoints(lo, c), depth: n.depth + 1},
		{bounds: r2.RectFromPoints(r2.Point{X: c.X, Y: lo.Y}, r2.Point{X: hi.X, Y: c.Y}), depth: n.depth + 1},
		{bounds: r2.RectFromPoints(r2.Point{X: lo.X, Y: c.Y}, r2.Point{X: c.X, Y: hi.Y}), depth: n.depth + 1},
		{bounds: r2.RectFromPoints(c, hi), depth: n.depth + 1},
	}
	items := n.items
	n.items = nil
	for _, it := range items {
		n.child(it.p).insert(it)
	}
}

func (n *quadNode) child(p r2.Point) *quadNode {
	c := n.bounds.Center()
	i := 0
	if p.X >= c.X {
		i |= 1
	}
	if p.Y >= c.Y {
		i |= 2
	}
	return n.children[i]
}

func (n *quadNode) search(rect r2.Rect, out *[]int) {
	if !n.bounds.Intersects(rect) {
		return
	}
	for _, it := range n.items {
		if rect.ContainsPoint(it.p) {
			*out = append(*out, it.index)
		}
	}
	if n.children != nil {
		for _, c := range n.children {
			c.search(rect, out)
		}
	}
}
