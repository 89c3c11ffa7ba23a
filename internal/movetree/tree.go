// Package movetree records a game and its variations as a navigable tree of
// positions. Nodes are addressed by stable paths built from move-derived ids,
// so a path serialized from one tree resolves to the same node after the tree
// is rebuilt from the same moves.
package movetree

import (
	"errors"
	"strings"
)

var (
	ErrPositionMismatch = errors.New("movetree: before-position does not match current node")
	ErrPathNotFound     = errors.New("movetree: path does not resolve to a node")
	ErrNoParent         = errors.New("movetree: node has no parent")
	ErrNoSuchVariation  = errors.New("movetree: no variation with that id")
)

// MoveRecord is the input for appending one move to the tree.
type MoveRecord struct {
	SAN            string
	UCI            string
	PositionBefore string
	PositionAfter  string
	Comment        string
	Eval           *float64
}

// Node is one played or explored move. The root carries only the starting
// position and no move fields.
type Node struct {
	ID             string
	Ply            int
	SAN            string
	UCI            string
	PositionBefore string
	PositionAfter  string
	Comment        string
	Eval           *float64

	parent   *Node
	children []*Node
}

func (n *Node) Parent() *Node { return n.parent }

func (n *Node) IsRoot() bool { return n.parent == nil }

// Children returns the ordered variations: index 0 is the mainline.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

func (n *Node) childByID(id string) *Node {
	for _, c := range n.children {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Path returns the concatenated ids from the root down to n.
func (n *Node) Path() string {
	if n.parent == nil {
		return ""
	}
	var parts []string
	for cur := n; cur.parent != nil; cur = cur.parent {
		parts = append(parts, cur.ID)
	}
	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteString(parts[i])
	}
	return b.String()
}

// Tree holds the game record and a single cursor (the current node).
type Tree struct {
	root    *Node
	current *Node
}

// New creates a tree rooted at the given starting position.
func New(startPosition string) *Tree {
	t := &Tree{}
	t.Reset(startPosition)
	return t
}

// Reset discards all nodes and re-roots the tree at startPosition.
func (t *Tree) Reset(startPosition string) {
	t.root = &Node{PositionAfter: strings.TrimSpace(startPosition)}
	t.current = t.root
}

func (t *Tree) Root() *Node    { return t.root }
func (t *Tree) Current() *Node { return t.current }

// CurrentPosition returns the position string at the cursor.
func (t *Tree) CurrentPosition() string { return t.current.PositionAfter }

// CurrentPath returns the path addressing the cursor.
func (t *Tree) CurrentPath() string { return t.current.Path() }

// AddNode appends the move under the cursor and advances to it. The move's
// before-position must match the cursor's position; a mismatch signals a
// desynchronized caller and nothing is inserted. Appending a move whose id
// already exists under the cursor navigates to the existing node instead of
// duplicating it.
func (t *Tree) AddNode(rec MoveRecord) (*Node, error) {
	if strings.TrimSpace(rec.PositionBefore) != t.current.PositionAfter {
		return nil, ErrPositionMismatch
	}
	id := MoveID(rec.UCI)
	if existing := t.current.childByID(id); existing != nil {
		t.current = existing
		return existing, nil
	}
	node := &Node{
		ID:             id,
		Ply:            t.current.Ply + 1,
		SAN:            rec.SAN,
		UCI:            rec.UCI,
		PositionBefore: t.current.PositionAfter,
		PositionAfter:  strings.TrimSpace(rec.PositionAfter),
		Comment:        rec.Comment,
		Eval:           rec.Eval,
		parent:         t.current,
	}
	t.current.children = append(t.current.children, node)
	t.current = node
	return node, nil
}

// NavigateToPath moves the cursor to the node addressed by path. The entire
// path must resolve; on failure the cursor is left unchanged.
func (t *Tree) NavigateToPath(path string) error {
	node := t.root
	rest := path
	for rest != "" {
		var next *Node
		for _, c := range node.children {
			if strings.HasPrefix(rest, c.ID) {
				// Prefer the longest matching id so a promotion id never
				// loses to a plain-move prefix.
				if next == nil || len(c.ID) > len(next.ID) {
					next = c
				}
			}
		}
		if next == nil {
			return ErrPathNotFound
		}
		rest = rest[len(next.ID):]
		node = next
	}
	t.current = node
	return nil
}

// Back moves the cursor to its parent, keeping the node in the tree. It
// reports whether movement occurred.
func (t *Tree) Back() bool {
	if t.current.parent == nil {
		return false
	}
	t.current = t.current.parent
	return true
}

// Forward advances the cursor into the variation at the given index (0 is the
// mainline). It reports whether movement occurred.
func (t *Tree) Forward(variation int) bool {
	if variation < 0 || variation >= len(t.current.children) {
		return false
	}
	t.current = t.current.children[variation]
	return true
}

// ToStart moves the cursor to the root.
func (t *Tree) ToStart() {
	t.current = t.root
}

// ToEnd follows the mainline from the cursor to its tip.
func (t *Tree) ToEnd() {
	for len(t.current.children) > 0 {
		t.current = t.current.children[0]
	}
}

// UndoLast retracts the current node: the cursor moves to the parent and the
// former current node is detached together with its subtree. Unlike Back,
// the node does not survive. Used when a played move must be taken back.
func (t *Tree) UndoLast() error {
	return t.PruneCurrent()
}

// PruneCurrent removes the cursor's subtree from its parent and moves the
// cursor to the parent. The root cannot be pruned.
func (t *Tree) PruneCurrent() error {
	node := t.current
	if node.parent == nil {
		return ErrNoParent
	}
	parent := node.parent
	for i, c := range parent.children {
		if c == node {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	node.parent = nil
	t.current = parent
	return nil
}

// PromoteVariation reorders the cursor's children so the child with the given
// id becomes the mainline. Promoting the existing mainline is a no-op.
func (t *Tree) PromoteVariation(childID string) error {
	children := t.current.children
	for i, c := range children {
		if c.ID != childID {
			continue
		}
		if i == 0 {
			return nil
		}
		promoted := children[i]
		copy(children[1:i+1], children[0:i])
		children[0] = promoted
		return nil
	}
	return ErrNoSuchVariation
}

// PositionHistory returns the board-placement fields of every position along
// the root→cursor line, oldest first. Useful for repetition checks.
func (t *Tree) PositionHistory() []string {
	var chain []*Node
	for cur := t.current; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	out := make([]string, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, boardField(chain[i].PositionAfter))
	}
	return out
}

// Variation describes one continuation available at the cursor.
type Variation struct {
	ID  string
	SAN string
	UCI string
}

// VariationsAtCurrent lists the continuations under the cursor, mainline
// first.
func (t *Tree) VariationsAtCurrent() []Variation {
	out := make([]Variation, 0, len(t.current.children))
	for _, c := range t.current.children {
		out = append(out, Variation{ID: c.ID, SAN: c.SAN, UCI: c.UCI})
	}
	return out
}

// MoveID derives the node id for an engine-notation move. Origin and
// destination squares map to one character each through a 64-character
// alphabet; a promotion letter is carried as-is. The code is deterministic,
// so identical moves always produce identical path segments.
func MoveID(uci string) string {
	uci = strings.TrimSpace(uci)
	if len(uci) < 4 {
		return uci
	}
	from, okFrom := squareIndex(uci[0:2])
	to, okTo := squareIndex(uci[2:4])
	if !okFrom || !okTo {
		return uci
	}
	id := string([]byte{squareAlphabet[from], squareAlphabet[to]})
	if len(uci) > 4 {
		id += uci[4:]
	}
	return id
}

const squareAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

func squareIndex(sq string) (int, bool) {
	if len(sq) != 2 {
		return 0, false
	}
	file := int(sq[0] - 'a')
	rank := int(sq[1] - '1')
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return 0, false
	}
	return rank*8 + file, true
}

func boardField(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
