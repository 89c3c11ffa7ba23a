package movetree

import (
	"fmt"
	"strconv"
	"strings"
)

// PGNOptions controls movetext serialization.
type PGNOptions struct {
	ShowResult     bool
	Result         string // "1-0", "0-1", "1/2-1/2"; "*" when empty
	ShowVariations bool
	ShowComments   bool
}

// PGN serializes the moves from the root to the cursor as movetext. Numbering
// starts from the side to move and full-move counter encoded in the root
// position, so trees rooted mid-game (puzzles) are rendered correctly. A line
// whose first visible move is Black's opens in ellipsis form ("12... Qd8").
func (t *Tree) PGN(opts PGNOptions) string {
	white, moveNo := startingSide(t.root.PositionAfter)

	var chain []*Node
	for cur := t.current; cur.parent != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	w := pgnWriter{opts: opts}
	needNum := true
	for _, n := range chain {
		needNum = w.move(n, needNum, moveNo, white)
		if opts.ShowVariations {
			needNum = w.variations(n, moveNo, white) || needNum
		}
		if !white {
			moveNo++
		}
		white = !white
	}

	if opts.ShowResult {
		result := strings.TrimSpace(opts.Result)
		if result == "" {
			result = "*"
		}
		w.b.WriteString(result)
	}
	return strings.TrimSpace(w.b.String())
}

type pgnWriter struct {
	b    strings.Builder
	opts PGNOptions
}

// move writes one SAN token with its number prefix when needed and reports
// whether the next token needs a number prefix again (after a comment).
func (w *pgnWriter) move(n *Node, needNum bool, moveNo int, white bool) bool {
	switch {
	case white:
		fmt.Fprintf(&w.b, "%d. %s ", moveNo, n.SAN)
	case needNum:
		fmt.Fprintf(&w.b, "%d... %s ", moveNo, n.SAN)
	default:
		w.b.WriteString(n.SAN + " ")
	}
	if w.opts.ShowComments && strings.TrimSpace(n.Comment) != "" {
		w.b.WriteString("{" + strings.TrimSpace(n.Comment) + "} ")
		return true
	}
	return false
}

// variations writes the parenthesized siblings of a serialized move and
// reports whether any were written.
func (w *pgnWriter) variations(n *Node, moveNo int, white bool) bool {
	if n.parent == nil || len(n.parent.children) < 2 {
		return false
	}
	for _, sib := range n.parent.children {
		if sib == n {
			continue
		}
		w.b.WriteString("(")
		w.line(sib, moveNo, white)
		trimTrailingSpace(&w.b)
		w.b.WriteString(") ")
	}
	return true
}

// line writes a variation subtree following its mainline, with nested
// variations at every later branch point.
func (w *pgnWriter) line(start *Node, moveNo int, white bool) {
	needNum := true
	first := true
	for n := start; n != nil; {
		needNum = w.move(n, needNum, moveNo, white)
		if w.opts.ShowVariations && !first {
			if w.variations(n, moveNo, white) {
				needNum = true
			}
		}
		if !white {
			moveNo++
		}
		white = !white
		first = false
		if len(n.children) == 0 {
			break
		}
		n = n.children[0]
	}
}

func trimTrailingSpace(b *strings.Builder) {
	s := b.String()
	if strings.HasSuffix(s, " ") {
		b.Reset()
		b.WriteString(strings.TrimRight(s, " "))
	}
}

// startingSide decodes side to move and full-move number from the root
// position string. Malformed or shorthand positions fall back to White / 1.
func startingSide(fen string) (white bool, moveNo int) {
	white, moveNo = true, 1
	fields := strings.Fields(fen)
	if len(fields) >= 2 && fields[1] == "b" {
		white = false
	}
	if len(fields) >= 6 {
		if n, err := strconv.Atoi(fields[5]); err == nil && n >= 1 {
			moveNo = n
		}
	}
	return white, moveNo
}
