package analysis

import (
	"fmt"
	"strings"

	"github.com/castlight/chess-trainer/internal/rules"
)

// translateLine replays an engine move sequence from fen and renders it in
// human notation with correct move numbering, honoring the position's side
// to move and full-move counter. If a token fails to replay, translation
// stops there and the remaining tokens are shown untranslated.
func translateLine(oracle *rules.Oracle, fen string, movesUCI []string) string {
	if len(movesUCI) == 0 {
		return ""
	}

	white, err1 := rules.WhiteToMove(fen)
	moveNo, err2 := rules.FullMoveNumber(fen)
	if err1 != nil || err2 != nil {
		return strings.Join(movesUCI, " ")
	}

	var b strings.Builder
	cur := fen
	for i, uci := range movesUCI {
		applied, err := oracle.ApplyUCI(cur, uci)
		if err != nil {
			// Fall back to the raw tail rather than dropping the line.
			for _, raw := range movesUCI[i:] {
				b.WriteString(raw + " ")
			}
			break
		}
		switch {
		case white:
			fmt.Fprintf(&b, "%d. %s ", moveNo, applied.SAN)
		case i == 0:
			fmt.Fprintf(&b, "%d... %s ", moveNo, applied.SAN)
		default:
			b.WriteString(applied.SAN + " ")
		}
		if !white {
			moveNo++
		}
		white = !white
		cur = applied.FENAfter
	}
	return strings.TrimSpace(b.String())
}
