package analysis

import (
	"testing"

	"github.com/castlight/chess-trainer/internal/rules"
)

func TestTranslateLineWhiteToMove(t *testing.T) {
	oracle := rules.NewOracle()
	got := translateLine(oracle, startFEN, []string{"e2e4", "e7e5", "g1f3"})
	want := "1. e4 e5 2. Nf3"
	if got != want {
		t.Fatalf("translateLine = %q, want %q", got, want)
	}
}

func TestTranslateLineBlackToMoveUsesEllipsis(t *testing.T) {
	oracle := rules.NewOracle()
	fen := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	got := translateLine(oracle, fen, []string{"e7e5", "g1f3"})
	want := "1... e5 2. Nf3"
	if got != want {
		t.Fatalf("translateLine = %q, want %q", got, want)
	}
}

func TestTranslateLineMidgameNumbering(t *testing.T) {
	oracle := rules.NewOracle()
	fen := "6k1/5ppp/8/8/8/8/5PPP/3R2K1 w - - 0 31"
	got := translateLine(oracle, fen, []string{"d1d8"})
	want := "31. Rd8#"
	if got != want {
		t.Fatalf("translateLine = %q, want %q", got, want)
	}
}

func TestTranslateLineStopsOnBadToken(t *testing.T) {
	oracle := rules.NewOracle()
	got := translateLine(oracle, startFEN, []string{"e2e4", "e2e4", "g1f3"})
	want := "1. e4 e2e4 g1f3"
	if got != want {
		t.Fatalf("translateLine = %q, want %q", got, want)
	}
}

func TestTranslateLineEmpty(t *testing.T) {
	oracle := rules.NewOracle()
	if got := translateLine(oracle, startFEN, nil); got != "" {
		t.Fatalf("translateLine = %q, want empty", got)
	}
}
