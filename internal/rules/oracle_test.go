package rules

import (
	"errors"
	"testing"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestApplyUCI(t *testing.T) {
	o := NewOracle()
	applied, err := o.ApplyUCI(startFEN, "e2e4")
	if err != nil {
		t.Fatalf("ApplyUCI: %v", err)
	}
	if applied.SAN != "e4" {
		t.Fatalf("SAN = %q, want e4", applied.SAN)
	}
	if applied.UCI != "e2e4" {
		t.Fatalf("UCI = %q", applied.UCI)
	}
	if applied.FENBefore == applied.FENAfter {
		t.Fatal("position did not change")
	}
}

func TestApplyUCIIllegalMove(t *testing.T) {
	o := NewOracle()
	if _, err := o.ApplyUCI(startFEN, "e2e5"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
	if _, err := o.ApplyUCI(startFEN, ""); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("empty move err = %v, want ErrIllegalMove", err)
	}
}

func TestApplyUCIInvalidPosition(t *testing.T) {
	o := NewOracle()
	if _, err := o.ApplyUCI("not a position", "e2e4"); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("err = %v, want ErrInvalidPosition", err)
	}
}

func TestApplySAN(t *testing.T) {
	o := NewOracle()
	applied, err := o.ApplySAN(startFEN, "Nf3")
	if err != nil {
		t.Fatalf("ApplySAN: %v", err)
	}
	if applied.UCI != "g1f3" {
		t.Fatalf("UCI = %q, want g1f3", applied.UCI)
	}
}

func TestApplySquaresPromotion(t *testing.T) {
	o := NewOracle()
	fen := "8/4P1k1/8/8/8/8/8/4K3 w - - 0 1"
	applied, err := o.ApplySquares(fen, "e7", "e8", "q")
	if err != nil {
		t.Fatalf("ApplySquares: %v", err)
	}
	if applied.UCI != "e7e8q" {
		t.Fatalf("UCI = %q, want e7e8q", applied.UCI)
	}
}

func TestStartposShorthand(t *testing.T) {
	o := NewOracle()
	for _, fen := range []string{"", "startpos"} {
		if _, err := o.ApplyUCI(fen, "e2e4"); err != nil {
			t.Fatalf("ApplyUCI from %q: %v", fen, err)
		}
	}
}

func TestLegalTargets(t *testing.T) {
	o := NewOracle()
	targets, err := o.LegalTargets(startFEN, "e2")
	if err != nil {
		t.Fatalf("LegalTargets: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("targets = %v, want e3 and e4", targets)
	}
	seen := map[string]bool{}
	for _, sq := range targets {
		seen[sq] = true
	}
	if !seen["e3"] || !seen["e4"] {
		t.Fatalf("targets = %v", targets)
	}

	// Empty square has no moves.
	targets, err = o.LegalTargets(startFEN, "e4")
	if err != nil {
		t.Fatalf("LegalTargets: %v", err)
	}
	if len(targets) != 0 {
		t.Fatalf("targets from empty square = %v", targets)
	}
}

func TestHasLegalMoves(t *testing.T) {
	o := NewOracle()
	ok, err := o.HasLegalMoves(startFEN)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	// Back-rank mate: black has no moves.
	mated := "3R2k1/5ppp/8/8/8/8/5PPP/6K1 b - - 0 1"
	ok, err = o.HasLegalMoves(mated)
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestWhiteToMove(t *testing.T) {
	white, err := WhiteToMove(startFEN)
	if err != nil || !white {
		t.Fatalf("white=%v err=%v", white, err)
	}
	white, err = WhiteToMove("board b - - 0 12")
	if err != nil || white {
		t.Fatalf("white=%v err=%v", white, err)
	}
	if _, err := WhiteToMove("board"); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("err = %v", err)
	}
}

func TestFullMoveNumber(t *testing.T) {
	if n, err := FullMoveNumber(startFEN); err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if n, err := FullMoveNumber("board b - - 0 12"); err != nil || n != 12 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	// Shorthand positions without a counter default to 1.
	if n, err := FullMoveNumber("board w"); err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}
