package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	chesslib "github.com/corentings/chess/v2"
)

var (
	ErrInvalidPosition = errors.New("invalid position string")
	ErrIllegalMove     = errors.New("illegal move")
)

// Applied is the outcome of replaying one move on a position.
type Applied struct {
	UCI       string
	SAN       string
	FENBefore string
	FENAfter  string
}

// Oracle answers move-legality questions against FEN position strings. It is
// stateless; every call reconstructs the position it needs.
type Oracle struct{}

func NewOracle() *Oracle { return &Oracle{} }

func (o *Oracle) gameFromFEN(fen string) (*chesslib.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return chesslib.NewGame(), nil
	}
	option, err := chesslib.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPosition, fen)
	}
	return chesslib.NewGame(option), nil
}

// Validate reports whether fen parses as a complete position string.
func (o *Oracle) Validate(fen string) error {
	_, err := o.gameFromFEN(fen)
	return err
}

// ApplyUCI replays a single engine-notation move on fen.
func (o *Oracle) ApplyUCI(fen, uci string) (Applied, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if uci == "" {
		return Applied{}, ErrIllegalMove
	}
	game, err := o.gameFromFEN(fen)
	if err != nil {
		return Applied{}, err
	}
	pos := game.Position()
	mv, err := chesslib.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	san := chesslib.AlgebraicNotation{}.Encode(pos, mv)
	if err := game.PushNotationMove(uci, chesslib.UCINotation{}, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	return Applied{
		UCI:       uci,
		SAN:       san,
		FENBefore: fen,
		FENAfter:  game.FEN(),
	}, nil
}

// ApplySAN replays a single human-notation move on fen.
func (o *Oracle) ApplySAN(fen, san string) (Applied, error) {
	san = strings.TrimSpace(san)
	if san == "" {
		return Applied{}, ErrIllegalMove
	}
	game, err := o.gameFromFEN(fen)
	if err != nil {
		return Applied{}, err
	}
	pos := game.Position()
	mv, err := chesslib.AlgebraicNotation{}.Decode(pos, san)
	if err != nil {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, san)
	}
	uci := mv.String()
	if err := game.Move(mv, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, san)
	}
	return Applied{
		UCI:       uci,
		SAN:       san,
		FENBefore: fen,
		FENAfter:  game.FEN(),
	}, nil
}

// ApplySquares builds a UCI move from origin/destination squares (plus an
// optional promotion letter) and replays it. This is the entry point for
// board-widget move attempts.
func (o *Oracle) ApplySquares(fen, from, to, promotion string) (Applied, error) {
	uci := strings.ToLower(strings.TrimSpace(from) + strings.TrimSpace(to) + strings.TrimSpace(promotion))
	return o.ApplyUCI(fen, uci)
}

// LegalTargets returns the destination squares reachable from the given
// origin square, for highlighting on a board widget.
func (o *Oracle) LegalTargets(fen, from string) ([]string, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	game, err := o.gameFromFEN(fen)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}) // promotion variants share a destination
	var targets []string
	for _, mv := range game.ValidMoves() {
		if mv.S1().String() != from {
			continue
		}
		to := mv.S2().String()
		if _, dup := seen[to]; dup {
			continue
		}
		seen[to] = struct{}{}
		targets = append(targets, to)
	}
	return targets, nil
}

// HasLegalMoves reports whether the side to move has any legal move.
func (o *Oracle) HasLegalMoves(fen string) (bool, error) {
	game, err := o.gameFromFEN(fen)
	if err != nil {
		return false, err
	}
	return len(game.ValidMoves()) > 0, nil
}

// WhiteToMove parses the side-to-move field of fen.
func WhiteToMove(fen string) (bool, error) {
	fields := strings.Fields(strings.TrimSpace(fen))
	if len(fields) < 2 {
		return false, ErrInvalidPosition
	}
	switch fields[1] {
	case "w":
		return true, nil
	case "b":
		return false, nil
	}
	return false, ErrInvalidPosition
}

// FullMoveNumber parses the full-move counter field of fen. A position string
// without counters yields 1.
func FullMoveNumber(fen string) (int, error) {
	fields := strings.Fields(strings.TrimSpace(fen))
	if len(fields) < 2 {
		return 0, ErrInvalidPosition
	}
	if len(fields) < 6 {
		return 1, nil
	}
	n, err := strconv.Atoi(fields[5])
	if err != nil || n < 1 {
		return 0, ErrInvalidPosition
	}
	return n, nil
}

// BoardField returns the piece-placement field of fen, used for repetition
// comparisons where clocks and rights are irrelevant.
func BoardField(fen string) string {
	fields := strings.Fields(strings.TrimSpace(fen))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
