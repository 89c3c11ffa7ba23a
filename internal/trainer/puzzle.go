package trainer

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrNoPuzzles = errors.New("trainer: puzzle source is empty")

// Puzzle is a training position: a starting FEN and the expected solution
// line in engine notation. Moves at even offsets belong to the solver, odd
// offsets are the scripted replies.
type Puzzle struct {
	ID       string   `json:"id"`
	FEN      string   `json:"fen"`
	Solution []string `json:"solution"`
	Themes   []string `json:"themes,omitempty"`
	Rating   int      `json:"rating,omitempty"`
}

// PuzzleSource hands out puzzles to train against.
type PuzzleSource interface {
	Next(ctx context.Context) (*Puzzle, error)
}

// StaticSource cycles through a fixed puzzle list.
type StaticSource struct {
	mu      sync.Mutex
	puzzles []Puzzle
	next    int
}

func NewStaticSource(puzzles []Puzzle) *StaticSource {
	kept := make([]Puzzle, 0, len(puzzles))
	for _, p := range puzzles {
		if strings.TrimSpace(p.FEN) == "" || len(p.Solution) == 0 {
			continue
		}
		kept = append(kept, p)
	}
	return &StaticSource{puzzles: kept}
}

func (s *StaticSource) Next(ctx context.Context) (*Puzzle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.puzzles) == 0 {
		return nil, ErrNoPuzzles
	}
	p := s.puzzles[s.next%len(s.puzzles)]
	s.next++
	return &p, nil
}
