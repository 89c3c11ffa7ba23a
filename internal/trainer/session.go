// Package trainer drives puzzle training sessions: it loads a puzzle into a
// move tree, grades the solver's guesses against the scripted solution, plays
// the scripted replies, and archives finished attempts.
package trainer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castlight/chess-trainer/internal/analysis"
	"github.com/castlight/chess-trainer/internal/movetree"
	"github.com/castlight/chess-trainer/internal/rules"
	"github.com/castlight/chess-trainer/pkg/traindto"
)

var ErrNoActivePuzzle = errors.New("trainer: no puzzle loaded")

// Verdict is the outcome of one guess.
type Verdict struct {
	Correct  bool
	Solved   bool
	MoveSAN  string
	ReplySAN string
	ReplyUCI string
}

// Session is one solver working through puzzles. Guesses are graded against
// the puzzle's solution line; wrong guesses are rolled back so the tree only
// ever holds the accepted line plus post-solve exploration.
type Session struct {
	ID string

	oracle *rules.Oracle
	coord  *analysis.Coordinator
	repo   Repository
	logger *zap.Logger

	mu         sync.Mutex
	puzzle     *Puzzle
	tree       *movetree.Tree
	progress   int
	wrongTries int
	solved     bool
	archived   bool
	startedAt  time.Time
}

// NewSession wires a session. coord and repo may be nil: analysis and
// archiving are then disabled.
func NewSession(oracle *rules.Oracle, coord *analysis.Coordinator, repo Repository, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		ID:     uuid.NewString(),
		oracle: oracle,
		coord:  coord,
		repo:   repo,
		logger: logger,
	}
}

// LoadPuzzle resets the session onto a new puzzle.
func (s *Session) LoadPuzzle(p *Puzzle) error {
	if p == nil || strings.TrimSpace(p.FEN) == "" || len(p.Solution) == 0 {
		return ErrNoActivePuzzle
	}
	if err := s.oracle.Validate(p.FEN); err != nil {
		return err
	}
	s.mu.Lock()
	s.puzzle = p
	s.tree = movetree.New(p.FEN)
	s.progress = 0
	s.wrongTries = 0
	s.solved = false
	s.archived = false
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.coord != nil {
		if err := s.coord.NewGame(); err != nil {
			s.logger.Warn("engine_reset_failed", zap.Error(err))
		}
	}
	s.logger.Info("puzzle_loaded",
		zap.String("session", s.ID),
		zap.String("puzzle", p.ID),
		zap.Int("solution_len", len(p.Solution)),
	)
	return nil
}

// TryMove grades one guess in engine notation. A correct guess is committed
// to the tree and the scripted reply is played immediately after it; a wrong
// guess is rolled back. After the puzzle is solved, moves are free
// exploration and always accepted when legal.
func (s *Session) TryMove(ctx context.Context, uciMove string) (Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.puzzle == nil {
		return Verdict{}, ErrNoActivePuzzle
	}

	applied, err := s.oracle.ApplyUCI(s.tree.CurrentPosition(), uciMove)
	if err != nil {
		if errors.Is(err, rules.ErrIllegalMove) {
			return Verdict{}, traindto.DomainError{Code: traindto.CodeIllegalMove, Message: "illegal move: " + uciMove}
		}
		return Verdict{}, err
	}

	if s.solved {
		if _, err := s.tree.AddNode(record(applied)); err != nil {
			return Verdict{}, err
		}
		return Verdict{Correct: true, Solved: true, MoveSAN: applied.SAN}, nil
	}

	expected := strings.ToLower(strings.TrimSpace(s.puzzle.Solution[s.progress]))
	if applied.UCI != expected {
		// Show the guess on the board, then take it back.
		if _, err := s.tree.AddNode(record(applied)); err != nil {
			return Verdict{}, err
		}
		if err := s.tree.UndoLast(); err != nil {
			return Verdict{}, err
		}
		s.wrongTries++
		s.logger.Debug("guess_rejected",
			zap.String("session", s.ID),
			zap.String("guess", applied.UCI),
			zap.Int("wrong_tries", s.wrongTries),
		)
		return Verdict{Correct: false, MoveSAN: applied.SAN}, nil
	}

	if _, err := s.tree.AddNode(record(applied)); err != nil {
		return Verdict{}, err
	}
	s.progress++
	verdict := Verdict{Correct: true, MoveSAN: applied.SAN}

	if s.progress < len(s.puzzle.Solution) {
		reply, err := s.oracle.ApplyUCI(s.tree.CurrentPosition(), s.puzzle.Solution[s.progress])
		if err != nil {
			return Verdict{}, err
		}
		if _, err := s.tree.AddNode(record(reply)); err != nil {
			return Verdict{}, err
		}
		s.progress++
		verdict.ReplySAN = reply.SAN
		verdict.ReplyUCI = reply.UCI
	}

	if s.progress >= len(s.puzzle.Solution) {
		s.solved = true
		verdict.Solved = true
		s.logger.Info("puzzle_solved",
			zap.String("session", s.ID),
			zap.String("puzzle", s.puzzle.ID),
			zap.Int("wrong_tries", s.wrongTries),
		)
		s.archiveLocked(ctx)
	}
	return verdict, nil
}

// PlayAnalysisMove applies the first move of the given analysis line to the
// tree, as a variation if the spot already has a mainline continuation.
func (s *Session) PlayAnalysisMove(index int) (string, error) {
	if s.coord == nil {
		return "", analysis.ErrNoResult
	}
	mv, err := s.coord.PlayMoveFromLine(index)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree == nil {
		return "", ErrNoActivePuzzle
	}
	applied, err := s.oracle.ApplyUCI(s.tree.CurrentPosition(), mv)
	if err != nil {
		return "", err
	}
	if _, err := s.tree.AddNode(record(applied)); err != nil {
		return "", err
	}
	return applied.SAN, nil
}

// Analyze asks the engine for lines on the current position.
func (s *Session) Analyze(ctx context.Context, opts analysis.Options) error {
	if s.coord == nil {
		return nil
	}
	s.mu.Lock()
	if s.tree == nil {
		s.mu.Unlock()
		return ErrNoActivePuzzle
	}
	fen := s.tree.CurrentPosition()
	s.mu.Unlock()
	// Mate and stalemate positions have nothing to search.
	movable, err := s.oracle.HasLegalMoves(fen)
	if err != nil {
		return err
	}
	if !movable {
		return nil
	}
	return s.coord.Start(ctx, fen, opts)
}

func (s *Session) Back() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree == nil {
		return false
	}
	return s.tree.Back()
}

func (s *Session) Forward(variation int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree == nil {
		return false
	}
	return s.tree.Forward(variation)
}

func (s *Session) ToStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree != nil {
		s.tree.ToStart()
	}
}

func (s *Session) ToEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree != nil {
		s.tree.ToEnd()
	}
}

func (s *Session) GoToPath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree == nil {
		return ErrNoActivePuzzle
	}
	if err := s.tree.NavigateToPath(path); err != nil {
		return traindto.DomainError{Code: traindto.CodePathNotFound, Message: err.Error()}
	}
	return nil
}

// LegalTargets lists destination squares for the piece on from, for board
// highlighting.
func (s *Session) LegalTargets(from string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree == nil {
		return nil, ErrNoActivePuzzle
	}
	return s.oracle.LegalTargets(s.tree.CurrentPosition(), from)
}

func (s *Session) PGN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree == nil {
		return ""
	}
	return s.tree.PGN(movetree.PGNOptions{ShowVariations: true, ShowComments: true})
}

// State snapshots the session for callers.
func (s *Session) State() traindto.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := traindto.SessionState{
		SessionUUID: s.ID,
		Solved:      s.solved,
		WrongTries:  s.wrongTries,
	}
	if s.puzzle != nil {
		st.PuzzleID = s.puzzle.ID
	}
	if s.tree != nil {
		st.FEN = s.tree.CurrentPosition()
		st.Path = s.tree.CurrentPath()
		st.MovesSAN, st.MovesUCI = mainlineMoves(s.tree)
		st.MoveCount = len(st.MovesSAN)
		st.PGN = s.tree.PGN(movetree.PGNOptions{ShowVariations: true, ShowComments: true})
	}
	return st
}

// AnalysisState mirrors the coordinator's state for callers.
func (s *Session) AnalysisState() traindto.AnalysisState {
	if s.coord == nil {
		return traindto.AnalysisState{}
	}
	snap := s.coord.GetState()
	out := traindto.AnalysisState{
		Active:   snap.Active,
		Loading:  snap.Loading,
		Position: snap.Position,
	}
	for _, ln := range snap.Lines {
		out.Lines = append(out.Lines, traindto.AnalysisLine{
			Index:    ln.Index,
			Depth:    ln.Depth,
			ScoreCP:  ln.Score.CP,
			Mate:     ln.Score.Mate,
			IsMate:   ln.Score.IsMate,
			Display:  ln.Display,
			MovesUCI: ln.MovesUCI,
			TimedOut: ln.TimedOut,
		})
	}
	return out
}

// archiveLocked persists the finished attempt. Callers hold s.mu.
func (s *Session) archiveLocked(ctx context.Context) {
	if s.repo == nil || s.archived {
		return
	}
	san, uci := mainlineMoves(s.tree)
	now := time.Now()
	att := &Attempt{
		SessionUUID: s.ID + ":" + s.puzzle.ID,
		PuzzleID:    s.puzzle.ID,
		FEN:         s.puzzle.FEN,
		MovesUCI:    uci,
		MovesSAN:    san,
		PGN:         s.tree.PGN(movetree.PGNOptions{}),
		Solved:      s.solved,
		WrongTries:  s.wrongTries,
		StartedAt:   s.startedAt,
		EndedAt:     now,
		Duration:    now.Sub(s.startedAt),
	}
	if _, err := s.repo.InsertAttempt(ctx, att); err != nil && !errors.Is(err, ErrDuplicateAttempt) {
		s.logger.Warn("attempt_archive_failed", zap.String("session", s.ID), zap.Error(err))
	}
	s.archived = true
}

func record(a rules.Applied) movetree.MoveRecord {
	return movetree.MoveRecord{
		SAN:            a.SAN,
		UCI:            a.UCI,
		PositionBefore: a.FENBefore,
		PositionAfter:  a.FENAfter,
	}
}

// mainlineMoves walks the first-child chain from the root.
func mainlineMoves(t *movetree.Tree) (san, uci []string) {
	for n := t.Root(); ; {
		children := n.Children()
		if len(children) == 0 {
			return san, uci
		}
		n = children[0]
		san = append(san, n.SAN)
		uci = append(uci, n.UCI)
	}
}
