package trainer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrDuplicateAttempt = errors.New("training attempt already archived")

// Attempt is one finished puzzle attempt, archived for later review.
type Attempt struct {
	ID          int64         `json:"id"`
	SessionUUID string        `json:"session_uuid"`
	PuzzleID    string        `json:"puzzle_id"`
	FEN         string        `json:"fen"`
	MovesUCI    []string      `json:"moves_uci"`
	MovesSAN    []string      `json:"moves_san"`
	PGN         string        `json:"pgn"`
	Solved      bool          `json:"solved"`
	WrongTries  int           `json:"wrong_tries"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	Duration    time.Duration `json:"-"`
}

type Repository interface {
	InsertAttempt(ctx context.Context, att *Attempt) (int64, error)
	GetRecentAttempts(ctx context.Context, limit int) ([]*Attempt, error)
	GetAttemptBySession(ctx context.Context, sessionUUID string) (*Attempt, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) InsertAttempt(ctx context.Context, att *Attempt) (int64, error) {
	if att == nil {
		return 0, fmt.Errorf("nil attempt payload")
	}

	movesUCI, err := json.Marshal(att.MovesUCI)
	if err != nil {
		return 0, fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(att.MovesSAN)
	if err != nil {
		return 0, fmt.Errorf("marshal moves_san: %w", err)
	}

	const query = `
		INSERT INTO training_attempts (
			session_uuid,
			puzzle_id,
			fen,
			moves_uci,
			moves_san,
			pgn,
			solved,
			wrong_tries,
			started_at,
			ended_at,
			duration_ms
		)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_uuid) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(
		ctx,
		query,
		att.SessionUUID,
		att.PuzzleID,
		att.FEN,
		movesUCI,
		movesSAN,
		att.PGN,
		att.Solved,
		att.WrongTries,
		att.StartedAt,
		att.EndedAt,
		att.Duration.Milliseconds(),
	).Scan(&id)
	if err == sql.ErrNoRows || (err == nil && !id.Valid) {
		return 0, ErrDuplicateAttempt
	}
	if err != nil {
		return 0, fmt.Errorf("insert training attempt: %w", err)
	}
	return id.Int64, nil
}

func (r *repository) GetRecentAttempts(ctx context.Context, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT
			id,
			session_uuid,
			puzzle_id,
			fen,
			moves_uci,
			moves_san,
			pgn,
			solved,
			wrong_tries,
			started_at,
			ended_at,
			duration_ms
		FROM training_attempts
		ORDER BY ended_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select training attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]*Attempt, 0, limit)
	for rows.Next() {
		att, err := scanAttempt(rows.Scan)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, att)
	}
	return attempts, rows.Err()
}

func (r *repository) GetAttemptBySession(ctx context.Context, sessionUUID string) (*Attempt, error) {
	const query = `
		SELECT
			id,
			session_uuid,
			puzzle_id,
			fen,
			moves_uci,
			moves_san,
			pgn,
			solved,
			wrong_tries,
			started_at,
			ended_at,
			duration_ms
		FROM training_attempts
		WHERE session_uuid = $1
		LIMIT 1`

	att, err := scanAttempt(r.db.QueryRowContext(ctx, query, sessionUUID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return att, nil
}

func scanAttempt(scan func(dest ...any) error) (*Attempt, error) {
	var (
		att          Attempt
		movesUCIJSON []byte
		movesSANJSON []byte
		durationMS   sql.NullInt64
	)
	err := scan(
		&att.ID,
		&att.SessionUUID,
		&att.PuzzleID,
		&att.FEN,
		&movesUCIJSON,
		&movesSANJSON,
		&att.PGN,
		&att.Solved,
		&att.WrongTries,
		&att.StartedAt,
		&att.EndedAt,
		&durationMS,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan training attempt: %w", err)
	}
	if durationMS.Valid {
		att.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	if err := json.Unmarshal(movesUCIJSON, &att.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	if err := json.Unmarshal(movesSANJSON, &att.MovesSAN); err != nil {
		return nil, fmt.Errorf("unmarshal moves_san: %w", err)
	}
	return &att, nil
}
