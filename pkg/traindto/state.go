package traindto

// SessionState is a caller-facing snapshot of a training session.
type SessionState struct {
	SessionUUID string
	PuzzleID    string
	FEN         string
	Path        string
	MovesSAN    []string
	MovesUCI    []string
	PGN         string
	Solved      bool
	WrongTries  int
	MoveCount   int
}

// AnalysisLine is one aggregated engine line in display form.
type AnalysisLine struct {
	Index    int
	Depth    int
	ScoreCP  int
	Mate     int
	IsMate   bool
	Display  string
	MovesUCI []string
	TimedOut bool
}

// AnalysisState mirrors the coordinator's externally visible state.
type AnalysisState struct {
	Active   bool
	Loading  bool
	Position string
	Lines    []AnalysisLine
}
