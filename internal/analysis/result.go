package analysis

import "time"

// Options bound one analysis request.
type Options struct {
	Depth          int
	MoveTimeMillis int
	Lines          int // MultiPV line count
}

// Score is a centipawn value or a mate distance, from the side to move.
type Score struct {
	CP     int  `json:"cp"`
	Mate   int  `json:"mate,omitempty"`
	IsMate bool `json:"is_mate,omitempty"`
}

// Line is the best-known principal variation for one MultiPV index.
type Line struct {
	Index    int      `json:"index"`
	Depth    int      `json:"depth"`
	Score    Score    `json:"score"`
	MovesUCI []string `json:"moves_uci"`
	Display  string   `json:"display,omitempty"` // human notation, possibly partial
	TimedOut bool     `json:"timed_out,omitempty"`
}

// Result is the outcome of one analysis request: the aggregated lines sorted
// by index plus the engine's best move. TimedOut results carry whatever was
// collected before the budget ran out; Faulted results carry the fault.
type Result struct {
	Generation uint64 `json:"generation"`
	Position   string `json:"position"`
	Lines      []Line `json:"lines"`
	BestMove   string `json:"best_move"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Faulted    bool   `json:"faulted,omitempty"`
}

// Snapshot is the externally visible coordinator state.
type Snapshot struct {
	Active   bool
	Loading  bool
	Position string
	Lines    []Line
}

// TimeoutPolicy computes the wall-clock budget for one request. Larger depth,
// an explicit movetime, and more parallel lines all extend the budget so a
// legitimate long search is not killed prematurely. The exact shape is
// tuning, not correctness; every term is a knob.
type TimeoutPolicy struct {
	Base           time.Duration
	PerDepth       time.Duration
	PerLine        time.Duration
	MoveTimeFactor int
	Max            time.Duration
}

func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Base:           6 * time.Second,
		PerDepth:       300 * time.Millisecond,
		PerLine:        2 * time.Second,
		MoveTimeFactor: 3,
		Max:            60 * time.Second,
	}
}

// Budget returns the timeout for a request with the given options.
func (p TimeoutPolicy) Budget(o Options) time.Duration {
	d := p.Base
	if o.MoveTimeMillis > 0 {
		factor := p.MoveTimeFactor
		if factor <= 0 {
			factor = 1
		}
		d = time.Duration(o.MoveTimeMillis)*time.Millisecond*time.Duration(factor) + p.Base
	} else if o.Depth > 0 {
		d = p.Base + time.Duration(o.Depth)*p.PerDepth
	}
	if o.Lines > 1 {
		d += time.Duration(o.Lines-1) * p.PerLine
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}
