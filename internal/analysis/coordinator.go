// Package analysis turns "the position of interest changed" into supervised
// engine searches: one active request at a time, newer requests supersede
// older ones, streaming multi-line output is aggregated monotonically, and
// results are translated into human notation before they are published.
package analysis

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/castlight/chess-trainer/internal/engine/uci"
	"github.com/castlight/chess-trainer/internal/rules"
)

var (
	ErrNoResult   = errors.New("analysis: no result available")
	ErrNoSuchLine = errors.New("analysis: no line with that index")
)

type phase int

const (
	phaseRequested phase = iota
	phaseStreaming
	phaseResolved
	phaseSuperseded
	phaseTimedOut
	phaseFaulted
)

// request is the single in-flight analysis. Incoming protocol events carry no
// request identity, so correlation is purely "is this the currently active
// request": the active flag and generation close the door on stale events.
type request struct {
	gen      uint64
	position string
	opts     Options
	active   bool
	phase    phase
	lines    map[int]Line
	timer    *time.Timer
}

type Config struct {
	DefaultDepth          int
	DefaultMoveTimeMillis int
	DefaultLines          int
	Timeout               TimeoutPolicy
	Logger                *zap.Logger
}

type Coordinator struct {
	session *uci.Session
	oracle  *rules.Oracle
	cache   *Cache
	cfg     Config
	logger  *zap.Logger

	mu           sync.Mutex
	gen          uint64
	cur          *request
	last         *Result
	subs         map[int]func(Result)
	nextSub      int
	pendingStale int // best-move lines owed by searches we walked away from
}

func NewCoordinator(session *uci.Session, oracle *rules.Oracle, cache *Cache, cfg Config) *Coordinator {
	if cfg.DefaultLines <= 0 {
		cfg.DefaultLines = 1
	}
	if cfg.DefaultDepth <= 0 && cfg.DefaultMoveTimeMillis <= 0 {
		cfg.DefaultDepth = 18
	}
	if cfg.Timeout == (TimeoutPolicy{}) {
		cfg.Timeout = DefaultTimeoutPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		session: session,
		oracle:  oracle,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
		subs:    make(map[int]func(Result)),
	}
}

// NewGame abandons any in-flight request and resets the engine's game state.
// Called when the caller switches to an unrelated position.
func (c *Coordinator) NewGame() error {
	c.Stop()
	return c.session.NewGame()
}

// Subscribe registers a listener for emitted results and returns its
// unsubscribe function.
func (c *Coordinator) Subscribe(fn func(Result)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Start begins analyzing the given position, superseding any request still in
// flight. The result arrives through subscribers; Start itself returns once
// the search commands are issued (or a cached result was published).
func (c *Coordinator) Start(ctx context.Context, position string, opts Options) error {
	opts = c.normalize(opts)

	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, position, opts); ok {
			c.mu.Lock()
			superseded := c.supersedeLocked()
			c.gen++
			cached.Generation = c.gen
			c.cur = nil
			c.last = cached
			subs := c.subscribersLocked()
			c.mu.Unlock()
			if superseded {
				_ = c.session.Stop()
			}
			c.logger.Debug("analysis_cache_hit", zap.String("position", position))
			emit(subs, *cached)
			return nil
		}
	}

	c.mu.Lock()
	superseded := c.supersedeLocked()
	c.gen++
	req := &request{
		gen:      c.gen,
		position: position,
		opts:     opts,
		active:   true,
		phase:    phaseRequested,
		lines:    make(map[int]Line),
	}
	c.cur = req
	c.mu.Unlock()

	if superseded {
		if err := c.session.Stop(); err != nil {
			c.abandon(req)
			return err
		}
	}
	if err := c.session.SetOption("MultiPV", strconv.Itoa(opts.Lines)); err != nil {
		c.abandon(req)
		return err
	}
	if err := c.session.Position(position); err != nil {
		c.abandon(req)
		return err
	}

	c.session.SetListener(&reqListener{c: c, gen: req.gen})
	if err := c.session.Go(opts.Depth, opts.MoveTimeMillis); err != nil {
		c.abandon(req)
		return err
	}

	budget := c.cfg.Timeout.Budget(opts)
	gen := req.gen
	timer := time.AfterFunc(budget, func() { c.onTimeout(gen) })
	c.mu.Lock()
	if c.cur == req && req.active {
		req.timer = timer
	} else {
		timer.Stop()
	}
	c.mu.Unlock()

	c.logger.Info("analysis_start",
		zap.Uint64("generation", gen),
		zap.String("position", position),
		zap.Int("lines", opts.Lines),
		zap.Int("depth", opts.Depth),
		zap.Duration("budget", budget),
	)
	return nil
}

// Stop abandons the active request: its timer is cancelled, the engine is
// asked to stop, and any partial aggregation is discarded without emission.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	req := c.cur
	if req == nil || !req.active {
		c.mu.Unlock()
		return
	}
	req.active = false
	req.phase = phaseSuperseded
	if req.timer != nil {
		req.timer.Stop()
	}
	c.pendingStale++
	c.cur = nil
	c.mu.Unlock()

	_ = c.session.Stop()
	c.logger.Info("analysis_stop", zap.Uint64("generation", req.gen))
}

// GetState reports the externally visible coordinator state. While a request
// is streaming, its partial aggregation is exposed.
func (c *Coordinator) GetState() Snapshot {
	c.mu.Lock()
	var snap Snapshot
	var partial []Line
	if c.cur != nil && c.cur.active {
		snap.Active = true
		snap.Loading = len(c.cur.lines) == 0
		snap.Position = c.cur.position
		partial = collectLines(c.cur.lines)
	} else if c.last != nil {
		snap.Position = c.last.Position
		snap.Lines = append([]Line(nil), c.last.Lines...)
	}
	position := snap.Position
	c.mu.Unlock()

	if partial != nil {
		for i := range partial {
			partial[i].Display = translateLine(c.oracle, position, partial[i].MovesUCI)
		}
		snap.Lines = partial
	}
	return snap
}

// LastResult returns the most recently emitted result, if any.
func (c *Coordinator) LastResult() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Result{}, false
	}
	return *c.last, true
}

// PlayMoveFromLine returns the first move of the aggregated line with the
// given index, in engine notation, for the caller to apply to its game.
func (c *Coordinator) PlayMoveFromLine(index int) (string, error) {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()
	if last == nil {
		return "", ErrNoResult
	}
	for _, ln := range last.Lines {
		if ln.Index == index && len(ln.MovesUCI) > 0 {
			return ln.MovesUCI[0], nil
		}
	}
	return "", ErrNoSuchLine
}

func (c *Coordinator) normalize(opts Options) Options {
	if opts.Lines <= 0 {
		opts.Lines = c.cfg.DefaultLines
	}
	if opts.Depth <= 0 && opts.MoveTimeMillis <= 0 {
		opts.Depth = c.cfg.DefaultDepth
		opts.MoveTimeMillis = c.cfg.DefaultMoveTimeMillis
	}
	return opts
}

// supersedeLocked deactivates the in-flight request so its eventual output is
// dropped. No result is emitted for a superseded request. Callers hold c.mu
// and must ask the engine to stop after releasing it: a failed stop faults the
// session, which calls back into the coordinator and would re-take the lock.
// Reports whether a live search was superseded.
func (c *Coordinator) supersedeLocked() bool {
	req := c.cur
	if req == nil || !req.active {
		return false
	}
	req.active = false
	req.phase = phaseSuperseded
	if req.timer != nil {
		req.timer.Stop()
	}
	c.pendingStale++
	c.logger.Debug("analysis_superseded", zap.Uint64("generation", req.gen))
	return true
}

// abandon deactivates a request whose setup commands failed.
func (c *Coordinator) abandon(req *request) {
	c.mu.Lock()
	if c.cur == req {
		req.active = false
		req.phase = phaseFaulted
		if req.timer != nil {
			req.timer.Stop()
		}
		c.cur = nil
	}
	c.mu.Unlock()
}

func (c *Coordinator) onInfo(gen uint64, line string) {
	info, ok := uci.ParseInfo(line)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	req := c.cur
	if req == nil || !req.active || req.gen != gen {
		return
	}
	req.phase = phaseStreaming
	if prev, exists := req.lines[info.MultiPV]; exists && prev.Depth >= info.Depth {
		return // monotonic merge: a later, shallower update is stale
	}
	req.lines[info.MultiPV] = Line{
		Index:    info.MultiPV,
		Depth:    info.Depth,
		Score:    Score{CP: info.ScoreCP, Mate: info.Mate, IsMate: info.IsMate},
		MovesUCI: info.PV,
	}
}

func (c *Coordinator) onBestMove(gen uint64, move string) {
	c.mu.Lock()
	if c.pendingStale > 0 {
		// A search we walked away from still owed its terminal line. The
		// session cleared its listener slot on it, so re-register for the
		// live search or its output would be lost.
		c.pendingStale--
		req := c.cur
		c.mu.Unlock()
		if req != nil && req.active {
			c.session.SetListener(&reqListener{c: c, gen: req.gen})
		}
		c.logger.Debug("analysis_stale_bestmove_dropped", zap.String("move", move))
		return
	}
	req := c.cur
	if req == nil || !req.active || req.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("analysis_stale_bestmove_dropped", zap.String("move", move))
		return
	}
	req.active = false
	req.phase = phaseResolved
	if req.timer != nil {
		req.timer.Stop()
	}
	res := &Result{
		Generation: req.gen,
		Position:   req.position,
		Lines:      collectLines(req.lines),
		BestMove:   move,
	}
	opts := req.opts
	c.mu.Unlock()

	for i := range res.Lines {
		res.Lines[i].Display = translateLine(c.oracle, res.Position, res.Lines[i].MovesUCI)
	}
	if c.cache != nil && move != uci.BestMoveNone {
		c.cache.Put(context.Background(), res.Position, opts, res)
	}

	c.mu.Lock()
	c.last = res
	subs := c.subscribersLocked()
	c.mu.Unlock()

	emit(subs, *res)
	c.logger.Info("analysis_resolved",
		zap.Uint64("generation", res.Generation),
		zap.String("best_move", move),
		zap.Int("lines", len(res.Lines)),
	)
}

func (c *Coordinator) onTimeout(gen uint64) {
	c.mu.Lock()
	req := c.cur
	if req == nil || !req.active || req.gen != gen {
		c.mu.Unlock()
		return
	}
	req.active = false
	req.phase = phaseTimedOut
	c.pendingStale++
	res := &Result{
		Generation: req.gen,
		Position:   req.position,
		Lines:      collectLines(req.lines),
		TimedOut:   true,
	}
	c.mu.Unlock()

	_ = c.session.Stop()
	for i := range res.Lines {
		res.Lines[i].Display = translateLine(c.oracle, res.Position, res.Lines[i].MovesUCI)
	}
	if len(res.Lines) == 0 {
		// Degraded placeholder so callers are not left hanging.
		res.Lines = []Line{{Index: 1, TimedOut: true}}
	}

	c.mu.Lock()
	c.last = res
	subs := c.subscribersLocked()
	c.mu.Unlock()

	emit(subs, *res)
	c.logger.Warn("analysis_timeout", zap.Uint64("generation", gen), zap.String("position", res.Position))
}

func (c *Coordinator) onFault(gen uint64, err error) {
	c.mu.Lock()
	c.pendingStale = 0 // the engine is gone; nothing stale will arrive
	req := c.cur
	if req == nil || !req.active || req.gen != gen {
		c.mu.Unlock()
		return
	}
	req.active = false
	req.phase = phaseFaulted
	if req.timer != nil {
		req.timer.Stop()
	}
	res := &Result{
		Generation: req.gen,
		Position:   req.position,
		Lines:      collectLines(req.lines),
		Faulted:    true,
	}
	c.last = res
	subs := c.subscribersLocked()
	c.mu.Unlock()

	emit(subs, *res)
	c.logger.Error("analysis_engine_fault", zap.Uint64("generation", gen), zap.Error(err))
}

func (c *Coordinator) subscribersLocked() []func(Result) {
	subs := make([]func(Result), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	return subs
}

func emit(subs []func(Result), res Result) {
	for _, fn := range subs {
		fn(res)
	}
}

func collectLines(m map[int]Line) []Line {
	if len(m) == 0 {
		return nil
	}
	out := make([]Line, 0, len(m))
	for _, ln := range m {
		out = append(out, ln)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// reqListener adapts the session's listener slot to one generation of
// analysis request.
type reqListener struct {
	c   *Coordinator
	gen uint64
}

func (l *reqListener) HandleInfo(line string)     { l.c.onInfo(l.gen, line) }
func (l *reqListener) HandleBestMove(move string) { l.c.onBestMove(l.gen, move) }
func (l *reqListener) HandleFault(err error)      { l.c.onFault(l.gen, err) }
