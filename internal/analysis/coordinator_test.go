package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/castlight/chess-trainer/internal/engine/uci"
	"github.com/castlight/chess-trainer/internal/rules"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// fakeEngine is an in-memory transport that answers the handshake itself;
// search output is fed by the test.
type fakeEngine struct {
	mu     sync.Mutex
	sent   []string
	lines  chan string
	closed bool
	failOn string // commands with this prefix fail to send
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{lines: make(chan string, 64)}
}

func (f *fakeEngine) Send(line string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errors.New("transport closed")
	}
	f.sent = append(f.sent, line)
	fail := f.failOn != "" && strings.HasPrefix(line, f.failOn)
	f.mu.Unlock()
	if fail {
		return errors.New("engine process gone")
	}
	switch line {
	case "uci":
		f.feed("uciok")
	case "isready":
		f.feed("readyok")
	case "quit":
		_ = f.Close()
	}
	return nil
}

func (f *fakeEngine) feed(line string) { f.lines <- line }

func (f *fakeEngine) Lines() <-chan string { return f.lines }

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.lines)
	}
	return nil
}

func (f *fakeEngine) countSent(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

func newTestCoordinator(t *testing.T, policy TimeoutPolicy) (*Coordinator, *fakeEngine, chan Result) {
	t.Helper()
	eng := newFakeEngine()
	session := uci.NewSession(func() (uci.Transport, error) { return eng, nil }, uci.Config{
		HandshakeTimeout: 2 * time.Second,
		QuitGrace:        100 * time.Millisecond,
	})
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("session start: %v", err)
	}
	t.Cleanup(func() { _ = session.Terminate() })

	coord := NewCoordinator(session, rules.NewOracle(), nil, Config{
		DefaultDepth: 12,
		DefaultLines: 1,
		Timeout:      policy,
	})
	results := make(chan Result, 16)
	unsubscribe := coord.Subscribe(func(r Result) { results <- r })
	t.Cleanup(unsubscribe)
	return coord, eng, results
}

func slowPolicy() TimeoutPolicy {
	return TimeoutPolicy{Base: 10 * time.Second, Max: 10 * time.Second}
}

func awaitGo(t *testing.T, eng *fakeEngine, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if eng.countSent("go") >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("engine never received go command #%d", n)
}

func awaitResult(t *testing.T, results chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no result emitted")
		return Result{}
	}
}

func TestAnalysisResolvesMultiLine(t *testing.T) {
	coord, eng, results := newTestCoordinator(t, slowPolicy())

	if err := coord.Start(context.Background(), startFEN, Options{Depth: 8, Lines: 2}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitGo(t, eng, 1)

	eng.feed("info depth 8 multipv 2 score cp 20 pv d2d4 d7d5")
	eng.feed("info depth 8 multipv 1 score cp 34 pv e2e4 e7e5")
	eng.feed("bestmove e2e4 ponder e7e5")

	res := awaitResult(t, results)
	if res.BestMove != "e2e4" || res.TimedOut || res.Faulted {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(res.Lines))
	}
	if res.Lines[0].Index != 1 || res.Lines[1].Index != 2 {
		t.Fatalf("lines not sorted by index: %+v", res.Lines)
	}
	if res.Lines[0].Display != "1. e4 e5" {
		t.Fatalf("display = %q, want %q", res.Lines[0].Display, "1. e4 e5")
	}
	if res.Lines[1].Score.CP != 20 {
		t.Fatalf("line 2 score = %+v", res.Lines[1].Score)
	}
}

func TestDepthMergeIsMonotonic(t *testing.T) {
	coord, eng, results := newTestCoordinator(t, slowPolicy())

	if err := coord.Start(context.Background(), startFEN, Options{Depth: 10, Lines: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitGo(t, eng, 1)

	eng.feed("info depth 5 multipv 1 score cp 10 pv e2e4")
	eng.feed("info depth 3 multipv 1 score cp 99 pv a2a3") // out of order, stale
	eng.feed("info depth 8 multipv 1 score cp 25 pv d2d4")
	eng.feed("bestmove d2d4")

	res := awaitResult(t, results)
	if len(res.Lines) != 1 {
		t.Fatalf("lines = %d", len(res.Lines))
	}
	ln := res.Lines[0]
	if ln.Depth != 8 || ln.Score.CP != 25 || ln.MovesUCI[0] != "d2d4" {
		t.Fatalf("merged line = %+v, want the depth-8 update", ln)
	}
}

func TestSupersededRequestNeverEmits(t *testing.T) {
	coord, eng, results := newTestCoordinator(t, slowPolicy())

	if err := coord.Start(context.Background(), startFEN, Options{Depth: 10, Lines: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitGo(t, eng, 1)
	eng.feed("info depth 5 multipv 1 score cp 10 pv e2e4")

	// A newer request supersedes the first one.
	if err := coord.Start(context.Background(), startFEN, Options{Depth: 6, Lines: 1}); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	awaitGo(t, eng, 2)
	if eng.countSent("stop") == 0 {
		t.Fatal("supersession did not stop the running search")
	}

	// The first search's terminal line arrives late and must be dropped.
	eng.feed("bestmove e2e4")
	eng.feed("info depth 6 multipv 1 score cp -12 pv g1f3 g8f6")
	eng.feed("bestmove g1f3")

	res := awaitResult(t, results)
	if res.Generation != 2 {
		t.Fatalf("generation = %d, want 2", res.Generation)
	}
	if res.BestMove != "g1f3" {
		t.Fatalf("best move = %q, want the newer search's g1f3", res.BestMove)
	}
	if len(res.Lines) != 1 || res.Lines[0].Depth != 6 {
		t.Fatalf("lines = %+v, want the depth-6 line streamed after the stale terminal", res.Lines)
	}
	select {
	case extra := <-results:
		t.Fatalf("superseded request emitted %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStaleTerminalsDoNotStarveNewerSearch(t *testing.T) {
	coord, eng, results := newTestCoordinator(t, slowPolicy())

	// Two searches abandoned back to back, each still owing a terminal line.
	for i := 0; i < 3; i++ {
		if err := coord.Start(context.Background(), startFEN, Options{Depth: 6, Lines: 1}); err != nil {
			t.Fatalf("Start %d: %v", i+1, err)
		}
	}
	awaitGo(t, eng, 3)

	eng.feed("bestmove a2a3")
	eng.feed("bestmove b2b3")
	eng.feed("info depth 6 multipv 1 score cp 31 pv d2d4")
	eng.feed("bestmove d2d4")

	res := awaitResult(t, results)
	if res.Generation != 3 || res.BestMove != "d2d4" {
		t.Fatalf("result = gen %d best %q, want gen 3 d2d4", res.Generation, res.BestMove)
	}
	if len(res.Lines) != 1 || res.Lines[0].Depth != 6 {
		t.Fatalf("lines = %+v, want the depth-6 line", res.Lines)
	}
	select {
	case extra := <-results:
		t.Fatalf("abandoned search emitted %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSupersessionSurvivesStopFailure(t *testing.T) {
	coord, eng, _ := newTestCoordinator(t, slowPolicy())

	if err := coord.Start(context.Background(), startFEN, Options{Depth: 10, Lines: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitGo(t, eng, 1)

	// The engine process dies; the stop issued during supersession fails.
	eng.mu.Lock()
	eng.failOn = "stop"
	eng.mu.Unlock()

	errc := make(chan error, 1)
	go func() {
		errc <- coord.Start(context.Background(), startFEN, Options{Depth: 6, Lines: 1})
	}()
	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("second Start succeeded despite the dead engine")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second Start did not return")
	}
	if snap := coord.GetState(); snap.Active {
		t.Fatal("state still active after the failed supersession")
	}
}

func TestStopDiscardsWithoutEmission(t *testing.T) {
	coord, eng, results := newTestCoordinator(t, slowPolicy())

	if err := coord.Start(context.Background(), startFEN, Options{Depth: 10, Lines: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitGo(t, eng, 1)
	eng.feed("info depth 5 multipv 1 score cp 10 pv e2e4")

	coord.Stop()
	if eng.countSent("stop") == 0 {
		t.Fatal("Stop did not reach the engine")
	}
	eng.feed("bestmove e2e4")

	select {
	case res := <-results:
		t.Fatalf("stopped request emitted %+v", res)
	case <-time.After(100 * time.Millisecond):
	}
	if snap := coord.GetState(); snap.Active {
		t.Fatal("state still active after Stop")
	}
}

func TestNewGameAbandonsAndResets(t *testing.T) {
	coord, eng, results := newTestCoordinator(t, slowPolicy())

	if err := coord.Start(context.Background(), startFEN, Options{Depth: 10, Lines: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitGo(t, eng, 1)

	if err := coord.NewGame(); err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	if eng.countSent("ucinewgame") != 1 {
		t.Fatal("ucinewgame not sent")
	}
	eng.feed("bestmove e2e4")
	select {
	case res := <-results:
		t.Fatalf("abandoned request emitted %+v", res)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimeoutEmitsDegradedResult(t *testing.T) {
	coord, eng, results := newTestCoordinator(t, TimeoutPolicy{Base: 50 * time.Millisecond, Max: 50 * time.Millisecond})

	if err := coord.Start(context.Background(), startFEN, Options{Depth: 30, Lines: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitGo(t, eng, 1)
	eng.feed("info depth 4 multipv 1 score cp 15 pv e2e4 e7e5")

	res := awaitResult(t, results)
	if !res.TimedOut {
		t.Fatalf("result = %+v, want TimedOut", res)
	}
	if len(res.Lines) != 1 || res.Lines[0].Depth != 4 {
		t.Fatalf("partial lines = %+v", res.Lines)
	}
	if eng.countSent("stop") == 0 {
		t.Fatal("timeout did not stop the search")
	}

	// The engine's late terminal line is dropped, not re-emitted.
	eng.feed("bestmove e2e4")
	select {
	case extra := <-results:
		t.Fatalf("timed-out request re-emitted %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimeoutWithNoLinesEmitsPlaceholder(t *testing.T) {
	coord, eng, results := newTestCoordinator(t, TimeoutPolicy{Base: 50 * time.Millisecond, Max: 50 * time.Millisecond})

	if err := coord.Start(context.Background(), startFEN, Options{Depth: 30, Lines: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitGo(t, eng, 1)

	res := awaitResult(t, results)
	if !res.TimedOut || len(res.Lines) != 1 || !res.Lines[0].TimedOut {
		t.Fatalf("result = %+v, want placeholder line", res)
	}
}

func TestEngineFaultPropagates(t *testing.T) {
	coord, eng, results := newTestCoordinator(t, slowPolicy())

	if err := coord.Start(context.Background(), startFEN, Options{Depth: 10, Lines: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitGo(t, eng, 1)
	_ = eng.Close() // engine process died mid-search

	res := awaitResult(t, results)
	if !res.Faulted {
		t.Fatalf("result = %+v, want Faulted", res)
	}
	_ = coord
}

func TestGetStateWhileStreaming(t *testing.T) {
	coord, eng, _ := newTestCoordinator(t, slowPolicy())

	if err := coord.Start(context.Background(), startFEN, Options{Depth: 10, Lines: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitGo(t, eng, 1)

	snap := coord.GetState()
	if !snap.Active || !snap.Loading {
		t.Fatalf("snapshot before output = %+v", snap)
	}

	eng.feed("info depth 5 multipv 1 score cp 10 pv e2e4")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap = coord.GetState()
		if len(snap.Lines) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !snap.Active || snap.Loading || len(snap.Lines) != 1 {
		t.Fatalf("snapshot while streaming = %+v", snap)
	}
	if snap.Lines[0].Display != "1. e4" {
		t.Fatalf("partial display = %q", snap.Lines[0].Display)
	}
}

func TestPlayMoveFromLine(t *testing.T) {
	coord, eng, results := newTestCoordinator(t, slowPolicy())

	if _, err := coord.PlayMoveFromLine(1); !errors.Is(err, ErrNoResult) {
		t.Fatalf("err = %v, want ErrNoResult", err)
	}

	if err := coord.Start(context.Background(), startFEN, Options{Depth: 8, Lines: 2}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitGo(t, eng, 1)
	eng.feed("info depth 8 multipv 1 score cp 34 pv e2e4 e7e5")
	eng.feed("info depth 8 multipv 2 score cp 20 pv d2d4 d7d5")
	eng.feed("bestmove e2e4")
	awaitResult(t, results)

	mv, err := coord.PlayMoveFromLine(2)
	if err != nil {
		t.Fatalf("PlayMoveFromLine: %v", err)
	}
	if mv != "d2d4" {
		t.Fatalf("move = %q, want d2d4", mv)
	}
	if _, err := coord.PlayMoveFromLine(9); !errors.Is(err, ErrNoSuchLine) {
		t.Fatalf("err = %v, want ErrNoSuchLine", err)
	}
}
