package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/castlight/chess-trainer/internal/analysis"
	appcfg "github.com/castlight/chess-trainer/internal/config"
	"github.com/castlight/chess-trainer/internal/engine/uci"
	"github.com/castlight/chess-trainer/internal/obslog"
	"github.com/castlight/chess-trainer/internal/rules"
	"github.com/castlight/chess-trainer/internal/trainer"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	dialer, err := uci.NewProcessDialer(cfg.EnginePath)
	if err != nil {
		log.Fatalf("engine binary error: %v", err)
	}
	session := uci.NewSession(dialer, uci.Config{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Logger:           logger,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout+5*time.Second)
	if err := session.Start(ctx); err != nil {
		cancel()
		log.Fatalf("engine start error: %v", err)
	}
	cancel()
	defer func() { _ = session.Terminate() }()

	oracle := rules.NewOracle()

	var cache *analysis.Cache
	if cfg.RedisURL != "" {
		cache, err = analysis.NewCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Fatalf("analysis cache init error: %v", err)
		}
		defer func() { _ = cache.Close() }()
	}

	coord := analysis.NewCoordinator(session, oracle, cache, analysis.Config{
		DefaultDepth:          cfg.AnalysisDepth,
		DefaultMoveTimeMillis: cfg.AnalysisMoveTimeMillis,
		DefaultLines:          cfg.AnalysisLines,
		Timeout: analysis.TimeoutPolicy{
			Base:           cfg.AnalysisBaseTimeout,
			PerDepth:       cfg.AnalysisPerDepthTimeout,
			PerLine:        cfg.AnalysisPerLineTimeout,
			MoveTimeFactor: 3,
			Max:            cfg.AnalysisMaxTimeout,
		},
		Logger: logger,
	})
	unsubscribe := coord.Subscribe(printResult)
	defer unsubscribe()

	repo := trainer.NewMemoryRepository()
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database open error: %v", err)
		}
		if err := db.PingContext(context.Background()); err != nil {
			log.Fatalf("database ping error: %v", err)
		}
		defer func() { _ = db.Close() }()
		repo = trainer.NewRepository(db)
	}

	source, err := puzzleSource(cfg)
	if err != nil {
		log.Fatalf("puzzle source error: %v", err)
	}

	sess := trainer.NewSession(oracle, coord, repo, logger)
	if err := loadNext(sess, source); err != nil {
		log.Fatalf("load puzzle error: %v", err)
	}

	logger.Info("trainer_ready", zap.String("engine", cfg.EnginePath))
	printBoardPrompt(sess)
	repl(sess, source, coord)
}

func repl(sess *trainer.Session, source trainer.PuzzleSource, coord *analysis.Coordinator) {
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		parts := strings.Fields(strings.TrimSpace(sc.Text()))
		if len(parts) == 0 {
			continue
		}
		cmd, args := strings.ToLower(parts[0]), parts[1:]

		switch cmd {
		case "help":
			fmt.Println(helpText())
		case "quit", "exit":
			return
		case "next":
			if err := loadNext(sess, source); err != nil {
				fmt.Println("error:", err)
				continue
			}
			printBoardPrompt(sess)
		case "back":
			sess.Back()
			printBoardPrompt(sess)
		case "forward":
			variation := 0
			if len(args) >= 1 {
				if n, err := strconv.Atoi(args[0]); err == nil {
					variation = n
				}
			}
			sess.Forward(variation)
			printBoardPrompt(sess)
		case "start":
			sess.ToStart()
			printBoardPrompt(sess)
		case "end":
			sess.ToEnd()
			printBoardPrompt(sess)
		case "path":
			if len(args) < 1 {
				fmt.Println("usage: path <node-path>")
				continue
			}
			if err := sess.GoToPath(args[0]); err != nil {
				fmt.Println("error:", err)
				continue
			}
			printBoardPrompt(sess)
		case "targets":
			if len(args) < 1 {
				fmt.Println("usage: targets <square>")
				continue
			}
			targets, err := sess.LegalTargets(args[0])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println(strings.Join(targets, " "))
		case "analyze":
			opts := analysis.Options{}
			if len(args) >= 1 {
				if n, err := strconv.Atoi(args[0]); err == nil {
					opts.Depth = n
				}
			}
			if err := sess.Analyze(context.Background(), opts); err != nil {
				fmt.Println("error:", err)
			}
		case "lines":
			printAnalysisState(sess)
		case "play":
			index := 1
			if len(args) >= 1 {
				if n, err := strconv.Atoi(args[0]); err == nil {
					index = n
				}
			}
			san, err := sess.PlayAnalysisMove(index)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("played", san)
			printBoardPrompt(sess)
		case "stop":
			coord.Stop()
		case "pgn":
			fmt.Println(sess.PGN())
		case "state":
			st := sess.State()
			fmt.Printf("puzzle=%s solved=%v wrong=%d path=%s\nfen=%s\n", st.PuzzleID, st.Solved, st.WrongTries, st.Path, st.FEN)
		default:
			// Treat as a move guess
			verdict, err := sess.TryMove(context.Background(), cmd)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			switch {
			case verdict.Solved && verdict.Correct:
				fmt.Printf("✓ %s — solved!\n", verdict.MoveSAN)
			case verdict.Correct:
				fmt.Printf("✓ %s, reply %s\n", verdict.MoveSAN, verdict.ReplySAN)
			default:
				fmt.Printf("✗ %s is not it, try again\n", verdict.MoveSAN)
			}
			printBoardPrompt(sess)
		}
	}
}

func loadNext(sess *trainer.Session, source trainer.PuzzleSource) error {
	p, err := source.Next(context.Background())
	if err != nil {
		return err
	}
	return sess.LoadPuzzle(p)
}

func printBoardPrompt(sess *trainer.Session) {
	st := sess.State()
	fmt.Printf("[%s] %s\n", st.PuzzleID, st.FEN)
}

func printResult(res analysis.Result) {
	switch {
	case res.Faulted:
		fmt.Println("analysis failed: engine fault")
		return
	case res.TimedOut:
		fmt.Println("analysis timed out; partial lines:")
	}
	for _, ln := range res.Lines {
		fmt.Printf("  %d. [d%d] %s  %s\n", ln.Index, ln.Depth, formatScore(ln.Score), ln.Display)
	}
	if res.BestMove != "" {
		fmt.Println("best:", res.BestMove)
	}
}

func printAnalysisState(sess *trainer.Session) {
	st := sess.AnalysisState()
	if st.Loading {
		fmt.Println("analyzing...")
		return
	}
	for _, ln := range st.Lines {
		score := analysis.Score{CP: ln.ScoreCP, Mate: ln.Mate, IsMate: ln.IsMate}
		fmt.Printf("  %d. [d%d] %s  %s\n", ln.Index, ln.Depth, formatScore(score), ln.Display)
	}
}

func formatScore(s analysis.Score) string {
	if s.IsMate {
		return fmt.Sprintf("#%d", s.Mate)
	}
	return fmt.Sprintf("%+.2f", float64(s.CP)/100)
}

func puzzleSource(cfg *appcfg.AppConfig) (trainer.PuzzleSource, error) {
	if cfg.PuzzleFile != "" {
		raw, err := os.ReadFile(cfg.PuzzleFile)
		if err != nil {
			return nil, fmt.Errorf("read puzzle file: %w", err)
		}
		var puzzles []trainer.Puzzle
		if err := json.Unmarshal(raw, &puzzles); err != nil {
			return nil, fmt.Errorf("parse puzzle file %s: %w", cfg.PuzzleFile, err)
		}
		return trainer.NewStaticSource(puzzles), nil
	}
	return trainer.NewStaticSource(samplePuzzles()), nil
}

// samplePuzzles is the built-in warmup set used when no puzzle file is
// configured.
func samplePuzzles() []trainer.Puzzle {
	return []trainer.Puzzle{
		{
			ID:       "smothered-mate",
			FEN:      "6rk/6pp/7N/8/8/8/8/6K1 w - - 0 1",
			Solution: []string{"h6f7"},
			Themes:   []string{"mate", "knight"},
			Rating:   900,
		},
		{
			ID:       "back-rank",
			FEN:      "6k1/5ppp/8/8/8/8/5PPP/3R2K1 w - - 0 1",
			Solution: []string{"d1d8"},
			Themes:   []string{"mate", "backRank"},
			Rating:   600,
		},
		{
			ID:       "queen-fork",
			FEN:      "r3k3/8/8/8/8/8/4Q3/4K3 w q - 0 1",
			Solution: []string{"e2e8"},
			Themes:   []string{"mate"},
			Rating:   500,
		},
	}
}

func helpText() string {
	return strings.Join([]string{
		"♞ chess trainer",
		"",
		"  <move>        guess in engine notation (e2e4, g8f6, e7e8q)",
		"  next          load the next puzzle",
		"  back/forward  step through the tree  (forward [n] picks a variation)",
		"  start/end     jump to the first or last position",
		"  path <p>      jump to a node path",
		"  targets <sq>  show legal destinations from a square",
		"  analyze [d]   engine lines for the current position",
		"  lines         show analysis state",
		"  play [n]      play the first move of engine line n",
		"  stop          abandon the running analysis",
		"  pgn / state   show the game text or session state",
		"  quit",
	}, "\n")
}
