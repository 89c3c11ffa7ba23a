package uci

import (
	"strconv"
	"strings"
)

// BestMoveNone is the engine's sentinel when no legal move exists.
const BestMoveNone = "(none)"

// Info is one parsed progress line of a running search.
type Info struct {
	Depth   int
	MultiPV int
	ScoreCP int
	Mate    int
	IsMate  bool
	PV      []string
}

// ParseInfo extracts depth, line index, score and principal variation from an
// "info" line. Lines without a depth, a valid score and a non-empty move list
// are rejected; the engine emits many such lines (currmove, nps) that carry
// nothing worth aggregating.
func ParseInfo(line string) (Info, bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 || parts[0] != "info" {
		return Info{}, false
	}

	info := Info{MultiPV: 1}
	var (
		scoreSet bool
		pvIdx    = -1
	)

	for i := 1; i < len(parts); i++ {
		switch parts[i] {
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					info.Depth = v
				}
				i++
			}
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					info.MultiPV = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				kind := parts[i+1]
				val := parts[i+2]
				switch kind {
				case "cp":
					if v, err := strconv.Atoi(val); err == nil {
						info.ScoreCP = v
						scoreSet = true
					}
				case "mate":
					if v, err := strconv.Atoi(val); err == nil {
						info.Mate = v
						info.IsMate = true
						scoreSet = true
					}
				}
				i += 2
			}
		case "pv":
			pvIdx = i + 1
			i = len(parts)
		}
	}

	if !scoreSet || info.Depth <= 0 || pvIdx == -1 || pvIdx >= len(parts) {
		return Info{}, false
	}
	info.PV = append([]string(nil), parts[pvIdx:]...)
	return info, true
}

// ParseBestMove extracts the move token from a terminal "bestmove" line.
func ParseBestMove(line string) (string, bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 || parts[0] != "bestmove" {
		return "", false
	}
	return parts[1], true
}
