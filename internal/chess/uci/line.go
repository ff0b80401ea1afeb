package uci

import (
	"strconv"
	"strings"
)

// MateScoreCP is the saturating magnitude reported for forced-mate scores.
const MateScoreCP = 1_000_000

type LineKind int

const (
	Unrecognized LineKind = iota
	InfoLine
	BestMoveLine
)

func (k LineKind) String() string {
	switch k {
	case InfoLine:
		return "info"
	case BestMoveLine:
		return "bestmove"
	default:
		return "unrecognized"
	}
}

// Score is an engine score as printed, relative to the side to move.
type Score struct {
	CP     int
	Mate   int
	IsMate bool
}

// Centipawns maps the score onto a single scale. Mate scores saturate at
// ±MateScoreCP; "mate 0" counts as being mated.
func (s Score) Centipawns() int {
	if !s.IsMate {
		return s.CP
	}
	if s.Mate > 0 {
		return MateScoreCP
	}
	return -MateScoreCP
}

// Line is one classified line of engine output.
//
// InfoLine carries Depth, MultiPV, Move (first token of the principal
// variation) and Score. BestMoveLine carries Move only when the engine
// printed one. Every other line is Unrecognized.
type Line struct {
	Kind    LineKind
	Depth   int
	MultiPV int
	Move    string
	Score   Score
}

// Classify parses a raw engine line. It never fails: anything it cannot
// read as a complete info or bestmove line is Unrecognized.
func Classify(raw string) Line {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return Line{Kind: Unrecognized}
	}
	switch parts[0] {
	case "bestmove":
		l := Line{Kind: BestMoveLine}
		if len(parts) >= 2 && parts[1] != "(none)" {
			l.Move = parts[1]
		}
		return l
	case "info":
		if l, ok := parseInfo(parts[1:]); ok {
			return l
		}
	}
	return Line{Kind: Unrecognized}
}

func parseInfo(parts []string) (Line, bool) {
	var (
		l        = Line{Kind: InfoLine, MultiPV: 1}
		depthSet bool
		scoreSet bool
	)

	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "string":
			// free text until end of line
			return Line{}, false
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					l.Depth = v
					depthSet = true
				}
				i++
			}
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					l.MultiPV = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				v, err := strconv.Atoi(parts[i+2])
				if err == nil {
					switch parts[i+1] {
					case "cp":
						l.Score = Score{CP: v}
						scoreSet = true
					case "mate":
						l.Score = Score{Mate: v, IsMate: true}
						scoreSet = true
					}
				}
				i += 2
			}
		case "pv":
			if i+1 < len(parts) {
				l.Move = parts[i+1]
			}
			i = len(parts)
		}
	}

	if !depthSet || !scoreSet || l.Move == "" {
		return Line{}, false
	}
	return l, true
}
