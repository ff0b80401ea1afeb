package uci

import (
	"fmt"
	"strconv"
	"strings"
)

// SetOptionCommand renders "setoption name <name> value <value>".
func SetOptionCommand(name string, value any) string {
	return fmt.Sprintf("setoption name %s value %v", name, value)
}

// PositionFromMoves renders a position command replaying moves from the
// initial position.
func PositionFromMoves(moves []string) string {
	var sb strings.Builder
	sb.WriteString("position startpos")
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	return sb.String()
}

// PositionFromFEN renders a position command for an explicit board string.
func PositionFromFEN(fen string) string {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return "position startpos"
	}
	return "position fen " + fen
}

// GoDepth renders "go depth N".
func GoDepth(depth int) (string, error) {
	if depth <= 0 {
		return "", fmt.Errorf("search depth must be > 0: %d", depth)
	}
	return "go depth " + strconv.Itoa(depth), nil
}
