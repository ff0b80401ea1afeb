package chess

import (
	"fmt"
	"strings"
)

// Color is a side of the board. The zero value means "not yet known".
type Color int8

const (
	NoColor Color = iota
	White
	Black
)

func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	default:
		return NoColor, fmt.Errorf("unknown color %q", s)
	}
}

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return "none"
	}
}

func (c Color) Opposite() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	default:
		return NoColor
	}
}

// Sign is +1 for White and -1 for Black; evaluations are White-positive.
func (c Color) Sign() int {
	switch c {
	case White:
		return 1
	case Black:
		return -1
	default:
		return 0
	}
}

func (c Color) fenToken() string {
	if c == Black {
		return "b"
	}
	return "w"
}

// SideToMoveAfterPly returns who moves next once ply half-moves have been
// played: White after an even count, Black after an odd one.
func SideToMoveAfterPly(ply int) Color {
	if ply%2 == 0 {
		return White
	}
	return Black
}

// MoveNumberAfterPly is the full-move number of the next half-move.
func MoveNumberAfterPly(ply int) int {
	if ply < 0 {
		ply = 0
	}
	return (ply + 2) / 2
}
