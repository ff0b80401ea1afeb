package chess

import (
	"fmt"
	"strings"
)

// CastlingRights is a set of castling flags. Values only ever lose flags.
type CastlingRights uint8

const (
	WhiteKingside CastlingRights = 1 << iota
	WhiteQueenside
	BlackKingside
	BlackQueenside

	NoCastling  CastlingRights = 0
	AllCastling                = WhiteKingside | WhiteQueenside | BlackKingside | BlackQueenside
)

var castlingLetters = []struct {
	flag   CastlingRights
	letter byte
}{
	{WhiteKingside, 'K'},
	{WhiteQueenside, 'Q'},
	{BlackKingside, 'k'},
	{BlackQueenside, 'q'},
}

func (r CastlingRights) Has(flag CastlingRights) bool { return r&flag == flag }

// Without returns r with flags removed; r itself is unchanged.
func (r CastlingRights) Without(flags CastlingRights) CastlingRights { return r &^ flags }

// String renders the FEN castling field ("KQkq", "Kq", "-").
func (r CastlingRights) String() string {
	var sb strings.Builder
	for _, cl := range castlingLetters {
		if r.Has(cl.flag) {
			sb.WriteByte(cl.letter)
		}
	}
	if sb.Len() == 0 {
		return "-"
	}
	return sb.String()
}

func ParseCastlingRights(s string) (CastlingRights, error) {
	s = strings.TrimSpace(s)
	if s == "-" || s == "" {
		return NoCastling, nil
	}
	var r CastlingRights
outer:
	for i := 0; i < len(s); i++ {
		for _, cl := range castlingLetters {
			if s[i] == cl.letter {
				r |= cl.flag
				continue outer
			}
		}
		return NoCastling, fmt.Errorf("invalid castling field %q", s)
	}
	return r, nil
}

// Some transports report castling as king-takes-own-rook. These are the
// only four rewrites performed.
var castlingConversions = map[string]struct {
	move string
	flag CastlingRights
}{
	"e1h1": {"e1g1", WhiteKingside},
	"e1a1": {"e1c1", WhiteQueenside},
	"e8h8": {"e8g8", BlackKingside},
	"e8a8": {"e8c8", BlackQueenside},
}

// ReconcileCastling rewrites a transport castling move into engine notation
// and clears the matching flag. Other moves pass through untouched.
func ReconcileCastling(move string, rights CastlingRights) (string, CastlingRights) {
	conv, ok := castlingConversions[strings.ToLower(strings.TrimSpace(move))]
	if !ok {
		return move, rights
	}
	return conv.move, rights.Without(conv.flag)
}

var castlingSquares = map[string]CastlingRights{
	"e1": WhiteKingside | WhiteQueenside,
	"h1": WhiteKingside,
	"a1": WhiteQueenside,
	"e8": BlackKingside | BlackQueenside,
	"h8": BlackKingside,
	"a8": BlackQueenside,
}

// ShrinkCastling drops the rights touched by a move leaving or landing on a
// king or rook home square.
func ShrinkCastling(move string, rights CastlingRights) CastlingRights {
	if len(move) < 4 {
		return rights
	}
	move = strings.ToLower(move)
	for _, sq := range []string{move[0:2], move[2:4]} {
		if flags, ok := castlingSquares[sq]; ok {
			rights = rights.Without(flags)
		}
	}
	return rights
}
