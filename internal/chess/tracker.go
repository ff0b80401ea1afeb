package chess

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
	"github.com/park285/limbot/internal/chess/uci"
	"go.uber.org/zap"
)

// PositionMode selects what the tracker forwards to the engine.
type PositionMode int

const (
	// MoveListMode replays the full move list from the initial position.
	MoveListMode PositionMode = iota
	// BoardMode sends the transport's board string with side-to-move and
	// castling suffix.
	BoardMode
)

func ParsePositionMode(s string) (PositionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "moves", "movelist":
		return MoveListMode, nil
	case "fen", "board":
		return BoardMode, nil
	default:
		return MoveListMode, fmt.Errorf("unknown position mode %q", s)
	}
}

func (m PositionMode) String() string {
	if m == BoardMode {
		return "fen"
	}
	return "moves"
}

const startBoard = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR"

var (
	ErrStalePly     = errors.New("ply behind tracked game")
	ErrMissingBoard = errors.New("move event carries no board string")
)

// Position is the engine-facing position: exactly one of Moves or FEN is
// authoritative, depending on the tracker mode.
type Position struct {
	Moves []string
	FEN   string
}

// Command renders the engine "position" command.
func (p Position) Command() string {
	if p.FEN != "" {
		return uci.PositionFromFEN(p.FEN)
	}
	return uci.PositionFromMoves(p.Moves)
}

// Tracker is the game as seen by one bot instance. It is not safe for
// concurrent use; the orchestrator owns it.
type Tracker struct {
	mode   PositionMode
	ply    int
	moves  []string
	board  string
	rights CastlingRights
	last   string

	// board mode FEN fields the transport does not report
	enPassant string
	halfmove  int

	// shadow mirrors the game for SAN/PGN output only. It is dropped if a
	// move cannot be replayed on it; the tracker itself stays authoritative.
	shadow *nchess.Game
	logger *zap.Logger
}

func NewTracker(mode PositionMode, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		mode:   mode,
		board:     startBoard,
		rights:    AllCastling,
		enPassant: "-",
		shadow: nchess.NewGame(),
		logger: logger,
	}
}

func (t *Tracker) Mode() PositionMode             { return t.mode }
func (t *Tracker) Ply() int                       { return t.ply }
func (t *Tracker) SideToMove() Color              { return SideToMoveAfterPly(t.ply) }
func (t *Tracker) MoveNumber() int                { return MoveNumberAfterPly(t.ply) }
func (t *Tracker) CastlingRights() CastlingRights { return t.rights }
func (t *Tracker) LastMove() string               { return t.last }

// Moves returns a copy of the move history (move-list mode only).
func (t *Tracker) Moves() []string { return append([]string(nil), t.moves...) }

// ApplyInbound records a move reported by the transport after ply
// half-moves. The castling notation is reconciled first; the reconciled
// move is returned.
func (t *Tracker) ApplyInbound(ply int, move, fen string) (string, error) {
	if ply <= t.ply {
		return "", fmt.Errorf("%w: got %d, at %d", ErrStalePly, ply, t.ply)
	}
	board := ""
	if t.mode == BoardMode {
		fields := strings.Fields(fen)
		if len(fields) == 0 {
			return "", ErrMissingBoard
		}
		board = fields[0]
	}

	reconciled, rights := ReconcileCastling(move, t.rights)
	rights = ShrinkCastling(reconciled, rights)

	t.ply = ply
	t.rights = rights
	t.last = reconciled
	switch t.mode {
	case BoardMode:
		t.enPassant, t.halfmove = boardCounters(t.board, board, reconciled, t.halfmove)
		t.board = board
		t.resetShadow()
	default:
		t.moves = append(t.moves, reconciled)
		t.pushShadow(reconciled)
	}
	return reconciled, nil
}

// ApplyOwn records a move this bot played.
func (t *Tracker) ApplyOwn(move string) {
	t.ply++
	t.rights = ShrinkCastling(move, t.rights)
	t.last = move
	if t.mode == MoveListMode {
		t.moves = append(t.moves, move)
	}
	t.pushShadow(move)
	if t.mode == BoardMode && t.shadow != nil {
		board := strings.Fields(t.shadow.FEN())[0]
		t.enPassant, t.halfmove = boardCounters(t.board, board, move, t.halfmove)
		t.board = board
	}
}

// Position snapshots what the engine should search next.
func (t *Tracker) Position() Position {
	if t.mode == BoardMode {
		fen := fmt.Sprintf("%s %s %s %s %d %d", t.board, t.SideToMove().fenToken(), t.rights, t.enPassant, t.halfmove, t.MoveNumber())
		return Position{FEN: fen}
	}
	return Position{Moves: t.Moves()}
}

// SAN renders move in algebraic notation against the current position,
// falling back to the input when the shadow board cannot decode it.
func (t *Tracker) SAN(move string) string {
	if t.shadow == nil {
		return move
	}
	pos := t.shadow.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, move)
	if err != nil {
		return move
	}
	return nchess.AlgebraicNotation{}.Encode(pos, mv)
}

// PGN returns the shadow game's PGN, or "" once the shadow was dropped.
func (t *Tracker) PGN() string {
	if t.shadow == nil {
		return ""
	}
	return t.shadow.String()
}

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

// Opening names the ECO opening reached by the moves so far. Board mode
// games have no move history from the initial position and report "".
func (t *Tracker) Opening() string {
	if t.shadow == nil || t.mode == BoardMode {
		return ""
	}
	ecoOnce.Do(func() { ecoBook = opening.NewBookECO() })
	if ecoBook == nil {
		return ""
	}
	eco := ecoBook.Find(t.shadow.Moves())
	if eco == nil {
		return ""
	}
	return eco.Code() + " " + eco.Title()
}

func (t *Tracker) pushShadow(move string) {
	if t.shadow == nil {
		return
	}
	if err := t.shadow.PushNotationMove(move, nchess.UCINotation{}, nil); err != nil {
		t.logger.Warn("tracker_shadow_diverged", zap.String("move", move), zap.Int("ply", t.ply), zap.Error(err))
		t.shadow = nil
	}
}

func (t *Tracker) resetShadow() {
	fen := t.Position().FEN
	opt, err := nchess.FEN(fen)
	if err != nil {
		t.logger.Warn("tracker_shadow_fen", zap.String("fen", fen), zap.Error(err))
		t.shadow = nil
		return
	}
	t.shadow = nchess.NewGame(opt)
}

// boardCounters derives the en-passant square and halfmove clock after move
// turned the placement prev into next.
func boardCounters(prev, next, move string, halfmove int) (string, int) {
	if len(move) < 4 {
		return "-", halfmove + 1
	}
	from, to := move[0:2], move[2:4]
	piece := pieceAt(next, to)
	pawn := piece == 'P' || piece == 'p'
	capture := pieceAt(prev, to) != 0

	ep := "-"
	if pawn && from[0] == to[0] && (from[1]-to[1] == 2 || to[1]-from[1] == 2) {
		ep = string([]byte{from[0], (from[1] + to[1]) / 2})
	}
	if pawn || capture {
		return ep, 0
	}
	return ep, halfmove + 1
}

// pieceAt returns the FEN letter on square in placement, or 0 when empty.
func pieceAt(placement, square string) byte {
	if len(square) != 2 {
		return 0
	}
	file, rank := int(square[0]-'a'), int(square[1]-'1')
	rows := strings.Split(placement, "/")
	if file < 0 || file > 7 || rank < 0 || rank > 7 || len(rows) != 8 {
		return 0
	}
	col := 0
	for _, c := range []byte(rows[7-rank]) {
		if c >= '1' && c <= '8' {
			col += int(c - '0')
			continue
		}
		if col == file {
			return c
		}
		col++
	}
	return 0
}
