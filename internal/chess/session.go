package chess

import (
	"fmt"

	"github.com/park285/limbot/internal/chess/uci"
	"go.uber.org/zap"
)

// CommandSink receives engine commands, one line per call.
type CommandSink interface {
	Send(command string) error
}

// Session is the conversation with one analysis engine. It accumulates
// the candidate batch of the search in flight and hands it over exactly
// once, when the engine reports the best move.
type Session struct {
	sink   CommandSink
	logger *zap.Logger

	depth      int
	sideToMove Color
	searching  bool
	// searches abandoned by a newer StartSearch whose bestmove is still due
	stale int
	batch []Candidate
}

func NewSession(sink CommandSink, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{sink: sink, logger: logger}
}

// Configure sets the number of parallel variations the engine reports.
func (s *Session) Configure(multiPV int) error {
	if multiPV <= 0 {
		return fmt.Errorf("multipv must be > 0: %d", multiPV)
	}
	if err := s.sink.Send(uci.SetOptionCommand("MultiPV", multiPV)); err != nil {
		return fmt.Errorf("set multipv: %w", err)
	}
	return nil
}

func (s *Session) Searching() bool { return s.searching }
func (s *Session) Depth() int      { return s.depth }

// StartSearch issues a search to depth at pos. sideToMove fixes the
// perspective of the engine's scores. Any unconsumed batch is discarded.
func (s *Session) StartSearch(pos Position, depth int, sideToMove Color) error {
	if sideToMove == NoColor {
		return fmt.Errorf("search without side to move")
	}
	goCmd, err := uci.GoDepth(depth)
	if err != nil {
		return err
	}
	if s.searching {
		if err := s.sink.Send("stop"); err != nil {
			return fmt.Errorf("send stop: %w", err)
		}
		s.stale++
	}
	s.batch = nil
	s.depth = depth
	s.sideToMove = sideToMove

	if err := s.sink.Send(pos.Command()); err != nil {
		return fmt.Errorf("send position: %w", err)
	}
	if err := s.sink.Send(goCmd); err != nil {
		return fmt.Errorf("send go: %w", err)
	}
	s.searching = true
	return nil
}

// Stop asks the engine to end the search in flight early. The best move
// it then reports still completes that search.
func (s *Session) Stop() error {
	if !s.searching {
		return nil
	}
	return s.sink.Send("stop")
}

// OnLine consumes one engine line. When the line completes the current
// search it returns the batch and true; the session keeps no reference to it.
func (s *Session) OnLine(raw string) ([]Candidate, bool) {
	line := uci.Classify(raw)
	switch line.Kind {
	case uci.InfoLine:
		if !s.searching || s.stale > 0 || line.Depth != s.depth {
			return nil, false
		}
		s.record(Candidate{
			Move:    line.Move,
			EvalCP:  line.Score.Centipawns() * s.sideToMove.Sign(),
			MultiPV: line.MultiPV,
		})
	case uci.BestMoveLine:
		if s.stale > 0 {
			s.stale--
			return nil, false
		}
		if !s.searching {
			s.logger.Debug("engine_unexpected_bestmove", zap.String("line", raw))
			return nil, false
		}
		batch := s.batch
		s.batch = nil
		s.searching = false
		return batch, true
	}
	return nil, false
}

// record keeps one entry per variation; a repeated variation at the same
// depth replaces the earlier one in place.
func (s *Session) record(c Candidate) {
	for i := range s.batch {
		if s.batch[i].MultiPV == c.MultiPV {
			s.batch[i] = c
			return
		}
	}
	s.batch = append(s.batch, c)
}
