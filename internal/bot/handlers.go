package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/park285/limbot/internal/chess"
	"github.com/park285/limbot/internal/gamelog"
	"github.com/park285/limbot/internal/lichess"
	"go.uber.org/zap"
)

const storeTimeout = 5 * time.Second

func (i *Interceptor) onBegin(color chess.Color) error {
	if color == chess.NoColor {
		return errors.New("bot color must be white or black")
	}
	if i.color != chess.NoColor {
		return ErrColorAlreadySet
	}
	if err := i.session.Configure(i.cfg.MultiPV); err != nil {
		return fmt.Errorf("configure engine: %w", err)
	}
	i.color = color
	i.logger.Info("game_start",
		zap.String("color", color.String()),
		zap.String("line", i.render("game.start", map[string]any{"Color": color.String()})),
	)
	i.reportScore()

	if color == chess.White && i.tracker.Ply() == 0 && i.State() == Idle && !i.ended {
		i.startSearch()
	}
	return nil
}

func (i *Interceptor) onTransport(raw []byte) {
	ev, err := lichess.DecodeEvent(raw)
	if err != nil {
		i.logger.Warn("event_malformed", zap.Error(err), zap.Int("bytes", len(raw)))
		i.deps.Metrics.EventDropped("malformed")
		return
	}
	switch ev.Kind {
	case lichess.MoveEvent:
		i.onMove(ev.Move)
	case lichess.EndEvent:
		i.onEnd(ev.End)
	}
}

func (i *Interceptor) onMove(m lichess.MoveData) {
	if i.ended {
		i.drop("ended", m)
		return
	}
	if i.color == chess.NoColor {
		i.drop("no_color", m)
		return
	}
	// Moves after which it is not this bot's turn, its own echoed moves
	// included, are not acted on.
	if chess.SideToMoveAfterPly(m.Ply) != i.color {
		return
	}
	if i.State() != Idle {
		i.drop("busy", m)
		return
	}

	mv, err := i.tracker.ApplyInbound(m.Ply, m.UCI, m.FEN)
	if err != nil {
		i.logger.Warn("move_rejected", zap.String("move", m.UCI), zap.Int("ply", m.Ply), zap.Error(err))
		i.deps.Metrics.EventDropped("rejected")
		return
	}
	i.logger.Debug("move_inbound", zap.String("move", mv), zap.Int("ply", m.Ply), zap.String("san", m.SAN))
	i.startSearch()
}

func (i *Interceptor) drop(reason string, m lichess.MoveData) {
	i.logger.Debug("event_dropped", zap.String("reason", reason), zap.String("move", m.UCI), zap.Int("ply", m.Ply))
	i.deps.Metrics.EventDropped(reason)
}

func (i *Interceptor) startSearch() {
	moveNumber := i.tracker.MoveNumber()
	depth := i.cfg.Policy.SearchDepth(moveNumber)
	pos := i.tracker.Position()
	if err := i.session.StartSearch(pos, depth, i.tracker.SideToMove()); err != nil {
		i.logger.Error("search_start_failed", zap.Error(err))
		return
	}
	i.searchStarted = i.deps.Now()
	i.setState(Searching)
	i.deps.Metrics.SearchStarted()
	i.logger.Debug("search_start", zap.Int("move_number", moveNumber), zap.Int("depth", depth))
}

func (i *Interceptor) onEngineLine(line string) {
	batch, done := i.session.OnLine(line)
	if !done || i.State() != Searching {
		return
	}
	i.deps.Metrics.SearchCompleted(i.deps.Now().Sub(i.searchStarted), len(batch))
	if i.ended {
		i.logger.Debug("search_discarded", zap.Int("candidates", len(batch)))
		i.setState(Idle)
		return
	}
	i.onSearchComplete(batch)
}

func (i *Interceptor) onSearchComplete(batch []chess.Candidate) {
	moveNumber := i.tracker.MoveNumber()
	target := i.cfg.Policy.TargetEvaluation(moveNumber, i.color)

	chosen, err := chess.SelectNearest(batch, target)
	if err != nil {
		i.logger.Warn("search_empty", zap.Int("move_number", moveNumber), zap.Error(err))
		i.setState(Idle)
		return
	}

	recapture := chess.IsRecapture(i.tracker.LastMove(), chosen.Move)
	delay := i.cfg.Policy.ReleaseDelay(moveNumber, len(batch), recapture, i.deps.Rand)
	i.pending = &release{
		move:       chosen.Move,
		evalCP:     chosen.EvalCP,
		target:     target,
		delay:      delay,
		moveNumber: moveNumber,
	}
	i.setState(Releasing)
	i.deps.Metrics.MoveScheduled(delay, math.Abs(float64(chosen.EvalCP)-target)/100)
	i.logger.Debug("move_scheduled",
		zap.String("move", chosen.Move),
		zap.Int("eval_cp", chosen.EvalCP),
		zap.Float64("target_cp", target),
		zap.Int("candidates", len(batch)),
		zap.Bool("recapture", recapture),
		zap.Duration("delay", delay),
	)
	i.deps.Scheduler.AfterFunc(delay, func() { i.post(i.onRelease) })
}

// onRelease sends the pending move. The move is recorded only once the
// transport has accepted it.
func (i *Interceptor) onRelease() {
	r := i.pending
	if r == nil {
		return
	}
	i.pending = nil
	i.setState(Idle)

	if !i.deps.Transport.Alive() {
		i.logger.Debug("move_release_offline", zap.String("move", r.move))
		i.deps.Metrics.MoveReleased("offline")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := i.deps.Transport.Send(ctx, lichess.NewMovePayload(r.move)); err != nil {
		i.logger.Warn("move_release_failed", zap.String("move", r.move), zap.Error(err))
		i.deps.Metrics.MoveReleased("error")
		return
	}
	san := i.tracker.SAN(r.move)
	i.tracker.ApplyOwn(r.move)
	i.deps.Metrics.MoveReleased("sent")
	i.logger.Info("move_release",
		zap.String("line", i.statusLine(r)),
		zap.String("san", san),
		zap.Int("ply", i.tracker.Ply()),
	)
}

func (i *Interceptor) onEnd(d lichess.EndData) {
	if i.ended {
		return
	}
	i.ended = true

	entry := gamelog.Entry{
		GameID:   i.cfg.GameID,
		BotColor: i.color.String(),
		Time:     i.deps.Now().UTC(),
		Result:   gamelog.Result{Winner: d.Winner, EndBy: d.Status.Name},
		Opening:  i.tracker.Opening(),
		PGN:      i.tracker.PGN(),
	}
	if d.Clock != nil {
		entry.ClockOnEnd = gamelog.Clock{White: d.Clock.White, Black: d.Clock.Black}
	}
	i.outcomeM.Lock()
	i.outcome = &entry
	i.outcomeM.Unlock()

	if i.State() == Searching {
		if err := i.session.Stop(); err != nil {
			i.logger.Warn("search_stop_failed", zap.Error(err))
		}
	}

	result := resultFor(entry)
	i.deps.Metrics.GameFinished(result)
	winner := "draw"
	if d.Winner != nil {
		winner = *d.Winner
	}
	i.logger.Info("game_end",
		zap.String("result", result),
		zap.String("end_by", d.Status.Name),
		zap.String("opening", entry.Opening),
		zap.String("state", i.State().String()),
		zap.String("line", i.render("game.end", map[string]any{"GameID": entry.GameID, "Result": winner, "EndBy": d.Status.Name})),
	)

	if i.deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := i.deps.Store.Append(ctx, entry); err != nil {
			i.logger.Error("gamelog_append_failed", zap.Error(err))
		}
	}
	i.reportScore()
}

func (i *Interceptor) reportScore() {
	if i.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	entries, err := i.deps.Store.List(ctx)
	if err != nil {
		i.logger.Warn("gamelog_list_failed", zap.Error(err))
		return
	}
	score := gamelog.Score(entries).String()
	i.logger.Info("score", zap.String("score", score), zap.String("line", i.render("score", map[string]any{"Score": score})))
}

func resultFor(e gamelog.Entry) string {
	switch e.Points() {
	case 1:
		return "win"
	case 0.5:
		return "draw"
	default:
		return "loss"
	}
}
