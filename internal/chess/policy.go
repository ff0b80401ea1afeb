package chess

import (
	"fmt"
	"math"
)

// Policy holds the tunables for target evaluation, search depth and
// release delay. All evaluations are in centipawns.
type Policy struct {
	Target TargetPolicy `yaml:"target"`
	Depth  DepthPolicy  `yaml:"depth"`
	Delay  DelayPolicy  `yaml:"delay"`
}

// TargetPolicy: magnitude = max(0, CubicCP*m^3) + OffsetCP.
type TargetPolicy struct {
	CubicCP  float64 `yaml:"cubic_cp"`
	OffsetCP float64 `yaml:"offset_cp"`
}

type DepthPolicy struct {
	Early        int `yaml:"early"`
	Late         int `yaml:"late"`
	LateFromMove int `yaml:"late_from_move"`
}

type DelayPolicy struct {
	BaseMillis        float64 `yaml:"base_ms"`
	MeanMillis        float64 `yaml:"mean_ms"`
	TrivialCandidates int     `yaml:"trivial_candidates"`
	OpeningUntil      int     `yaml:"opening_until"`
	OpeningScale      float64 `yaml:"opening_scale"`
	MidgameUntil      int     `yaml:"midgame_until"`
	PauseProbability  float64 `yaml:"pause_probability"`
	PauseMillis       float64 `yaml:"pause_ms"`
}

func DefaultPolicy() Policy {
	return Policy{
		Target: TargetPolicy{
			CubicCP:  0.0075,
			OffsetCP: 50,
		},
		Depth: DepthPolicy{
			Early:        10,
			Late:         8,
			LateFromMove: 31,
		},
		Delay: DelayPolicy{
			BaseMillis:        200,
			MeanMillis:        750,
			TrivialCandidates: 2,
			OpeningUntil:      12,
			OpeningScale:      0.2,
			MidgameUntil:      35,
			PauseProbability:  0.1,
			PauseMillis:       1000,
		},
	}
}

func (p Policy) Validate() error {
	switch {
	case p.Target.CubicCP < 0:
		return fmt.Errorf("target cubic must be >= 0: %f", p.Target.CubicCP)
	case p.Target.OffsetCP < 0:
		return fmt.Errorf("target offset must be >= 0: %f", p.Target.OffsetCP)
	case p.Depth.Early <= 0 || p.Depth.Late <= 0:
		return fmt.Errorf("search depths must be > 0: early=%d late=%d", p.Depth.Early, p.Depth.Late)
	case p.Depth.Late > p.Depth.Early:
		return fmt.Errorf("late depth (%d) must not exceed early depth (%d)", p.Depth.Late, p.Depth.Early)
	case p.Delay.BaseMillis < 0:
		return fmt.Errorf("base delay must be >= 0: %f", p.Delay.BaseMillis)
	case p.Delay.MeanMillis <= 0:
		return fmt.Errorf("mean delay must be > 0: %f", p.Delay.MeanMillis)
	case p.Delay.TrivialCandidates < 0:
		return fmt.Errorf("trivial candidate count must be >= 0: %d", p.Delay.TrivialCandidates)
	case p.Delay.OpeningScale < 0 || p.Delay.OpeningScale > 1:
		return fmt.Errorf("opening scale out of range 0-1: %f", p.Delay.OpeningScale)
	case p.Delay.OpeningUntil > p.Delay.MidgameUntil:
		return fmt.Errorf("opening band (%d) must end before midgame band (%d)", p.Delay.OpeningUntil, p.Delay.MidgameUntil)
	case p.Delay.PauseProbability < 0 || p.Delay.PauseProbability > 1:
		return fmt.Errorf("pause probability out of range 0-1: %f", p.Delay.PauseProbability)
	case p.Delay.PauseMillis < 0:
		return fmt.Errorf("pause must be >= 0: %f", p.Delay.PauseMillis)
	}
	return nil
}

// TargetEvaluation is the White-positive evaluation the bot steers toward
// at the given move number. The magnitude grows with the move number and
// favors the bot's own color.
func (p Policy) TargetEvaluation(moveNumber int, bot Color) float64 {
	if moveNumber < 0 {
		moveNumber = 0
	}
	m := float64(moveNumber)
	magnitude := math.Max(0, p.Target.CubicCP*m*m*m) + p.Target.OffsetCP
	return float64(bot.Sign()) * magnitude
}

// SearchDepth bounds engine latency late in the game.
func (p Policy) SearchDepth(moveNumber int) int {
	if p.Depth.LateFromMove > 0 && moveNumber >= p.Depth.LateFromMove {
		return p.Depth.Late
	}
	return p.Depth.Early
}
