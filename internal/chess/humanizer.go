package chess

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"
)

var ErrNoCandidates = errors.New("no candidates to choose from")

// Candidate is one engine line at the searched depth. EvalCP is White-positive.
type Candidate struct {
	Move    string
	EvalCP  int
	MultiPV int
}

// SelectNearest returns the candidate whose evaluation is closest to
// target. Ties keep the earliest candidate.
func SelectNearest(candidates []Candidate, target float64) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNoCandidates
	}
	best := 0
	bestDiff := math.Inf(1)
	for i, c := range candidates {
		diff := math.Abs(float64(c.EvalCP) - target)
		if diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}
	return candidates[best], nil
}

// IsRecapture reports whether move lands on the square the previous
// half-move landed on.
func IsRecapture(previous, move string) bool {
	if len(previous) < 4 || len(move) < 4 {
		return false
	}
	return strings.EqualFold(previous[2:4], move[2:4])
}

// ReleaseDelay draws the release delay for a move. Trivial positions and
// recaptures are played at once; past the midgame band the delay is zero.
func (p Policy) ReleaseDelay(moveNumber, candidates int, recapture bool, r *rand.Rand) time.Duration {
	d := p.Delay
	if candidates <= d.TrivialCandidates || recapture {
		return 0
	}
	if moveNumber > d.MidgameUntil {
		return 0
	}

	// inverse CDF of the exponential distribution with the configured mean
	draw := -math.Log(1-r.Float64()) * d.MeanMillis

	var ms float64
	if moveNumber <= d.OpeningUntil {
		ms = d.BaseMillis + draw*d.OpeningScale
	} else {
		if r.Float64() < d.PauseProbability {
			draw += d.PauseMillis
		}
		ms = d.BaseMillis + draw
	}
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}
