package gamelog

import (
	"strconv"
	"strings"
	"time"
)

// Entry records the outcome of one finished game.
type Entry struct {
	GameID     string    `json:"gameId"`
	BotColor   string    `json:"botColor"`
	Time       time.Time `json:"time"`
	Result     Result    `json:"result"`
	ClockOnEnd Clock     `json:"clockOnEnd"`
	Opening    string    `json:"opening,omitempty"`
	PGN        string    `json:"pgn,omitempty"`
}

// Result names the winning color; a nil Winner is a draw.
type Result struct {
	Winner *string `json:"winner"`
	EndBy  string  `json:"endBy"`
}

// Clock holds remaining time per side in centiseconds.
type Clock struct {
	White int `json:"white"`
	Black int `json:"black"`
}

// Points is 1 for a bot win, 0.5 for a draw and 0 otherwise.
func (e Entry) Points() float64 {
	if e.Result.Winner == nil {
		return 0.5
	}
	if strings.EqualFold(*e.Result.Winner, e.BotColor) {
		return 1
	}
	return 0
}

// Tally is a tournament-style score.
type Tally struct {
	Points float64
	Games  int
}

// String renders the tally as "7.5/8".
func (t Tally) String() string {
	return strconv.FormatFloat(t.Points, 'f', -1, 64) + "/" + strconv.Itoa(t.Games)
}

func Score(entries []Entry) Tally {
	t := Tally{Games: len(entries)}
	for _, e := range entries {
		t.Points += e.Points()
	}
	return t
}
