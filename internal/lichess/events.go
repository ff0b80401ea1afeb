package lichess

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedEvent marks an inbound frame that could not be decoded.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrNotConnected is returned by Socket.Send when no connection is up.
	ErrNotConnected = errors.New("socket not connected")
)

type EventKind int

const (
	OtherEvent EventKind = iota
	MoveEvent
	EndEvent
)

func (k EventKind) String() string {
	switch k {
	case MoveEvent:
		return "move"
	case EndEvent:
		return "endData"
	default:
		return "other"
	}
}

// MoveData is the payload of a "move" event. FEN carries only the
// piece-placement field.
type MoveData struct {
	UCI string `json:"uci"`
	SAN string `json:"san"`
	FEN string `json:"fen"`
	Ply int    `json:"ply"`
}

type EndStatus struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// EndClock holds the remaining time of both sides in centiseconds.
type EndClock struct {
	White int `json:"wc"`
	Black int `json:"bc"`
}

// EndData is the payload of an "endData" event. Winner is nil on a draw.
type EndData struct {
	Winner *string   `json:"winner"`
	Status EndStatus `json:"status"`
	Clock  *EndClock `json:"clock"`
}

type Event struct {
	Kind    EventKind
	Type    string
	Version int
	Move    MoveData
	End     EndData
}

type envelope struct {
	T string          `json:"t"`
	V int             `json:"v"`
	D json.RawMessage `json:"d"`
}

// DecodeEvent parses one inbound socket frame. Pong frames and event
// types this package does not act on decode to OtherEvent.
func DecodeEvent(raw []byte) (Event, error) {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "":
		return Event{}, fmt.Errorf("%w: empty frame", ErrMalformedEvent)
	case "0", "null":
		return Event{Kind: OtherEvent, Type: "pong"}, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(env.T) == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	ev := Event{Type: env.T, Version: env.V}

	switch env.T {
	case "move":
		if len(env.D) == 0 {
			return Event{}, fmt.Errorf("%w: move without payload", ErrMalformedEvent)
		}
		if err := json.Unmarshal(env.D, &ev.Move); err != nil {
			return Event{}, fmt.Errorf("%w: move payload: %v", ErrMalformedEvent, err)
		}
		if len(ev.Move.UCI) < 4 || ev.Move.Ply < 1 {
			return Event{}, fmt.Errorf("%w: move %q at ply %d", ErrMalformedEvent, ev.Move.UCI, ev.Move.Ply)
		}
		ev.Kind = MoveEvent
	case "endData":
		if len(env.D) > 0 {
			if err := json.Unmarshal(env.D, &ev.End); err != nil {
				return Event{}, fmt.Errorf("%w: endData payload: %v", ErrMalformedEvent, err)
			}
		}
		ev.Kind = EndEvent
	default:
		ev.Kind = OtherEvent
	}
	return ev, nil
}
