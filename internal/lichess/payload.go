package lichess

// MovePayload is the outbound frame that plays a move.
type MovePayload struct {
	T string      `json:"t"`
	D MoveOptions `json:"d"`
}

// MoveOptions carries the move and the flags the site expects with it.
// The flags are sent as constants.
type MoveOptions struct {
	U string `json:"u"`
	B int    `json:"b"`
	L int    `json:"l"`
	A int    `json:"a"`
	S int    `json:"s"`
}

func NewMovePayload(uci string) MovePayload {
	return MovePayload{
		T: "move",
		D: MoveOptions{U: uci, B: 1, L: 100, A: 1, S: 0},
	}
}
