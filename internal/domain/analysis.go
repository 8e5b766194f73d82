package domain

// Move is a single stone placement, e.g. {Color: "B", Coordinates: "D4"}.
type Move struct {
	Color       string `json:"color"`
	Coordinates string `json:"coordinates"`
}

type AnalysisRequest struct {
	Moves            []Move  `json:"moves"`
	BoardSize        int     `json:"board_size"`
	Komi             float64 `json:"komi"`
	MaxVisits        int     `json:"max_visits"`
	Rules            string  `json:"rules"`
	InitialStones    []Move  `json:"initial_stones,omitempty"`
	InitialPlayer    string  `json:"initial_player,omitempty"`
	AnalyzeTurns     []int   `json:"analyze_turns,omitempty"`
	IncludeOwnership bool    `json:"include_ownership,omitempty"`
	IncludePolicy    bool    `json:"include_policy,omitempty"`
}

// MoveCandidate is one engine suggestion with its search statistics.
type MoveCandidate struct {
	Move      string   `json:"move"`
	Visits    int      `json:"visits"`
	Winrate   float64  `json:"winrate"`
	ScoreLead float64  `json:"scoreLead"`
	Order     int      `json:"order"`
	PV        []string `json:"pv"`
	Prior     float64  `json:"prior"`
}

// AnalysisResult is the parsed outcome of one engine query. Winrate and
// ScoreLead are reported for the side of CurrentPlayer.
type AnalysisResult struct {
	CurrentPlayer string          `json:"currentPlayer"`
	Winrate       float64         `json:"winrate"`
	ScoreLead     float64         `json:"scoreLead"`
	Visits        int             `json:"visits"`
	Moves         []MoveCandidate `json:"moves"`
	Ownership     []float64       `json:"ownership,omitempty"`
}

// BotMove is the reply to a play_ai request: the top candidate played as the
// current player.
type BotMove struct {
	Move      string   `json:"move"`
	Color     string   `json:"color"`
	Winrate   float64  `json:"winrate"`
	ScoreLead float64  `json:"scoreLead"`
	Visits    int      `json:"visits"`
	PV        []string `json:"pv"`
}
