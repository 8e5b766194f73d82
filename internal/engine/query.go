package engine

import (
	"fmt"

	"katago_web/internal/domain"
	kataerr "katago_web/internal/errors"
)

const (
	DefaultRules     = "chinese"
	DefaultBoardSize = 19
	DefaultKomi      = 7.5
)

// Query is one line of the KataGo analysis protocol on stdin. Optional fields
// are omitted entirely when unset; some engine builds reject present-but-empty
// keys.
type Query struct {
	ID               string      `json:"id"`
	Moves            [][2]string `json:"moves"`
	Rules            string      `json:"rules"`
	Komi             float64     `json:"komi"`
	BoardXSize       int         `json:"boardXSize"`
	BoardYSize       int         `json:"boardYSize"`
	MaxVisits        int         `json:"maxVisits"`
	InitialStones    [][2]string `json:"initialStones,omitempty"`
	InitialPlayer    string      `json:"initialPlayer,omitempty"`
	AnalyzeTurns     []int       `json:"analyzeTurns,omitempty"`
	IncludeOwnership bool        `json:"includeOwnership,omitempty"`
	IncludePolicy    bool        `json:"includePolicy,omitempty"`
}

// RootInfo and MoveInfo use pointers where 0 is a meaningful explicit value,
// so a missing field can be told apart and given its documented default.
type RootInfo struct {
	CurrentPlayer string   `json:"currentPlayer"`
	Winrate       *float64 `json:"winrate"`
	ScoreLead     *float64 `json:"scoreLead"`
	Visits        int      `json:"visits"`
}

type MoveInfo struct {
	Move      string   `json:"move"`
	Visits    int      `json:"visits"`
	Winrate   *float64 `json:"winrate"`
	ScoreLead *float64 `json:"scoreLead"`
	Order     int      `json:"order"`
	PV        []string `json:"pv"`
	Prior     float64  `json:"prior"`
}

// Response is one line of the analysis protocol on stdout.
type Response struct {
	ID        string     `json:"id"`
	Error     string     `json:"error,omitempty"`
	RootInfo  *RootInfo  `json:"rootInfo,omitempty"`
	MoveInfos []MoveInfo `json:"moveInfos,omitempty"`
	Ownership []float64  `json:"ownership,omitempty"`
	Policy    []float64  `json:"policy,omitempty"`
}

// BuildQuery maps a domain request onto the wire schema. The board is always
// square; rules, board size and komi fall back to the usual defaults.
func BuildQuery(req domain.AnalysisRequest) Query {
	rules := req.Rules
	if rules == "" {
		rules = DefaultRules
	}
	size := req.BoardSize
	if size <= 0 {
		size = DefaultBoardSize
	}
	komi := req.Komi
	if komi == 0 {
		komi = DefaultKomi
	}

	q := Query{
		Moves:      movePairs(req.Moves),
		Rules:      rules,
		Komi:       komi,
		BoardXSize: size,
		BoardYSize: size,
		MaxVisits:  req.MaxVisits,
	}
	if len(req.InitialStones) > 0 {
		q.InitialStones = movePairs(req.InitialStones)
	}
	if req.InitialPlayer != "" {
		q.InitialPlayer = req.InitialPlayer
	}
	if len(req.AnalyzeTurns) > 0 {
		q.AnalyzeTurns = req.AnalyzeTurns
	}
	if req.IncludeOwnership {
		q.IncludeOwnership = true
	}
	if req.IncludePolicy {
		q.IncludePolicy = true
	}
	return q
}

func movePairs(moves []domain.Move) [][2]string {
	pairs := make([][2]string, 0, len(moves))
	for _, m := range moves {
		pairs = append(pairs, [2]string{m.Color, m.Coordinates})
	}
	return pairs
}

// ParseResult converts a raw engine response into a domain result, applying
// the documented defaults for absent fields. A response with an error field
// is an analysis failure, never a partial result.
func ParseResult(resp Response) (*domain.AnalysisResult, error) {
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", kataerr.ErrEngineReported, resp.Error)
	}

	result := &domain.AnalysisResult{
		CurrentPlayer: "B",
		Winrate:       0.5,
		ScoreLead:     0.0,
		Moves:         make([]domain.MoveCandidate, 0, len(resp.MoveInfos)),
	}

	if root := resp.RootInfo; root != nil {
		if root.CurrentPlayer != "" {
			result.CurrentPlayer = root.CurrentPlayer
		}
		if root.Winrate != nil {
			result.Winrate = *root.Winrate
		}
		if root.ScoreLead != nil {
			result.ScoreLead = *root.ScoreLead
		}
		result.Visits = root.Visits
	}

	for _, mi := range resp.MoveInfos {
		c := domain.MoveCandidate{
			Move:      "pass",
			Visits:    mi.Visits,
			Winrate:   0.5,
			ScoreLead: 0.0,
			Order:     mi.Order,
			PV:        mi.PV,
			Prior:     mi.Prior,
		}
		if mi.Move != "" {
			c.Move = mi.Move
		}
		if mi.Winrate != nil {
			c.Winrate = *mi.Winrate
		}
		if mi.ScoreLead != nil {
			c.ScoreLead = *mi.ScoreLead
		}
		if c.PV == nil {
			c.PV = []string{}
		}
		result.Moves = append(result.Moves, c)
	}

	if len(resp.Ownership) > 0 {
		result.Ownership = resp.Ownership
	}

	return result, nil
}
