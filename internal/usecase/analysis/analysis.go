package analysis

import (
	"context"
	"fmt"

	"katago_web/internal/domain"
	kataerr "katago_web/internal/errors"
)

const (
	quickAnalyzeVisits = 100
	botMoveVisits      = 800
)

type AnalysisStore interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error)
	IsEngineRunning() bool
	StartEngine() error
	StopEngine()
	EngineState() string
}

type RecognizerStore interface {
	Available() bool
	Recognize(ctx context.Context, imageBytes []byte, boardSize int) (domain.RecognitionResult, error)
}

type AnalysisUseCase struct {
	store         AnalysisStore
	recognizer    RecognizerStore
	defaultVisits int
}

func NewAnalysisUseCase(store AnalysisStore, recognizer RecognizerStore, defaultVisits int) *AnalysisUseCase {
	return &AnalysisUseCase{
		store:         store,
		recognizer:    recognizer,
		defaultVisits: defaultVisits,
	}
}

// Analyze runs a position through the engine with the server-wide default
// visit budget unless the caller asked for a specific one.
func (u *AnalysisUseCase) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	if !u.store.IsEngineRunning() {
		return nil, kataerr.ErrEngineNotRunning
	}
	if req.MaxVisits <= 0 {
		req.MaxVisits = u.defaultVisits
	}
	return u.store.Analyze(ctx, req)
}

// QuickAnalyze is Analyze with a small visit budget for live per-move hints.
func (u *AnalysisUseCase) QuickAnalyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	if req.MaxVisits <= 0 {
		req.MaxVisits = quickAnalyzeVisits
	}
	return u.Analyze(ctx, req)
}

// BestMove plays for the side to move: analyze the position and return the
// top candidate.
func (u *AnalysisUseCase) BestMove(ctx context.Context, req domain.AnalysisRequest) (*domain.BotMove, error) {
	if req.MaxVisits <= 0 {
		req.MaxVisits = botMoveVisits
	}
	result, err := u.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(result.Moves) == 0 {
		return nil, fmt.Errorf("%w: engine returned no move candidates", kataerr.ErrAnalysisFailed)
	}

	best := result.Moves[0]
	return &domain.BotMove{
		Move:      best.Move,
		Color:     result.CurrentPlayer,
		Winrate:   best.Winrate,
		ScoreLead: best.ScoreLead,
		Visits:    best.Visits,
		PV:        best.PV,
	}, nil
}

func (u *AnalysisUseCase) Recognize(ctx context.Context, imageBytes []byte, boardSize int) (domain.RecognitionResult, error) {
	if boardSize <= 0 {
		boardSize = 19
	}
	return u.recognizer.Recognize(ctx, imageBytes, boardSize)
}

func (u *AnalysisUseCase) RecognizerAvailable() bool {
	return u.recognizer != nil && u.recognizer.Available()
}

func (u *AnalysisUseCase) IsEngineRunning() bool {
	return u.store.IsEngineRunning()
}

func (u *AnalysisUseCase) StartEngine() error {
	return u.store.StartEngine()
}

func (u *AnalysisUseCase) StopEngine() {
	u.store.StopEngine()
}

func (u *AnalysisUseCase) EngineState() string {
	return u.store.EngineState()
}
