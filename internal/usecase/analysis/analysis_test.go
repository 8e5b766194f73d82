package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"katago_web/internal/domain"
	kataerr "katago_web/internal/errors"
)

type stubStore struct {
	running bool
	result  *domain.AnalysisResult
	err     error
	lastReq domain.AnalysisRequest
	started int
}

func (s *stubStore) Analyze(_ context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	s.lastReq = req
	return s.result, s.err
}

func (s *stubStore) IsEngineRunning() bool { return s.running }
func (s *stubStore) StartEngine() error    { s.started++; return nil }
func (s *stubStore) StopEngine()           {}
func (s *stubStore) EngineState() string   { return "ready" }

func sampleResult() *domain.AnalysisResult {
	return &domain.AnalysisResult{
		CurrentPlayer: "W",
		Winrate:       0.61,
		ScoreLead:     1.2,
		Visits:        800,
		Moves: []domain.MoveCandidate{
			{Move: "Q16", Visits: 500, Winrate: 0.61, ScoreLead: 1.2, Order: 0, PV: []string{"Q16", "D4"}},
			{Move: "D4", Visits: 300, Winrate: 0.58, ScoreLead: 0.9, Order: 1, PV: []string{"D4"}},
		},
	}
}

func TestAnalyzeAppliesDefaultVisits(t *testing.T) {
	store := &stubStore{running: true, result: sampleResult()}
	uc := NewAnalysisUseCase(store, nil, 3000)

	_, err := uc.Analyze(context.Background(), domain.AnalysisRequest{})
	require.NoError(t, err)
	assert.Equal(t, 3000, store.lastReq.MaxVisits)

	_, err = uc.Analyze(context.Background(), domain.AnalysisRequest{MaxVisits: 42})
	require.NoError(t, err)
	assert.Equal(t, 42, store.lastReq.MaxVisits)
}

func TestAnalyzeFailsWhenEngineDown(t *testing.T) {
	store := &stubStore{running: false}
	uc := NewAnalysisUseCase(store, nil, 3000)

	_, err := uc.Analyze(context.Background(), domain.AnalysisRequest{})
	require.ErrorIs(t, err, kataerr.ErrEngineNotRunning)
}

func TestQuickAnalyzeVisitBudget(t *testing.T) {
	store := &stubStore{running: true, result: sampleResult()}
	uc := NewAnalysisUseCase(store, nil, 3000)

	_, err := uc.QuickAnalyze(context.Background(), domain.AnalysisRequest{})
	require.NoError(t, err)
	assert.Equal(t, quickAnalyzeVisits, store.lastReq.MaxVisits)
}

func TestBestMove(t *testing.T) {
	store := &stubStore{running: true, result: sampleResult()}
	uc := NewAnalysisUseCase(store, nil, 3000)

	botMove, err := uc.BestMove(context.Background(), domain.AnalysisRequest{})
	require.NoError(t, err)

	assert.Equal(t, botMoveVisits, store.lastReq.MaxVisits)
	assert.Equal(t, "Q16", botMove.Move)
	assert.Equal(t, "W", botMove.Color)
	assert.Equal(t, 0.61, botMove.Winrate)
	assert.Equal(t, []string{"Q16", "D4"}, botMove.PV)
}

func TestBestMoveNoCandidates(t *testing.T) {
	store := &stubStore{running: true, result: &domain.AnalysisResult{CurrentPlayer: "B"}}
	uc := NewAnalysisUseCase(store, nil, 3000)

	_, err := uc.BestMove(context.Background(), domain.AnalysisRequest{})
	require.ErrorIs(t, err, kataerr.ErrAnalysisFailed)
}

func TestRecognizerUnavailableWithoutStore(t *testing.T) {
	store := &stubStore{running: true}
	uc := NewAnalysisUseCase(store, nil, 3000)

	assert.False(t, uc.RecognizerAvailable())
}

func TestStartEnginePassthrough(t *testing.T) {
	store := &stubStore{}
	uc := NewAnalysisUseCase(store, nil, 3000)

	require.NoError(t, uc.StartEngine())
	assert.Equal(t, 1, store.started)
}
