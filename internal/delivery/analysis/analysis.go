package analysis

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"katago_web/internal/bootstrap"
	"katago_web/internal/domain"
	kataerr "katago_web/internal/errors"
	"katago_web/internal/httpresponse"
	analysisUC "katago_web/internal/usecase/analysis"
)

const maxUploadBytes = 10 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type AnalysisHandler struct {
	cfg bootstrap.Config
	log *zap.SugaredLogger
	uc  *analysisUC.AnalysisUseCase
}

func NewAnalysisHandler(cfg bootstrap.Config, log *zap.SugaredLogger, uc *analysisUC.AnalysisUseCase) *AnalysisHandler {
	return &AnalysisHandler{
		cfg: cfg,
		log: log,
		uc:  uc,
	}
}

type StatusResponse struct {
	Running    bool   `json:"running"`
	State      string `json:"state"`
	KatagoPath string `json:"katago_path"`
	ModelPath  string `json:"model_path"`
}

func (h *AnalysisHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	httpresponse.WriteJSON(w, http.StatusOK, StatusResponse{
		Running:    h.uc.IsEngineRunning(),
		State:      h.uc.EngineState(),
		KatagoPath: h.cfg.KatagoPath,
		ModelPath:  h.cfg.KatagoModel,
	})
}

// HandleEngineStart retries the engine startup. Starting an already running
// engine is a no-op, so the handler is safe to hammer from the UI.
func (h *AnalysisHandler) HandleEngineStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpresponse.WriteError(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}

	if err := h.uc.StartEngine(); err != nil {
		h.log.Errorw("engine start failed", "error", err)
		httpresponse.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpresponse.WriteJSON(w, http.StatusOK, StatusResponse{
		Running:    h.uc.IsEngineRunning(),
		State:      h.uc.EngineState(),
		KatagoPath: h.cfg.KatagoPath,
		ModelPath:  h.cfg.KatagoModel,
	})
}

func (h *AnalysisHandler) HandleRecognize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpresponse.WriteError(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}

	if !h.uc.RecognizerAvailable() {
		httpresponse.WriteError(w, http.StatusServiceUnavailable, "board recognition service is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpresponse.WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		httpresponse.WriteError(w, http.StatusBadRequest, "no image uploaded")
		return
	}
	defer file.Close()

	imageBytes, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		httpresponse.WriteError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	boardSize := 19
	if v := r.FormValue("boardSize"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			boardSize = n
		}
	}

	h.log.Infow("recognizing board from image", "bytes", len(imageBytes), "boardSize", boardSize)

	result, err := h.uc.Recognize(r.Context(), imageBytes, boardSize)
	if err != nil {
		h.log.Errorw("board recognition failed", "error", err)
		httpresponse.WriteError(w, http.StatusInternalServerError, "board recognition failed")
		return
	}

	httpresponse.WriteJSON(w, http.StatusOK, result)
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type wsError struct {
	Message string `json:"message"`
}

// wsClient serializes writes: analysis runs in a goroutine per message and
// several may finish at once.
type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) sendEvent(eventType string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(wsEvent{Type: eventType, Payload: payload})
}

// HandleWS is the analysis socket. Client messages are {type, payload} with
// type analyze / quick_analyze / play_ai; the server answers with analysis,
// ai_move and error events. Responses are matched by the engine per query id,
// so a slow analysis does not block a later quick one.
func (h *AnalysisHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorw("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{id: uuid.New().String(), conn: conn}
	h.log.Infow("client connected", "client", client.id)
	defer func() {
		conn.Close()
		h.log.Infow("client disconnected", "client", client.id)
	}()

	if err := client.sendEvent("status", map[string]bool{"running": h.uc.IsEngineRunning()}); err != nil {
		return
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debugw("websocket read ended", "client", client.id, "error", err)
			}
			return
		}
		go h.dispatch(r, client, msg)
	}
}

func (h *AnalysisHandler) dispatch(r *http.Request, client *wsClient, msg wsMessage) {
	switch msg.Type {
	case "analyze", "quick_analyze":
		req, err := decodeAnalysisRequest(msg.Payload)
		if err != nil {
			_ = client.sendEvent("error", wsError{Message: "invalid request: " + err.Error()})
			return
		}

		h.log.Infow("analysis request",
			"client", client.id, "type", msg.Type,
			"moves", len(req.Moves), "initialStones", len(req.InitialStones), "visits", req.MaxVisits)

		var result *domain.AnalysisResult
		if msg.Type == "quick_analyze" {
			result, err = h.uc.QuickAnalyze(r.Context(), req)
		} else {
			result, err = h.uc.Analyze(r.Context(), req)
		}
		if err != nil {
			h.log.Errorw("analysis failed", "client", client.id, "error", err)
			_ = client.sendEvent("error", wsError{Message: userMessage(err)})
			return
		}
		_ = client.sendEvent("analysis", result)

	case "play_ai":
		req, err := decodeAnalysisRequest(msg.Payload)
		if err != nil {
			_ = client.sendEvent("error", wsError{Message: "invalid request: " + err.Error()})
			return
		}

		botMove, err := h.uc.BestMove(r.Context(), req)
		if err != nil {
			h.log.Errorw("bot move failed", "client", client.id, "error", err)
			_ = client.sendEvent("error", wsError{Message: userMessage(err)})
			return
		}
		_ = client.sendEvent("ai_move", botMove)

	default:
		_ = client.sendEvent("error", wsError{Message: "unknown message type: " + msg.Type})
	}
}

// analyzePayload is the shape the front end sends: moves as ["B","D4"] pairs,
// same as the engine wire format.
type analyzePayload struct {
	Moves            [][2]string `json:"moves"`
	BoardSize        int         `json:"boardSize"`
	Komi             float64     `json:"komi"`
	MaxVisits        int         `json:"maxVisits"`
	Rules            string      `json:"rules"`
	InitialStones    [][2]string `json:"initialStones"`
	InitialPlayer    string      `json:"initialPlayer"`
	AnalyzeTurns     []int       `json:"analyzeTurns"`
	IncludeOwnership bool        `json:"includeOwnership"`
	IncludePolicy    bool        `json:"includePolicy"`
}

func decodeAnalysisRequest(payload json.RawMessage) (domain.AnalysisRequest, error) {
	var p analyzePayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return domain.AnalysisRequest{}, err
		}
	}
	return domain.AnalysisRequest{
		Moves:            pairsToMoves(p.Moves),
		BoardSize:        p.BoardSize,
		Komi:             p.Komi,
		MaxVisits:        p.MaxVisits,
		Rules:            p.Rules,
		InitialStones:    pairsToMoves(p.InitialStones),
		InitialPlayer:    p.InitialPlayer,
		AnalyzeTurns:     p.AnalyzeTurns,
		IncludeOwnership: p.IncludeOwnership,
		IncludePolicy:    p.IncludePolicy,
	}, nil
}

func pairsToMoves(pairs [][2]string) []domain.Move {
	if len(pairs) == 0 {
		return nil
	}
	moves := make([]domain.Move, 0, len(pairs))
	for _, p := range pairs {
		moves = append(moves, domain.Move{Color: p[0], Coordinates: p[1]})
	}
	return moves
}

// userMessage hides internals from the front end: either the engine is down,
// or the analysis failed generically.
func userMessage(err error) string {
	if errors.Is(err, kataerr.ErrEngineNotRunning) {
		return "katago engine is not running"
	}
	return "analysis failed"
}
