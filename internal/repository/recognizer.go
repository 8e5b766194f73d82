package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"katago_web/internal/bootstrap"
	"katago_web/internal/domain"
	kataerr "katago_web/internal/errors"
)

// RecognizerRepository talks to the external board-recognition service. The
// recognition model itself lives in that service; this is only its HTTP
// boundary.
type RecognizerRepository struct {
	cfg    *bootstrap.Config
	log    *zap.SugaredLogger
	url    string
	client *http.Client
}

func NewRecognizerRepository(cfg *bootstrap.Config, log *zap.SugaredLogger) *RecognizerRepository {
	return &RecognizerRepository{
		cfg:    cfg,
		log:    log,
		url:    cfg.RecognizerUrl,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *RecognizerRepository) Available() bool {
	return r.url != ""
}

func (r *RecognizerRepository) Recognize(ctx context.Context, imageBytes []byte, boardSize int) (domain.RecognitionResult, error) {
	if !r.Available() {
		return domain.RecognitionResult{}, fmt.Errorf("%w: recognizer url is not configured", kataerr.ErrRecognizer)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "board.png")
	if err != nil {
		return domain.RecognitionResult{}, fmt.Errorf("%w: %v", kataerr.ErrRecognizer, err)
	}
	if _, err = part.Write(imageBytes); err != nil {
		return domain.RecognitionResult{}, fmt.Errorf("%w: %v", kataerr.ErrRecognizer, err)
	}
	if err = writer.WriteField("boardSize", strconv.Itoa(boardSize)); err != nil {
		return domain.RecognitionResult{}, fmt.Errorf("%w: %v", kataerr.ErrRecognizer, err)
	}
	if err = writer.Close(); err != nil {
		return domain.RecognitionResult{}, fmt.Errorf("%w: %v", kataerr.ErrRecognizer, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, &body)
	if err != nil {
		return domain.RecognitionResult{}, fmt.Errorf("%w: %v", kataerr.ErrRecognizer, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.RecognitionResult{}, fmt.Errorf("%w: %v", kataerr.ErrRecognizer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.RecognitionResult{}, fmt.Errorf("%w: unexpected status code %d", kataerr.ErrRecognizer, resp.StatusCode)
	}

	var result domain.RecognitionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.RecognitionResult{}, fmt.Errorf("%w: failed to decode response: %v", kataerr.ErrRecognizer, err)
	}
	if result.Error != "" {
		return domain.RecognitionResult{}, fmt.Errorf("%w: %s", kataerr.ErrRecognizer, result.Error)
	}
	return result, nil
}
