package domain

// RecognitionResult is what the external board-recognition service returns
// for an uploaded photo: a board-size × board-size grid of "empty" / "black" /
// "white" cells plus a confidence score.
type RecognitionResult struct {
	Board      [][]string     `json:"board"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      string         `json:"error,omitempty"`
}
