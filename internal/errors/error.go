package errors

import "errors"

var (
	ErrLaunch           = errors.New("failed to launch katago")
	ErrEngineNotRunning = errors.New("katago engine is not running")
	ErrEngineCrashed    = errors.New("katago engine exited unexpectedly")
	ErrEngineStartup    = errors.New("katago engine failed to become ready")
	ErrQueryTimeout     = errors.New("katago query timed out")
	ErrEngineReported   = errors.New("katago reported an analysis error")
	ErrAnalysisFailed   = errors.New("analysis failed")
	ErrRecognizer       = errors.New("board recognition failed")
)
