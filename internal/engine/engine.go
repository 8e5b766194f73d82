package engine

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	kataerr "katago_web/internal/errors"
)

// State is the lifecycle state of the supervised KataGo process.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateStopped
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

const (
	// DefaultMaxWait is how long a single query may wait for its response.
	// Generous because the first query after a cold start competes with
	// OpenCL tuning.
	DefaultMaxWait = 300 * time.Second

	stopGracePeriod    = 5 * time.Second
	stderrCaptureLimit = 2048

	startupProbeID = "__startup_test__"
)

// Engine supervises one KataGo analysis process and multiplexes concurrent
// queries onto its stdin/stdout JSON-lines protocol. Responses are correlated
// to callers solely by query id, so send order and response order are
// independent.
type Engine struct {
	katagoPath string
	modelPath  string
	configPath string
	maxWait    time.Duration
	log        *zap.SugaredLogger

	// settle window before the readiness probe
	settleInterval time.Duration
	settleAttempts int
	minSettle      time.Duration

	mu    sync.Mutex // lifecycle transitions
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{} // closed by the exit watcher of the current run

	writeMu sync.Mutex // serializes writes onto the shared stdin
	stdinW  *bufio.Writer

	running atomic.Bool
	ready   atomic.Bool
	exited  atomic.Bool
	state   atomic.Int32

	pending sync.Map // query id -> chan Response
	counter atomic.Uint64

	crashMu  sync.Mutex
	crashErr error
}

func NewEngine(katagoPath, modelPath, configPath string, maxWait time.Duration, log *zap.SugaredLogger) *Engine {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Engine{
		katagoPath:     katagoPath,
		modelPath:      modelPath,
		configPath:     configPath,
		maxWait:        maxWait,
		log:            log,
		settleInterval: 2 * time.Second,
		settleAttempts: 60,
		minSettle:      4 * time.Second,
	}
}

// Start spawns the KataGo process and blocks until it answers a minimal probe
// query. Calling Start while the engine is already ready is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.alive() {
		e.mu.Unlock()
		if e.ready.Load() {
			e.log.Warn("katago is already running")
			return nil
		}
		return fmt.Errorf("%w: startup already in progress", kataerr.ErrEngineStartup)
	}

	cmd := exec.Command(e.katagoPath, "analysis", "-model", e.modelPath, "-config", e.configPath)
	cmd.Dir = filepath.Dir(e.katagoPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", kataerr.ErrLaunch, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", kataerr.ErrLaunch, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", kataerr.ErrLaunch, err)
	}

	e.log.Infof("starting katago: %s analysis -model %s -config %s", e.katagoPath, e.modelPath, e.configPath)

	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		e.log.Errorw("failed to launch katago", "path", e.katagoPath, "error", err)
		return fmt.Errorf("%w: %v", kataerr.ErrLaunch, err)
	}

	capture := newPrefixBuffer(stderrCaptureLimit)
	done := make(chan struct{})

	e.cmd = cmd
	e.stdin = stdin
	e.done = done
	e.writeMu.Lock()
	e.stdinW = bufio.NewWriter(stdin)
	e.writeMu.Unlock()
	e.setCrash(nil)
	e.exited.Store(false)
	e.running.Store(true)
	e.ready.Store(false)
	e.state.Store(int32(StateStarting))

	stdoutDone := make(chan struct{})
	stderrDone := make(chan struct{})
	go func() {
		defer close(stdoutDone)
		e.readStdout(stdout)
	}()
	go func() {
		defer close(stderrDone)
		e.drainStderr(stderr, capture)
	}()
	go e.watchExit(cmd, done, capture, stdoutDone, stderrDone)
	e.mu.Unlock()

	return e.waitReady(done)
}

// waitReady gives the process a settle window to reveal an immediate failure,
// then confirms the engine can actually answer with one minimal query. First
// run OpenCL tuning can take minutes, hence the full query timeout.
func (e *Engine) waitReady(done chan struct{}) error {
	e.log.Info("waiting for katago to become ready (first run tuning may take minutes)")

	elapsed := time.Duration(0)
	for i := 0; i < e.settleAttempts; i++ {
		time.Sleep(e.settleInterval)
		elapsed += e.settleInterval
		select {
		case <-done:
			err := e.lastCrash()
			if err == nil {
				err = kataerr.ErrEngineCrashed
			}
			e.log.Errorw("katago exited during startup", "error", err)
			return fmt.Errorf("%w: %v", kataerr.ErrEngineStartup, err)
		default:
		}
		if elapsed >= e.minSettle {
			break
		}
	}

	e.log.Info("sending startup probe query")
	probe := Query{
		ID:         startupProbeID,
		Moves:      [][2]string{},
		Rules:      DefaultRules,
		Komi:       7.5,
		BoardXSize: 9,
		BoardYSize: 9,
		MaxVisits:  1,
	}
	if _, err := e.send(probe, e.maxWait); err != nil {
		e.log.Errorw("katago did not answer the startup probe", "error", err)
		e.Stop()
		return fmt.Errorf("%w: %v", kataerr.ErrEngineStartup, err)
	}

	e.ready.Store(true)
	e.state.Store(int32(StateReady))
	e.log.Info("katago engine is ready")
	return nil
}

// Stop shuts the process down: close stdin, ask politely, kill after a grace
// period. Calling Stop on a stopped engine does nothing.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil || !e.running.Load() {
		e.ready.Store(false)
		return
	}

	e.running.Store(false)
	e.ready.Store(false)

	if e.stdin != nil {
		_ = e.stdin.Close()
	}
	if e.cmd.Process != nil {
		_ = e.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-e.done:
	case <-time.After(stopGracePeriod):
		if e.cmd.Process != nil {
			_ = e.cmd.Process.Kill()
		}
		<-e.done
	}

	e.state.Store(int32(StateStopped))
	e.log.Info("katago stopped")
}

// IsRunning reports whether the process is alive and has passed the startup
// probe. A live process still warming up reports false.
func (e *Engine) IsRunning() bool {
	return e.alive() && e.ready.Load()
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) alive() bool {
	return e.running.Load() && !e.exited.Load()
}

// watchExit reaps the process. An exit while the running flag is still set is
// a crash: record it with the captured stderr prefix and fail every pending
// query immediately instead of letting each wait out its own timeout.
func (e *Engine) watchExit(cmd *exec.Cmd, done chan struct{}, capture *prefixBuffer, stdoutDone, stderrDone chan struct{}) {
	// both pipe readers see EOF when the process dies; Wait must not close
	// the pipes out from under them
	<-stdoutDone
	<-stderrDone
	waitErr := cmd.Wait()
	e.exited.Store(true)

	// record the crash before closing done: anyone woken by done must be able
	// to read it
	if e.running.Load() {
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		crash := fmt.Errorf("%w (exit code %d): %s", kataerr.ErrEngineCrashed, exitCode, capture.String())
		e.setCrash(crash)
		e.ready.Store(false)
		e.state.Store(int32(StateCrashed))
		e.log.Errorw("katago process exited unexpectedly",
			"exitCode", exitCode, "waitError", waitErr, "stderr", capture.String())
	}

	// fail pending before closing done: Stop and restart wait on done, and by
	// then the routing table must already be empty
	e.failPending()
	close(done)
}

func (e *Engine) setCrash(err error) {
	e.crashMu.Lock()
	e.crashErr = err
	e.crashMu.Unlock()
}

func (e *Engine) lastCrash() error {
	e.crashMu.Lock()
	defer e.crashMu.Unlock()
	return e.crashErr
}

// drainStderr keeps the stderr pipe from filling up and preserves a bounded
// prefix of it for crash reports.
func (e *Engine) drainStderr(r io.Reader, capture *prefixBuffer) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		capture.WriteLine(line)
		e.log.Debugf("[katago] %s", line)
	}
}

// prefixBuffer keeps the first limit bytes written to it.
type prefixBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newPrefixBuffer(limit int) *prefixBuffer {
	return &prefixBuffer{limit: limit}
}

func (p *prefixBuffer) WriteLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) >= p.limit {
		return
	}
	room := p.limit - len(p.buf)
	if len(line)+1 > room {
		p.buf = append(p.buf, line[:room]...)
		return
	}
	p.buf = append(p.buf, line...)
	p.buf = append(p.buf, '\n')
}

func (p *prefixBuffer) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.buf)
}
