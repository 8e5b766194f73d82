package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"katago_web/internal/domain"
	kataerr "katago_web/internal/errors"
)

// KataGo interleaves long pv and ownership arrays on one line, so the default
// scanner buffer is not enough.
const maxResponseLineBytes = 4 * 1024 * 1024

// Send issues one query and blocks until its response arrives or the
// configured engine timeout expires. Safe for concurrent use: each caller
// waits on its own channel and stdin is held only for the duration of one
// line write.
func (e *Engine) Send(q Query) (Response, error) {
	return e.send(q, e.maxWait)
}

// AnalyzePosition runs a full query/parse round trip for a domain request.
func (e *Engine) AnalyzePosition(req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	resp, err := e.Send(BuildQuery(req))
	if err != nil {
		return nil, err
	}
	return ParseResult(resp)
}

func (e *Engine) send(q Query, timeout time.Duration) (Response, error) {
	if !e.alive() {
		if crash := e.lastCrash(); crash != nil {
			return Response{}, fmt.Errorf("%w: %v", kataerr.ErrEngineNotRunning, crash)
		}
		return Response{}, kataerr.ErrEngineNotRunning
	}

	if q.ID == "" {
		q.ID = e.nextID()
	}
	if q.Moves == nil {
		q.Moves = [][2]string{}
	}

	payload, err := json.Marshal(q)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal query %s: %w", q.ID, err)
	}

	// Register before writing: a response can come back faster than this
	// goroutine resumes, and it must already find a receiver.
	ch := make(chan Response, 1)
	e.pending.Store(q.ID, ch)

	e.writeMu.Lock()
	_, err = e.stdinW.Write(append(payload, '\n'))
	if err == nil {
		err = e.stdinW.Flush()
	}
	e.writeMu.Unlock()
	if err != nil {
		e.pending.Delete(q.ID)
		return Response{}, fmt.Errorf("failed to send query %s to katago: %w", q.ID, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			// channel closed by the exit watcher
			if crash := e.lastCrash(); crash != nil {
				return Response{}, crash
			}
			return Response{}, kataerr.ErrEngineNotRunning
		}
		return resp, nil
	case <-timer.C:
		e.pending.LoadAndDelete(q.ID)
		e.log.Warnw("katago query timed out", "id", q.ID, "timeout", timeout)
		return Response{}, kataerr.ErrQueryTimeout
	}
}

func (e *Engine) nextID() string {
	return fmt.Sprintf("q_%d", e.counter.Add(1))
}

// readStdout routes each JSON line from the engine to the matching pending
// query. KataGo may print non-protocol noise on stdout, so parse failures are
// logged and skipped; responses for ids nobody waits on any more (already
// timed out) are dropped the same way.
func (e *Engine) readStdout(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxResponseLineBytes)

	for sc.Scan() {
		if !e.running.Load() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			e.log.Debugw("non-protocol line on katago stdout", "line", line)
			continue
		}

		if ch, ok := e.pending.LoadAndDelete(resp.ID); ok {
			ch.(chan Response) <- resp
		} else {
			e.log.Warnw("orphaned katago response", "id", resp.ID)
		}
	}

	if err := sc.Err(); err != nil && e.running.Load() {
		e.log.Errorw("failed to read katago stdout", "error", err)
	}
}

// failPending wakes every still-waiting caller at once. Each routing table
// entry is removed by exactly one party, so a channel is never closed while
// the reader can still deliver into it.
func (e *Engine) failPending() {
	e.pending.Range(func(key, _ any) bool {
		if ch, ok := e.pending.LoadAndDelete(key); ok {
			close(ch.(chan Response))
		}
		return true
	})
}

func (e *Engine) pendingCount() int {
	n := 0
	e.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
