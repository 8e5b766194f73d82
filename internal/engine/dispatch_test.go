package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	kataerr "katago_web/internal/errors"
)

// newPipedEngine rigs an engine around in-memory pipes instead of a spawned
// process: the returned reader is what the fake engine receives on its stdin,
// the returned writer is its stdout.
func newPipedEngine(t *testing.T) (*Engine, *io.PipeReader, *io.PipeWriter) {
	t.Helper()

	e := NewEngine("katago", "model.bin.gz", "analysis.cfg", time.Second, zap.NewNop().Sugar())

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	e.stdin = stdinW
	e.stdinW = bufio.NewWriter(stdinW)
	e.done = make(chan struct{})
	e.running.Store(true)
	e.ready.Store(true)
	e.state.Store(int32(StateReady))

	go e.readStdout(stdoutR)

	t.Cleanup(func() {
		e.running.Store(false)
		stdinW.Close()
		stdoutW.Close()
		stdinR.Close()
		stdoutR.Close()
	})

	return e, stdinR, stdoutW
}

// echoEngine answers n queries with a response whose visits carry the numeric
// suffix of the query id, optionally holding all responses back until every
// query arrived and then replying in reverse order.
func echoEngine(t *testing.T, stdin *io.PipeReader, stdout *io.PipeWriter, n int, reversed bool) {
	t.Helper()
	go func() {
		sc := bufio.NewScanner(stdin)
		ids := make([]string, 0, n)
		for len(ids) < n && sc.Scan() {
			var q Query
			if err := json.Unmarshal(sc.Bytes(), &q); err == nil {
				ids = append(ids, q.ID)
			}
			if !reversed {
				writeResponse(stdout, ids[len(ids)-1])
				ids = ids[:0]
				n--
			}
		}
		if reversed {
			for i := len(ids) - 1; i >= 0; i-- {
				writeResponse(stdout, ids[i])
			}
		}
	}()
}

func writeResponse(stdout *io.PipeWriter, id string) {
	visits := 0
	if idx := strings.LastIndex(id, "_"); idx >= 0 {
		visits, _ = strconv.Atoi(id[idx+1:])
	}
	wr := 0.5
	resp := Response{
		ID:       id,
		RootInfo: &RootInfo{CurrentPlayer: "B", Winrate: &wr, Visits: visits},
	}
	raw, _ := json.Marshal(resp)
	fmt.Fprintf(stdout, "%s\n", raw)
}

func TestSendRoutesResponsesById(t *testing.T) {
	e, stdin, stdout := newPipedEngine(t)

	const n = 16
	echoEngine(t, stdin, stdout, n, true)

	var wg sync.WaitGroup
	errs := make([]error, n)
	resps := make([]Response, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := Query{ID: fmt.Sprintf("test_%d", i), Rules: DefaultRules, Komi: 7.5, BoardXSize: 19, BoardYSize: 19, MaxVisits: 1}
			resps[i], errs[i] = e.send(q, 5*time.Second)
		}(i)
	}
	wg.Wait()

	// responses came back in reverse send order, each caller must still get
	// exactly its own
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("test_%d", i), resps[i].ID)
		require.NotNil(t, resps[i].RootInfo)
		assert.Equal(t, i, resps[i].RootInfo.Visits)
	}

	assert.Equal(t, 0, e.pendingCount())
}

func TestOrphanedResponseIsDropped(t *testing.T) {
	e, stdin, stdout := newPipedEngine(t)

	// nobody is waiting for this id
	writeResponse(stdout, "ghost_99")

	// the read loop must survive it and keep routing
	echoEngine(t, stdin, stdout, 1, false)
	resp, err := e.send(Query{ID: "test_1", MaxVisits: 1}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "test_1", resp.ID)
}

func TestMalformedLineIsSkipped(t *testing.T) {
	e, stdin, stdout := newPipedEngine(t)

	fmt.Fprintf(stdout, "2024-01-01 12:00:00 GPU tuning in progress\n")
	fmt.Fprintf(stdout, "\n")

	echoEngine(t, stdin, stdout, 1, false)
	resp, err := e.send(Query{ID: "test_1", MaxVisits: 1}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "test_1", resp.ID)
}

func TestSendFailsFastWhenNotRunning(t *testing.T) {
	e := NewEngine("katago", "model.bin.gz", "analysis.cfg", time.Second, zap.NewNop().Sugar())

	_, err := e.Send(Query{MaxVisits: 1})
	require.ErrorIs(t, err, kataerr.ErrEngineNotRunning)
	assert.Equal(t, 0, e.pendingCount())
}

func TestSendTimeoutLeavesNoPendingEntry(t *testing.T) {
	e, stdin, _ := newPipedEngine(t)

	// swallow the query and never answer
	go io.Copy(io.Discard, stdin)

	_, err := e.send(Query{ID: "silent", MaxVisits: 1}, 20*time.Millisecond)
	require.ErrorIs(t, err, kataerr.ErrQueryTimeout)
	assert.Equal(t, 0, e.pendingCount())
}

func TestLateResponseAfterTimeoutDoesNotMisdeliver(t *testing.T) {
	e, stdin, stdout := newPipedEngine(t)

	go io.Copy(io.Discard, stdin)

	_, err := e.send(Query{ID: "late_1", MaxVisits: 1}, 20*time.Millisecond)
	require.ErrorIs(t, err, kataerr.ErrQueryTimeout)

	// the response shows up after its entry was removed; it must be dropped,
	// not delivered to the next caller
	writeResponse(stdout, "late_1")

	_, err = e.send(Query{ID: "late_2", MaxVisits: 1}, 50*time.Millisecond)
	require.ErrorIs(t, err, kataerr.ErrQueryTimeout)
	assert.Equal(t, 0, e.pendingCount())
}

func TestCrashFailsAllPendingImmediately(t *testing.T) {
	e, stdin, _ := newPipedEngine(t)

	go io.Copy(io.Discard, stdin)

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.send(Query{ID: fmt.Sprintf("pending_%d", i), MaxVisits: 1}, 10*time.Second)
		}(i)
	}

	// let every sender register
	require.Eventually(t, func() bool { return e.pendingCount() == n }, time.Second, 5*time.Millisecond)

	crash := fmt.Errorf("%w (exit code 137): out of memory", kataerr.ErrEngineCrashed)
	e.setCrash(crash)
	e.failPending()

	wg.Wait()
	for i := 0; i < n; i++ {
		require.ErrorIs(t, errs[i], kataerr.ErrEngineCrashed)
	}
	assert.Equal(t, 0, e.pendingCount())
}

func TestNextIDUnique(t *testing.T) {
	e := NewEngine("katago", "model.bin.gz", "analysis.cfg", time.Second, zap.NewNop().Sugar())

	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := e.nextID()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 100)
}
