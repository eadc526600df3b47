// Package engine drives a UCI chess engine subprocess.
//
// Each Engine owns exactly one subprocess. Callers serialize on a mutex;
// a worker task creates its own Engine for the duration of one game and
// closes it on every exit path so the process is always reaped.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Limit bounds a single search. Depth and MoveTime are a conjunction:
// the engine stops at whichever is reached first.
type Limit struct {
	Depth    int
	MoveTime time.Duration
}

// timeoutSlack is the fraction of MoveTime granted beyond the budget
// before the search is declared timed out.
const timeoutSlack = 0.5

// depthOnlyGuard caps a search that has no time budget at all.
const depthOnlyGuard = 60 * time.Second

// handshakeTimeout bounds the uci/isready exchange at startup.
const handshakeTimeout = 10 * time.Second

// FailureError reports that the engine subprocess died or broke protocol.
type FailureError struct {
	Reason string
	Err    error
}

func (e *FailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("engine failure: %s", e.Reason)
}

func (e *FailureError) Unwrap() error { return e.Err }

// TimeoutError reports that no line was produced within the time budget.
type TimeoutError struct {
	FEN   string
	Limit Limit
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("engine timeout after %v (depth %d) on %q", e.Limit.MoveTime, e.Limit.Depth, e.FEN)
}

// Engine is a single UCI subprocess.
type Engine struct {
	path string
	cmd  *exec.Cmd

	stdin io.WriteCloser
	lines chan string

	mu     sync.Mutex
	closed bool

	log *logrus.Entry
}

// New spawns the engine binary at path and completes the UCI handshake.
func New(path string) (*Engine, error) {
	cmd := exec.Command(path)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &FailureError{Reason: "stdin pipe", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &FailureError{Reason: "stdout pipe", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &FailureError{Reason: "start " + path, Err: err}
	}

	e := &Engine{
		path:  path,
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 256),
		log:   logrus.WithField("engine", path),
	}

	go e.readLoop(stdout)

	if err := e.handshake(); err != nil {
		e.kill()
		return nil, err
	}
	return e, nil
}

func (e *Engine) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		e.lines <- line
	}
	close(e.lines)
}

func (e *Engine) send(cmd string) error {
	if _, err := io.WriteString(e.stdin, cmd+"\n"); err != nil {
		return &FailureError{Reason: "write " + cmd, Err: err}
	}
	return nil
}

// handshake runs uci/isready and waits for uciok/readyok.
func (e *Engine) handshake() error {
	if err := e.send("uci"); err != nil {
		return err
	}
	if err := e.await("uciok", handshakeTimeout); err != nil {
		return err
	}
	if err := e.send("isready"); err != nil {
		return err
	}
	return e.await("readyok", handshakeTimeout)
}

// await discards lines until one starting with want arrives.
func (e *Engine) await(want string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case line, ok := <-e.lines:
			if !ok {
				return &FailureError{Reason: "process exited waiting for " + want, Err: e.cmd.Wait()}
			}
			if strings.HasPrefix(line, want) {
				return nil
			}
		case <-deadline.C:
			return &FailureError{Reason: "no " + want + " within " + timeout.String()}
		}
	}
}

// drain discards any buffered output from a previous search.
func (e *Engine) drain() {
	for {
		select {
		case _, ok := <-e.lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Analyse evaluates the position and returns the k best lines, each with
// a POV score (positive favors the side to move). It always returns at
// least one line for a legal position; a mated side-to-move yields a
// single line with a mate-0 score and an empty PV.
func (e *Engine) Analyse(ctx context.Context, fen string, limit Limit, k int) ([]Line, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, &FailureError{Reason: "engine closed"}
	}
	if k < 1 {
		k = 1
	}

	e.drain()

	if k > 1 {
		if err := e.send(fmt.Sprintf("setoption name MultiPV value %d", k)); err != nil {
			return nil, err
		}
		if err := e.send("isready"); err != nil {
			return nil, err
		}
		if err := e.await("readyok", handshakeTimeout); err != nil {
			return nil, err
		}
	}

	if err := e.send("position fen " + fen); err != nil {
		return nil, err
	}

	goCmd := "go"
	if limit.Depth > 0 {
		goCmd += fmt.Sprintf(" depth %d", limit.Depth)
	}
	if limit.MoveTime > 0 {
		goCmd += fmt.Sprintf(" movetime %d", limit.MoveTime.Milliseconds())
	}
	if err := e.send(goCmd); err != nil {
		return nil, err
	}

	budget := depthOnlyGuard
	if limit.MoveTime > 0 {
		budget = time.Duration(float64(limit.MoveTime) * (1 + timeoutSlack))
	}

	return e.collect(ctx, fen, limit, k, budget)
}

// collect reads info lines until bestmove, keeping the deepest line seen
// per multipv slot.
func (e *Engine) collect(ctx context.Context, fen string, limit Limit, k int, budget time.Duration) ([]Line, error) {
	best := make(map[int]infoLine, k)
	deadline := time.NewTimer(budget)
	defer deadline.Stop()

	stopped := false
	for {
		select {
		case <-ctx.Done():
			// Cancellation is normally observed between positions; a context
			// cancelled mid-search still stops the engine cleanly.
			if !stopped {
				_ = e.send("stop")
			}
			return nil, ctx.Err()

		case <-deadline.C:
			if stopped {
				e.kill()
				return nil, &TimeoutError{FEN: fen, Limit: limit}
			}
			// Ask once nicely, then give bestmove a short grace period.
			_ = e.send("stop")
			stopped = true
			deadline.Reset(2 * time.Second)

		case line, ok := <-e.lines:
			if !ok {
				return nil, &FailureError{Reason: "process exited during search", Err: e.cmd.Wait()}
			}
			if info, ok := parseInfo(line); ok {
				prev, seen := best[info.multiPV]
				if !seen || info.depth >= prev.depth {
					best[info.multiPV] = info
				}
				continue
			}
			if strings.HasPrefix(line, "bestmove") {
				if stopped && len(best) == 0 {
					return nil, &TimeoutError{FEN: fen, Limit: limit}
				}
				return orderLines(best, k, line)
			}
		}
	}
}

// orderLines flattens the multipv map into a slice ordered by pv index.
func orderLines(best map[int]infoLine, k int, bestmoveLine string) ([]Line, error) {
	out := make([]Line, 0, k)
	for i := 1; i <= k; i++ {
		if info, ok := best[i]; ok {
			out = append(out, Line{PV: info.pv, Score: info.score, Depth: info.depth})
		}
	}
	if len(out) == 0 {
		// Terminal position: stockfish emits "bestmove (none)" and no pv.
		if strings.Contains(bestmoveLine, "(none)") {
			return []Line{{Score: Score{IsMate: true, Mate: 0}}}, nil
		}
		return nil, &FailureError{Reason: "bestmove without any info line: " + bestmoveLine}
	}
	return out, nil
}

// Close shuts the subprocess down and reaps it. Safe to call twice.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	_ = e.send("quit")
	_ = e.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- e.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		e.log.Warn("engine did not quit, killing")
		_ = e.cmd.Process.Kill()
		return <-done
	}
}

// kill is the no-grace variant used on handshake or timeout failure.
func (e *Engine) kill() {
	e.closed = true
	_ = e.stdin.Close()
	_ = e.cmd.Process.Kill()
	go func() { _ = e.cmd.Wait() }()
}
