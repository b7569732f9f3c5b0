package pickplace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/pickplace/internal/timeutil"
)

// ErrInputClosed is returned by a PromptGate whose input reached EOF.
var ErrInputClosed = errors.New("operator input closed")

// Gate blocks the cycle until the operator (or a timer) lets it proceed.
type Gate interface {
	Wait(ctx context.Context) error
}

// AutoGate proceeds on its own after Delay.
type AutoGate struct {
	Delay time.Duration
	Clock timeutil.Clock
}

func (g AutoGate) Wait(ctx context.Context) error {
	clock := g.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return timeutil.Sleep(ctx, clock, g.Delay)
}

// ManualGate is released programmatically, e.g. from the HTTP API. A
// release made while nobody waits is kept for the next Wait; further
// releases are coalesced.
type ManualGate struct {
	ch      chan struct{}
	waiting sync.Mutex
	n       int
}

func NewManualGate() *ManualGate {
	return &ManualGate{ch: make(chan struct{}, 1)}
}

// Release lets one Wait proceed. It reports false when a release was
// already pending.
func (g *ManualGate) Release() bool {
	select {
	case g.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Waiting reports whether a Wait call is blocked on the gate.
func (g *ManualGate) Waiting() bool {
	g.waiting.Lock()
	defer g.waiting.Unlock()
	return g.n > 0
}

func (g *ManualGate) Wait(ctx context.Context) error {
	g.waiting.Lock()
	g.n++
	g.waiting.Unlock()
	defer func() {
		g.waiting.Lock()
		g.n--
		g.waiting.Unlock()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.ch:
		return nil
	}
}

// PromptGate prints a prompt and waits for a line on its input.
type PromptGate struct {
	out    io.Writer
	prompt string

	once  sync.Once
	in    *bufio.Reader
	lines chan error
}

// NewPromptGate reads lines from in and writes prompt to out before each
// wait.
func NewPromptGate(in io.Reader, out io.Writer, prompt string) *PromptGate {
	return &PromptGate{out: out, prompt: prompt, in: bufio.NewReader(in), lines: make(chan error)}
}

// The reader goroutine cannot be interrupted, so it outlives a cancelled
// Wait and hands its line to the next one.
func (g *PromptGate) readLines() {
	for {
		_, err := g.in.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrInputClosed
			}
			for {
				g.lines <- err
			}
		}
		g.lines <- nil
	}
}

func (g *PromptGate) Wait(ctx context.Context) error {
	g.once.Do(func() { go g.readLines() })
	if g.out != nil && g.prompt != "" {
		fmt.Fprintf(g.out, "============ %s ============\n", g.prompt)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-g.lines:
		return err
	}
}
