// Package providerstest provides a scriptable providers.Adapter for tests.
package providerstest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/upb/llm-failover/services/providers"
)

// Result is one scripted outcome. When Err is nil the call succeeds with Text
// (GenerateText), Object (GenerateObject) or Chunks (StreamText).
type Result struct {
	Text   string
	Object json.RawMessage
	Chunks []providers.StreamChunk
	Err    error

	// Block makes the call wait for ctx to be done and return ctx.Err()
	Block bool
}

// Adapter replays Results in order, repeating the last one once the script
// is exhausted. It records every request it receives.
type Adapter struct {
	mu      sync.Mutex
	script  []Result
	calls   int
	history []providers.Request
}

// New returns an adapter that plays back results
func New(results ...Result) *Adapter {
	return &Adapter{script: results}
}

// Succeed returns an adapter that always succeeds with text and object
func Succeed(text string, object string) *Adapter {
	return New(Result{Text: text, Object: json.RawMessage(object), Chunks: []providers.StreamChunk{{Delta: text}}})
}

// Fail returns an adapter that always fails with err
func Fail(err error) *Adapter {
	return New(Result{Err: err})
}

// Calls returns the number of calls received
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Requests returns a copy of the requests received
func (a *Adapter) Requests() []providers.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]providers.Request, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Adapter) next(req providers.Request) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.history = append(a.history, req)
	i := a.calls
	a.calls++

	if len(a.script) == 0 {
		return Result{}
	}
	if i >= len(a.script) {
		i = len(a.script) - 1
	}
	return a.script[i]
}

func wait(ctx context.Context, r Result) error {
	if r.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return r.Err
}

// GenerateText implements providers.Adapter
func (a *Adapter) GenerateText(ctx context.Context, req *providers.Request) (*providers.Completion, error) {
	r := a.next(*req)
	if err := wait(ctx, r); err != nil {
		return nil, err
	}
	return &providers.Completion{Text: r.Text, Model: req.ModelID, FinishReason: "stop"}, nil
}

// GenerateObject implements providers.Adapter
func (a *Adapter) GenerateObject(ctx context.Context, req *providers.ObjectRequest) (json.RawMessage, error) {
	r := a.next(req.Request)
	if err := wait(ctx, r); err != nil {
		return nil, err
	}
	return r.Object, nil
}

// StreamText implements providers.Adapter. The chunks are delivered on a
// buffered channel that is closed afterwards.
func (a *Adapter) StreamText(ctx context.Context, req *providers.Request) (<-chan providers.StreamChunk, error) {
	r := a.next(*req)
	if err := wait(ctx, r); err != nil {
		return nil, err
	}

	ch := make(chan providers.StreamChunk, len(r.Chunks))
	for _, c := range r.Chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

var _ providers.Adapter = (*Adapter)(nil)
