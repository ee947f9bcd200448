package failover

import (
	"context"
	"strings"
	"sync"

	"github.com/upb/llm-failover/services/providers"
)

// Stream is an established streaming completion. Failover only covers
// establishing the stream; an error after the first chunk is delivered on the
// channel and is not retried or recorded against the provider.
type Stream struct {
	Metadata

	chunks <-chan providers.StreamChunk
	cancel context.CancelFunc
	once   sync.Once
}

// Chunks returns the chunk channel. It is closed when the provider ends the
// stream, the stream is closed, or the caller's context is cancelled.
func (s *Stream) Chunks() <-chan providers.StreamChunk {
	return s.chunks
}

// Close cancels the in-flight provider call. It is safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(s.cancel)
}

// ReadAll drains the stream and returns the concatenated text, stopping at
// the first chunk error
func (s *Stream) ReadAll() (string, error) {
	defer s.Close()

	var b strings.Builder
	for chunk := range s.chunks {
		if chunk.Err != nil {
			return b.String(), chunk.Err
		}
		b.WriteString(chunk.Delta)
	}
	return b.String(), nil
}

type establishedStream struct {
	ctx    context.Context
	chunks <-chan providers.StreamChunk
	cancel context.CancelFunc
}

// StreamText opens a text stream with failover. The provider's call timeout
// bounds establishment only. Cancelling ctx or calling Close cancels the
// provider call and is never counted as a provider failure.
func (o *Orchestrator) StreamText(ctx context.Context, prompt string, opts Options) (*Stream, error) {
	out, err := execute(ctx, o, CapabilityStreamText, opts,
		func(ctx context.Context, c providers.Candidate) (*establishedStream, error) {
			streamCtx, cancel := context.WithCancel(ctx)

			waitCtx, stop := context.WithTimeout(ctx, c.Config.CallTimeout)
			defer stop()

			chunks, err := race(waitCtx, func() (<-chan providers.StreamChunk, error) {
				return c.Adapter.StreamText(streamCtx, buildRequest(prompt, opts, c))
			})
			if err != nil {
				cancel()
				return nil, err
			}
			return &establishedStream{ctx: streamCtx, chunks: chunks, cancel: cancel}, nil
		})
	if err != nil {
		return nil, err
	}

	return &Stream{
		Metadata: out.meta,
		chunks:   forward(out.value),
		cancel:   out.value.cancel,
	}, nil
}

// forward relays chunks until the upstream closes or the stream is cancelled,
// then releases the provider call
func forward(es *establishedStream) <-chan providers.StreamChunk {
	out := make(chan providers.StreamChunk)

	go func() {
		defer close(out)
		defer es.cancel()

		for chunk := range es.chunks {
			select {
			case out <- chunk:
			case <-es.ctx.Done():
				return
			}
		}
	}()

	return out
}
