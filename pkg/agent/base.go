package agent

import (
	"context"
)

// OneShotStream adapts a buffered Process result into the streaming contract.
// Agents without native streaming use this as their Stream implementation: the
// complete response is yielded as a single chunk.
func OneShotStream(ctx context.Context, a Agent, query string, conv Conversation) (<-chan Chunk, error) {
	out := make(chan Chunk, 1)

	go func() {
		defer close(out)

		resp, err := a.Process(ctx, query, conv)
		if err != nil {
			select {
			case out <- Chunk{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case out <- Chunk{Text: resp.Content}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}
