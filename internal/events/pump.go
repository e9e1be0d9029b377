package events

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/bmess/blueocean-plugin/internal/domain"
)

type Handler func(ctx context.Context, e domain.Event) error

// Pump runs handler for every event from in, at most concurrency at a time,
// until in is closed or a handler fails. Handlers for different events may
// finish in any order.
func Pump(ctx context.Context, in <-chan domain.Event, handler Handler, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case e, ok := <-in:
			if !ok {
				break loop
			}
			g.Go(func() error {
				return handler(gctx, e)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
