// Package groutine starts goroutines tagged with a pprof "goroutine_name" label so
// producers and monitors can be told apart in profiles and logs.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey struct{}

// Go runs fn in a new goroutine labelled with name.
// A nil parent context is treated as context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}

	go pprof.Do(parent, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// GoTracked is Go with wg bookkeeping: wg.Add(1) happens before the goroutine starts and
// wg.Done when fn returns.
func GoTracked(parent context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	Go(parent, name, func(ctx context.Context) {
		defer wg.Done()
		fn(ctx)
	})
}

// Name returns the label given to the goroutine owning ctx, or "" outside Go.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}
