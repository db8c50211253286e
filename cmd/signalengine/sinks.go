package main

import (
	"context"
	"sync"
	"time"
)

// sinkGroup runs pipeline subscribers on a context of their own. Pipeline
// shutdown closes their channels; the group context is only cancelled if
// they fail to drain within the stop deadline.
type sinkGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSinkGroup() *sinkGroup {
	ctx, cancel := context.WithCancel(context.Background())
	return &sinkGroup{ctx: ctx, cancel: cancel}
}

func (g *sinkGroup) Go(run func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		run(g.ctx)
	}()
}

// Stop waits up to timeout for every sink to return. It reports false when
// the deadline forced a cancel.
func (g *sinkGroup) Stop(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() { g.wg.Wait(); close(done) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		g.cancel()
		return true
	case <-timer.C:
		g.cancel()
		<-done
		return false
	}
}
