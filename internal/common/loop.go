package common

import (
	"context"
	"sync"
	"time"
)

// Loop 单 goroutine 周期循环：Start 只生效一次，Stop 取消并等待退出。
//
// tick <= 0 时 tickC 为 nil（永远不触发），run 只靠 ctx 退出。
type Loop struct {
	once   sync.Once
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start 启动循环；重复调用返回 false
func (l *Loop) Start(parent context.Context, tick time.Duration, run func(ctx context.Context, tickC <-chan time.Time)) bool {
	started := false
	l.once.Do(func() {
		ctx, cancel := context.WithCancel(parent)
		done := make(chan struct{})
		l.mu.Lock()
		l.cancel = cancel
		l.done = done
		l.mu.Unlock()

		go func() {
			defer close(done)
			var tickC <-chan time.Time
			if tick > 0 {
				ticker := time.NewTicker(tick)
				defer ticker.Stop()
				tickC = ticker.C
			}
			run(ctx, tickC)
		}()
		started = true
	})
	return started
}

// Stop 取消循环并等待 run 返回；未启动时直接返回
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done run 返回后关闭；未启动时为 nil
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}
