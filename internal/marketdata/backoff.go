package marketdata

import (
	"sync"
	"time"
)

// Backoff 重连退避：从 Base 开始，每次失败翻倍，封顶 Max；连接成功后 Reset。
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	mu  sync.Mutex
	cur time.Duration
}

// NewBackoff 创建退避器
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max < base {
		max = base
	}
	return &Backoff{Base: base, Max: max, cur: base}
}

// Next 返回本次应等待的时长，并把下一次翻倍（封顶）
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur <= 0 {
		b.cur = b.Base
	}
	d := b.cur
	b.cur *= 2
	if b.cur > b.Max {
		b.cur = b.Max
	}
	return d
}

// Current 下一次 Next 将返回的时长
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur <= 0 {
		return b.Base
	}
	return b.cur
}

// Reset 回到 Base
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.cur = b.Base
	b.mu.Unlock()
}
