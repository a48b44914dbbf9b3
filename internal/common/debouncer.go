package common

import (
	"sync"
	"time"
)

// Debouncer 简单的时间闸门：Ready 判断距上次 Mark 是否已过 interval，Mark 记录一次成功动作。
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

func (d *Debouncer) Interval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interval
}

// Last 最近一次 Mark 的时间
func (d *Debouncer) Last() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Ready 是否可以执行；不修改状态。wait 为还需等待的时长（可执行时为 0）。
func (d *Debouncer) Ready(now time.Time) (ready bool, wait time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readyLocked(now)
}

func (d *Debouncer) readyLocked(now time.Time) (bool, time.Duration) {
	if d.interval <= 0 || d.last.IsZero() {
		return true, 0
	}
	since := now.Sub(d.last)
	if since >= d.interval {
		return true, 0
	}
	return false, d.interval - since
}

// Mark 记录一次成功动作
func (d *Debouncer) Mark(now time.Time) {
	d.mu.Lock()
	d.last = now
	d.mu.Unlock()
}

// TryMark Ready 且 Mark，原子完成
func (d *Debouncer) TryMark(now time.Time) (bool, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ok, wait := d.readyLocked(now)
	if ok {
		d.last = now
	}
	return ok, wait
}

// Reset 清空，下次 Ready 返回 true
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.last = time.Time{}
	d.mu.Unlock()
}

// KeyedDebouncer 每个 key 一个 Debouncer（如每个交易对的最小信号间隔）
type KeyedDebouncer struct {
	interval time.Duration

	mu   sync.Mutex
	keys map[string]*Debouncer
}

func NewKeyedDebouncer(interval time.Duration) *KeyedDebouncer {
	return &KeyedDebouncer{interval: interval, keys: make(map[string]*Debouncer)}
}

func (k *KeyedDebouncer) get(key string) *Debouncer {
	k.mu.Lock()
	defer k.mu.Unlock()
	d, ok := k.keys[key]
	if !ok {
		d = NewDebouncer(k.interval)
		k.keys[key] = d
	}
	return d
}

// Ready 不修改状态
func (k *KeyedDebouncer) Ready(key string, now time.Time) (bool, time.Duration) {
	return k.get(key).Ready(now)
}

func (k *KeyedDebouncer) Mark(key string, now time.Time) {
	k.get(key).Mark(now)
}

// Last 返回 key 最近一次 Mark；没有时为零值
func (k *KeyedDebouncer) Last(key string) time.Time {
	k.mu.Lock()
	d, ok := k.keys[key]
	k.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return d.Last()
}
