package execution

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDuplicateInFlight 同一 (symbol, strategy) 已有执行在进行
var ErrDuplicateInFlight = errors.New("duplicate in-flight")

type slotKey struct {
	symbol   string
	strategy string
}

type slot struct {
	since   time.Time
	expires time.Time
}

// executionSlots 每个 (symbol, strategy) 一个执行槽位。
//
// 正常路径由 release 归还；expires 只处理 Execute 异常退出没归还的情况。
type executionSlots struct {
	mu   sync.Mutex
	ttl  time.Duration
	held map[slotKey]slot
	now  func() time.Time
}

func newExecutionSlots(ttl time.Duration) *executionSlots {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &executionSlots{ttl: ttl, held: make(map[slotKey]slot), now: time.Now}
}

// acquire 占用槽位；已被占用时返回包装了 ErrDuplicateInFlight 的错误
func (s *executionSlots) acquire(symbol, strategy string) error {
	k := slotKey{symbol: symbol, strategy: strategy}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.held[k]; ok && now.Before(cur.expires) {
		return fmt.Errorf("%w: %s/%s running for %s", ErrDuplicateInFlight, symbol, strategy, now.Sub(cur.since).Truncate(time.Millisecond))
	}
	s.held[k] = slot{since: now, expires: now.Add(s.ttl)}
	return nil
}

func (s *executionSlots) release(symbol, strategy string) {
	s.mu.Lock()
	delete(s.held, slotKey{symbol: symbol, strategy: strategy})
	s.mu.Unlock()
}

// running 当前占用中的槽位数（过期的顺带清掉）
func (s *executionSlots) running() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.held {
		if !now.Before(v.expires) {
			delete(s.held, k)
		}
	}
	return len(s.held)
}
