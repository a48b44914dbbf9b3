package shutdown

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "shutdown")

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type entry struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器。
//
// 回调按注册的逆序串行执行（后启动的组件先关闭，例如 HTTP → 调度 → 引擎 → 行情 → 存储）。
type Manager struct {
	mu        sync.Mutex
	callbacks []entry
	done      bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, entry{name: name, fn: handler})
}

// Shutdown 执行所有关闭回调（阻塞）；只会执行一次。
// ctx 应带超时；超时后剩余回调仍会拿到已取消的 ctx 并被调用，以便尽量释放资源。
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return
	}
	m.done = true
	callbacks := m.callbacks
	m.mu.Unlock()

	log.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))
	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		if err := cb.fn(ctx); err != nil {
			log.WithField("handler", cb.name).Warnf("关闭回调失败: %v", err)
			continue
		}
		log.WithField("handler", cb.name).Debug("关闭回调完成")
	}
	if err := ctx.Err(); err != nil {
		log.Warnf("关闭超时: %v", err)
		return
	}
	log.Info("所有关闭回调已完成")
}
