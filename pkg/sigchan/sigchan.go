package sigchan

// Chan 非阻塞的信号 channel：只通知“发生过”，不传数据，多次 Emit 会合并。
type Chan struct {
	c chan struct{}
}

// New 创建信号 channel；bufferSize<1 按 1 处理
func New(bufferSize int) *Chan {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 发送信号；已有未消费信号时直接丢弃
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// Drain 清掉积压的信号，返回清掉的数量
func (c *Chan) Drain() int {
	n := 0
	for {
		select {
		case <-c.c:
			n++
		default:
			return n
		}
	}
}

// C 用于 select
func (c *Chan) C() <-chan struct{} {
	return c.c
}
