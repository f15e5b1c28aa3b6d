package syncgroup

import "sync"

// SyncGroup 包装 sync.WaitGroup：注册一批循环函数后一次性启动，
// Add/Done 配对由这里代管，调用方只负责 Wait。
// 重复 Run 只会启动一次，适合"首个订阅者触发启动"的场景。
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	fns     []func()
	started bool
}

func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 注册一个循环函数；必须在 Run 之前调用
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return
	}
	g.fns = append(g.fns, fn)
}

// Run 启动所有注册的函数，各占一个 goroutine；幂等
func (g *SyncGroup) Run() {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	fns := g.fns
	g.fns = nil
	g.mu.Unlock()

	for _, fn := range fns {
		g.wg.Add(1)
		go func(run func()) {
			defer g.wg.Done()
			run()
		}(fn)
	}
}

// Wait 阻塞到所有 goroutine 退出
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}
